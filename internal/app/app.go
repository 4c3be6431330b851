package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sessionsplit/internal/config"
	"sessionsplit/internal/domain"
	"sessionsplit/internal/evaluate"
	"sessionsplit/internal/httpx"
	"sessionsplit/internal/ingest"
	"sessionsplit/internal/integrations/llm"
	slackbot "sessionsplit/internal/integrations/slack"
	"sessionsplit/internal/segment"
	"sessionsplit/internal/storage/sqlite"
)

// Notifier receives the summary of every finished run.
type Notifier interface {
	Post(ctx context.Context, s slackbot.Summary) error
}

type usageReporter interface {
	Usage() llm.Usage
}

type App struct {
	cfg    config.Config
	logger *zap.Logger

	// oracle is set only when injected; otherwise every run builds its own
	// classifier over provider, or over the configured one when nil.
	oracle   segment.Oracle
	provider llm.Provider
	notifier Notifier

	now      func() time.Time
	newRunID func() string
}

type Option func(*App)

// WithOracle replaces the LLM classifier.
func WithOracle(o segment.Oracle) Option {
	return func(a *App) { a.oracle = o }
}

// WithProvider makes runs classify through p instead of the configured
// provider.
func WithProvider(p llm.Provider) Option {
	return func(a *App) { a.provider = p }
}

func WithNotifier(n Notifier) Option {
	return func(a *App) { a.notifier = n }
}

func New(cfg config.Config, logger *zap.Logger, opts ...Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	logger.Debug("config loaded",
		zap.String("source", cfg.Source),
		zap.String("mode", cfg.OracleMode),
		zap.String("provider", cfg.LLMProvider),
		zap.Int("window", cfg.BatchWindowSize),
		zap.Int("overlap", cfg.BatchOverlap),
		zap.Int("vote_threshold", cfg.VoteThreshold),
		zap.Duration("http_timeout", timeout))

	a := &App{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.notifier == nil && cfg.SlackConfigured() {
		a.notifier = slackbot.New(cfg.SlackBotToken, cfg.SlackChannelID, httpx.ExternalHTTPClient(), logger)
	}
	return a
}

func (a *App) Config() config.Config {
	return a.cfg
}

// runOracle is the oracle of one run. Classifiers are built per run so
// token usage and the transcript limit never carry over between runs.
type runOracle struct {
	segment.Oracle
	provider string
	model    string
}

func (a *App) buildOracle(ctx context.Context, runID string, log *zap.Logger) (runOracle, error) {
	if a.oracle != nil {
		return runOracle{Oracle: a.oracle, provider: "custom"}, nil
	}
	provider := a.provider
	if provider == nil {
		var err error
		provider, err = llm.NewProvider(ctx, llm.ProviderConfig{
			Provider:    a.cfg.LLMProvider,
			Model:       a.cfg.LLMModel,
			APIKey:      a.cfg.APIKey(),
			Temperature: a.cfg.LLMTemperature,
			MaxTokens:   a.cfg.LLMMaxTokens,
			HTTPClient:  httpx.ExternalHTTPClient(),
		})
		if err != nil {
			return runOracle{}, err
		}
	}

	var examples []llm.Example
	if a.cfg.LLMExamplesPath != "" {
		var err error
		if examples, err = llm.LoadExamples(a.cfg.LLMExamplesPath); err != nil {
			return runOracle{}, err
		}
		log.Info("few-shot examples loaded", zap.String("path", a.cfg.LLMExamplesPath), zap.Int("count", len(examples)))
	}

	var sampler *llm.TranscriptSampler
	if a.cfg.SavePromptsCount > 0 {
		dir := filepath.Join(a.cfg.SavePromptsDir, runID)
		sampler = llm.NewTranscriptSampler(dir, a.cfg.SavePromptsCount, a.cfg.SavePromptsProbability, a.cfg.SavePromptsSeed)
	}

	classifier := llm.NewClassifier(provider, llm.ClassifierOptions{
		Examples:     examples,
		ExampleCount: a.cfg.LLMExampleCount,
		Sampler:      sampler,
		Logger:       log,
	})
	return runOracle{Oracle: classifier, provider: provider.Name(), model: provider.Model()}, nil
}

func usageOf(o segment.Oracle) llm.Usage {
	if u, ok := o.(usageReporter); ok {
		return u.Usage()
	}
	return llm.Usage{}
}

// RunReport describes one finished detect run.
type RunReport struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	InputPath  string
	OutputPath string
	Provider   string
	Model      string
	Options    segment.Options
	Stats      segment.Stats
	Usage      llm.Usage
	// Metrics is nil when the input carries no ground truth.
	Metrics *evaluate.Metrics
}

// Detect segments the configured input file, writes the output and metrics
// files, stores the run and posts the summary. Only reading the input,
// segmentation and writing the output are fatal; storage and notification
// failures are logged.
func (a *App) Detect(ctx context.Context) (RunReport, error) {
	if a.cfg.InputPath == "" {
		return RunReport{}, errors.New("app: input path is required")
	}
	report := RunReport{
		ID:         a.newRunID(),
		StartedAt:  a.now(),
		InputPath:  a.cfg.InputPath,
		OutputPath: a.cfg.OutputPath,
		Options:    a.cfg.SegmentOptions(),
	}
	log := a.logger.With(zap.String("run_id", report.ID))

	msgs, err := ingest.ReadMessagesFile(a.cfg.InputPath)
	if err != nil {
		return RunReport{}, err
	}
	log.Info("input loaded", zap.String("path", a.cfg.InputPath), zap.Int("messages", len(msgs)))

	oracle, err := a.buildOracle(ctx, report.ID, log)
	if err != nil {
		return RunReport{}, err
	}
	report.Provider, report.Model = oracle.provider, oracle.model

	det, err := segment.New(report.Options, oracle.Oracle, log)
	if err != nil {
		return RunReport{}, err
	}
	// An injected oracle may outlive the run; only this run's share counts.
	before := usageOf(oracle.Oracle)
	res, err := det.Run(ctx, msgs)
	if err != nil {
		return RunReport{}, err
	}
	report.Stats = res.Stats
	report.Usage = usageOf(oracle.Oracle).Sub(before)

	if a.cfg.OutputPath != "" {
		if err := ingest.WriteSegmentedFile(a.cfg.OutputPath, res.Rows); err != nil {
			return RunReport{}, err
		}
		log.Info("output written", zap.String("path", a.cfg.OutputPath), zap.Int("rows", len(res.Rows)))
	}

	if res.Labeled() {
		m, err := a.evaluate(res.Predictions(), res.GroundTruth())
		if err != nil {
			return RunReport{}, err
		}
		report.Metrics = &m
	} else {
		log.Info("no ground truth in input, skipping evaluation")
	}
	report.FinishedAt = a.now()

	if err := a.store(report, res); err != nil {
		log.Error("run not stored", zap.Error(err))
	}
	a.notify(ctx, report)

	log.Info("run complete", zap.String("summary", FormatRunSummary(report)))
	return report, nil
}

func (a *App) evaluate(pred, truth []bool) (evaluate.Metrics, error) {
	ev, err := evaluate.New(a.cfg.ToleranceLevels, a.cfg.EvaluationWindowSize)
	if err != nil {
		return evaluate.Metrics{}, err
	}
	m, err := ev.Evaluate(pred, truth, a.cfg.EvaluationDetails)
	if err != nil {
		return evaluate.Metrics{}, err
	}
	if a.cfg.MetricsPath != "" {
		if err := evaluate.WriteMetricsFile(a.cfg.MetricsPath, m); err != nil {
			return evaluate.Metrics{}, err
		}
		a.logger.Info("metrics written", zap.String("path", a.cfg.MetricsPath))
	}
	return m, nil
}

// EvaluateFile scores a segmented output file against its ground-truth
// column.
func (a *App) EvaluateFile(path string) (evaluate.Metrics, error) {
	rows, err := ingest.ReadSegmentedFile(path)
	if err != nil {
		return evaluate.Metrics{}, err
	}
	pred := make([]bool, len(rows))
	truth := make([]bool, len(rows))
	for i, row := range rows {
		pred[i] = row.PredictedBoundary == 1
		truth[i] = row.GroundTruth.Boundary()
	}
	return a.evaluate(pred, truth)
}

func (a *App) store(r RunReport, res segment.Result) error {
	if a.cfg.DBPath == "" {
		return nil
	}
	db, err := sqlite.InitDB(a.cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	run := sqlite.Run{
		ID:             r.ID,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		InputPath:      r.InputPath,
		Provider:       r.Provider,
		Model:          r.Model,
		Mode:           string(r.Options.Mode),
		WindowSize:     r.Options.WindowSize,
		Overlap:        r.Options.Overlap,
		ContextSize:    r.Options.ContextSize,
		VoteThreshold:  r.Options.VoteThreshold,
		AutoMarkCount:  r.Options.AutoMarkCount,
		Messages:       r.Stats.Messages,
		Entities:       r.Stats.Entities,
		Channels:       r.Stats.Channels,
		Sessions:       r.Stats.Sessions,
		Boundaries:     r.Stats.Boundaries,
		OracleCalls:    r.Stats.OracleCalls,
		OracleFailures: r.Stats.OracleFailures,
		Uncovered:      r.Stats.Uncovered,
		InputTokens:    r.Usage.InputTokens,
		OutputTokens:   r.Usage.OutputTokens,
	}
	if err := sqlite.SaveRun(db, run); err != nil {
		return err
	}
	if _, err := sqlite.SaveSegmentedMessages(db, r.ID, res.Rows); err != nil {
		return err
	}
	if r.Metrics != nil {
		flat := r.Metrics.Flatten()
		for k, v := range flat {
			if math.IsNaN(v) {
				delete(flat, k)
			}
		}
		if err := sqlite.SaveEvaluation(db, r.ID, flat); err != nil {
			return err
		}
	}
	a.logger.Info("run stored", zap.String("run_id", r.ID), zap.String("db", a.cfg.DBPath))
	return nil
}

func (a *App) notify(ctx context.Context, r RunReport) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Post(ctx, RunSummary(r)); err != nil {
		a.logger.Warn("run summary not posted", zap.String("run_id", r.ID), zap.Error(err))
	}
}

// Runs lists stored runs, newest first.
func (a *App) Runs(limit int) ([]sqlite.Run, error) {
	db, err := sqlite.InitDB(a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return sqlite.ListRuns(db, limit)
}

// RunMetrics returns the stored evaluation of a run.
func (a *App) RunMetrics(runID string) (evaluate.Metrics, bool, error) {
	db, err := sqlite.InitDB(a.cfg.DBPath)
	if err != nil {
		return evaluate.Metrics{}, false, err
	}
	defer db.Close()
	if _, err := sqlite.GetRun(db, runID); err != nil {
		return evaluate.Metrics{}, false, err
	}
	flat, err := sqlite.GetEvaluation(db, runID)
	if err != nil || len(flat) == 0 {
		return evaluate.Metrics{}, false, err
	}
	return evaluate.Unflatten(flat), true, nil
}

// RunMessages returns the stored output rows of a run, without text.
func (a *App) RunMessages(runID string) ([]domain.SegmentedMessage, error) {
	db, err := sqlite.InitDB(a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if _, err := sqlite.GetRun(db, runID); err != nil {
		return nil, err
	}
	return sqlite.GetSegmentedMessages(db, runID)
}

// FormatRunSummary renders the one-line summary used in logs and Slack.
func FormatRunSummary(r RunReport) string {
	s := fmt.Sprintf("%d messages in %d channels: %d sessions, %d oracle calls (%d failed, %d uncovered)",
		r.Stats.Messages, r.Stats.Channels, r.Stats.Sessions,
		r.Stats.OracleCalls, r.Stats.OracleFailures, r.Stats.Uncovered)
	if r.Usage.Calls > 0 {
		s += fmt.Sprintf(", %d tokens", r.Usage.TotalTokens())
	}
	if r.Metrics != nil {
		s += fmt.Sprintf("; exact=%.3f f1=%.3f", r.Metrics.ExactAccuracy, r.Metrics.F1)
		if len(r.Metrics.WithinK) > 0 {
			k := r.Metrics.WithinK[0]
			s += fmt.Sprintf(" within_%d=%.3f", k.K, k.Accuracy)
		}
	}
	return s
}

// RunSummary builds the Slack message for a run.
func RunSummary(r RunReport) slackbot.Summary {
	fields := []slackbot.Field{
		{Label: "Messages", Value: fmt.Sprintf("%d", r.Stats.Messages)},
		{Label: "Sessions", Value: fmt.Sprintf("%d", r.Stats.Sessions)},
		{Label: "Channels", Value: fmt.Sprintf("%d", r.Stats.Channels)},
		{Label: "Oracle calls", Value: fmt.Sprintf("%d (%d failed)", r.Stats.OracleCalls, r.Stats.OracleFailures)},
		{Label: "Mode", Value: string(r.Options.Mode)},
	}
	if r.Provider != "" {
		model := r.Provider
		if r.Model != "" {
			model += " / " + r.Model
		}
		fields = append(fields, slackbot.Field{Label: "Model", Value: model})
	}
	if m := r.Metrics; m != nil {
		fields = append(fields,
			slackbot.Field{Label: "Exact accuracy", Value: fmt.Sprintf("%.3f", m.ExactAccuracy)},
			slackbot.Field{Label: "F1", Value: fmt.Sprintf("%.3f", m.F1)},
		)
		for _, k := range m.WithinK {
			fields = append(fields, slackbot.Field{Label: fmt.Sprintf("Within %d", k.K), Value: fmt.Sprintf("%.3f", k.Accuracy)})
		}
	}
	return slackbot.Summary{
		Title:  "Session segmentation run",
		Text:   FormatRunSummary(r),
		Fields: fields,
		Footer: fmt.Sprintf("run `%s` · %s · took %s", r.ID, r.InputPath, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)),
	}
}
