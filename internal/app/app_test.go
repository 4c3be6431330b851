package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sessionsplit/internal/config"
	"sessionsplit/internal/ingest"
	"sessionsplit/internal/integrations/llm"
	slackbot "sessionsplit/internal/integrations/slack"
	"sessionsplit/internal/segment"
)

const input = `message_id,entity_id,channel_id,channel_type,timestamp,role,text,is_session_start
m1,e1,c1,app,2024-05-01T10:00:00Z,customer,hello,1
m2,e1,c1,app,2024-05-01T10:01:00Z,automated-agent,hi there,0
m3,e1,c1,app,2024-05-01T10:02:00Z,customer,question,0
m4,e1,c1,app,2024-05-01T10:03:00Z,automated-agent,answer,0
m5,e1,c1,app,2024-05-01T10:04:00Z,customer,thanks,0
m6,e1,c1,app,2024-05-03T09:00:00Z,customer,new topic,1
`

type fakeOracle struct {
	batchCalls int
}

func (f *fakeOracle) ClassifyBatch(_ context.Context, w segment.Window) ([]int, error) {
	f.batchCalls++
	return []int{len(w.Messages) - 1}, nil
}

func (f *fakeOracle) ClassifySingle(context.Context, segment.ContextWindow) (bool, error) {
	return false, errors.New("not used")
}

// meteredProvider answers every batch with its last in-window index and
// bills 100 input and 10 output tokens per call.
type meteredProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *meteredProvider) Name() string  { return "metered" }
func (p *meteredProvider) Model() string { return "metered-1" }

func (p *meteredProvider) Complete(context.Context, string, string) (string, llm.Usage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return `{"session_starts": [1]}`, llm.Usage{Calls: 1, InputTokens: 100, OutputTokens: 10}, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	summaries []slackbot.Summary
	err       error
}

func (f *fakeNotifier) Post(_ context.Context, s slackbot.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return f.err
}

func testConfig(t *testing.T, content string) config.Config {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "input.csv")
	require.NoError(t, os.WriteFile(in, []byte(content), 0644))

	cfg := config.Default()
	cfg.InputPath = in
	cfg.OutputPath = filepath.Join(dir, "out", "segmented.csv")
	cfg.MetricsPath = filepath.Join(dir, "out", "metrics.json")
	cfg.DBPath = filepath.Join(dir, "runs.db")
	cfg.RetryBaseDelayMS = 0
	cfg.ToleranceLevels = []int{1, 2}
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config, opts ...Option) *App {
	t.Helper()
	a := New(cfg, nil, opts...)
	a.newRunID = func() string { return "run-1" }
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	a.now = func() time.Time {
		calls++
		return start.Add(time.Duration(calls) * time.Second)
	}
	return a
}

func TestDetectEndToEnd(t *testing.T) {
	cfg := testConfig(t, input)
	oracle := &fakeOracle{}
	notifier := &fakeNotifier{}
	a := newTestApp(t, cfg, WithOracle(oracle), WithNotifier(notifier))

	report, err := a.Detect(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", report.ID)
	require.Equal(t, 1, oracle.batchCalls)
	require.Equal(t, 6, report.Stats.Messages)
	// m1-m4 auto-marked, m6 voted.
	require.Equal(t, 5, report.Stats.Sessions)
	require.NotNil(t, report.Metrics)
	require.InDelta(t, 3.0/6.0, report.Metrics.ExactAccuracy, 1e-9)

	rows, err := ingest.ReadSegmentedFile(cfg.OutputPath)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	require.Equal(t, 0, rows[4].PredictedBoundary)
	require.Equal(t, 1, rows[5].PredictedBoundary)
	require.Equal(t, "session_5", rows[5].SessionID)

	_, err = os.Stat(cfg.MetricsPath)
	require.NoError(t, err)

	runs, err := a.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "custom", runs[0].Provider)
	require.Equal(t, 5, runs[0].Sessions)

	m, ok, err := a.RunMetrics("run-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, report.Metrics.F1, m.F1, 1e-9)

	require.Len(t, notifier.summaries, 1)
	require.Contains(t, notifier.summaries[0].Text, "6 messages in 1 channels: 5 sessions")
	require.Contains(t, notifier.summaries[0].Footer, "run `run-1`")
}

func TestDetectWithoutGroundTruthSkipsEvaluation(t *testing.T) {
	unlabeled := strings.ReplaceAll(input, ",1\n", ",\n")
	unlabeled = strings.ReplaceAll(unlabeled, ",0\n", ",\n")
	cfg := testConfig(t, unlabeled)
	a := newTestApp(t, cfg, WithOracle(&fakeOracle{}))

	report, err := a.Detect(context.Background())
	require.NoError(t, err)
	require.Nil(t, report.Metrics)
	_, err = os.Stat(cfg.MetricsPath)
	require.True(t, os.IsNotExist(err))
}

func TestDetectNotificationFailureIsNotFatal(t *testing.T) {
	cfg := testConfig(t, input)
	notifier := &fakeNotifier{err: errors.New("slack down")}
	a := newTestApp(t, cfg, WithOracle(&fakeOracle{}), WithNotifier(notifier))

	_, err := a.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, notifier.summaries, 1)
}

func TestDetectRequiresAPIKeyForLLM(t *testing.T) {
	cfg := testConfig(t, input)
	cfg.AnthropicAPIKey = ""
	t.Setenv("ANTHROPIC_API_KEY", "")
	a := newTestApp(t, cfg)

	_, err := a.Detect(context.Background())
	require.ErrorContains(t, err, "api key is required")
}

func TestDetectRejectsBadInput(t *testing.T) {
	cfg := testConfig(t, "message_id,text\nm1,hi\n")
	a := newTestApp(t, cfg, WithOracle(&fakeOracle{}))
	_, err := a.Detect(context.Background())
	require.ErrorContains(t, err, "missing columns")
}

func TestEvaluateFile(t *testing.T) {
	cfg := testConfig(t, input)
	a := newTestApp(t, cfg, WithOracle(&fakeOracle{}))
	_, err := a.Detect(context.Background())
	require.NoError(t, err)

	cfg.MetricsPath = filepath.Join(t.TempDir(), "again.json")
	b := newTestApp(t, cfg)
	m, err := b.EvaluateFile(cfg.OutputPath)
	require.NoError(t, err)
	require.Equal(t, 5, m.PredictedBoundaries)
	require.Equal(t, 2, m.ActualBoundaries)
	_, err = os.Stat(cfg.MetricsPath)
	require.NoError(t, err)
}

func TestFormatRunSummaryWithoutMetrics(t *testing.T) {
	got := FormatRunSummary(RunReport{Stats: segment.Stats{Messages: 3, Channels: 1, Sessions: 2, OracleCalls: 1}})
	require.Equal(t, "3 messages in 1 channels: 2 sessions, 1 oracle calls (0 failed, 0 uncovered)", got)
}

func sequentialRunIDs(a *App) {
	n := 0
	a.newRunID = func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
}

func TestDetectTwiceReportsPerRunUsage(t *testing.T) {
	cfg := testConfig(t, input)
	cfg.SavePromptsCount = 1
	cfg.SavePromptsProbability = 1
	cfg.SavePromptsDir = filepath.Join(t.TempDir(), "prompts")
	provider := &meteredProvider{}
	a := newTestApp(t, cfg, WithProvider(provider))
	sequentialRunIDs(a)

	for _, id := range []string{"run-1", "run-2"} {
		report, err := a.Detect(context.Background())
		require.NoError(t, err)
		require.Equal(t, id, report.ID)
		require.Equal(t, "metered", report.Provider)
		require.Equal(t, "metered-1", report.Model)
		require.Equal(t, 1, report.Stats.OracleCalls)
		require.Equal(t, llm.Usage{Calls: 1, InputTokens: 100, OutputTokens: 10}, report.Usage)

		saved, err := filepath.Glob(filepath.Join(cfg.SavePromptsDir, id, "prompt_*.md"))
		require.NoError(t, err)
		require.Len(t, saved, 1, "each run samples up to its own limit")
	}
	require.Equal(t, 2, provider.calls)

	runs, err := a.Runs(0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		require.EqualValues(t, 100, r.InputTokens, "run %s", r.ID)
		require.EqualValues(t, 10, r.OutputTokens, "run %s", r.ID)
	}
}

func TestDetectInjectedClassifierCountsOnlyItsRun(t *testing.T) {
	cfg := testConfig(t, input)
	cfg.DBPath = ""
	classifier := llm.NewClassifier(&meteredProvider{}, llm.ClassifierOptions{})
	a := newTestApp(t, cfg, WithOracle(classifier))
	sequentialRunIDs(a)

	for i := 0; i < 2; i++ {
		report, err := a.Detect(context.Background())
		require.NoError(t, err)
		require.EqualValues(t, report.Stats.OracleCalls, report.Usage.Calls)
		require.EqualValues(t, 100, report.Usage.InputTokens)
	}
	require.EqualValues(t, 2, classifier.Usage().Calls)
}
