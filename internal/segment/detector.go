package segment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sessionsplit/internal/domain"
)

type Stats struct {
	Messages        int
	Entities        int
	DroppedEntities int
	Channels        int
	AutoMarked      int
	Forced          int
	Classified      int
	Windows         int
	OracleCalls     int
	OracleFailures  int
	Uncovered       int
	Boundaries      int
	Sessions        int
}

type Result struct {
	Rows      []domain.SegmentedMessage
	Decisions Decisions
	Stats     Stats
}

// Predictions returns the predicted boundary vector in row order.
func (r Result) Predictions() []bool {
	out := make([]bool, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.PredictedBoundary == 1
	}
	return out
}

// GroundTruth returns the ground-truth vector in row order. Unknown labels
// count as negatives.
func (r Result) GroundTruth() []bool {
	out := make([]bool, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.GroundTruth.Boundary()
	}
	return out
}

// Labeled reports whether any row carries a ground-truth annotation.
func (r Result) Labeled() bool {
	for _, row := range r.Rows {
		if row.GroundTruth != domain.LabelUnknown {
			return true
		}
	}
	return false
}

type Detector struct {
	opts   Options
	oracle Oracle
	logger *zap.Logger
	sched  *scheduler
}

func New(opts Options, oracle Oracle, logger *zap.Logger) (*Detector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if oracle == nil {
		return nil, errors.New("segment: oracle is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		opts:   opts,
		oracle: oracle,
		logger: logger,
		sched: &scheduler{
			opts:   opts,
			oracle: oracle,
			logger: logger,
			sleep:  sleepContext,
		},
	}, nil
}

func (d *Detector) Options() Options {
	return d.opts
}

// Run segments msgs. Channels are classified in parallel, each by a single
// worker that owns its decisions; sessions are assigned only after every
// channel has been merged. The only error besides invalid input is
// cancellation of ctx.
func (d *Detector) Run(ctx context.Context, msgs []domain.Message) (Result, error) {
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			return Result{}, errors.New("segment: message with empty id")
		}
		if seen[m.ID] {
			return Result{}, fmt.Errorf("segment: duplicate message id %q", m.ID)
		}
		seen[m.ID] = true
	}

	part := PartitionStream(msgs, d.opts)
	d.logger.Info("partitioned stream",
		zap.Int("messages", len(part.Messages)),
		zap.Int("entities", part.Entities),
		zap.Int("dropped_entities", part.DroppedEntities),
		zap.Int("channels", len(part.Channels)),
		zap.Int("auto_marked", part.AutoMarked),
		zap.Int("forced", part.Forced))

	outcomes := make([]channelOutcome, len(part.Channels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i, ch := range part.Channels {
		if len(ch.Pending) == 0 {
			continue
		}
		g.Go(func() error {
			var (
				out channelOutcome
				err error
			)
			switch d.opts.Mode {
			case ModeSingle:
				out, err = d.sched.runSingle(gctx, ch, part.Decisions)
			default:
				out, err = d.sched.runBatch(gctx, ch)
			}
			if err != nil {
				return fmt.Errorf("channel %s: %w", ch.ID, err)
			}
			outcomes[i] = out
			d.logger.Debug("channel classified",
				zap.String("channel", ch.ID),
				zap.Int("pending", len(ch.Pending)),
				zap.Int("windows", out.windows),
				zap.Int("oracle_failures", out.failures))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("segment: %w", err)
	}

	decisions := part.Decisions.clone()
	stats := Stats{
		Messages:        len(part.Messages),
		Entities:        part.Entities,
		DroppedEntities: part.DroppedEntities,
		Channels:        len(part.Channels),
		AutoMarked:      part.AutoMarked,
		Forced:          part.Forced,
	}
	for _, out := range outcomes {
		for id, v := range out.decisions {
			decisions[id] = v
		}
		stats.Classified += len(out.decisions)
		stats.Windows += out.windows
		stats.OracleCalls += out.calls
		stats.OracleFailures += out.failures
		stats.Uncovered += out.uncovered
	}

	rows := AssignSessions(part.Messages, decisions)
	for _, row := range rows {
		if row.PredictedBoundary == 1 {
			stats.Boundaries++
		}
		if row.SessionStart {
			stats.Sessions++
		}
	}

	d.logger.Info("segmentation complete",
		zap.Int("messages", stats.Messages),
		zap.Int("sessions", stats.Sessions),
		zap.Int("boundaries", stats.Boundaries),
		zap.Int("oracle_calls", stats.OracleCalls),
		zap.Int("oracle_failures", stats.OracleFailures),
		zap.Int("uncovered", stats.Uncovered))

	return Result{Rows: rows, Decisions: decisions, Stats: stats}, nil
}
