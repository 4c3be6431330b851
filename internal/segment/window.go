package segment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sessionsplit/internal/domain"
)

// ScheduleWindows cuts msgs into windows of size starting at 0, step,
// 2*step, ... and stops once fewer than 2 messages remain. The last window may
// be shorter than size.
func ScheduleWindows(channelID string, msgs []domain.Message, size, overlap int) []Window {
	step := size - overlap
	if step < 1 {
		return nil
	}
	var windows []Window
	for start := 0; len(msgs)-start >= 2; start += step {
		end := start + size
		if end > len(msgs) {
			end = len(msgs)
		}
		windows = append(windows, Window{
			ChannelID: channelID,
			Start:     start,
			Messages:  msgs[start:end],
		})
	}
	return windows
}

type channelOutcome struct {
	decisions Decisions
	windows   int
	calls     int
	failures  int
	uncovered int
}

type scheduler struct {
	opts   Options
	oracle Oracle
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retry runs call up to MaxRetries times, sleeping RetryBaseDelay*2^attempt
// between attempts. It returns the number of attempts made and the last error.
func (s *scheduler) retry(ctx context.Context, call func(context.Context) error) (int, error) {
	var err error
	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		err = call(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		if ctx.Err() != nil {
			return attempt + 1, ctx.Err()
		}
		if attempt == s.opts.MaxRetries-1 {
			return attempt + 1, err
		}
		delay := s.opts.RetryBaseDelay * time.Duration(1<<attempt)
		s.logger.Debug("oracle call failed, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			return attempt + 1, sleepErr
		}
	}
	return s.opts.MaxRetries, err
}

// runBatch sends every window of the channel's pending messages to the oracle
// and aggregates the votes. A window whose retries are exhausted counts as
// "no boundary" for all of its messages.
func (s *scheduler) runBatch(ctx context.Context, ch ChannelSequence) (channelOutcome, error) {
	pending := ch.PendingMessages()
	tally := NewVoteTally()
	out := channelOutcome{}

	for _, w := range ScheduleWindows(ch.ID, pending, s.opts.WindowSize, s.opts.Overlap) {
		out.windows++
		var indices []int
		attempts, err := s.retry(ctx, func(ctx context.Context) error {
			var callErr error
			indices, callErr = s.oracle.ClassifyBatch(ctx, w)
			return callErr
		})
		out.calls += attempts
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			out.failures++
			s.logger.Warn("oracle window failed, defaulting to no boundary",
				zap.String("channel", ch.ID),
				zap.Int("window_start", w.Start),
				zap.Int("window_size", len(w.Messages)),
				zap.Int("attempts", attempts),
				zap.Error(err))
			tally.Cover(w)
			continue
		}
		accepted := tally.Record(w, indices)
		if accepted != len(indices) {
			s.logger.Debug("discarded malformed oracle indices",
				zap.String("channel", ch.ID),
				zap.Int("window_start", w.Start),
				zap.Int("returned", len(indices)),
				zap.Int("accepted", accepted))
		}
	}

	out.decisions, out.uncovered = tally.Decide(pending, s.opts.VoteThreshold)
	return out, nil
}

// runSingle judges pending messages one by one, in channel order, each with
// trailing context that shows the boundaries decided so far. Every message gets
// exactly one judgement, so the vote threshold does not apply here.
func (s *scheduler) runSingle(ctx context.Context, ch ChannelSequence, prior Decisions) (channelOutcome, error) {
	out := channelOutcome{decisions: make(Decisions, len(ch.Pending))}

	boundary := func(id string) bool {
		if v, ok := out.decisions[id]; ok {
			return v
		}
		return prior[id]
	}

	for _, idx := range ch.Pending {
		current := ch.Messages[idx]
		start := idx - s.opts.ContextSize + 1
		if start < 0 {
			start = 0
		}
		trail := ch.Messages[start : idx+1]

		// First message of the channel: nothing to compare against.
		if len(trail) == 1 {
			out.decisions[current.ID] = true
			continue
		}

		cw := ContextWindow{ChannelID: ch.ID, Messages: trail, Boundaries: make(map[string]bool)}
		for _, m := range trail[:len(trail)-1] {
			if boundary(m.ID) {
				cw.Boundaries[m.ID] = true
			}
		}

		out.windows++
		var verdict bool
		attempts, err := s.retry(ctx, func(ctx context.Context) error {
			var callErr error
			verdict, callErr = s.oracle.ClassifySingle(ctx, cw)
			return callErr
		})
		out.calls += attempts
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			out.failures++
			s.logger.Warn("oracle message failed, defaulting to no boundary",
				zap.String("channel", ch.ID),
				zap.String("message_id", current.ID),
				zap.Int("attempts", attempts),
				zap.Error(err))
			verdict = false
		}
		out.decisions[current.ID] = verdict
	}
	return out, nil
}
