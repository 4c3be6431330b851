package segment

import (
	"context"

	"sessionsplit/internal/domain"
)

// Window is a contiguous slice of a channel's undecided messages. Start is the
// absolute offset of Messages[0] within that slice.
type Window struct {
	ChannelID string
	Start     int
	Messages  []domain.Message
}

func (w Window) End() int {
	return w.Start + len(w.Messages)
}

// ContextWindow is trailing context ending at the message being judged.
// Boundaries holds the decisions already made for context messages; only
// true entries are present.
type ContextWindow struct {
	ChannelID  string
	Messages   []domain.Message
	Boundaries map[string]bool
}

func (c ContextWindow) Current() domain.Message {
	return c.Messages[len(c.Messages)-1]
}

// BatchOracle judges a whole window at once and returns the 0-based in-window
// indices of messages that start a new session. Out-of-range indices are
// tolerated and discarded by the caller.
type BatchOracle interface {
	ClassifyBatch(ctx context.Context, w Window) ([]int, error)
}

// SingleOracle judges only the last message of a context window.
type SingleOracle interface {
	ClassifySingle(ctx context.Context, w ContextWindow) (bool, error)
}

type Oracle interface {
	BatchOracle
	SingleOracle
}
