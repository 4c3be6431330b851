package llm

import (
	"fmt"
	"sync"
)

type Usage struct {
	Calls                    int64
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.Calls += other.Calls
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// Sub returns the usage accumulated since the earlier snapshot.
func (u Usage) Sub(earlier Usage) Usage {
	return Usage{
		Calls:                    u.Calls - earlier.Calls,
		InputTokens:              u.InputTokens - earlier.InputTokens,
		OutputTokens:             u.OutputTokens - earlier.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens - earlier.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens - earlier.CacheReadInputTokens,
	}
}

func (u Usage) String() string {
	return fmt.Sprintf("calls=%d tokens_in=%d tokens_out=%d cache_create=%d cache_read=%d",
		u.Calls, u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens)
}

// usageMeter accumulates usage from concurrent channel workers.
type usageMeter struct {
	mu    sync.Mutex
	total Usage
}

func (m *usageMeter) add(u Usage) {
	m.mu.Lock()
	m.total.Add(u)
	m.mu.Unlock()
}

func (m *usageMeter) snapshot() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}
