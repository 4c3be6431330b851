package segment

import (
	"fmt"
	"strings"
	"time"
)

type Mode string

const (
	ModeBatch  Mode = "batch"
	ModeSingle Mode = "single"
)

// Options configures one Detector. Zero values are not defaults; start from
// DefaultOptions.
type Options struct {
	Mode Mode

	// AutoMarkCount is K: the first K messages of every entity are session
	// starts without consulting the oracle.
	AutoMarkCount int
	// MinMessages drops entities with fewer messages.
	MinMessages int
	// MaxDatasetSize keeps whole entities, in entity order, until at least
	// this many messages are selected. 0 disables the limit.
	MaxDatasetSize int

	WindowSize  int
	Overlap     int
	ContextSize int

	VoteThreshold int

	MaxRetries     int
	RetryBaseDelay time.Duration

	Concurrency int
}

func DefaultOptions() Options {
	return Options{
		Mode:           ModeBatch,
		AutoMarkCount:  4,
		MinMessages:    1,
		WindowSize:     100,
		Overlap:        5,
		ContextSize:    6,
		VoteThreshold:  1,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		Concurrency:    4,
	}
}

// Step is the distance between consecutive window starts.
func (o Options) Step() int {
	return o.WindowSize - o.Overlap
}

func (o Options) Validate() error {
	var errs []string
	switch o.Mode {
	case ModeBatch, ModeSingle:
	default:
		errs = append(errs, fmt.Sprintf("mode must be %q or %q, got %q", ModeBatch, ModeSingle, o.Mode))
	}
	if o.AutoMarkCount < 0 {
		errs = append(errs, fmt.Sprintf("auto mark count must be >= 0, got %d", o.AutoMarkCount))
	}
	if o.MinMessages < 0 {
		errs = append(errs, fmt.Sprintf("min messages must be >= 0, got %d", o.MinMessages))
	}
	if o.MaxDatasetSize < 0 {
		errs = append(errs, fmt.Sprintf("max dataset size must be >= 0, got %d", o.MaxDatasetSize))
	}
	if o.WindowSize < 1 {
		errs = append(errs, fmt.Sprintf("window size must be >= 1, got %d", o.WindowSize))
	}
	if o.Overlap < 0 {
		errs = append(errs, fmt.Sprintf("overlap must be >= 0, got %d", o.Overlap))
	}
	if o.Overlap >= o.WindowSize {
		errs = append(errs, fmt.Sprintf("overlap %d must be smaller than window size %d", o.Overlap, o.WindowSize))
	}
	if o.ContextSize < 1 {
		errs = append(errs, fmt.Sprintf("context size must be >= 1, got %d", o.ContextSize))
	}
	if o.VoteThreshold < 1 {
		errs = append(errs, fmt.Sprintf("vote threshold must be >= 1, got %d", o.VoteThreshold))
	}
	if o.MaxRetries < 1 {
		errs = append(errs, fmt.Sprintf("max retries must be >= 1, got %d", o.MaxRetries))
	}
	if o.RetryBaseDelay < 0 {
		errs = append(errs, fmt.Sprintf("retry base delay must be >= 0, got %s", o.RetryBaseDelay))
	}
	if o.Concurrency < 1 {
		errs = append(errs, fmt.Sprintf("concurrency must be >= 1, got %d", o.Concurrency))
	}
	if len(errs) > 0 {
		return fmt.Errorf("segment: invalid options: %s", strings.Join(errs, "; "))
	}
	return nil
}
