package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNextRun(t *testing.T) {
	from := time.Date(2024, 5, 3, 8, 30, 0, 0, time.UTC) // Friday
	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 9 * * *", time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)},
		{"0 9 * * 1-5", time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)},
		{"0 9 * * 1", time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2024, 5, 3, 8, 45, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := NextRun(tt.expr, from)
		if err != nil {
			t.Fatalf("NextRun(%q): %v", tt.expr, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("NextRun(%q) = %s, want %s", tt.expr, got, tt.want)
		}
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, expr := range []string{"", "  ", "every day", "0 9 * *", "0 0 9 * * *"} {
		if _, err := Parse(expr); err == nil {
			t.Fatalf("Parse(%q) should fail", expr)
		}
	}
}

func TestRunnerRunsJobUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	job := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("first run fails")
		}
		if calls == 3 {
			cancel()
		}
		return nil
	}
	r, err := NewRunner("* * * * *", job, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	var waits []time.Duration
	r.now = func() time.Time { return time.Date(2024, 5, 3, 8, 30, 20, 0, time.UTC) }
	r.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	if err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 runs, got %d", calls)
	}
	if waits[0] != 40*time.Second {
		t.Fatalf("expected a 40s wait for the next minute, got %s", waits[0])
	}
}

func TestRunnerStopsWhileWaiting(t *testing.T) {
	r, err := NewRunner("0 9 * * *", func(context.Context) error {
		t.Fatal("job must not run")
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	r.after = func(time.Duration) <-chan time.Time { return make(chan time.Time) }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}
