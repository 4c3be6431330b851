package llm

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TranscriptSampler writes a random sample of prompts to markdown files for
// offline inspection. It draws from its own generator so sampling never
// touches classification.
type TranscriptSampler struct {
	dir         string
	limit       int
	probability float64

	mu    sync.Mutex
	rng   *rand.Rand
	saved int
	now   func() time.Time
}

func NewTranscriptSampler(dir string, limit int, probability float64, seed uint64) *TranscriptSampler {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &TranscriptSampler{
		dir:         dir,
		limit:       limit,
		probability: probability,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:         time.Now,
	}
}

func (s *TranscriptSampler) Saved() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// Maybe flips the sampler's coin and, on success, writes the prompt pair. It
// returns the written path or "" when the prompt was not sampled.
func (s *TranscriptSampler) Maybe(id, system, user string) (string, error) {
	if s == nil || s.limit <= 0 {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved >= s.limit || s.rng.Float64() >= s.probability {
		return "", nil
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("llm: create prompts dir: %w", err)
	}

	name := fmt.Sprintf("prompt_%03d_%s.md", s.saved+1, sanitizeFilename(id))
	path := filepath.Join(s.dir, name)

	var b strings.Builder
	fmt.Fprintf(&b, "# Prompt for %s\n\n", id)
	fmt.Fprintf(&b, "**Generated at:** %s\n\n", s.now().Format("2006-01-02 15:04:05"))
	b.WriteString("## System Prompt\n\n```\n" + system + "\n```\n\n")
	b.WriteString("## User Prompt\n\n```\n" + user + "\n```\n")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("llm: write prompt transcript: %w", err)
	}
	s.saved++
	return path, nil
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", " ", "_")
	return replacer.Replace(s)
}
