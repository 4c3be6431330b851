package llm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sessionsplit/internal/domain"
	"sessionsplit/internal/segment"
)

func TestTranscriptSamplerWritesUpToLimit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "prompts")
	s := NewTranscriptSampler(dir, 1, 1, 42)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }

	path, err := s.Maybe("chan/1 a", "system text", "user text")
	if err != nil {
		t.Fatalf("Maybe: %v", err)
	}
	if filepath.Base(path) != "prompt_001_chan_1_a.md" {
		t.Fatalf("unexpected file name %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	for _, want := range []string{
		"# Prompt for chan/1 a",
		"**Generated at:** 2024-05-01 09:30:00",
		"## System Prompt\n\n```\nsystem text\n```",
		"## User Prompt\n\n```\nuser text\n```",
	} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("transcript missing %q:\n%s", want, data)
		}
	}

	path, err = s.Maybe("second", "s", "u")
	if err != nil || path != "" {
		t.Fatalf("limit reached: got path %q err %v", path, err)
	}
	if s.Saved() != 1 {
		t.Fatalf("Saved() = %d, want 1", s.Saved())
	}
}

func TestTranscriptSamplerZeroProbability(t *testing.T) {
	dir := t.TempDir()
	s := NewTranscriptSampler(dir, 10, 0, 7)
	for i := 0; i < 20; i++ {
		if path, err := s.Maybe("id", "s", "u"); err != nil || path != "" {
			t.Fatalf("nothing should be sampled, got %q %v", path, err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, found %d files", len(entries))
	}
}

func TestNilTranscriptSampler(t *testing.T) {
	var s *TranscriptSampler
	if path, err := s.Maybe("id", "s", "u"); err != nil || path != "" {
		t.Fatalf("nil sampler should be a no-op")
	}
	if s.Saved() != 0 {
		t.Fatalf("nil sampler saved count should be 0")
	}
}

func TestClassifierSamplesPrompts(t *testing.T) {
	dir := t.TempDir()
	sampler := NewTranscriptSampler(dir, 1, 1, 1)
	c := NewClassifier(&fakeProvider{reply: "0"}, ClassifierOptions{Sampler: sampler})

	cw := segment.ContextWindow{ChannelID: "c1", Messages: []domain.Message{
		testMessage("m-1", domain.RoleCustomer, "hello", 0, false),
		testMessage("m-2", domain.RoleCustomer, "still here", time.Minute, true),
	}}
	if _, err := c.ClassifySingle(context.Background(), cw); err != nil {
		t.Fatalf("ClassifySingle: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "prompt_001_m-2.md")); err != nil {
		t.Fatalf("expected sampled transcript: %v", err)
	}
}

func TestLoadExamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.yaml")
	content := `examples:
  - title: "  Refund  "
    transcript: |
      [+1m] customer: I want a refund
    verdict: NEW SESSION
  - transcript: "[+5s] customer: thanks"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadExamples(path)
	if err != nil {
		t.Fatalf("LoadExamples: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 examples, got %d", len(got))
	}
	if got[0].Title != "Refund" || got[0].Transcript != "[+1m] customer: I want a refund" || got[0].Verdict != "NEW SESSION" {
		t.Fatalf("unexpected first example %+v", got[0])
	}

	out := filepath.Join(t.TempDir(), "roundtrip.yaml")
	if err := SaveExamples(out, got); err != nil {
		t.Fatalf("SaveExamples: %v", err)
	}
	again, err := LoadExamples(out)
	if err != nil || len(again) != 2 || again[1].Transcript != got[1].Transcript {
		t.Fatalf("round trip mismatch: %+v %v", again, err)
	}
}

func TestLoadExamplesRejectsEmptyTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.yaml")
	if err := os.WriteFile(path, []byte("examples:\n  - title: x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadExamples(path); err == nil {
		t.Fatalf("expected an error for an empty transcript")
	}
}
