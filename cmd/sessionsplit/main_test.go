package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sessionsplit/internal/app"
	"sessionsplit/internal/segment"
)

const labelledInput = `message_id,entity_id,channel_id,channel_type,timestamp,role,text,is_session_start
m1,e1,c1,app,2024-05-01T10:00:00Z,customer,hello,[START]
m2,e1,c1,app,2024-05-01T10:01:00Z,automated-agent,hi there,0
m3,e1,c1,app,2024-05-02T09:00:00Z,customer,new topic,1
m4,e1,c1,app,2024-05-02T09:01:00Z,automated-agent,sure,0
`

type stubOracle struct{}

func (stubOracle) ClassifyBatch(_ context.Context, w segment.Window) ([]int, error) {
	var out []int
	for i, m := range w.Messages {
		if strings.Contains(m.Text, "topic") {
			out = append(out, i)
		}
	}
	return out, nil
}

func (stubOracle) ClassifySingle(_ context.Context, cw segment.ContextWindow) (bool, error) {
	return strings.Contains(cw.Current().Text, "topic"), nil
}

// setupWorkspace writes an input file and a config that disables
// auto-marking so every message reaches the stub oracle.
func setupWorkspace(t *testing.T) (dir, configPath string) {
	t.Helper()
	dir = t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "input.csv"), []byte(labelledInput), 0644); err != nil {
		t.Fatal(err)
	}
	configPath = filepath.Join(dir, "sessionsplit.yaml")
	cfg := "auto_session_start_count: 1\nretry_base_delay_ms: 0\nlog_level: error\n" +
		"db_path: " + filepath.Join(dir, "runs.db") + "\n"
	if err := os.WriteFile(configPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	orig := extraAppOptions
	extraAppOptions = []app.Option{app.WithOracle(stubOracle{})}
	t.Cleanup(func() { extraAppOptions = orig })
	return dir, configPath
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "sessionsplit dev") || !strings.Contains(out, "commit: none") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := runCLI(t, "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, sub := range []string{"detect", "evaluate", "runs", "watch", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing %q:\n%s", sub, out)
		}
	}
}

func TestDetectEvaluateAndRuns(t *testing.T) {
	dir, configPath := setupWorkspace(t)
	input := filepath.Join(dir, "input.csv")

	out, err := runCLI(t, "-c", configPath, "detect", "-i", input, "--metrics", filepath.Join(dir, "metrics.json"))
	if err != nil {
		t.Fatalf("detect failed: %v\n%s", err, out)
	}
	segmented := filepath.Join(dir, "input_segmented.csv")
	for _, want := range []string{
		"4 messages in 1 channels: 2 sessions",
		"Output: " + segmented,
		"SESSION BOUNDARY EVALUATION REPORT - custom",
		"Exact Accuracy:    1.000",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("detect output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, "-c", configPath, "evaluate", segmented, "--name", "rerun")
	if err != nil {
		t.Fatalf("evaluate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "REPORT - rerun") || !strings.Contains(out, "F1-Score:          1.000") {
		t.Fatalf("unexpected evaluate output:\n%s", out)
	}

	out, err = runCLI(t, "-c", configPath, "runs")
	if err != nil {
		t.Fatalf("runs failed: %v\n%s", err, out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[1], "batch") {
		t.Fatalf("unexpected runs output:\n%s", out)
	}

	runID := strings.Fields(lines[1])[0]
	out, err = runCLI(t, "-c", configPath, "runs", "show", runID)
	if err != nil {
		t.Fatalf("runs show failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "REPORT - "+runID) {
		t.Fatalf("unexpected runs show output:\n%s", out)
	}

	out, err = runCLI(t, "-c", configPath, "runs", "show", runID, "--messages")
	if err != nil {
		t.Fatalf("runs show --messages failed: %v\n%s", err, out)
	}
	lines = strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 5 || !strings.HasPrefix(lines[0], "MESSAGE") {
		t.Fatalf("unexpected messages output:\n%s", out)
	}
	if f := strings.Fields(lines[3]); f[0] != "m3" || f[len(f)-2] != "*" || f[len(f)-1] != "session_2" {
		t.Fatalf("unexpected row for m3: %q", lines[3])
	}
	if f := strings.Fields(lines[4]); f[0] != "m4" || f[len(f)-1] != "session_2" || f[len(f)-2] == "*" {
		t.Fatalf("unexpected row for m4: %q", lines[4])
	}
}

func TestDetectSingleModeNoDB(t *testing.T) {
	dir, configPath := setupWorkspace(t)
	out, err := runCLI(t, "-c", configPath, "detect", "-i", filepath.Join(dir, "input.csv"),
		"-o", filepath.Join(dir, "single.csv"), "--mode", "single", "--no-db")
	if err != nil {
		t.Fatalf("detect failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 sessions") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "runs.db")); !os.IsNotExist(err) {
		t.Fatalf("--no-db must not create the database, stat err = %v", err)
	}
}

func TestDetectRejectsInvalidOverride(t *testing.T) {
	dir, configPath := setupWorkspace(t)
	_, err := runCLI(t, "-c", configPath, "detect", "-i", filepath.Join(dir, "input.csv"), "--mode", "sideways")
	if err == nil || !strings.Contains(err.Error(), "mode must be") {
		t.Fatalf("expected mode validation error, got %v", err)
	}
}

func TestWatchRequiresSchedule(t *testing.T) {
	dir, configPath := setupWorkspace(t)
	_, err := runCLI(t, "-c", configPath, "watch", "-i", filepath.Join(dir, "input.csv"))
	if err == nil || !strings.Contains(err.Error(), "no schedule") {
		t.Fatalf("expected missing schedule error, got %v", err)
	}
}

func TestDefaultOutputPath(t *testing.T) {
	tests := map[string]string{
		"data/export.csv": "data/export_segmented.csv",
		"export":          "export_segmented.csv",
	}
	for in, want := range tests {
		if got := defaultOutputPath(in); got != want {
			t.Fatalf("defaultOutputPath(%q) = %q, want %q", in, got, want)
		}
	}
}
