package ingest

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sessionsplit/internal/domain"
)

const legacyExport = `gpt_stream_id,customer_id,gpt_channel_id,channel_type,created_at,user_role,agent_role,text,is_session_start
s1,c1,ch1,app,2024-05-01 10:00:00,patient,,"hello, I need help",[START]
s2,c1,ch1,app,2024-05-01 10:00:30,,joy,Sure! What's up?,0
s3,c1,ch1,app,2024-05-02T09:00:00Z,patient,,"a new
question",1.0
s4,c1,ch2,sms,2024-05-03 08:00:00+00,,support,checking in,
`

func TestReadMessagesLegacyAliases(t *testing.T) {
	msgs, err := ReadMessages(strings.NewReader(legacyExport))
	if err != nil {
		t.Fatalf("ReadMessages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}

	tests := []struct {
		id        string
		channel   string
		role      domain.Role
		label     domain.Label
		firstEver bool
	}{
		{"s1", "ch1", domain.RoleCustomer, domain.LabelPositive, true},
		{"s2", "ch1", domain.RoleAutomatedAgent, domain.LabelNegative, false},
		{"s3", "ch1", domain.RoleCustomer, domain.LabelPositive, false},
		{"s4", "ch2", domain.RoleHumanAgent, domain.LabelUnknown, false},
	}
	for i, tt := range tests {
		m := msgs[i]
		if m.ID != tt.id || m.EntityID != "c1" || m.ChannelID != tt.channel {
			t.Fatalf("row %d: unexpected identity %+v", i, m)
		}
		if m.Role != tt.role || m.GroundTruth != tt.label || m.FirstEver != tt.firstEver {
			t.Fatalf("row %d: role=%s label=%s firstEver=%v", i, m.Role, m.GroundTruth, m.FirstEver)
		}
	}
	if msgs[2].Text != "a new\nquestion" {
		t.Fatalf("multi-line text not preserved: %q", msgs[2].Text)
	}
	if want := time.Date(2024, 5, 1, 10, 0, 30, 0, time.UTC); !msgs[1].Timestamp.Equal(want) {
		t.Fatalf("timestamp = %s, want %s", msgs[1].Timestamp, want)
	}
	if want := time.Date(2024, 5, 3, 8, 0, 0, 0, time.UTC); !msgs[3].Timestamp.Equal(want) {
		t.Fatalf("timestamp = %s, want %s", msgs[3].Timestamp, want)
	}
}

func TestReadMessagesErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "empty input"},
		{"missing columns", "message_id,text\nm1,hi\n", "missing columns: entity_id, channel_id, timestamp, role"},
		{"duplicate id", "message_id,entity_id,channel_id,timestamp,role,text\nm1,e,c,2024-05-01,customer,a\nm1,e,c,2024-05-02,customer,b\n", `line 3: duplicate message id "m1"`},
		{"unknown role", "message_id,entity_id,channel_id,timestamp,role,text\nm1,e,c,2024-05-01,robot,a\n", `unknown role "robot"`},
		{"bad timestamp", "message_id,entity_id,channel_id,timestamp,role,text\nm1,e,c,yesterday,customer,a\n", "unrecognized timestamp"},
		{"empty entity", "message_id,entity_id,channel_id,timestamp,role,text\nm1,,c,2024-05-01,customer,a\n", "empty entity_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadMessages(strings.NewReader(tt.input))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestWriteThenReadSegmented(t *testing.T) {
	msgs, err := ReadMessages(strings.NewReader(legacyExport))
	if err != nil {
		t.Fatalf("ReadMessages: %v", err)
	}
	// s4 switches channel, so it starts a session without a prediction.
	preds := []int{1, 0, 1, 0}
	starts := []bool{true, false, true, true}
	sessions := []int{1, 1, 2, 3}
	rows := make([]domain.SegmentedMessage, len(msgs))
	for i, m := range msgs {
		rows[i] = domain.SegmentedMessage{Message: m, PredictedBoundary: preds[i], SessionStart: starts[i], SessionID: domain.SessionID(sessions[i])}
	}

	var buf bytes.Buffer
	if err := WriteSegmented(&buf, rows); err != nil {
		t.Fatalf("WriteSegmented: %v", err)
	}
	firstLine := strings.SplitN(buf.String(), "\n", 2)[0]
	if firstLine != "message_id,entity_id,channel_id,channel_type,timestamp,role,text,is_session_start,predicted_boundary,session_start,session_id" {
		t.Fatalf("unexpected header %q", firstLine)
	}

	got, err := ReadSegmented(&buf)
	if err != nil {
		t.Fatalf("ReadSegmented: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(got))
	}
	for i := range rows {
		if got[i].ID != rows[i].ID || got[i].PredictedBoundary != rows[i].PredictedBoundary || got[i].SessionID != rows[i].SessionID {
			t.Fatalf("row %d mismatch: %+v", i, got[i])
		}
		if got[i].SessionStart != rows[i].SessionStart {
			t.Fatalf("row %d: session start = %v, want %v", i, got[i].SessionStart, rows[i].SessionStart)
		}
		if got[i].GroundTruth != rows[i].GroundTruth || got[i].FirstEver != rows[i].FirstEver || got[i].Role != rows[i].Role {
			t.Fatalf("row %d lost its labels: %+v", i, got[i])
		}
		if !got[i].Timestamp.Equal(rows[i].Timestamp) || got[i].Text != rows[i].Text {
			t.Fatalf("row %d lost its content: %+v", i, got[i])
		}
	}
}

func TestReadSegmentedImpliedSessionStart(t *testing.T) {
	const head = "message_id,entity_id,channel_id,timestamp,role,text,predicted_boundary"
	tests := []struct {
		name  string
		input string
		want  []bool
	}{
		{
			name: "session ids",
			input: head + ",session_id\n" +
				"a,e,cA,2024-05-01,customer,hi,0,session_1\n" +
				"b,e,cA,2024-05-01,customer,more,0,session_1\n" +
				"c,e,cB,2024-05-02,customer,other,0,session_2\n",
			want: []bool{true, false, true},
		},
		{
			name: "channels only",
			input: head + "\n" +
				"a,e,cA,2024-05-01,customer,hi,0\n" +
				"b,e,cB,2024-05-01,customer,switch,0\n" +
				"c,e,cB,2024-05-02,customer,next,1\n",
			want: []bool{true, true, true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadSegmented(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ReadSegmented: %v", err)
			}
			for i, want := range tt.want {
				if got[i].SessionStart != want {
					t.Fatalf("row %d: session start = %v, want %v", i, got[i].SessionStart, want)
				}
			}
		})
	}
}

func TestReadSegmentedAcceptsLegacyPredictionColumn(t *testing.T) {
	input := "gpt_stream_id,customer_id,gpt_channel_id,created_at,user_role,agent_role,text,is_session_start,is_session_start_pred\n" +
		"s1,c1,ch1,2024-05-01,patient,,hi,1,1\n" +
		"s2,c1,ch1,2024-05-02,patient,,again,0,\n"
	got, err := ReadSegmented(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadSegmented: %v", err)
	}
	if got[0].PredictedBoundary != 1 || got[1].PredictedBoundary != 0 {
		t.Fatalf("unexpected predictions %d %d", got[0].PredictedBoundary, got[1].PredictedBoundary)
	}

	bad := strings.Replace(input, ",0,\n", ",0,2\n", 1)
	if _, err := ReadSegmented(strings.NewReader(bad)); err == nil {
		t.Fatalf("expected an error for prediction 2")
	}
}

func TestSegmentedFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "segmented.csv")
	rows := []domain.SegmentedMessage{{
		Message: domain.Message{
			ID: "m1", EntityID: "e1", ChannelID: "c1", Role: domain.RoleCustomer,
			Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 123000000, time.UTC), Text: "hi",
		},
		PredictedBoundary: 1, SessionStart: true, SessionID: "session_1",
	}}
	if err := WriteSegmentedFile(path, rows); err != nil {
		t.Fatalf("WriteSegmentedFile: %v", err)
	}
	got, err := ReadSegmentedFile(path)
	if err != nil {
		t.Fatalf("ReadSegmentedFile: %v", err)
	}
	if len(got) != 1 || !got[0].Timestamp.Equal(rows[0].Timestamp) || !got[0].SessionStart {
		t.Fatalf("unexpected round trip %+v", got)
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, s := range []string{
		"2024-05-01T10:00:00Z",
		"2024-05-01T12:00:00+02:00",
		"2024-05-01 10:00:00",
		"2024-05-01 10:00:00.000",
		"2024-05-01 10:00:00+00:00",
		"2024-05-01 10:00",
	} {
		got, err := ParseTimestamp(s)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", s, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%q) = %s, want %s", s, got, want)
		}
	}
}
