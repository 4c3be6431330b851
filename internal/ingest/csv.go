// Package ingest reads support-message exports and writes segmented output,
// both as CSV.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sessionsplit/internal/domain"
)

// Canonical column names. Aliases from the legacy export are mapped onto
// these when the header is read.
const (
	ColMessageID         = "message_id"
	ColEntityID          = "entity_id"
	ColChannelID         = "channel_id"
	ColChannelType       = "channel_type"
	ColTimestamp         = "timestamp"
	ColRole              = "role"
	ColUserRole          = "user_role"
	ColAgentRole         = "agent_role"
	ColText              = "text"
	ColIsSessionStart    = "is_session_start"
	ColPredictedBoundary = "predicted_boundary"
	ColSessionStart      = "session_start"
	ColSessionID         = "session_id"
)

var aliases = map[string]string{
	"gpt_stream_id":         ColMessageID,
	"customer_id":           ColEntityID,
	"gpt_channel_id":        ColChannelID,
	"created_at":            ColTimestamp,
	"is_session_start_pred": ColPredictedBoundary,
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339 and the space-separated forms produced by
// common database exports. Values without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

type header map[string]int

func readHeader(r *csv.Reader) (header, error) {
	record, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("ingest: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: reading header: %w", err)
	}
	h := make(header, len(record))
	for i, name := range record {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if canonical, ok := aliases[name]; ok {
			name = canonical
		}
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	return h, nil
}

func (h header) has(col string) bool {
	_, ok := h[col]
	return ok
}

func (h header) require(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !h.has(c) {
			missing = append(missing, c)
		}
	}
	if !h.has(ColRole) && !h.has(ColUserRole) && !h.has(ColAgentRole) {
		missing = append(missing, "role (or user_role/agent_role)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("ingest: missing columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (h header) get(record []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (h header) message(record []string) (domain.Message, error) {
	m := domain.Message{
		ID:          h.get(record, ColMessageID),
		EntityID:    h.get(record, ColEntityID),
		ChannelID:   h.get(record, ColChannelID),
		ChannelType: h.get(record, ColChannelType),
		Text:        h.get(record, ColText),
	}
	if m.ID == "" {
		return m, fmt.Errorf("empty %s", ColMessageID)
	}
	if m.EntityID == "" {
		return m, fmt.Errorf("message %s: empty %s", m.ID, ColEntityID)
	}
	if m.ChannelID == "" {
		return m, fmt.Errorf("message %s: empty %s", m.ID, ColChannelID)
	}

	ts, err := ParseTimestamp(h.get(record, ColTimestamp))
	if err != nil {
		return m, fmt.Errorf("message %s: %w", m.ID, err)
	}
	m.Timestamp = ts

	if h.has(ColRole) && h.get(record, ColRole) != "" {
		m.Role, err = domain.ParseRole(h.get(record, ColRole))
	} else {
		m.Role, err = domain.ResolveRole(h.get(record, ColUserRole), h.get(record, ColAgentRole))
	}
	if err != nil {
		return m, fmt.Errorf("message %s: %w", m.ID, err)
	}

	m.RawLabel = h.get(record, ColIsSessionStart)
	m.GroundTruth, m.FirstEver = domain.ParseLabel(m.RawLabel)
	return m, nil
}

// ReadMessages parses an input export. Rows keep file order; duplicate
// message IDs and unknown roles are errors.
func ReadMessages(r io.Reader) ([]domain.Message, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	h, err := readHeader(cr)
	if err != nil {
		return nil, err
	}
	if err := h.require(ColMessageID, ColEntityID, ColChannelID, ColTimestamp, ColText); err != nil {
		return nil, err
	}

	var out []domain.Message
	seen := make(map[string]int)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		line, _ := cr.FieldPos(0)
		m, err := h.message(record)
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: %w", line, err)
		}
		if prev, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("ingest: line %d: duplicate message id %q (first seen on line %d)", line, m.ID, prev)
		}
		seen[m.ID] = line
		out = append(out, m)
	}
	return out, nil
}

func ReadMessagesFile(path string) ([]domain.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	defer f.Close()
	return ReadMessages(f)
}

// ReadSegmented parses a file produced by WriteSegmented (or any export that
// carries a predicted_boundary column next to the input columns).
func ReadSegmented(r io.Reader) ([]domain.SegmentedMessage, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	h, err := readHeader(cr)
	if err != nil {
		return nil, err
	}
	if err := h.require(ColMessageID, ColEntityID, ColChannelID, ColTimestamp, ColText, ColPredictedBoundary); err != nil {
		return nil, err
	}

	var out []domain.SegmentedMessage
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		line, _ := cr.FieldPos(0)
		m, err := h.message(record)
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: %w", line, err)
		}
		pred, err := parseFlag(ColPredictedBoundary, h.get(record, ColPredictedBoundary))
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: message %s: %w", line, m.ID, err)
		}
		row := domain.SegmentedMessage{
			Message:           m,
			PredictedBoundary: pred,
			SessionID:         h.get(record, ColSessionID),
		}
		if h.has(ColSessionStart) {
			start, err := parseFlag(ColSessionStart, h.get(record, ColSessionStart))
			if err != nil {
				return nil, fmt.Errorf("ingest: line %d: message %s: %w", line, m.ID, err)
			}
			row.SessionStart = start == 1
		} else {
			row.SessionStart = impliedSessionStart(out, row)
		}
		out = append(out, row)
	}
	return out, nil
}

// impliedSessionStart recovers the start flag for files without a
// session_start column: a new session id, or a channel switch when ids are
// absent, starts a session just like a positive prediction.
func impliedSessionStart(prev []domain.SegmentedMessage, row domain.SegmentedMessage) bool {
	if row.PredictedBoundary == 1 || len(prev) == 0 {
		return true
	}
	last := prev[len(prev)-1]
	if row.SessionID != "" || last.SessionID != "" {
		return row.SessionID != last.SessionID
	}
	return row.ChannelID != last.ChannelID
}

func ReadSegmentedFile(path string) ([]domain.SegmentedMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	defer f.Close()
	return ReadSegmented(f)
}

func parseFlag(col, s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || (v != 0 && v != 1) {
		return 0, fmt.Errorf("invalid %s %q", col, s)
	}
	return int(v), nil
}

var outputHeader = []string{
	ColMessageID, ColEntityID, ColChannelID, ColChannelType, ColTimestamp,
	ColRole, ColText, ColIsSessionStart, ColPredictedBoundary, ColSessionStart, ColSessionID,
}

// WriteSegmented writes rows in the order given with the canonical header.
// The ground-truth cell is written back as it was read.
func WriteSegmented(w io.Writer, rows []domain.SegmentedMessage) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(outputHeader); err != nil {
		return fmt.Errorf("ingest: write header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.ID,
			row.EntityID,
			row.ChannelID,
			row.ChannelType,
			row.Timestamp.Format(time.RFC3339Nano),
			row.Role.String(),
			row.Text,
			row.RawLabel,
			strconv.Itoa(row.PredictedBoundary),
			boolFlag(row.SessionStart),
			row.SessionID,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("ingest: write row %s: %w", row.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("ingest: flush: %w", err)
	}
	return nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func WriteSegmentedFile(path string, rows []domain.SegmentedMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("ingest: create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := WriteSegmented(f, rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}
