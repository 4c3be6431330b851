package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

type batchResponse struct {
	SessionStarts []int `json:"session_starts"`
}

// parseBatchResponse accepts {"session_starts": [...]} or a bare array of
// indices. Range checking is left to the caller.
func parseBatchResponse(text string) ([]int, error) {
	text = stripCodeFence(text)
	if strings.HasPrefix(text, "[") {
		var indices []int
		if err := json.Unmarshal([]byte(text), &indices); err != nil {
			return nil, fmt.Errorf("llm: parse batch response: %w", err)
		}
		return indices, nil
	}
	var resp batchResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("llm: parse batch response: %w", err)
	}
	return resp.SessionStarts, nil
}

type singleResponse struct {
	IsNewSession *int `json:"is_new_session"`
}

// parseSingleResponse accepts a bare 0/1 (optionally quoted or followed by
// more text) or {"is_new_session": 0|1}.
func parseSingleResponse(text string) (bool, error) {
	text = stripCodeFence(text)
	if strings.HasPrefix(text, "{") {
		var resp singleResponse
		if err := json.Unmarshal([]byte(text), &resp); err != nil {
			return false, fmt.Errorf("llm: parse single response: %w", err)
		}
		if resp.IsNewSession == nil {
			return false, fmt.Errorf("llm: parse single response: missing is_new_session")
		}
		return verdict(*resp.IsNewSession, text)
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false, fmt.Errorf("llm: empty single response")
	}
	switch strings.Trim(fields[0], `"'.,`) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, fmt.Errorf("llm: unexpected single response %q", truncateText(text, 80))
}

func verdict(v int, raw string) (bool, error) {
	switch v {
	case 1:
		return true, nil
	case 0:
		return false, nil
	}
	return false, fmt.Errorf("llm: unexpected single response %q", truncateText(raw, 80))
}
