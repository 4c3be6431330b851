package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FirstEverMarker is the raw ground-truth value that tags the very first
// message an entity ever sent.
const FirstEverMarker = "[START]"

type Role int

const (
	RoleCustomer Role = iota + 1
	RoleAutomatedAgent
	RoleHumanAgent
)

func (r Role) String() string {
	switch r {
	case RoleCustomer:
		return "customer"
	case RoleAutomatedAgent:
		return "automated-agent"
	case RoleHumanAgent:
		return "human-agent"
	default:
		return "unknown"
	}
}

// ParseRole maps the role spellings seen in support exports onto the closed
// Role set. The empty string and unrecognized values are errors.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "customer", "patient", "user":
		return RoleCustomer, nil
	case "automated-agent", "automated", "bot", "assistant", "ai", "joy":
		return RoleAutomatedAgent, nil
	case "human-agent", "agent", "human", "support":
		return RoleHumanAgent, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// ResolveRole picks the role from whichever of the two exported role columns
// is populated, preferring the customer-side column.
func ResolveRole(userRole, agentRole string) (Role, error) {
	if strings.TrimSpace(userRole) != "" {
		return ParseRole(userRole)
	}
	return ParseRole(agentRole)
}

// Label is a tri-state ground-truth annotation.
type Label int8

const (
	LabelUnknown Label = iota
	LabelNegative
	LabelPositive
)

func (l Label) String() string {
	switch l {
	case LabelPositive:
		return "positive"
	case LabelNegative:
		return "negative"
	default:
		return "unknown"
	}
}

// Boundary collapses the label for evaluation: only a positive label counts.
func (l Label) Boundary() bool {
	return l == LabelPositive
}

// ParseLabel reads a raw ground-truth cell. Numeric 1 and the first-ever
// marker are positive, numeric 0 is negative and everything else (including
// an empty cell or "nan") is unknown. firstEver reports the marker.
func ParseLabel(raw string) (label Label, firstEver bool) {
	raw = strings.TrimSpace(raw)
	if raw == FirstEverMarker {
		return LabelPositive, true
	}
	if raw == "" {
		return LabelUnknown, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return LabelUnknown, false
	}
	switch v {
	case 1:
		return LabelPositive, false
	case 0:
		return LabelNegative, false
	default:
		return LabelUnknown, false
	}
}

type Message struct {
	ID          string
	EntityID    string
	ChannelID   string
	ChannelType string
	Timestamp   time.Time
	Role        Role
	Text        string

	// SincePrevious is the gap to the entity's previous message. HasPrevious
	// is false for the entity's first message.
	SincePrevious time.Duration
	HasPrevious   bool

	GroundTruth Label
	FirstEver   bool
	// RawLabel keeps the ground-truth cell as read, for round-tripping.
	RawLabel string
}

// SegmentedMessage is one output row.
type SegmentedMessage struct {
	Message
	PredictedBoundary int
	SessionStart      bool
	SessionID         string
}

// SessionID renders the run-scoped session counter.
func SessionID(n int) string {
	return "session_" + strconv.Itoa(n)
}

// FormatGap renders a gap the way transcripts show it: +Xs, +Xm, +Xh or +Xd.
func FormatGap(d time.Duration, hasPrevious bool) string {
	if !hasPrevious {
		return "FIRST"
	}
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("+%ds", int(d/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("+%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("+%dh", int(d/time.Hour))
	default:
		return fmt.Sprintf("+%dd", int(d/(24*time.Hour)))
	}
}
