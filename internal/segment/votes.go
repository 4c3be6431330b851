package segment

import "sessionsplit/internal/domain"

// VoteTally counts affirmative boundary verdicts per message across every
// window that contained it. Counts only ever grow.
type VoteTally struct {
	votes   map[string]int
	covered map[string]bool
}

func NewVoteTally() *VoteTally {
	return &VoteTally{
		votes:   make(map[string]int),
		covered: make(map[string]bool),
	}
}

// Cover records that every message of w was judged, whether or not the oracle
// answered.
func (t *VoteTally) Cover(w Window) {
	for _, m := range w.Messages {
		t.covered[m.ID] = true
	}
}

// Record adds one vote per distinct in-range index and returns how many
// indices were accepted. Anything outside [0, len(w.Messages)) is dropped.
func (t *VoteTally) Record(w Window, indices []int) int {
	t.Cover(w)
	seen := make(map[int]bool, len(indices))
	accepted := 0
	for _, idx := range indices {
		if idx < 0 || idx >= len(w.Messages) || seen[idx] {
			continue
		}
		seen[idx] = true
		t.votes[w.Messages[idx].ID]++
		accepted++
	}
	return accepted
}

func (t *VoteTally) Votes(id string) int {
	return t.votes[id]
}

func (t *VoteTally) Covered(id string) bool {
	return t.covered[id]
}

// Decide turns the tally into one decision per message. A message is a
// boundary when its votes reach threshold; uncovered messages are not.
func (t *VoteTally) Decide(msgs []domain.Message, threshold int) (Decisions, int) {
	out := make(Decisions, len(msgs))
	uncovered := 0
	for _, m := range msgs {
		if !t.covered[m.ID] {
			uncovered++
			out[m.ID] = false
			continue
		}
		out[m.ID] = t.votes[m.ID] >= threshold
	}
	return out, uncovered
}
