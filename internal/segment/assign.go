package segment

import (
	"sort"

	"sessionsplit/internal/domain"
)

// AssignSessions orders msgs by channel then time and walks them once. A
// session starts whenever the channel changes or the message is a predicted
// boundary; the counter is shared by every channel of the run.
func AssignSessions(msgs []domain.Message, decisions Decisions) []domain.SegmentedMessage {
	ordered := make([]domain.Message, len(msgs))
	copy(ordered, msgs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ChannelID != ordered[j].ChannelID {
			return ordered[i].ChannelID < ordered[j].ChannelID
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	rows := make([]domain.SegmentedMessage, len(ordered))
	counter := 0
	lastChannel := ""
	started := false
	for i, m := range ordered {
		predicted := 0
		if decisions[m.ID] {
			predicted = 1
		}
		start := !started || m.ChannelID != lastChannel || predicted == 1
		if start {
			counter++
		}
		started = true
		lastChannel = m.ChannelID
		rows[i] = domain.SegmentedMessage{
			Message:           m,
			PredictedBoundary: predicted,
			SessionStart:      start,
			SessionID:         domain.SessionID(counter),
		}
	}
	return rows
}
