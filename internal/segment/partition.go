package segment

import (
	"sort"

	"sessionsplit/internal/domain"
)

// Decisions is the predicted-boundary map of one run, keyed by message ID.
// Each message is decided once: by the auto-marking rules or by the vote.
type Decisions map[string]bool

func (d Decisions) clone() Decisions {
	out := make(Decisions, len(d))
	for id, v := range d {
		out[id] = v
	}
	return out
}

// ChannelSequence is the time-ordered messages of one channel. Pending holds
// the indices of messages that still need the oracle.
type ChannelSequence struct {
	ID       string
	Messages []domain.Message
	Pending  []int
}

func (c ChannelSequence) PendingMessages() []domain.Message {
	out := make([]domain.Message, len(c.Pending))
	for i, idx := range c.Pending {
		out[i] = c.Messages[idx]
	}
	return out
}

type Partition struct {
	// Messages are the kept messages in entity then time order, with gaps
	// derived.
	Messages  []domain.Message
	Decisions Decisions
	Channels  []ChannelSequence

	Entities        int
	DroppedEntities int
	AutoMarked      int
	Forced          int
}

// PartitionStream groups messages by entity, applies the dataset filters and
// the fixed-prefix rule, and hands back the undecided remainder per channel.
func PartitionStream(msgs []domain.Message, opts Options) Partition {
	byEntity := make(map[string][]domain.Message)
	var entityIDs []string
	for _, m := range msgs {
		if _, ok := byEntity[m.EntityID]; !ok {
			entityIDs = append(entityIDs, m.EntityID)
		}
		byEntity[m.EntityID] = append(byEntity[m.EntityID], m)
	}
	sort.Strings(entityIDs)

	part := Partition{Decisions: make(Decisions)}
	selected := 0
	for _, id := range entityIDs {
		group := byEntity[id]
		if len(group) < opts.MinMessages {
			part.DroppedEntities++
			continue
		}
		if opts.MaxDatasetSize > 0 && selected >= opts.MaxDatasetSize {
			part.DroppedEntities++
			continue
		}
		selected += len(group)
		part.Entities++

		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})
		for i := range group {
			if i > 0 {
				group[i].SincePrevious = group[i].Timestamp.Sub(group[i-1].Timestamp)
				group[i].HasPrevious = true
			} else {
				group[i].SincePrevious = 0
				group[i].HasPrevious = false
			}
			switch {
			case i < opts.AutoMarkCount:
				part.Decisions[group[i].ID] = true
				part.AutoMarked++
			case group[i].FirstEver:
				part.Decisions[group[i].ID] = true
				part.Forced++
			}
		}
		part.Messages = append(part.Messages, group...)
	}

	byChannel := make(map[string]*ChannelSequence)
	var channelIDs []string
	for _, m := range part.Messages {
		ch, ok := byChannel[m.ChannelID]
		if !ok {
			ch = &ChannelSequence{ID: m.ChannelID}
			byChannel[m.ChannelID] = ch
			channelIDs = append(channelIDs, m.ChannelID)
		}
		ch.Messages = append(ch.Messages, m)
	}
	sort.Strings(channelIDs)

	for _, id := range channelIDs {
		ch := byChannel[id]
		sort.SliceStable(ch.Messages, func(i, j int) bool {
			return ch.Messages[i].Timestamp.Before(ch.Messages[j].Timestamp)
		})
		for i, m := range ch.Messages {
			if _, decided := part.Decisions[m.ID]; !decided {
				ch.Pending = append(ch.Pending, i)
			}
		}
		part.Channels = append(part.Channels, *ch)
	}
	return part
}
