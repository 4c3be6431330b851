package llm

import (
	"fmt"
	"strings"

	"sessionsplit/internal/domain"
	"sessionsplit/internal/segment"
)

const maxMessageChars = 1000

const baseSystemPrompt = `You analyse customer support chat transcripts between a customer, an automated assistant and human agents. Your job is to identify session boundaries.

A session is a coherent conversational unit addressing one primary task or intent. A new session starts when there is a significant shift in the customer's core intention or topic that cannot reasonably be connected to the prior context.

Key principles:
1. Related topics within the same domain belong to the same session.
2. Questions, clarifications or follow-ups on recent topics are the same session. Only start new sessions for genuinely distinct intents.
3. Time gaps between messages alone are NOT sufficient; content and intent continuity are key.
4. Agent messages are context, but focus on the customer's intent.
5. Unsolicited automated outreach (notifications, check-ins, approvals) starts a new session.

Messages are shown as:
[time_since_last_message] role (channel): text

- time_since_last_message: +Xs (seconds), +Xm (minutes), +Xh (hours), +Xd (days), FIRST for the customer's first message
- [START] marks the very first message a customer ever sent.
- [SESSION_START] marks a message already classified as a session start.
- role is one of: customer, automated-agent, human-agent`

const batchInstructions = `

You will receive a numbered window of consecutive messages from one channel. Return the 0-based numbers of every message that starts a new session.

Respond with JSON only (no markdown):
{"session_starts": [0, 7]}`

const singleInstructions = `

Respond with 0 if the current message continues the existing session, or 1 if it starts a new session.`

func truncateText(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func formatMessage(m domain.Message, sessionStart bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", domain.FormatGap(m.SincePrevious, m.HasPrevious))
	if m.FirstEver {
		b.WriteString("[START] ")
	}
	if sessionStart {
		b.WriteString("[SESSION_START] ")
	}
	b.WriteString(m.Role.String())
	if ct := strings.TrimSpace(m.ChannelType); ct != "" {
		fmt.Fprintf(&b, " (%s)", ct)
	}
	b.WriteString(": ")
	b.WriteString(truncateText(m.Text, maxMessageChars))
	return b.String()
}

func formatExamples(examples []Example) string {
	if len(examples) == 0 {
		return "none\n"
	}
	var b strings.Builder
	for i, ex := range examples {
		title := ex.Title
		if title == "" {
			title = "Example"
		}
		fmt.Fprintf(&b, "EXAMPLE %d - %s:\n%s", i+1, title, ex.Transcript)
		if ex.Verdict != "" {
			fmt.Fprintf(&b, " <-- %s", ex.Verdict)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func buildBatchPrompts(w segment.Window, examples []Example) (string, string) {
	var lines strings.Builder
	for i, m := range w.Messages {
		fmt.Fprintf(&lines, "[%d] %s\n", i, formatMessage(m, false))
	}

	user := "Examples of session boundaries:\n\n" + formatExamples(examples) +
		"----------------------------------------\n" +
		fmt.Sprintf("Classify these %d messages from channel %s:\n\n", len(w.Messages), w.ChannelID) +
		lines.String()
	return baseSystemPrompt + batchInstructions, user
}

func buildSinglePrompts(cw segment.ContextWindow, examples []Example) (string, string) {
	var trail strings.Builder
	for _, m := range cw.Messages[:len(cw.Messages)-1] {
		trail.WriteString(formatMessage(m, cw.Boundaries[m.ID]))
		trail.WriteString("\n")
	}

	user := "Examples of session boundaries:\n\n" + formatExamples(examples) +
		"----------------------------------------\n" +
		"Now analyse this conversation:\n" + trail.String() +
		"----------------------------------------\n" +
		"Current message to classify:\n" + formatMessage(cw.Current(), false) + "\n" +
		"----------------------------------------\n\n" +
		`Is the current message the start of a new session? Consider:
1. What was the previous topic or intent?
2. What is the current message about?
3. Are there [SESSION_START] markers showing existing boundaries?
4. Can it reasonably be connected to the prior context?

Respond with ONLY "1" for a new session or "0" for a continuation.`
	return baseSystemPrompt + singleInstructions, user
}
