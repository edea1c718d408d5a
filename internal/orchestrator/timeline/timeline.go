// Package timeline builds a meeting's conversation timeline from persisted
// history, the batch result, and in-memory turns.
package timeline

import (
	"strings"
	"time"

	"github.com/GriffinCanCode/talktotext/internal/api"
	"github.com/GriffinCanCode/talktotext/internal/meeting"
)

// SummaryIntro prefixes the synthesized summary turn.
const SummaryIntro = "I've processed your meeting. Here's a summary:\n\n"

// ChatFallback replaces a reply that could not be obtained.
const ChatFallback = "Sorry, I encountered an error. Please try again."

// Format renders a result as plain text. Empty sections are omitted.
func Format(r *meeting.Result) string {
	if r == nil {
		return ""
	}
	var b strings.Builder

	if r.Summary != "" {
		b.WriteString("SUMMARY:\n" + r.Summary + "\n\n")
	}
	writeList(&b, "KEY POINTS:", r.KeyPoints)
	writeList(&b, "DECISIONS:", r.Decisions)

	if len(r.ActionItems) > 0 {
		b.WriteString("ACTION ITEMS:\n")
		for _, item := range r.ActionItems {
			b.WriteString("• " + formatActionItem(item) + "\n")
		}
		b.WriteString("\n")
	}
	if r.Sentiment != "" {
		b.WriteString("SENTIMENT: " + r.Sentiment + "\n")
	}
	return strings.TrimSpace(b.String())
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(heading + "\n")
	for _, it := range items {
		b.WriteString("• " + it + "\n")
	}
	b.WriteString("\n")
}

func formatActionItem(a meeting.ActionItem) string {
	if !a.Structured() {
		return a.Text
	}
	due := a.Due
	if due == "" {
		due = "No due date"
	}
	return a.Owner + ": " + a.Task + " (Due: " + due + ")"
}

// Synthesize returns the display-only summary turn for a result, or false
// when the result has no summary.
func Synthesize(r *meeting.Result, now time.Time) (meeting.Turn, bool) {
	if r == nil || r.Summary == "" {
		return meeting.Turn{}, false
	}
	return meeting.Turn{
		ID:        meeting.NewTurnID(),
		Role:      meeting.RoleAssistant,
		Content:   SummaryIntro + Format(r),
		Timestamp: now,
		Synthetic: true,
	}, true
}

// FromHistory expands persisted exchanges into user and assistant turns.
func FromHistory(history []api.Exchange) []meeting.Turn {
	turns := make([]meeting.Turn, 0, 2*len(history))
	for _, ex := range history {
		user := meeting.Turn{
			ID:        meeting.NewTurnID(),
			Role:      meeting.RoleUser,
			Content:   ex.Message,
			Timestamp: ex.Timestamp.Time,
			ChatID:    ex.ChatID,
		}
		turns = append(turns, user, meeting.Turn{
			ID:        meeting.NewTurnID(),
			Role:      meeting.RoleAssistant,
			Content:   ex.Response,
			Timestamp: ex.Timestamp.Time,
			ChatID:    ex.ChatID,
			ReplyTo:   user.ID,
		})
	}
	return turns
}

type turnKey struct {
	chatID  string
	role    meeting.Role
	content string
	ts      int64
}

// keyOf identifies a saved turn by its exchange and role, and an unsaved one
// by role, content and timestamp.
func keyOf(t meeting.Turn) turnKey {
	if t.ChatID != "" {
		return turnKey{chatID: t.ChatID, role: t.Role}
	}
	return turnKey{role: t.Role, content: t.Content, ts: t.Timestamp.UnixNano()}
}

// Fuse places history ahead of current, preserving both orders. History is
// kept whole; a current turn is dropped when history already holds it, by
// exchange for saved turns or by role, content and timestamp otherwise.
func Fuse(history, current []meeting.Turn) []meeting.Turn {
	out := make([]meeting.Turn, 0, len(history)+len(current))
	out = append(out, history...)
	seen := make(map[turnKey]struct{}, 2*len(history))
	for _, t := range history {
		seen[keyOf(t)] = struct{}{}
		unsaved := t
		unsaved.ChatID = ""
		seen[keyOf(unsaved)] = struct{}{}
	}
	for _, t := range current {
		if _, dup := seen[keyOf(t)]; dup {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Open computes the timeline shown when a meeting is opened. The summary
// turn is synthesized only when there is no history and no current turn.
func Open(history []api.Exchange, result *meeting.Result, current []meeting.Turn, now time.Time) []meeting.Turn {
	turns := FromHistory(history)
	if len(turns) == 0 && len(current) == 0 {
		if t, ok := Synthesize(result, now); ok {
			return []meeting.Turn{t}
		}
	}
	return Fuse(turns, current)
}
