package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/GriffinCanCode/talktotext/internal/meeting"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) Uploading(filename string) {
	fmt.Fprintf(f.w, "📤 Uploading %s...\n", filename)
}

func (f *Formatter) Submitted(runID string) {
	fmt.Fprintf(f.w, "🧾 Submitted as %s\n", runID)
}

func (f *Formatter) Processing(status string) {
	if status == "" {
		status = "waiting"
	}
	fmt.Fprintf(f.w, "⏳ Processing (%s)...\n", status)
}

func (f *Formatter) LiveStarted(sessionID string) {
	fmt.Fprintf(f.w, "🔴 Live transcription started (%s). Press Ctrl+C to stop.\n", sessionID)
}

func (f *Formatter) Reconnecting(attempt, max int) {
	fmt.Fprintf(f.w, "🔄 Connection lost, reconnecting (%d/%d)...\n", attempt, max)
}

func (f *Formatter) LiveStopped(runID string, duration time.Duration) {
	if runID == "" {
		fmt.Fprintf(f.w, "⏹️  Live transcription stopped (%s)\n", formatDuration(duration))
		return
	}
	fmt.Fprintf(f.w, "⏹️  Live transcription stopped (%s), meeting %s\n", formatDuration(duration), runID)
}

func (f *Formatter) Transcript(text string) {
	fmt.Fprintf(f.w, "%s\n", strings.TrimSpace(text))
}

func (f *Formatter) Result(text string) {
	fmt.Fprintf(f.w, "\n%s\n\n", text)
}

func (f *Formatter) Saved(path string, bytes int64) {
	fmt.Fprintf(f.w, "✅ Saved %s (%d bytes)\n", path, bytes)
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) MeetingListHeader() {
	fmt.Fprintf(f.w, "📁 Meetings:\n\n")
}

func (f *Formatter) MeetingListItem(m meeting.Meeting) {
	name := m.Filename
	if name == "" {
		name = "(untitled)"
	}
	created := ""
	if !m.CreatedAt.IsZero() {
		created = "  " + m.CreatedAt.Local().Format("2006-01-02 15:04")
	}
	fmt.Fprintf(f.w, "  %s  %s%s\n", m.RunID, name, created)
}

// Turn prints one timeline entry prefixed by its 1-based position, which
// the history commands accept to pick a turn.
func (f *Formatter) Turn(n int, t meeting.Turn) {
	icon := "🧑"
	if t.Role == meeting.RoleAssistant {
		icon = "🤖"
	}
	fmt.Fprintf(f.w, "%s [%d] %s\n", icon, n, indent(t.Content))
}

func indent(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n   ")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
