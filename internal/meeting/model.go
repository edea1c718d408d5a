// Package meeting holds the domain types shared by the orchestrator layers.
package meeting

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Meeting is a server-assigned meeting record.
type Meeting struct {
	RunID     string    `json:"run_id"`
	Filename  string    `json:"filename"`
	CreatedAt Time   `json:"created_at"`
}

// Time decodes the timestamp layouts the backend emits, with or without a zone.
// Zone-less values are read as UTC.
type Time struct{ time.Time }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime parses s with the first matching backend layout.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// UnmarshalJSON accepts null, empty, and any backend layout. Unknown layouts
// decode to the zero time rather than failing the whole payload.
func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, _ := ParseTime(s)
	*t = Time{parsed}
	return nil
}

// MarshalJSON writes RFC 3339, or null for the zero time.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// ActionItem is either plain text or a structured task.
type ActionItem struct {
	Text  string
	Task  string
	Owner string
	Due   string
}

// Structured reports whether the item came in the object form.
func (a ActionItem) Structured() bool {
	return a.Text == "" && (a.Task != "" || a.Owner != "" || a.Due != "")
}

type actionItemObject struct {
	Task  string `json:"task"`
	Owner string `json:"owner"`
	Due   string `json:"due,omitempty"`
}

// UnmarshalJSON accepts both "text" and {"task","owner","due"}.
func (a *ActionItem) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = ActionItem{Text: s}
		return nil
	}
	var obj actionItemObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*a = ActionItem{Task: obj.Task, Owner: obj.Owner, Due: obj.Due}
	return nil
}

// MarshalJSON writes the item back in the shape it was read in.
func (a ActionItem) MarshalJSON() ([]byte, error) {
	if a.Structured() {
		return json.Marshal(actionItemObject{Task: a.Task, Owner: a.Owner, Due: a.Due})
	}
	return json.Marshal(a.Text)
}

// Result is the analysis produced for a meeting.
type Result struct {
	Summary     string       `json:"summary,omitempty"`
	KeyPoints   []string     `json:"key_points,omitempty"`
	Decisions   []string     `json:"decisions,omitempty"`
	ActionItems []ActionItem `json:"action_items,omitempty"`
	Sentiment   string       `json:"sentiment,omitempty"`
}

// Clone returns a deep copy.
func (r Result) Clone() Result {
	r.KeyPoints = append([]string(nil), r.KeyPoints...)
	r.Decisions = append([]string(nil), r.Decisions...)
	r.ActionItems = append([]ActionItem(nil), r.ActionItems...)
	return r
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a meeting's conversation timeline.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// ChatID is the backend identifier of the persisted exchange, if any.
	ChatID string `json:"chat_id,omitempty"`
	// ReplyTo links an assistant reply to the user turn that asked for it.
	ReplyTo string `json:"reply_to,omitempty"`
	// Synthetic turns are display-only and never persisted.
	Synthetic bool `json:"synthetic,omitempty"`
}

// NewTurnID returns a client-side turn identifier.
func NewTurnID() string { return uuid.NewString() }

// Languages lists the transcription languages the backend accepts.
var Languages = []string{"en", "ur", "es", "ro", "fr", "de", "it", "pt", "ru", "zh", "ja", "ko", "ar", "hi"}

// ValidLanguage reports whether code is a supported language.
func ValidLanguage(code string) bool {
	for _, l := range Languages {
		if l == code {
			return true
		}
	}
	return false
}
