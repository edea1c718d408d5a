// Package transcript accumulates the incremental state of a live session:
// transcript text, the latest insights, and the server-assigned run ID.
package transcript

import (
	"strings"
	"sync"

	"github.com/GriffinCanCode/talktotext/internal/api"
	"github.com/GriffinCanCode/talktotext/internal/meeting"
)

// Insights is the latest analysis pushed by the stream.
type Insights struct {
	KeyPoints   []string             `json:"key_points,omitempty"`
	ActionItems []meeting.ActionItem `json:"action_items,omitempty"`
	Sentiment   string               `json:"sentiment,omitempty"`
}

func (i Insights) clone() Insights {
	i.KeyPoints = append([]string(nil), i.KeyPoints...)
	i.ActionItems = append([]meeting.ActionItem(nil), i.ActionItems...)
	return i
}

// Snapshot is an immutable copy of the store.
type Snapshot struct {
	RunID      string   `json:"run_id,omitempty"`
	Transcript string   `json:"transcript"`
	Insights   Insights `json:"insights"`
}

// Store holds live session state. Transcript text only grows; insights
// are replaced field by field as fragments carry them; the first run ID
// seen is kept for the life of the store.
type Store struct {
	mu       sync.RWMutex
	text     strings.Builder
	insights Insights
	runID    string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Apply folds a fragment into the store and returns the transcript text it
// appended, if any.
func (s *Store) Apply(f api.Fragment) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var appended string
	if f.Transcript != nil {
		appended = *f.Transcript
		s.text.WriteString(appended)
		s.text.WriteByte(' ')
	}
	if f.KeyPoints != nil {
		s.insights.KeyPoints = append([]string(nil), f.KeyPoints...)
	}
	if f.ActionItems != nil {
		s.insights.ActionItems = append([]meeting.ActionItem(nil), f.ActionItems...)
	}
	if f.Sentiment != nil {
		s.insights.Sentiment = *f.Sentiment
	}
	if s.runID == "" && f.RunID != "" {
		s.runID = f.RunID
	}
	return appended
}

// RunID returns the adopted run ID.
func (s *Store) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		RunID:      s.runID,
		Transcript: s.text.String(),
		Insights:   s.insights.clone(),
	}
}
