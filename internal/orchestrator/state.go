package orchestrator

import (
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
	"github.com/GriffinCanCode/talktotext/internal/meeting"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator/batch"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator/live"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator/transcript"
)

// SessionKind tags the active session variant.
type SessionKind string

const (
	KindBatch SessionKind = "batch"
	KindLive  SessionKind = "live"
)

// Session is the active session: a BatchSession or a LiveSession.
type Session interface {
	Kind() SessionKind
}

// BatchSession tracks an uploaded file until its analysis is ready.
type BatchSession struct {
	ID     string          `json:"id"`
	RunID  string          `json:"run_id,omitempty"`
	Phase  batch.Phase     `json:"phase"`
	Status string          `json:"status,omitempty"`
	Result *meeting.Result `json:"result,omitempty"`
	Err    error           `json:"-"`
}

// Kind implements Session.
func (BatchSession) Kind() SessionKind { return KindBatch }

// MarshalJSON adds the variant tag and the error text.
func (b BatchSession) MarshalJSON() ([]byte, error) {
	type plain BatchSession
	return json.Marshal(struct {
		Kind SessionKind `json:"kind"`
		plain
		Error string `json:"error,omitempty"`
	}{KindBatch, plain(b), errText(b.Err)})
}

// LiveSession mirrors a live capture session.
type LiveSession struct {
	ID         string              `json:"id"`
	RunID      string              `json:"run_id,omitempty"`
	State      live.State          `json:"state"`
	Transcript string              `json:"transcript"`
	Insights   transcript.Insights `json:"insights"`
	Attempts   int                 `json:"attempts"`
	Err        error               `json:"-"`
}

// Kind implements Session.
func (LiveSession) Kind() SessionKind { return KindLive }

// MarshalJSON adds the variant tag and the error text.
func (l LiveSession) MarshalJSON() ([]byte, error) {
	type plain LiveSession
	return json.Marshal(struct {
		Kind SessionKind `json:"kind"`
		plain
		Error string `json:"error,omitempty"`
	}{KindLive, plain(l), errText(l.Err)})
}

func liveFromStatus(st live.Status) LiveSession {
	return LiveSession{
		ID:         st.ID,
		RunID:      st.RunID,
		State:      st.State,
		Transcript: st.Transcript,
		Insights:   st.Insights,
		Attempts:   st.Attempts,
		Err:        st.Err,
	}
}

// Notice is a surfaced failure.
type Notice struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	Fatal   bool      `json:"fatal"`
	At      time.Time `json:"at"`
}

func noticeOf(err error, fatal bool, at time.Time) Notice {
	msg := err.Error()
	var ae *apperrors.AppError
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	return Notice{Kind: apperrors.CodeOf(err).String(), Message: msg, Fatal: fatal, At: at}
}

// Snapshot is the read model. Values returned by Manager.Snapshot are
// never mutated afterwards.
type Snapshot struct {
	Meetings []meeting.Meeting `json:"meetings"`
	Selected string            `json:"selected,omitempty"`
	Timeline []meeting.Turn    `json:"timeline"`
	Session  Session           `json:"session,omitempty"`
	Notices  []Notice          `json:"notices"`
	Version  uint64            `json:"version"`
}

func (s Snapshot) clone() Snapshot {
	s.Meetings = append([]meeting.Meeting{}, s.Meetings...)
	s.Timeline = append([]meeting.Turn{}, s.Timeline...)
	s.Notices = append([]Notice{}, s.Notices...)
	switch v := s.Session.(type) {
	case BatchSession:
		if v.Result != nil {
			r := v.Result.Clone()
			v.Result = &r
		}
		s.Session = v
	case LiveSession:
		v.Insights.KeyPoints = append([]string(nil), v.Insights.KeyPoints...)
		v.Insights.ActionItems = append([]meeting.ActionItem(nil), v.Insights.ActionItems...)
		s.Session = v
	}
	return s
}

// Meeting returns the meeting with runID from the list, if present.
func (s Snapshot) Meeting(runID string) (meeting.Meeting, bool) {
	for _, m := range s.Meetings {
		if m.RunID == runID {
			return m, true
		}
	}
	return meeting.Meeting{}, false
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
