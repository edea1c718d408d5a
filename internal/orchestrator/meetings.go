package orchestrator

import (
	"context"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/talktotext/internal/api"
	"github.com/GriffinCanCode/talktotext/internal/auth"
	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
	"github.com/GriffinCanCode/talktotext/internal/meeting"
	"github.com/GriffinCanCode/talktotext/internal/orchestrator/timeline"
	"github.com/GriffinCanCode/talktotext/internal/trace"
)

// OpenMeeting selects runID and loads its timeline. History and the batch
// result are fetched concurrently; a load overtaken by a later open is
// discarded.
func (m *Manager) OpenMeeting(ctx context.Context, runID string) error {
	ctx, span := trace.StartSpan(ctx, "open_meeting")
	defer span.End()
	span.SetAttr("run_id", runID)
	log := trace.Logger(ctx).With("run_id", runID)

	if runID == "" {
		return apperrors.New(apperrors.InvalidArgument, "no meeting given")
	}
	if _, err := auth.Require(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.openSeq++
	seq := m.openSeq
	m.state.Selected = runID
	m.state.Timeline = nil
	m.publishLocked()
	m.mu.Unlock()

	var (
		history []api.Exchange
		result  *meeting.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := m.backend.Conversations(gctx, runID)
		if apperrors.IsCode(err, apperrors.NotFound) {
			return nil
		}
		history = h
		return err
	})
	g.Go(func() error {
		st, err := m.backend.Status(gctx, runID)
		if err != nil {
			// live meetings have no batch job
			log.Debug("no batch result", "error", err)
			return nil
		}
		if st.Done() {
			result = st.Result
		}
		return nil
	})
	err := g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != m.openSeq {
		log.Debug("discarding stale meeting load", "seq", seq)
		return nil
	}
	if err != nil {
		span.SetAttr("error", err.Error())
		m.noticeLocked(err, false)
		m.publishLocked()
		return err
	}
	m.state.Timeline = timeline.Open(history, result, m.state.Timeline, m.opts.Now())
	span.SetAttr("turns", len(m.state.Timeline))
	m.publishLocked()
	return nil
}

// SendChat asks about the open meeting. The user turn is added at once and
// kept whatever happens; the reply, or a fallback on failure, follows it.
func (m *Manager) SendChat(ctx context.Context, message string) (meeting.Turn, error) {
	ctx, span := trace.StartSpan(ctx, "send_chat")
	defer span.End()
	span.SetAttr("message_len", len(message))

	message = strings.TrimSpace(message)
	if message == "" {
		return meeting.Turn{}, apperrors.New(apperrors.InvalidArgument, "message is empty")
	}
	if _, err := auth.Require(ctx); err != nil {
		return meeting.Turn{}, err
	}

	m.mu.Lock()
	runID := m.state.Selected
	if runID == "" {
		m.mu.Unlock()
		return meeting.Turn{}, apperrors.New(apperrors.InvalidArgument, "no meeting selected")
	}
	user := meeting.Turn{
		ID:        meeting.NewTurnID(),
		Role:      meeting.RoleUser,
		Content:   message,
		Timestamp: m.opts.Now(),
	}
	m.state.Timeline = append(m.state.Timeline, user)
	m.publishLocked()
	m.mu.Unlock()
	span.SetAttr("run_id", runID)

	reply, err := m.backend.Chat(ctx, runID, message)

	m.mu.Lock()
	defer m.mu.Unlock()
	turn := meeting.Turn{
		ID:        meeting.NewTurnID(),
		Role:      meeting.RoleAssistant,
		Timestamp: m.opts.Now(),
		ReplyTo:   user.ID,
	}
	if err != nil {
		span.SetAttr("error", err.Error())
		trace.Logger(ctx).Warn("chat failed", "run_id", runID, "error", err)
		turn.Content = timeline.ChatFallback
		m.noticeLocked(err, false)
	} else {
		turn.Content = reply.Response
		turn.ChatID = reply.ChatID
		if !reply.Timestamp.IsZero() {
			turn.Timestamp = reply.Timestamp.Time
		}
	}

	if m.state.Selected == runID {
		for i := range m.state.Timeline {
			if m.state.Timeline[i].ID == user.ID {
				m.state.Timeline[i].ChatID = turn.ChatID
			}
		}
		m.state.Timeline = append(m.state.Timeline, turn)
	}
	m.publishLocked()
	return turn, err
}

// RefreshMeetings reloads the meeting list.
func (m *Manager) RefreshMeetings(ctx context.Context) ([]meeting.Meeting, error) {
	ctx, span := trace.StartSpan(ctx, "refresh_meetings")
	defer span.End()

	list, err := m.backend.Meetings(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		span.SetAttr("error", err.Error())
		m.noticeLocked(err, apperrors.IsCode(err, apperrors.AuthRequired))
		m.publishLocked()
		return nil, err
	}
	span.SetAttr("count", len(list))
	m.state.Meetings = list
	m.publishLocked()
	return append([]meeting.Meeting(nil), list...), nil
}

// RenameMeeting changes a meeting's display name.
func (m *Manager) RenameMeeting(ctx context.Context, runID, name string) error {
	ctx, span := trace.StartSpan(ctx, "rename_meeting")
	defer span.End()
	span.SetAttr("run_id", runID)

	if err := m.backend.RenameMeeting(ctx, runID, strings.TrimSpace(name)); err != nil {
		m.record(err)
		return err
	}
	_, err := m.RefreshMeetings(ctx)
	return err
}

// DeleteMeeting removes a meeting, closing it first if it is open.
func (m *Manager) DeleteMeeting(ctx context.Context, runID string) error {
	ctx, span := trace.StartSpan(ctx, "delete_meeting")
	defer span.End()
	span.SetAttr("run_id", runID)

	if err := m.backend.DeleteMeeting(ctx, runID); err != nil {
		m.record(err)
		return err
	}

	m.mu.Lock()
	if m.state.Selected == runID {
		m.openSeq++
		m.state.Selected = ""
		m.state.Timeline = nil
	}
	kept := m.state.Meetings[:0:0]
	for _, mt := range m.state.Meetings {
		if mt.RunID != runID {
			kept = append(kept, mt)
		}
	}
	m.state.Meetings = kept
	m.publishLocked()
	m.mu.Unlock()

	_, err := m.RefreshMeetings(ctx)
	return err
}

// DeleteTurn deletes the saved exchange a turn belongs to and reloads the
// open meeting.
func (m *Manager) DeleteTurn(ctx context.Context, turnID string) error {
	ctx, span := trace.StartSpan(ctx, "delete_turn")
	defer span.End()

	runID, ex, _, err := m.exchangeOf(turnID)
	if err != nil {
		return err
	}
	if err := m.backend.DeleteExchange(ctx, runID, ex.ChatID); err != nil {
		m.record(err)
		return err
	}
	return m.OpenMeeting(ctx, runID)
}

// EditTurn rewrites one side of a saved exchange and reloads the open
// meeting.
func (m *Manager) EditTurn(ctx context.Context, turnID, content string) error {
	ctx, span := trace.StartSpan(ctx, "edit_turn")
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" {
		return apperrors.New(apperrors.InvalidArgument, "content is empty")
	}
	runID, ex, role, err := m.exchangeOf(turnID)
	if err != nil {
		return err
	}
	if role == meeting.RoleUser {
		ex.Message = content
	} else {
		ex.Response = content
	}
	if err := m.backend.EditExchange(ctx, runID, ex.ChatID, ex.Message, ex.Response); err != nil {
		m.record(err)
		return err
	}
	return m.OpenMeeting(ctx, runID)
}

// DeleteAllTurns clears the open meeting's saved conversation.
func (m *Manager) DeleteAllTurns(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "delete_all_turns")
	defer span.End()

	runID := m.Snapshot().Selected
	if runID == "" {
		return apperrors.New(apperrors.InvalidArgument, "no meeting selected")
	}
	if err := m.backend.DeleteConversations(ctx, runID); err != nil {
		m.record(err)
		return err
	}
	return m.OpenMeeting(ctx, runID)
}

// Download writes a meeting's conversation export to w. An empty runID
// means the open meeting.
func (m *Manager) Download(ctx context.Context, runID, format string, w io.Writer) (int64, error) {
	ctx, span := trace.StartSpan(ctx, "download")
	defer span.End()
	span.SetAttr("format", format)

	if runID == "" {
		runID = m.Snapshot().Selected
	}
	if runID == "" {
		return 0, apperrors.New(apperrors.InvalidArgument, "no meeting selected")
	}
	n, err := m.backend.Download(ctx, runID, format, w)
	if err != nil {
		m.record(err)
	}
	span.SetAttr("bytes", n)
	return n, err
}

// exchangeOf rebuilds the saved exchange containing turnID from the
// timeline of the open meeting.
func (m *Manager) exchangeOf(turnID string) (string, api.Exchange, meeting.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var target *meeting.Turn
	for i := range m.state.Timeline {
		if m.state.Timeline[i].ID == turnID {
			target = &m.state.Timeline[i]
			break
		}
	}
	if target == nil {
		return "", api.Exchange{}, "", apperrors.New(apperrors.NotFound, "no such turn").WithMetadata("turn", turnID)
	}
	if target.ChatID == "" {
		return "", api.Exchange{}, "", apperrors.New(apperrors.InvalidArgument, "turn is not saved").WithMetadata("turn", turnID)
	}

	ex := api.Exchange{ChatID: target.ChatID}
	for _, t := range m.state.Timeline {
		if t.ChatID != target.ChatID {
			continue
		}
		switch t.Role {
		case meeting.RoleUser:
			ex.Message = t.Content
		case meeting.RoleAssistant:
			ex.Response = t.Content
		}
	}
	return m.state.Selected, ex, target.Role, nil
}

func (m *Manager) record(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noticeLocked(err, apperrors.IsCode(err, apperrors.AuthRequired))
	m.publishLocked()
}
