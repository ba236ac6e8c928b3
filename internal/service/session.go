package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/campusops/attendance-server-go/internal/audit"
	apperrors "github.com/campusops/attendance-server-go/internal/errors"
	"github.com/campusops/attendance-server-go/internal/model"
	"github.com/campusops/attendance-server-go/internal/repository"
	"github.com/campusops/attendance-server-go/internal/token"
)

// PolicyProvider yields the policy snapshot currently in effect. The
// settings collaborator may swap values at any time; sessions capture the
// snapshot once, at teacher check-in.
type PolicyProvider interface {
	Current() model.PolicyConfig
}

// PolicyFunc adapts a plain function to PolicyProvider.
type PolicyFunc func() model.PolicyConfig

func (f PolicyFunc) Current() model.PolicyConfig { return f() }

// CheckInResult carries the freshly issued token so the caller can encode
// it into a QR image.
type CheckInResult struct {
	Session   *model.AttendanceSession `json:"session"`
	Token     string                   `json:"token"`
	ExpiresAt time.Time                `json:"expiresAt"`
}

// CheckOutResult reports the close plus how many absent records the
// auto-checkout resolution synthesized.
type CheckOutResult struct {
	Session         *model.AttendanceSession `json:"session"`
	AbsentCreated   int                      `json:"absentCreated"`
	RosterSize      int                      `json:"rosterSize"`
	RecordedAtClose int                      `json:"recordedAtClose"`
}

// SessionService drives the attendance session state machine
// (pending -> open -> closed). Transitions are guarded, never inferred; an
// out-of-order call is a caller bug rejected with INVALID_TRANSITION.
type SessionService struct {
	store  repository.SessionStore
	roster repository.RosterStore
	issuer token.Issuer
	policy PolicyProvider
}

func NewSessionService(
	store repository.SessionStore,
	roster repository.RosterStore,
	issuer token.Issuer,
	policy PolicyProvider,
) *SessionService {
	return &SessionService{
		store:  store,
		roster: roster,
		issuer: issuer,
		policy: policy,
	}
}

// CreateSession registers a pending session for a scheduled meeting. The
// schedule collaborator decides when the meeting's window approaches.
func (s *SessionService) CreateSession(ctx context.Context, meeting model.Meeting) (*model.AttendanceSession, error) {
	if err := validateMeeting(meeting); err != nil {
		return nil, err
	}

	now := time.Now()
	session := &model.AttendanceSession{
		ID:             uuid.NewString(),
		MeetingID:      meeting.MeetingID,
		ClassID:        meeting.ClassID,
		TeacherID:      meeting.TeacherID,
		ScheduledStart: meeting.ScheduledStart,
		ScheduledEnd:   meeting.ScheduledEnd,
		Status:         model.SessionStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionCreate,
		SessionID: session.ID,
		ClassID:   session.ClassID,
		TeacherID: session.TeacherID,
		Details:   map[string]interface{}{"meeting_id": session.MeetingID},
	})

	return session, nil
}

// TeacherCheckIn opens a pending session: captures the policy snapshot,
// issues the scannable token, and starts the validity clock.
func (s *SessionService) TeacherCheckIn(ctx context.Context, sessionID string, now time.Time) (*CheckInResult, error) {
	var result *CheckInResult

	err := s.withSessionCAS(ctx, sessionID, func(session *model.AttendanceSession) error {
		if session.Status != model.SessionStatusPending {
			return apperrors.InvalidTransition(string(session.Status), string(model.SessionStatusOpen))
		}

		policy := s.policy.Current()
		if err := policy.Validate(); err != nil {
			return apperrors.ValidationError(err.Error()).WithCause(err)
		}

		grant, err := s.issuer.Issue(now, policy.QRValidity())
		if err != nil {
			return apperrors.Internal("failed to issue token").WithCause(err)
		}

		checkin := now
		session.Status = model.SessionStatusOpen
		session.TeacherCheckinAt = &checkin
		session.Policy = policy
		session.CurrentToken = grant.Token
		session.TokenIssuedAt = &grant.IssuedAt
		session.TokenExpiresAt = &grant.ExpiresAt
		session.UpdatedAt = now

		result = &CheckInResult{
			Session:   session,
			Token:     grant.Token,
			ExpiresAt: grant.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventTeacherCheckin,
		SessionID: sessionID,
		ClassID:   result.Session.ClassID,
		TeacherID: result.Session.TeacherID,
		Details:   map[string]interface{}{"token_expires_at": result.ExpiresAt},
	})

	return result, nil
}

// TeacherCheckOut closes an open session and, when the captured policy asks
// for it, resolves every roster student without a record into absent. A
// student who never redeemed was never present, so only absent is ever
// synthesized, and no existing record is altered.
func (s *SessionService) TeacherCheckOut(ctx context.Context, sessionID string, now time.Time) (*CheckOutResult, error) {
	var closed *model.AttendanceSession

	err := s.withSessionCAS(ctx, sessionID, func(session *model.AttendanceSession) error {
		if session.Status != model.SessionStatusOpen {
			return apperrors.InvalidTransition(string(session.Status), string(model.SessionStatusClosed))
		}

		checkout := now
		session.Status = model.SessionStatusClosed
		session.TeacherCheckoutAt = &checkout
		session.CurrentToken = ""
		session.TokenIssuedAt = nil
		session.TokenExpiresAt = nil
		session.UpdatedAt = now

		closed = session
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &CheckOutResult{Session: closed}
	if closed.Policy.AutoCheckoutEnabled {
		// The close is already durable at this point; a failure here is
		// surfaced so staff can reconcile the missing absent records.
		if err := s.resolveAbsentees(ctx, closed, now, result); err != nil {
			return nil, fmt.Errorf("resolve absentees: %w", err)
		}
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventTeacherCheckout,
		SessionID: sessionID,
		ClassID:   closed.ClassID,
		TeacherID: closed.TeacherID,
		Details: map[string]interface{}{
			"absent_created": result.AbsentCreated,
			"roster_size":    result.RosterSize,
		},
	})

	return result, nil
}

func (s *SessionService) resolveAbsentees(ctx context.Context, session *model.AttendanceSession, now time.Time, result *CheckOutResult) error {
	students, err := s.roster.RosterFor(ctx, session.ClassID)
	if err != nil {
		return fmt.Errorf("roster for class %s: %w", session.ClassID, err)
	}
	result.RosterSize = len(students)

	records, err := s.store.ListRecords(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	result.RecordedAtClose = len(records)

	recorded := make(map[string]bool, len(records))
	for _, rec := range records {
		recorded[rec.StudentID] = true
	}

	for _, studentID := range students {
		if recorded[studentID] {
			continue
		}
		created, _, err := s.store.CreateRecordIfAbsent(ctx, &model.RedemptionRecord{
			SessionID: session.ID,
			StudentID: studentID,
			Status:    model.AttendanceAbsent,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("synthesize absent for %s: %w", studentID, err)
		}
		if created {
			result.AbsentCreated++
		}
	}

	log.Info().
		Str("sessionId", session.ID).
		Int("rosterSize", result.RosterSize).
		Int("absentCreated", result.AbsentCreated).
		Msg("auto-checkout resolution complete")

	return nil
}

// GetSession returns the session or a SESSION_NOT_FOUND error.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*model.AttendanceSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.SessionNotFound(sessionID)
	}
	return session, nil
}

// Summary reports the session status and counts by outcome.
func (s *SessionService) Summary(ctx context.Context, sessionID string) (*model.SessionSummary, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	records, err := s.store.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	summary := &model.SessionSummary{
		SessionID: session.ID,
		Status:    session.Status,
	}
	for _, rec := range records {
		switch rec.Status {
		case model.AttendancePresent:
			summary.Present++
		case model.AttendanceLate:
			summary.Late++
		case model.AttendanceAbsent:
			summary.Absent++
		case model.AttendanceExcused:
			summary.Excused++
		}
	}
	return summary, nil
}

// Records lists a session's redemption records for the report screens.
func (s *SessionService) Records(ctx context.Context, sessionID string) ([]model.RedemptionRecord, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	records, err := s.store.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return records, nil
}

// Override is the staff correction path: set a status (including excused)
// and attach a note. It bypasses the redemption engine on purpose and is
// never called by it.
func (s *SessionService) Override(ctx context.Context, sessionID, studentID string, status model.AttendanceStatus, notes string, now time.Time) (*model.RedemptionRecord, error) {
	if !status.Valid() {
		return nil, apperrors.InvalidInput("status", fmt.Sprintf("unknown status %q", status))
	}
	if studentID == "" {
		return nil, apperrors.MissingRequired("studentId")
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	record, err := s.store.OverrideRecord(ctx, sessionID, studentID, status, notes, now)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventRecordOverride,
		SessionID: sessionID,
		StudentID: studentID,
		Details:   map[string]interface{}{"status": string(status)},
	})

	return record, nil
}

// withSessionCAS loads the session, applies mutate, and commits with
// compare-and-swap. A benign version conflict is retried exactly once by
// re-reading; the transition guards re-run against the fresh state.
func (s *SessionService) withSessionCAS(ctx context.Context, sessionID string, mutate func(*model.AttendanceSession) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		session, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return apperrors.Database(err)
		}
		if session == nil {
			return apperrors.SessionNotFound(sessionID)
		}

		expectedVersion := session.Version
		if err := mutate(session); err != nil {
			return err
		}

		err = s.store.PutSessionCAS(ctx, session, expectedVersion)
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrVersionConflict) && attempt == 0 {
			log.Debug().Str("sessionId", sessionID).Msg("session CAS conflict, retrying once")
			continue
		}
		return apperrors.Database(err)
	}
	return apperrors.Database(repository.ErrVersionConflict)
}

func validateMeeting(meeting model.Meeting) error {
	if meeting.MeetingID == "" {
		return apperrors.MissingRequired("meetingId")
	}
	if meeting.ClassID == "" {
		return apperrors.MissingRequired("classId")
	}
	if meeting.TeacherID == "" {
		return apperrors.MissingRequired("teacherId")
	}
	if meeting.ScheduledStart.IsZero() || meeting.ScheduledEnd.IsZero() {
		return apperrors.MissingRequired("scheduledStart/scheduledEnd")
	}
	if !meeting.ScheduledEnd.After(meeting.ScheduledStart) {
		return apperrors.InvalidInput("scheduledEnd", "must be after scheduledStart")
	}
	return nil
}
