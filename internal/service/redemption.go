package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/campusops/attendance-server-go/internal/audit"
	apperrors "github.com/campusops/attendance-server-go/internal/errors"
	"github.com/campusops/attendance-server-go/internal/model"
	"github.com/campusops/attendance-server-go/internal/repository"
	"github.com/campusops/attendance-server-go/internal/token"
	"github.com/campusops/attendance-server-go/internal/util"
)

// RedemptionService is the single authoritative decision point for what
// happens when a student presents a token. Every rejection is a normal
// outcome reported to the caller; only store failures are errors.
type RedemptionService struct {
	store  repository.SessionStore
	issuer token.Issuer
	policy PolicyProvider
}

func NewRedemptionService(store repository.SessionStore, issuer token.Issuer, policy PolicyProvider) *RedemptionService {
	return &RedemptionService{
		store:  store,
		issuer: issuer,
		policy: policy,
	}
}

// Redeem resolves one student's scan into an attendance outcome. The checks
// run in a fixed short-circuit order: session lookup, teacher gating,
// closed-session, token verification, idempotent re-read, classification,
// atomic record creation. No lock is held across classification and the
// write; the create-if-absent write is the arbiter and a racing loser gets
// the winner's committed outcome.
func (s *RedemptionService) Redeem(ctx context.Context, sessionID, studentID, presented string, now time.Time) (*model.RedemptionOutcome, error) {
	if studentID == "" {
		return nil, apperrors.MissingRequired("studentId")
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return s.reject(ctx, sessionID, studentID, model.RejectSessionNotFound), nil
	}

	if session.Status != model.SessionStatusOpen {
		// Before check-in there is no captured snapshot, so gating reads
		// the live policy; afterwards the session's own snapshot rules.
		policy := session.Policy
		if session.TeacherCheckinAt == nil {
			policy = s.policy.Current()
		}
		if policy.TeacherRequiredForStudents && session.TeacherCheckinAt == nil {
			return s.reject(ctx, sessionID, studentID, model.RejectTeacherNotCheckedIn), nil
		}
		if session.Status == model.SessionStatusClosed {
			return s.reject(ctx, sessionID, studentID, model.RejectSessionClosed), nil
		}
	}

	switch s.issuer.Verify(session, presented, now) {
	case token.VerifyMismatch:
		return s.reject(ctx, sessionID, studentID, model.RejectInvalidToken), nil
	case token.VerifyExpired:
		return s.reject(ctx, sessionID, studentID, model.RejectTokenExpired), nil
	}

	// Duplicate scans and network retries land here: the committed record
	// is final, regardless of when the second scan happens.
	existing, err := s.store.GetRecord(ctx, sessionID, studentID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing != nil {
		return model.OutcomeFromRecord(existing), nil
	}

	status := classify(session, now)
	checkin := now
	record := &model.RedemptionRecord{
		SessionID: sessionID,
		StudentID: studentID,
		Status:    status,
		CheckinAt: &checkin,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, committed, err := s.store.CreateRecordIfAbsent(ctx, record)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !created {
		// Lost a concurrent race for the same student; the winner's
		// outcome is the outcome.
		return model.OutcomeFromRecord(committed), nil
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("studentId", studentID).
		Str("status", string(status)).
		Str("token", util.MaskToken(presented)).
		Msg("redemption recorded")

	audit.Log(ctx, audit.Event{
		Type:      audit.EventRedeemAccepted,
		SessionID: sessionID,
		StudentID: studentID,
		Details:   map[string]interface{}{"status": string(status)},
	})

	return model.OutcomeFromRecord(record), nil
}

func (s *RedemptionService) reject(ctx context.Context, sessionID, studentID string, reason model.RejectReason) *model.RedemptionOutcome {
	log.Warn().
		Str("sessionId", sessionID).
		Str("studentId", studentID).
		Str("reason", string(reason)).
		Msg("redemption rejected")

	audit.Log(ctx, audit.Event{
		Type:      audit.EventRedeemRejected,
		SessionID: sessionID,
		StudentID: studentID,
		Details:   map[string]interface{}{"reason": string(reason)},
	})

	return model.RejectedOutcome(sessionID, studentID, reason)
}

// classify maps elapsed time since the scheduled start onto an attendance
// status using the session's captured policy. A redemption past the late
// threshold still records the scan attempt, but policy marks it absent.
func classify(session *model.AttendanceSession, now time.Time) model.AttendanceStatus {
	elapsed := now.Sub(session.ScheduledStart)
	window := session.Policy.CheckinWindow()

	switch {
	case elapsed <= window:
		return model.AttendancePresent
	case elapsed <= window+session.Policy.LateThreshold():
		return model.AttendanceLate
	default:
		return model.AttendanceAbsent
	}
}
