package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/campusops/attendance-server-go/internal/model"
)

// storeDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type storeDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type postgresStore struct {
	db storeDB
}

func NewPostgresStore(db *sqlx.DB) SessionStore {
	return &postgresStore{db: db}
}

func (s *postgresStore) CreateSession(ctx context.Context, session *model.AttendanceSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions (
			id, meeting_id, class_id, teacher_id,
			scheduled_start, scheduled_end, status, policy, version,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, session.ID, session.MeetingID, session.ClassID, session.TeacherID,
		session.ScheduledStart, session.ScheduledEnd, session.Status,
		session.Policy, session.Version, session.CreatedAt)
	return err
}

func (s *postgresStore) GetSession(ctx context.Context, sessionID string) (*model.AttendanceSession, error) {
	var session model.AttendanceSession
	err := s.db.GetContext(ctx, &session, `
		SELECT * FROM attendance_sessions WHERE id = $1
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *postgresStore) PutSessionCAS(ctx context.Context, session *model.AttendanceSession, expectedVersion int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE attendance_sessions SET
			status = $2,
			teacher_checkin_at = $3,
			teacher_checkout_at = $4,
			current_token = $5,
			token_issued_at = $6,
			token_expires_at = $7,
			policy = $8,
			version = version + 1,
			updated_at = $9
		WHERE id = $1 AND version = $10
	`, session.ID, session.Status, session.TeacherCheckinAt, session.TeacherCheckoutAt,
		session.CurrentToken, session.TokenIssuedAt, session.TokenExpiresAt,
		session.Policy, session.UpdatedAt, expectedVersion)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	session.Version = expectedVersion + 1
	return nil
}

func (s *postgresStore) CreateRecordIfAbsent(ctx context.Context, record *model.RedemptionRecord) (bool, *model.RedemptionRecord, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO redemption_records (
			session_id, student_id, status, checkin_at, checkout_at, notes,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, record.SessionID, record.StudentID, record.Status,
		record.CheckinAt, record.CheckoutAt, record.Notes, record.CreatedAt)
	if err != nil {
		return false, nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	if affected > 0 {
		return true, record, nil
	}

	// Lost the race: the committed record is the outcome.
	existing, err := s.GetRecord(ctx, record.SessionID, record.StudentID)
	if err != nil {
		return false, nil, err
	}
	if existing == nil {
		return false, nil, sql.ErrNoRows
	}
	return false, existing, nil
}

func (s *postgresStore) GetRecord(ctx context.Context, sessionID, studentID string) (*model.RedemptionRecord, error) {
	var record model.RedemptionRecord
	err := s.db.GetContext(ctx, &record, `
		SELECT * FROM redemption_records
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *postgresStore) ListRecords(ctx context.Context, sessionID string) ([]model.RedemptionRecord, error) {
	var records []model.RedemptionRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT * FROM redemption_records
		WHERE session_id = $1
		ORDER BY student_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *postgresStore) OverrideRecord(ctx context.Context, sessionID, studentID string, status model.AttendanceStatus, notes string, now time.Time) (*model.RedemptionRecord, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO redemption_records (
			session_id, student_id, status, notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			status = EXCLUDED.status,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
	`, sessionID, studentID, status, notes, now)
	if err != nil {
		return nil, err
	}
	return s.GetRecord(ctx, sessionID, studentID)
}

func (s *postgresStore) ListOpenSessionsEndedBefore(ctx context.Context, cutoff time.Time) ([]model.AttendanceSession, error) {
	var sessions []model.AttendanceSession
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT * FROM attendance_sessions
		WHERE status = 'open' AND scheduled_end <= $1
		ORDER BY scheduled_end
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

type postgresRoster struct {
	db storeDB
}

// NewPostgresRoster reads class rosters from the enrollments table kept in
// sync by the enrollment collaborator.
func NewPostgresRoster(db *sqlx.DB) RosterStore {
	return &postgresRoster{db: db}
}

func (r *postgresRoster) RosterFor(ctx context.Context, classID string) ([]string, error) {
	var studentIDs []string
	err := r.db.SelectContext(ctx, &studentIDs, `
		SELECT student_id FROM enrollments
		WHERE class_id = $1
		ORDER BY student_id
	`, classID)
	if err != nil {
		return nil, err
	}
	return studentIDs, nil
}
