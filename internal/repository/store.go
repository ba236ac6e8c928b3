package repository

import (
	"context"
	"errors"
	"time"

	"github.com/campusops/attendance-server-go/internal/model"
)

// ErrVersionConflict is returned by PutSessionCAS when the session changed
// under the caller. The caller re-reads and re-evaluates; the conflict is
// benign.
var ErrVersionConflict = errors.New("session version conflict")

// SessionStore is the durable keyed storage for attendance sessions and
// their redemption records. All mutation of shared state goes through
// PutSessionCAS and CreateRecordIfAbsent; there is no other write path, so
// lost updates are impossible without a global lock.
type SessionStore interface {
	CreateSession(ctx context.Context, session *model.AttendanceSession) error
	GetSession(ctx context.Context, sessionID string) (*model.AttendanceSession, error)

	// PutSessionCAS writes the session only if the stored version equals
	// expectedVersion, bumping the version on success. Returns
	// ErrVersionConflict otherwise.
	PutSessionCAS(ctx context.Context, session *model.AttendanceSession, expectedVersion int64) error

	// CreateRecordIfAbsent commits the record unless one already exists for
	// (sessionID, studentID). When it loses the race it reports
	// created=false and returns the committed record.
	CreateRecordIfAbsent(ctx context.Context, record *model.RedemptionRecord) (created bool, existing *model.RedemptionRecord, err error)

	GetRecord(ctx context.Context, sessionID, studentID string) (*model.RedemptionRecord, error)
	ListRecords(ctx context.Context, sessionID string) ([]model.RedemptionRecord, error)

	// OverrideRecord is the out-of-band manual path: staff may correct a
	// status and attach a note. Never called by the redemption engine.
	OverrideRecord(ctx context.Context, sessionID, studentID string, status model.AttendanceStatus, notes string, now time.Time) (*model.RedemptionRecord, error)

	// ListOpenSessionsEndedBefore feeds the sweeper: open sessions whose
	// scheduled end is at or before the cutoff.
	ListOpenSessionsEndedBefore(ctx context.Context, cutoff time.Time) ([]model.AttendanceSession, error)
}

// RosterStore resolves class rosters. Enrollment data is owned by an
// external collaborator; this is a read-only view of it.
type RosterStore interface {
	RosterFor(ctx context.Context, classID string) ([]string, error)
}
