package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campusops/attendance-server-go/internal/errors"
	"github.com/campusops/attendance-server-go/internal/model"
)

type recordKey struct {
	sessionID string
	studentID string
}

// MemoryStore is the in-memory reference implementation of SessionStore,
// used by tests and the dev profile. It honors the same CAS and
// create-if-absent semantics as the Postgres store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]model.AttendanceSession
	records  map[recordKey]model.RedemptionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]model.AttendanceSession),
		records:  make(map[recordKey]model.RedemptionRecord),
	}
}

var _ SessionStore = (*MemoryStore)(nil)

func (m *MemoryStore) CreateSession(ctx context.Context, session *model.AttendanceSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; ok {
		return errors.AlreadyExists("Session")
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*model.AttendanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := session
	return &copied, nil
}

func (m *MemoryStore) PutSessionCAS(ctx context.Context, session *model.AttendanceSession, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[session.ID]
	if !ok {
		return errors.SessionNotFound(session.ID)
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	session.Version = expectedVersion + 1
	m.sessions[session.ID] = *session
	return nil
}

func (m *MemoryStore) CreateRecordIfAbsent(ctx context.Context, record *model.RedemptionRecord) (bool, *model.RedemptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey{record.SessionID, record.StudentID}
	if existing, ok := m.records[key]; ok {
		copied := existing
		return false, &copied, nil
	}
	m.records[key] = *record
	return true, record, nil
}

func (m *MemoryStore) GetRecord(ctx context.Context, sessionID, studentID string) (*model.RedemptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[recordKey{sessionID, studentID}]
	if !ok {
		return nil, nil
	}
	copied := record
	return &copied, nil
}

func (m *MemoryStore) ListRecords(ctx context.Context, sessionID string) ([]model.RedemptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []model.RedemptionRecord
	for key, record := range m.records {
		if key.sessionID == sessionID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StudentID < records[j].StudentID
	})
	return records, nil
}

func (m *MemoryStore) OverrideRecord(ctx context.Context, sessionID, studentID string, status model.AttendanceStatus, notes string, now time.Time) (*model.RedemptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey{sessionID, studentID}
	record, ok := m.records[key]
	if !ok {
		record = model.RedemptionRecord{
			SessionID: sessionID,
			StudentID: studentID,
			CreatedAt: now,
		}
	}
	record.Status = status
	record.Notes = notes
	record.UpdatedAt = now
	m.records[key] = record

	copied := record
	return &copied, nil
}

func (m *MemoryStore) ListOpenSessionsEndedBefore(ctx context.Context, cutoff time.Time) ([]model.AttendanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sessions []model.AttendanceSession
	for _, session := range m.sessions {
		if session.Status == model.SessionStatusOpen && !session.ScheduledEnd.After(cutoff) {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ScheduledEnd.Before(sessions[j].ScheduledEnd)
	})
	return sessions, nil
}

// MemoryRoster is a fixed class-to-students mapping for tests and the dev
// profile.
type MemoryRoster struct {
	mu      sync.RWMutex
	rosters map[string][]string
}

func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{rosters: make(map[string][]string)}
}

var _ RosterStore = (*MemoryRoster)(nil)

func (r *MemoryRoster) SetRoster(classID string, studentIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rosters[classID] = append([]string(nil), studentIDs...)
}

func (r *MemoryRoster) RosterFor(ctx context.Context, classID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.rosters[classID]...), nil
}
