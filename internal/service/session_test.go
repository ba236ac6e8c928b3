package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/campusops/attendance-server-go/internal/errors"
	"github.com/campusops/attendance-server-go/internal/model"
	"github.com/campusops/attendance-server-go/internal/repository"
	"github.com/campusops/attendance-server-go/internal/token"
)

var (
	testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	testEnd   = testStart.Add(90 * time.Minute)
)

func testPolicy() model.PolicyConfig {
	return model.PolicyConfig{
		QRValidityMinutes:          15,
		CheckinWindowMinutes:       15,
		LateThresholdMinutes:       5,
		AutoCheckoutEnabled:        true,
		TeacherRequiredForStudents: true,
		LoadedAt:                   testStart.Add(-24 * time.Hour),
	}
}

type fixture struct {
	store      *repository.MemoryStore
	roster     *repository.MemoryRoster
	policy     model.PolicyConfig
	sessions   *SessionService
	redemption *RedemptionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  repository.NewMemoryStore(),
		roster: repository.NewMemoryRoster(),
		policy: testPolicy(),
	}
	provider := PolicyFunc(func() model.PolicyConfig { return f.policy })
	issuer := token.NewIssuer()
	f.sessions = NewSessionService(f.store, f.roster, issuer, provider)
	f.redemption = NewRedemptionService(f.store, issuer, provider)
	return f
}

func (f *fixture) createSession(t *testing.T) *model.AttendanceSession {
	t.Helper()
	session, err := f.sessions.CreateSession(context.Background(), model.Meeting{
		MeetingID:      "meeting-1",
		ClassID:        "class-1",
		TeacherID:      "teacher-1",
		ScheduledStart: testStart,
		ScheduledEnd:   testEnd,
	})
	require.NoError(t, err)
	return session
}

func (f *fixture) openSession(t *testing.T) (*model.AttendanceSession, string) {
	t.Helper()
	session := f.createSession(t)
	result, err := f.sessions.TeacherCheckIn(context.Background(), session.ID, testStart)
	require.NoError(t, err)
	return result.Session, result.Token
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a pending session", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t)

		assert.NotEmpty(t, session.ID)
		assert.Equal(t, model.SessionStatusPending, session.Status)
		assert.Empty(t, session.CurrentToken)
		assert.Nil(t, session.TeacherCheckinAt)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.sessions.CreateSession(ctx, model.Meeting{ClassID: "class-1"})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
	})

	t.Run("rejects end before start", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.sessions.CreateSession(ctx, model.Meeting{
			MeetingID:      "m",
			ClassID:        "c",
			TeacherID:      "t",
			ScheduledStart: testEnd,
			ScheduledEnd:   testStart,
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})
}

func TestTeacherCheckIn(t *testing.T) {
	ctx := context.Background()

	t.Run("opens a pending session and issues a token", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t)

		result, err := f.sessions.TeacherCheckIn(ctx, session.ID, testStart)
		require.NoError(t, err)

		assert.Equal(t, model.SessionStatusOpen, result.Session.Status)
		assert.NotEmpty(t, result.Token)
		assert.Equal(t, testStart.Add(15*time.Minute), result.ExpiresAt)
		require.NotNil(t, result.Session.TeacherCheckinAt)
		assert.Equal(t, testStart, *result.Session.TeacherCheckinAt)
	})

	t.Run("captures the policy snapshot at check-in time", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t)

		_, err := f.sessions.TeacherCheckIn(ctx, session.ID, testStart)
		require.NoError(t, err)

		// A mid-class policy edit must not change the in-progress session.
		f.policy.CheckinWindowMinutes = 1
		f.policy.LateThresholdMinutes = 0

		stored, err := f.store.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 15, stored.Policy.CheckinWindowMinutes)
		assert.Equal(t, 5, stored.Policy.LateThresholdMinutes)
	})

	t.Run("second check-in is an invalid transition", func(t *testing.T) {
		f := newFixture(t)
		opened, _ := f.openSession(t)

		_, err := f.sessions.TeacherCheckIn(ctx, opened.ID, testStart.Add(time.Minute))
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidTransition, apperrors.GetCode(err))
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.sessions.TeacherCheckIn(ctx, "missing", testStart)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeSessionNotFound, apperrors.GetCode(err))
	})
}

func TestTeacherCheckOut(t *testing.T) {
	ctx := context.Background()

	t.Run("closes an open session and clears the token", func(t *testing.T) {
		f := newFixture(t)
		opened, _ := f.openSession(t)

		result, err := f.sessions.TeacherCheckOut(ctx, opened.ID, testEnd)
		require.NoError(t, err)

		assert.Equal(t, model.SessionStatusClosed, result.Session.Status)
		assert.Empty(t, result.Session.CurrentToken)
		assert.Nil(t, result.Session.TokenExpiresAt)
		require.NotNil(t, result.Session.TeacherCheckoutAt)
		assert.Equal(t, testEnd, *result.Session.TeacherCheckoutAt)
	})

	t.Run("check-out before check-in is an invalid transition", func(t *testing.T) {
		f := newFixture(t)
		session := f.createSession(t)

		_, err := f.sessions.TeacherCheckOut(ctx, session.ID, testEnd)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidTransition, apperrors.GetCode(err))
	})

	t.Run("closed session can never reopen", func(t *testing.T) {
		f := newFixture(t)
		opened, _ := f.openSession(t)
		_, err := f.sessions.TeacherCheckOut(ctx, opened.ID, testEnd)
		require.NoError(t, err)

		_, err = f.sessions.TeacherCheckIn(ctx, opened.ID, testEnd.Add(time.Minute))
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidTransition, apperrors.GetCode(err))

		_, err = f.sessions.TeacherCheckOut(ctx, opened.ID, testEnd.Add(time.Minute))
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidTransition, apperrors.GetCode(err))
	})

	t.Run("auto-checkout synthesizes absent for silent students only", func(t *testing.T) {
		f := newFixture(t)
		f.roster.SetRoster("class-1", []string{"stu-1", "stu-2", "stu-3", "stu-4"})
		opened, tok := f.openSession(t)

		// stu-1 on time, stu-2 late.
		_, err := f.redemption.Redeem(ctx, opened.ID, "stu-1", tok, testStart.Add(10*time.Minute))
		require.NoError(t, err)
		_, err = f.redemption.Redeem(ctx, opened.ID, "stu-2", tok, testStart.Add(17*time.Minute))
		require.NoError(t, err)

		result, err := f.sessions.TeacherCheckOut(ctx, opened.ID, testEnd)
		require.NoError(t, err)

		assert.Equal(t, 4, result.RosterSize)
		assert.Equal(t, 2, result.RecordedAtClose)
		assert.Equal(t, 2, result.AbsentCreated)

		records, err := f.store.ListRecords(ctx, opened.ID)
		require.NoError(t, err)
		require.Len(t, records, 4)

		byStudent := make(map[string]model.RedemptionRecord)
		for _, rec := range records {
			byStudent[rec.StudentID] = rec
		}
		assert.Equal(t, model.AttendancePresent, byStudent["stu-1"].Status)
		assert.Equal(t, model.AttendanceLate, byStudent["stu-2"].Status)
		assert.Equal(t, model.AttendanceAbsent, byStudent["stu-3"].Status)
		assert.Equal(t, model.AttendanceAbsent, byStudent["stu-4"].Status)

		// Synthesized records have no check-in; recorded ones keep theirs.
		assert.Nil(t, byStudent["stu-3"].CheckinAt)
		assert.NotNil(t, byStudent["stu-1"].CheckinAt)
	})

	t.Run("auto-checkout disabled leaves silent students unrecorded", func(t *testing.T) {
		f := newFixture(t)
		f.policy.AutoCheckoutEnabled = false
		f.roster.SetRoster("class-1", []string{"stu-1", "stu-2"})
		opened, _ := f.openSession(t)

		result, err := f.sessions.TeacherCheckOut(ctx, opened.ID, testEnd)
		require.NoError(t, err)
		assert.Equal(t, 0, result.AbsentCreated)

		records, err := f.store.ListRecords(ctx, opened.ID)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("counts outcomes by status", func(t *testing.T) {
		f := newFixture(t)
		f.roster.SetRoster("class-1", []string{"stu-1", "stu-2", "stu-3"})
		opened, tok := f.openSession(t)

		_, err := f.redemption.Redeem(ctx, opened.ID, "stu-1", tok, testStart.Add(5*time.Minute))
		require.NoError(t, err)
		_, err = f.redemption.Redeem(ctx, opened.ID, "stu-2", tok, testStart.Add(18*time.Minute))
		require.NoError(t, err)
		_, err = f.sessions.TeacherCheckOut(ctx, opened.ID, testEnd)
		require.NoError(t, err)

		summary, err := f.sessions.Summary(ctx, opened.ID)
		require.NoError(t, err)

		assert.Equal(t, model.SessionStatusClosed, summary.Status)
		assert.Equal(t, 1, summary.Present)
		assert.Equal(t, 1, summary.Late)
		assert.Equal(t, 1, summary.Absent)
		assert.Equal(t, 0, summary.Excused)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.sessions.Summary(ctx, "missing")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeSessionNotFound, apperrors.GetCode(err))
	})
}

func TestOverride(t *testing.T) {
	ctx := context.Background()

	t.Run("staff may excuse a student with a note", func(t *testing.T) {
		f := newFixture(t)
		opened, _ := f.openSession(t)

		record, err := f.sessions.Override(ctx, opened.ID, "stu-1", model.AttendanceExcused, "doctor's appointment", testStart)
		require.NoError(t, err)
		assert.Equal(t, model.AttendanceExcused, record.Status)
		assert.Equal(t, "doctor's appointment", record.Notes)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		f := newFixture(t)
		opened, _ := f.openSession(t)

		_, err := f.sessions.Override(ctx, opened.ID, "stu-1", model.AttendanceStatus("vanished"), "", testStart)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})
}
