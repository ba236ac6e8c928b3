package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/attendance-server-go/internal/model"
	"github.com/campusops/attendance-server-go/internal/repository"
	"github.com/campusops/attendance-server-go/internal/service"
	"github.com/campusops/attendance-server-go/internal/token"
)

func testPolicy() model.PolicyConfig {
	return model.PolicyConfig{
		QRValidityMinutes:          10,
		CheckinWindowMinutes:       15,
		LateThresholdMinutes:       5,
		AutoCheckoutEnabled:        true,
		TeacherRequiredForStudents: true,
	}
}

func newTestHandler(t *testing.T) (*SessionHandler, *repository.MemoryRoster) {
	t.Helper()

	store := repository.NewMemoryStore()
	roster := repository.NewMemoryRoster()
	issuer := token.NewIssuer()
	policy := service.PolicyFunc(testPolicy)

	sessions := service.NewSessionService(store, roster, issuer, policy)
	redemptions := service.NewRedemptionService(store, issuer, policy)

	return NewSessionHandler(sessions, redemptions, nil), roster
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createOpenSession(t *testing.T, router http.Handler) (sessionID, tokenValue string) {
	t.Helper()

	start := time.Now().Add(-time.Minute)
	rec := postJSON(t, router, "/", model.Meeting{
		MeetingID:      "meet-1",
		ClassID:        "class-1",
		TeacherID:      "teacher-1",
		ScheduledStart: start,
		ScheduledEnd:   start.Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var session model.AttendanceSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	rec = postJSON(t, router, "/"+session.ID+"/checkin", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var checkin struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checkin))
	require.NotEmpty(t, checkin.Token)

	return session.ID, checkin.Token
}

func TestSessionHandler_CreateSession(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Routes()

	t.Run("creates a pending session from a meeting descriptor", func(t *testing.T) {
		start := time.Now().Add(time.Hour)
		rec := postJSON(t, router, "/", model.Meeting{
			MeetingID:      "meet-1",
			ClassID:        "class-1",
			TeacherID:      "teacher-1",
			ScheduledStart: start,
			ScheduledEnd:   start.Add(time.Hour),
		})

		assert.Equal(t, http.StatusCreated, rec.Code)

		var session model.AttendanceSession
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
		assert.Equal(t, model.SessionStatusPending, session.Status)
		assert.NotEmpty(t, session.ID)
	})

	t.Run("rejects a meeting without a class", func(t *testing.T) {
		rec := postJSON(t, router, "/", model.Meeting{
			MeetingID: "meet-2",
			TeacherID: "teacher-1",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "MISSING_REQUIRED")
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSessionHandler_CheckInCheckOut(t *testing.T) {
	t.Run("check-in returns a displayable token", func(t *testing.T) {
		h, _ := newTestHandler(t)
		router := h.Routes()

		sessionID, tokenValue := createOpenSession(t, router)
		assert.Len(t, tokenValue, 64)

		rec := getJSON(t, router, "/"+sessionID)
		require.Equal(t, http.StatusOK, rec.Code)
		// The raw token never appears in session representations.
		assert.NotContains(t, rec.Body.String(), tokenValue)
	})

	t.Run("double check-in conflicts", func(t *testing.T) {
		h, _ := newTestHandler(t)
		router := h.Routes()

		sessionID, _ := createOpenSession(t, router)
		rec := postJSON(t, router, "/"+sessionID+"/checkin", nil)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_TRANSITION")
	})

	t.Run("check-out closes and synthesizes absences", func(t *testing.T) {
		h, roster := newTestHandler(t)
		router := h.Routes()
		roster.SetRoster("class-1", []string{"s1", "s2", "s3"})

		sessionID, tokenValue := createOpenSession(t, router)

		rec := postJSON(t, router, "/"+sessionID+"/redeem", map[string]string{
			"studentId": "s1",
			"token":     tokenValue,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = postJSON(t, router, "/"+sessionID+"/checkout", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var result service.CheckOutResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, model.SessionStatusClosed, result.Session.Status)
		assert.Equal(t, 2, result.AbsentCreated)
		assert.Equal(t, 3, result.RosterSize)
	})

	t.Run("check-out of a pending session conflicts", func(t *testing.T) {
		h, _ := newTestHandler(t)
		router := h.Routes()

		start := time.Now().Add(time.Hour)
		rec := postJSON(t, router, "/", model.Meeting{
			MeetingID:      "meet-1",
			ClassID:        "class-1",
			TeacherID:      "teacher-1",
			ScheduledStart: start,
			ScheduledEnd:   start.Add(time.Hour),
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var session model.AttendanceSession
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

		rec = postJSON(t, router, "/"+session.ID+"/checkout", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestSessionHandler_Redeem(t *testing.T) {
	t.Run("valid scan records present and returns the outcome", func(t *testing.T) {
		h, _ := newTestHandler(t)
		router := h.Routes()

		sessionID, tokenValue := createOpenSession(t, router)
		rec := postJSON(t, router, "/"+sessionID+"/redeem", map[string]string{
			"studentId": "s1",
			"token":     tokenValue,
		})

		require.Equal(t, http.StatusOK, rec.Code)

		var outcome model.RedemptionOutcome
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
		assert.True(t, outcome.Accepted)
		assert.Equal(t, model.AttendancePresent, outcome.Status)
	})

	t.Run("wrong token is a 200 with a reject reason", func(t *testing.T) {
		h, _ := newTestHandler(t)
		router := h.Routes()

		sessionID, _ := createOpenSession(t, router)
		rec := postJSON(t, router, "/"+sessionID+"/redeem", map[string]string{
			"studentId": "s1",
			"token":     "deadbeef",
		})

		require.Equal(t, http.StatusOK, rec.Code)

		var outcome model.RedemptionOutcome
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
		assert.False(t, outcome.Accepted)
		assert.Equal(t, model.RejectInvalidToken, outcome.Reason)
	})

	t.Run("unknown session is a 200 with session_not_found", func(t *testing.T) {
		h, _ := newTestHandler(t)
		router := h.Routes()

		rec := postJSON(t, router, "/nope/redeem", map[string]string{
			"studentId": "s1",
			"token":     "deadbeef",
		})

		require.Equal(t, http.StatusOK, rec.Code)

		var outcome model.RedemptionOutcome
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
		assert.False(t, outcome.Accepted)
		assert.Equal(t, model.RejectSessionNotFound, outcome.Reason)
	})

	t.Run("missing student id is a 400", func(t *testing.T) {
		h, _ := newTestHandler(t)
		router := h.Routes()

		sessionID, tokenValue := createOpenSession(t, router)
		rec := postJSON(t, router, "/"+sessionID+"/redeem", map[string]string{
			"token": tokenValue,
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSessionHandler_SummaryAndRecords(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Routes()

	sessionID, tokenValue := createOpenSession(t, router)
	for i := 0; i < 3; i++ {
		rec := postJSON(t, router, "/"+sessionID+"/redeem", map[string]string{
			"studentId": fmt.Sprintf("s%d", i),
			"token":     tokenValue,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	t.Run("summary counts outcomes", func(t *testing.T) {
		rec := getJSON(t, router, "/"+sessionID+"/summary")
		require.Equal(t, http.StatusOK, rec.Code)

		var summary model.SessionSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		assert.Equal(t, 3, summary.Present)
		assert.Equal(t, 0, summary.Absent)
	})

	t.Run("records lists every committed record", func(t *testing.T) {
		rec := getJSON(t, router, "/"+sessionID+"/records")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Records []model.RedemptionRecord `json:"records"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Records, 3)
	})

	t.Run("summary of unknown session is a 404", func(t *testing.T) {
		rec := getJSON(t, router, "/nope/summary")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "SESSION_NOT_FOUND")
	})
}

func TestSessionHandler_Override(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Routes()

	sessionID, _ := createOpenSession(t, router)

	t.Run("staff can excuse a student with a note", func(t *testing.T) {
		rec := postJSON(t, router, "/"+sessionID+"/records/s9/override", map[string]string{
			"status": "excused",
			"notes":  "medical",
		})

		require.Equal(t, http.StatusOK, rec.Code)

		var record model.RedemptionRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
		assert.Equal(t, model.AttendanceExcused, record.Status)
		assert.Equal(t, "medical", record.Notes)
	})

	t.Run("unknown status is a 400", func(t *testing.T) {
		rec := postJSON(t, router, "/"+sessionID+"/records/s9/override", map[string]string{
			"status": "vanished",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_INPUT")
	})
}
