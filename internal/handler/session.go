package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/campusops/attendance-server-go/internal/errors"
	"github.com/campusops/attendance-server-go/internal/httputil"
	"github.com/campusops/attendance-server-go/internal/model"
	"github.com/campusops/attendance-server-go/internal/service"
)

type SessionHandler struct {
	sessions    *service.SessionService
	redemptions *service.RedemptionService
	scanLimiter func(http.Handler) http.Handler
}

func NewSessionHandler(
	sessions *service.SessionService,
	redemptions *service.RedemptionService,
	scanLimiter func(http.Handler) http.Handler,
) *SessionHandler {
	return &SessionHandler{
		sessions:    sessions,
		redemptions: redemptions,
		scanLimiter: scanLimiter,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateSession)
	r.Get("/{sessionID}", h.GetSession)
	r.Post("/{sessionID}/checkin", h.TeacherCheckIn)
	r.Post("/{sessionID}/checkout", h.TeacherCheckOut)
	r.Get("/{sessionID}/summary", h.GetSummary)
	r.Get("/{sessionID}/records", h.ListRecords)
	r.Post("/{sessionID}/records/{studentID}/override", h.OverrideRecord)

	if h.scanLimiter != nil {
		r.With(h.scanLimiter).Post("/{sessionID}/redeem", h.Redeem)
	} else {
		r.Post("/{sessionID}/redeem", h.Redeem)
	}

	return r
}

// POST /v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var meeting model.Meeting
	if err := json.NewDecoder(r.Body).Decode(&meeting); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	session, err := h.sessions.CreateSession(r.Context(), meeting)
	if err != nil {
		log.Error().Err(err).Str("meetingId", meeting.MeetingID).Msg("failed to create session")
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// GET /v1/sessions/{sessionID}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// POST /v1/sessions/{sessionID}/checkin
// Opens the session and returns the token for QR display.
func (h *SessionHandler) TeacherCheckIn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	result, err := h.sessions.TeacherCheckIn(r.Context(), sessionID, time.Now())
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("sessionId", sessionID).Msg("teacher check-in failed")
		}
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /v1/sessions/{sessionID}/checkout
func (h *SessionHandler) TeacherCheckOut(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	result, err := h.sessions.TeacherCheckOut(r.Context(), sessionID, time.Now())
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("sessionId", sessionID).Msg("teacher check-out failed")
		}
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /v1/sessions/{sessionID}/redeem
// Rejections are outcomes, not errors: the scanning client always gets a
// 200 with accepted=false and a reason it can show the student.
func (h *SessionHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req struct {
		StudentID string `json:"studentId"`
		Token     string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	outcome, err := h.redemptions.Redeem(r.Context(), sessionID, req.StudentID, req.Token, time.Now())
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeDatabase {
			log.Error().Err(err).Str("sessionId", sessionID).Msg("redemption store failure")
		}
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// GET /v1/sessions/{sessionID}/summary
func (h *SessionHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	summary, err := h.sessions.Summary(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// GET /v1/sessions/{sessionID}/records
func (h *SessionHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	records, err := h.sessions.Records(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"records":   records,
	})
}

// POST /v1/sessions/{sessionID}/records/{studentID}/override
// Staff correction path; accepts any valid status including excused.
func (h *SessionHandler) OverrideRecord(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	studentID := chi.URLParam(r, "studentID")

	var req struct {
		Status model.AttendanceStatus `json:"status"`
		Notes  string                 `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	record, err := h.sessions.Override(r.Context(), sessionID, studentID, req.Status, req.Notes, time.Now())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}
