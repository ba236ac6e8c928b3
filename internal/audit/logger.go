package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSessionCreate   EventType = "session_create"
	EventTeacherCheckin  EventType = "teacher_checkin"
	EventTeacherCheckout EventType = "teacher_checkout"
	EventRedeemAccepted  EventType = "redeem_accepted"
	EventRedeemRejected  EventType = "redeem_rejected"
	EventRecordOverride  EventType = "record_override"
	EventSweeperClose    EventType = "sweeper_close"
)

type Event struct {
	Type      EventType
	SessionID string
	ClassID   string
	TeacherID string
	StudentID string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "attendance").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.SessionID != "" {
		logger = logger.With().Str("session_id", event.SessionID).Logger()
	}
	if event.ClassID != "" {
		logger = logger.With().Str("class_id", event.ClassID).Logger()
	}
	if event.TeacherID != "" {
		logger = logger.With().Str("teacher_id", event.TeacherID).Logger()
	}
	if event.StudentID != "" {
		logger = logger.With().Str("student_id", event.StudentID).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("attendance audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	case time.Time:
		return e.Time(key, v)
	default:
		return e.Interface(key, v)
	}
}
