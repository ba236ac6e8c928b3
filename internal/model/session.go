package model

import (
	"time"
)

// AttendanceSession tracks one teacher-led class meeting's attendance window.
// Invariant: CurrentToken is non-empty iff Status == open.
type AttendanceSession struct {
	ID                string        `db:"id" json:"id"`
	MeetingID         string        `db:"meeting_id" json:"meetingId"`
	ClassID           string        `db:"class_id" json:"classId"`
	TeacherID         string        `db:"teacher_id" json:"teacherId"`
	ScheduledStart    time.Time     `db:"scheduled_start" json:"scheduledStart"`
	ScheduledEnd      time.Time     `db:"scheduled_end" json:"scheduledEnd"`
	Status            SessionStatus `db:"status" json:"status"`
	TeacherCheckinAt  *time.Time    `db:"teacher_checkin_at" json:"teacherCheckinAt,omitempty"`
	TeacherCheckoutAt *time.Time    `db:"teacher_checkout_at" json:"teacherCheckoutAt,omitempty"`
	CurrentToken      string        `db:"current_token" json:"-"`
	TokenIssuedAt     *time.Time    `db:"token_issued_at" json:"tokenIssuedAt,omitempty"`
	TokenExpiresAt    *time.Time    `db:"token_expires_at" json:"tokenExpiresAt,omitempty"`
	Policy            PolicyConfig  `db:"policy" json:"policy"`
	Version           int64         `db:"version" json:"-"`
	CreatedAt         time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updatedAt"`
}

// Meeting is the scheduled-meeting descriptor supplied by the schedule
// collaborator when a session is created.
type Meeting struct {
	MeetingID      string    `json:"meetingId"`
	ClassID        string    `json:"classId"`
	TeacherID      string    `json:"teacherId"`
	ScheduledStart time.Time `json:"scheduledStart"`
	ScheduledEnd   time.Time `json:"scheduledEnd"`
}

// SessionSummary reports a session's status and per-outcome counts.
type SessionSummary struct {
	SessionID string        `json:"sessionId"`
	Status    SessionStatus `json:"status"`
	Present   int           `json:"present"`
	Late      int           `json:"late"`
	Absent    int           `json:"absent"`
	Excused   int           `json:"excused"`
}
