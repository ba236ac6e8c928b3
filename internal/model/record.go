package model

import (
	"time"
)

// RedemptionRecord is a student's resolved attendance outcome for one
// session. At most one record ever exists per (session, student); the
// store's create-if-absent primitive is the arbiter.
type RedemptionRecord struct {
	SessionID  string           `db:"session_id" json:"sessionId"`
	StudentID  string           `db:"student_id" json:"studentId"`
	Status     AttendanceStatus `db:"status" json:"status"`
	CheckinAt  *time.Time       `db:"checkin_at" json:"checkinAt,omitempty"`
	CheckoutAt *time.Time       `db:"checkout_at" json:"checkoutAt,omitempty"`
	Notes      string           `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updatedAt"`
}

// RedemptionOutcome is what a scanning student gets back. A rejection is a
// normal outcome, not an error; Reason says which of the five refusals
// applies so the client can show an actionable message.
type RedemptionOutcome struct {
	SessionID string           `json:"sessionId"`
	StudentID string           `json:"studentId"`
	Accepted  bool             `json:"accepted"`
	Status    AttendanceStatus `json:"status,omitempty"`
	Reason    RejectReason     `json:"reason,omitempty"`
	CheckinAt *time.Time       `json:"checkinAt,omitempty"`
}

// OutcomeFromRecord builds the outcome reported for an already-committed
// record, used both for duplicate scans and for the loser of a create race.
func OutcomeFromRecord(rec *RedemptionRecord) *RedemptionOutcome {
	return &RedemptionOutcome{
		SessionID: rec.SessionID,
		StudentID: rec.StudentID,
		Accepted:  true,
		Status:    rec.Status,
		CheckinAt: rec.CheckinAt,
	}
}

// RejectedOutcome builds a refusal outcome for the given reason.
func RejectedOutcome(sessionID, studentID string, reason RejectReason) *RedemptionOutcome {
	return &RedemptionOutcome{
		SessionID: sessionID,
		StudentID: studentID,
		Accepted:  false,
		Reason:    reason,
	}
}
