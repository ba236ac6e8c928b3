package model

type SessionStatus string

const (
	SessionStatusPending SessionStatus = "pending"
	SessionStatusOpen    SessionStatus = "open"
	SessionStatusClosed  SessionStatus = "closed"
)

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceExcused AttendanceStatus = "excused"
)

func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendancePresent, AttendanceLate, AttendanceAbsent, AttendanceExcused:
		return true
	}
	return false
}

// RejectReason identifies why a redemption was refused. Rejections are
// outcomes shown to the scanning student, not errors.
type RejectReason string

const (
	RejectSessionNotFound     RejectReason = "SESSION_NOT_FOUND"
	RejectInvalidToken        RejectReason = "INVALID_TOKEN"
	RejectTokenExpired        RejectReason = "TOKEN_EXPIRED"
	RejectTeacherNotCheckedIn RejectReason = "TEACHER_NOT_CHECKED_IN"
	RejectSessionClosed       RejectReason = "SESSION_CLOSED"
)
