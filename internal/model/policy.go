package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PolicyConfig is an immutable snapshot of the attendance timing rules.
// A session captures the snapshot in effect at teacher check-in time and
// keeps it for its whole life, so policy edits never change an in-progress
// session's rules.
type PolicyConfig struct {
	QRValidityMinutes          int       `json:"qrValidityMinutes"`
	CheckinWindowMinutes       int       `json:"checkinWindowMinutes"`
	LateThresholdMinutes       int       `json:"lateThresholdMinutes"`
	AutoCheckoutEnabled        bool      `json:"autoCheckoutEnabled"`
	TeacherRequiredForStudents bool      `json:"teacherRequiredForStudents"`
	LoadedAt                   time.Time `json:"loadedAt"`
}

func (p PolicyConfig) Validate() error {
	if p.QRValidityMinutes <= 0 {
		return fmt.Errorf("qrValidityMinutes must be > 0, got %d", p.QRValidityMinutes)
	}
	if p.CheckinWindowMinutes <= 0 {
		return fmt.Errorf("checkinWindowMinutes must be > 0, got %d", p.CheckinWindowMinutes)
	}
	if p.LateThresholdMinutes < 0 {
		return fmt.Errorf("lateThresholdMinutes must be >= 0, got %d", p.LateThresholdMinutes)
	}
	if p.LateThresholdMinutes >= p.QRValidityMinutes {
		return fmt.Errorf("lateThresholdMinutes (%d) must be < qrValidityMinutes (%d)",
			p.LateThresholdMinutes, p.QRValidityMinutes)
	}
	return nil
}

func (p PolicyConfig) QRValidity() time.Duration {
	return time.Duration(p.QRValidityMinutes) * time.Minute
}

func (p PolicyConfig) CheckinWindow() time.Duration {
	return time.Duration(p.CheckinWindowMinutes) * time.Minute
}

func (p PolicyConfig) LateThreshold() time.Duration {
	return time.Duration(p.LateThresholdMinutes) * time.Minute
}

// Value stores the snapshot as a jsonb column.
func (p PolicyConfig) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *PolicyConfig) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	case nil:
		*p = PolicyConfig{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into PolicyConfig", src)
	}
}
