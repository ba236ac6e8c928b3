package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/campusops/attendance-server-go/internal/model"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Attendance policy. Sessions snapshot these values at teacher
	// check-in, so edits only affect sessions opened afterwards.
	QRValidityMinutes          int  `env:"QR_VALIDITY_MINUTES" envDefault:"15"`
	CheckinWindowMinutes       int  `env:"CHECKIN_WINDOW_MINUTES" envDefault:"15"`
	LateThresholdMinutes       int  `env:"LATE_THRESHOLD_MINUTES" envDefault:"5"`
	AutoCheckoutEnabled        bool `env:"AUTO_CHECKOUT_ENABLED" envDefault:"true"`
	TeacherRequiredForStudents bool `env:"TEACHER_REQUIRED_FOR_STUDENTS" envDefault:"true"`

	SessionCloseGraceMinutes int `env:"SESSION_CLOSE_GRACE_MINUTES" envDefault:"15"`
	ScanRateLimitPerMin      int `env:"SCAN_RATE_LIMIT_PER_MIN" envDefault:"10"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) SessionCloseGrace() time.Duration {
	return time.Duration(c.SessionCloseGraceMinutes) * time.Minute
}

// Policy returns the policy snapshot currently in effect.
func (c *Config) Policy() model.PolicyConfig {
	return model.PolicyConfig{
		QRValidityMinutes:          c.QRValidityMinutes,
		CheckinWindowMinutes:       c.CheckinWindowMinutes,
		LateThresholdMinutes:       c.LateThresholdMinutes,
		AutoCheckoutEnabled:        c.AutoCheckoutEnabled,
		TeacherRequiredForStudents: c.TeacherRequiredForStudents,
		LoadedAt:                   time.Now(),
	}
}

func (c *Config) Validate() error {
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("invalid attendance policy: %w", err)
	}
	if c.SessionCloseGraceMinutes < 0 {
		return fmt.Errorf("SESSION_CLOSE_GRACE_MINUTES must be >= 0, got %d", c.SessionCloseGraceMinutes)
	}
	if c.ScanRateLimitPerMin <= 0 {
		return fmt.Errorf("SCAN_RATE_LIMIT_PER_MIN must be > 0, got %d", c.ScanRateLimitPerMin)
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
