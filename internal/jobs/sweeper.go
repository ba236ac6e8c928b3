package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/campusops/attendance-server-go/internal/audit"
	"github.com/campusops/attendance-server-go/internal/repository"
	"github.com/campusops/attendance-server-go/internal/service"
)

// SweeperJob closes open sessions whose scheduled end plus the grace period
// has passed without a teacher check-out. It drives the same check-out path
// the teacher would, so auto-checkout resolution still runs.
type SweeperJob struct {
	store    repository.SessionStore
	sessions *service.SessionService
	grace    time.Duration
	interval time.Duration
	done     chan struct{}
}

func NewSweeperJob(
	store repository.SessionStore,
	sessions *service.SessionService,
	grace time.Duration,
	interval time.Duration,
) *SweeperJob {
	return &SweeperJob{
		store:    store,
		sessions: sessions,
		grace:    grace,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *SweeperJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("grace", j.grace).Msg("session sweeper started")
}

func (j *SweeperJob) Stop() {
	close(j.done)
	log.Info().Msg("session sweeper stopped")
}

func (j *SweeperJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.Sweep(time.Now())

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.Sweep(time.Now())
		}
	}
}

// Sweep performs one pass. A session another instance closed between the
// list and the check-out surfaces as INVALID_TRANSITION, which is not a
// failure here, just a lost race.
func (j *SweeperJob) Sweep(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stale, err := j.store.ListOpenSessionsEndedBefore(ctx, now.Add(-j.grace))
	if err != nil {
		log.Error().Err(err).Msg("sweeper: failed to list stale sessions")
		return
	}

	for _, session := range stale {
		result, err := j.sessions.TeacherCheckOut(ctx, session.ID, now)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", session.ID).Msg("sweeper: close failed")
			continue
		}

		log.Info().
			Str("sessionId", session.ID).
			Int("absentCreated", result.AbsentCreated).
			Msg("sweeper: closed overdue session")

		audit.Log(ctx, audit.Event{
			Type:      audit.EventSweeperClose,
			SessionID: session.ID,
			ClassID:   session.ClassID,
			TeacherID: session.TeacherID,
			Details:   map[string]interface{}{"absent_created": result.AbsentCreated},
		})
	}
}
