package workers

import (
	"context"
	"fmt"
	"time"

	"rpg-portal/logger"

	"github.com/go-co-op/gocron/v2"
)

// Job is a named periodic task.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler runs Jobs on gocron until Shutdown.
type Scheduler struct {
	sched gocron.Scheduler
}

// Start registers every job with a positive interval and starts the
// scheduler. Runs of one job never overlap.
func Start(ctx context.Context, jobs ...Job) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	for _, j := range jobs {
		if j.Every <= 0 {
			logger.Info().Str("job", j.Name).Msg("⏸️ Job disabled")
			continue
		}
		job := j
		_, err := sched.NewJob(
			gocron.DurationJob(job.Every),
			gocron.NewTask(func() {
				started := time.Now()
				if err := job.Run(ctx); err != nil {
					logger.Error().Err(err).Str("job", job.Name).Msg("❌ Scheduled job failed")
					return
				}
				logger.Debug().Str("job", job.Name).Dur("took", time.Since(started)).Msg("Scheduled job finished")
			}),
			gocron.WithName(job.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("register job %s: %w", job.Name, err)
		}
		logger.Info().Str("job", job.Name).Dur("every", job.Every).Msg("🔁 Job scheduled")
	}
	sched.Start()
	return &Scheduler{sched: sched}, nil
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
