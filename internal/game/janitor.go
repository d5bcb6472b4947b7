package game

import (
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"paddle-arena/server/internal/telemetry"
)

// schedulerLogger routes gocron's warnings and errors into the server's
// telemetry logger; the chatty levels stay muted.
type schedulerLogger struct {
	log telemetry.Logger
}

func (l schedulerLogger) Debug(string, ...any) {}

func (l schedulerLogger) Info(string, ...any) {}

func (l schedulerLogger) Warn(msg string, args ...any) {
	l.log.Printf("janitor: "+msg, args...)
}

func (l schedulerLogger) Error(msg string, args ...any) {
	l.log.Printf("janitor: "+msg, args...)
}

// StartJanitor schedules the periodic sweep releasing abandoned matches.
// The caller shuts the returned scheduler down on exit.
func (r *Registry) StartJanitor(interval, idleTimeout time.Duration, logger telemetry.Logger) (gocron.Scheduler, error) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	sched, err := gocron.NewScheduler(gocron.WithLogger(schedulerLogger{log: logger}))
	if err != nil {
		return nil, fmt.Errorf("create janitor scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			r.Sweep(time.Now(), idleTimeout)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule janitor sweep: %w", err)
	}
	sched.Start()
	return sched, nil
}
