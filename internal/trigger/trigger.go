// Package trigger publishes recurrence run jobs on a cron schedule.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/jobs"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const publishTimeout = 30 * time.Second

// Settings is the schedule applied by Apply.
type Settings struct {
	Spec     string
	Timezone string
	Limit    int
}

// Scheduler owns a cron instance with a single entry that publishes a
// RecurrenceRunJob each time it fires.
type Scheduler struct {
	mu      sync.Mutex
	pub     jobs.Publisher
	log     zerolog.Logger
	parser  cron.Parser
	c       *cron.Cron
	entry   cron.EntryID
	current Settings
	applied bool
	running bool
}

// New returns a stopped scheduler with no schedule.
func New(pub jobs.Publisher, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		pub:    pub,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Apply installs a schedule, replacing the previous one. Re-applying the
// current settings is a no-op. A running scheduler keeps running.
func (s *Scheduler) Apply(set Settings) error {
	sched, err := s.parser.Parse(set.Spec)
	if err != nil {
		return fmt.Errorf("trigger.Apply: spec %q: %w", set.Spec, err)
	}
	loc := time.UTC
	if set.Timezone != "" {
		if loc, err = time.LoadLocation(set.Timezone); err != nil {
			return fmt.Errorf("trigger.Apply: timezone %q: %w", set.Timezone, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.applied && s.current == set {
		return nil
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	limit := set.Limit
	entry := c.Schedule(sched, cron.FuncJob(func() { s.fire(limit) }))

	if s.c != nil && s.running {
		s.c.Stop()
	}
	s.c, s.entry, s.current, s.applied = c, entry, set, true
	if s.running {
		s.c.Start()
	}

	s.log.Info().
		Str("spec", set.Spec).
		Str("timezone", loc.String()).
		Int("batch_limit", set.Limit).
		Msg("Recurrence schedule applied")
	return nil
}

func (s *Scheduler) fire(limit int) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.Fire(ctx, limit); err != nil {
		s.log.Error().Err(err).Msg("Failed to publish scheduled run")
	}
}

// Fire publishes one cron-triggered job immediately.
func (s *Scheduler) Fire(ctx context.Context, limit int) error {
	job := &jobs.RecurrenceRunJob{Trigger: jobs.TriggerCron, Limit: limit}
	if err := s.pub.PublishRecurrenceRun(ctx, job); err != nil {
		return fmt.Errorf("trigger.Fire: %w", err)
	}
	s.log.Debug().Str("job_id", job.JobID).Msg("Scheduled run published")
	return nil
}

// Start begins firing. It is a no-op when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	if s.c != nil {
		s.c.Start()
	}
}

// Stop halts the schedule and waits for an in-flight publish or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if c == nil || !wasRunning {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports when the schedule fires next. Zero if stopped or unscheduled.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil || !s.running {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Settings returns the last applied settings.
func (s *Scheduler) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
