// Package scheduler publishes reminder.due events for reminders whose
// time has come.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"taskpulse/internal/bus"
	"taskpulse/internal/domain"
)

// ReminderStore provides the reminder rows the scan needs.
type ReminderStore interface {
	DueReminders(ctx context.Context, now time.Time) ([]domain.ReminderEntity, error)
	MarkReminderSent(ctx context.Context, userID, reminderID string) error
}

// Scheduler runs the periodic due-reminder scan.
type Scheduler struct {
	cron        *cron.Cron
	store       ReminderStore
	pub         bus.Publisher
	scanTimeout time.Duration
	now         func() time.Time
}

// New wires a scheduler.
func New(store ReminderStore, pub bus.Publisher, scanTimeout time.Duration) *Scheduler {
	if scanTimeout <= 0 {
		scanTimeout = 30 * time.Second
	}
	return &Scheduler{
		cron:        cron.New(),
		store:       store,
		pub:         pub,
		scanTimeout: scanTimeout,
		now:         time.Now,
	}
}

// Start schedules the scan every interval and starts the cron loop.
func (s *Scheduler) Start(interval time.Duration) error {
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.scanTimeout)
		defer cancel()
		s.Scan(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running scan to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Scan publishes one reminder.due event per due, unsent reminder and
// marks each reminder sent after its event is on the bus. Failures
// leave the row unsent so the next scan retries it.
func (s *Scheduler) Scan(ctx context.Context) {
	now := s.now().UTC()
	due, err := s.store.DueReminders(ctx, now)
	if err != nil {
		log.WithError(err).Error("due reminder scan failed")
		return
	}
	for _, rem := range due {
		ev := domain.Event{
			EventType:    domain.ReminderDue,
			TaskID:       rem.TaskID,
			UserID:       rem.PartitionKey,
			ReminderID:   rem.RowKey,
			TaskTitle:    rem.TaskTitle,
			ReminderTime: rem.RemindAt,
			ReminderType: rem.ReminderType,
			Timestamp:    now,
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			log.WithError(err).WithField("reminder", rem.RowKey).Error("failed to encode reminder event")
			continue
		}
		if err := s.pub.Publish(ctx, domain.TopicReminderEvents, payload); err != nil {
			log.WithError(err).WithField("reminder", rem.RowKey).Error("failed to publish reminder event")
			continue
		}
		if err := s.store.MarkReminderSent(ctx, rem.PartitionKey, rem.RowKey); err != nil {
			// The event is already out; a redundant one on the next
			// scan is acceptable.
			log.WithError(err).WithField("reminder", rem.RowKey).Warn("failed to mark reminder sent")
		}
	}
}
