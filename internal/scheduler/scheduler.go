// Package scheduler turns per-subscription cron expressions into discovery
// jobs on the queue.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"vidkeep/internal/catalog"
	"vidkeep/internal/logging"
	"vidkeep/internal/queue"
)

// Standard five-field cron expressions, minute resolution.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler owns one cron entry per enabled subscription. A firing entry
// enqueues a discovery job; the cron runner re-arms it automatically.
type Scheduler struct {
	catalog *catalog.Store
	queue   *queue.Store
	logger  *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[int64]scheduledEntry
	running bool
}

type scheduledEntry struct {
	id         cron.EntryID
	expression string
}

// EntryStatus describes one scheduled subscription.
type EntryStatus struct {
	SubscriptionID int64
	CheckFrequency string
	NextRun        time.Time
}

// New builds a stopped scheduler. Call Start before Schedule or Rebuild.
func New(catalogStore *catalog.Store, queueStore *queue.Store, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		catalog: catalogStore,
		queue:   queueStore,
		logger:  logging.NewComponentLogger(logger, "scheduler"),
		cron:    cron.New(cron.WithParser(cronParser)),
		entries: make(map[int64]scheduledEntry),
	}
}

// ValidateExpression reports whether expr is an acceptable check frequency.
func ValidateExpression(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Start begins firing entries. Safe to call once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
}

// Stop halts firing and waits for in-flight enqueues to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCtx := s.cron.Stop()
	s.mu.Unlock()
	<-stopCtx.Done()
}

// Schedule adds or replaces the cron entry for a subscription. Invalid
// expressions fail closed: the subscription simply does not fire.
func (s *Scheduler) Schedule(sub *catalog.Subscription) error {
	if sub == nil {
		return fmt.Errorf("schedule: subscription is nil")
	}
	if !sub.Enabled {
		s.Unschedule(sub.ID)
		return nil
	}
	if err := ValidateExpression(sub.CheckFrequency); err != nil {
		s.Unschedule(sub.ID)
		return fmt.Errorf("schedule subscription %d: %w", sub.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[sub.ID]; ok {
		s.cron.Remove(existing.id)
		delete(s.entries, sub.ID)
	}
	subscriptionID := sub.ID
	entryID, err := s.cron.AddFunc(sub.CheckFrequency, func() {
		s.fire(subscriptionID)
	})
	if err != nil {
		return fmt.Errorf("schedule subscription %d: %w", sub.ID, err)
	}
	s.entries[sub.ID] = scheduledEntry{id: entryID, expression: sub.CheckFrequency}
	s.logger.Info("subscription scheduled",
		logging.Int64(logging.FieldSubscriptionID, sub.ID),
		logging.String("check_frequency", sub.CheckFrequency))
	return nil
}

// Unschedule removes a subscription's entry if present.
func (s *Scheduler) Unschedule(subscriptionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[subscriptionID]
	if !ok {
		return
	}
	s.cron.Remove(entry.id)
	delete(s.entries, subscriptionID)
	s.logger.Info("subscription unscheduled",
		logging.Int64(logging.FieldSubscriptionID, subscriptionID))
}

// Reschedule re-reads the subscription and applies its current settings.
func (s *Scheduler) Reschedule(ctx context.Context, subscriptionID int64) error {
	sub, err := s.catalog.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("reschedule subscription %d: %w", subscriptionID, err)
	}
	return s.Schedule(sub)
}

// Rebuild drops every entry and schedules all enabled subscriptions. Bad
// cron expressions are logged and skipped so one broken row cannot block
// startup.
func (s *Scheduler) Rebuild(ctx context.Context) error {
	subs, err := s.catalog.ListEnabledSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("rebuild schedule: %w", err)
	}

	s.mu.Lock()
	for id, entry := range s.entries {
		s.cron.Remove(entry.id)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if err := s.Schedule(sub); err != nil {
			s.logger.Warn("skipping unschedulable subscription",
				logging.Int64(logging.FieldSubscriptionID, sub.ID),
				logging.Error(err))
		}
	}
	return nil
}

// TriggerNow enqueues a discovery job immediately, outside the cron cadence.
func (s *Scheduler) TriggerNow(ctx context.Context, subscriptionID int64) (*queue.Job, error) {
	payload, err := queue.EncodePayload(queue.DiscoveryPayload{Trigger: "manual"})
	if err != nil {
		return nil, err
	}
	job, err := s.queue.Enqueue(ctx, &queue.Job{
		Type:           queue.JobDiscovery,
		SubscriptionID: &subscriptionID,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("trigger discovery for subscription %d: %w", subscriptionID, err)
	}
	return job, nil
}

// fire runs on the cron goroutine. It only enqueues; discovery workers do
// the network I/O.
func (s *Scheduler) fire(subscriptionID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	payload, err := queue.EncodePayload(queue.DiscoveryPayload{Trigger: "cron"})
	if err != nil {
		s.logger.Error("encode discovery payload", logging.Error(err))
		return
	}
	job, err := s.queue.Enqueue(ctx, &queue.Job{
		Type:           queue.JobDiscovery,
		SubscriptionID: &subscriptionID,
		Payload:        payload,
	})
	if err != nil {
		s.logger.Error("enqueue scheduled discovery",
			logging.Int64(logging.FieldSubscriptionID, subscriptionID),
			logging.Error(err))
		return
	}
	s.logger.Info("discovery job enqueued",
		logging.Int64(logging.FieldSubscriptionID, subscriptionID),
		logging.Int64(logging.FieldJobID, job.ID))
}

// Status reports each scheduled subscription with its next fire time,
// ordered by subscription ID.
func (s *Scheduler) Status() []EntryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]EntryStatus, 0, len(s.entries))
	for subscriptionID, scheduled := range s.entries {
		entry := s.cron.Entry(scheduled.id)
		statuses = append(statuses, EntryStatus{
			SubscriptionID: subscriptionID,
			CheckFrequency: scheduled.expression,
			NextRun:        entry.Next,
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].SubscriptionID < statuses[j].SubscriptionID
	})
	return statuses
}

// NextRun computes when the expression would next fire from now. Exposed for
// status rendering of subscriptions that are not currently scheduled.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}
