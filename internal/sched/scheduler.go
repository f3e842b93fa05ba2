package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/voicebridge/bridged/internal/model"
)

// Clock abstracts time so tests can drive event firing deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func SystemClock() Clock { return systemClock{} }

// Notifier performs the trigger side effects (sound, desktop notification,
// speech). The scheduler only owns the wait-and-fire lifecycle.
type Notifier interface {
	EventFired(ev model.ScheduledEvent)
}

// Store is the persistence surface the scheduler needs. Events are persisted
// on every create, trigger, and cancel so a restart can reconstruct the
// declarative state.
type Store interface {
	UpsertScheduledEvent(ctx context.Context, ev model.ScheduledEvent) error
	MarkEventTriggered(ctx context.Context, eventID string) error
	DeleteScheduledEvent(ctx context.Context, eventID string) error
	ListScheduledEvents(ctx context.Context) ([]model.ScheduledEvent, error)
}

// Scheduler owns the alarm/timer/reminder collections and exactly one live
// wait task per pending event. Collections are instance state, never shared.
type Scheduler struct {
	store    Store
	notifier Notifier
	clock    Clock
	log      *logrus.Logger

	mu      sync.Mutex
	events  map[string]model.ScheduledEvent
	cancels map[string]context.CancelFunc
}

func New(store Store, notifier Notifier, clock Clock, log *logrus.Logger) *Scheduler {
	if clock == nil {
		clock = systemClock{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		store:    store,
		notifier: notifier,
		clock:    clock,
		log:      log,
		events:   map[string]model.ScheduledEvent{},
		cancels:  map[string]context.CancelFunc{},
	}
}

// SetAlarm schedules a wall-clock alarm. A time already past today fires
// tomorrow.
func (s *Scheduler) SetAlarm(ctx context.Context, timeSpec, label string) model.Result {
	if label == "" {
		label = "Alarm"
	}
	now := s.clock.Now()
	fireAt, err := parseClockTime(timeSpec, now)
	if err != nil {
		return model.Errorf(fmt.Sprintf("Failed to set alarm: %v", err)).With("code", model.ErrBadSchedule)
	}
	ev, result := s.create(ctx, model.KindAlarm, fireAt, label)
	if result != nil {
		return *result
	}
	return model.Success(fmt.Sprintf("Alarm %q set for %s (%s from now)",
		label, fireAt.Format("15:04"), formatDuration(fireAt.Sub(now)))).
		With("alarm_id", ev.ID)
}

// SetTimer schedules a relative countdown. Durations are always relative, so
// there is no already-passed adjustment.
func (s *Scheduler) SetTimer(ctx context.Context, durationSpec, label string) model.Result {
	if label == "" {
		label = "Timer"
	}
	d, err := parseDuration(durationSpec)
	if err != nil {
		return model.Errorf(fmt.Sprintf("Failed to set timer: %v", err)).With("code", model.ErrBadSchedule)
	}
	ev, result := s.create(ctx, model.KindTimer, s.clock.Now().Add(d), label)
	if result != nil {
		return *result
	}
	return model.Success(fmt.Sprintf("Timer %q set for %s", label, formatDuration(d))).
		With("timer_id", ev.ID)
}

// SetReminder schedules a reminder from a relative or absolute time spec.
func (s *Scheduler) SetReminder(ctx context.Context, timeSpec, message string) model.Result {
	now := s.clock.Now()
	fireAt, err := parseReminderTime(timeSpec, now)
	if err != nil {
		return model.Errorf(fmt.Sprintf("Failed to set reminder: %v", err)).With("code", model.ErrBadSchedule)
	}
	ev, result := s.create(ctx, model.KindReminder, fireAt, message)
	if result != nil {
		return *result
	}
	return model.Success(fmt.Sprintf("Reminder set for %s: %s", fireAt.Format("15:04"), message)).
		With("reminder_id", ev.ID)
}

func (s *Scheduler) create(ctx context.Context, kind model.EventKind, fireAt time.Time, label string) (model.ScheduledEvent, *model.Result) {
	ev := model.ScheduledEvent{
		ID:        uuid.NewString()[:8],
		Kind:      kind,
		FireAt:    fireAt,
		Label:     label,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.UpsertScheduledEvent(ctx, ev); err != nil {
		result := model.Errorf(fmt.Sprintf("Failed to persist %s: %v", kind, err))
		return model.ScheduledEvent{}, &result
	}
	s.mu.Lock()
	s.events[ev.ID] = ev
	s.mu.Unlock()
	s.arm(ev)
	return ev, nil
}

// arm starts the single wait task owning this event's firing. The task
// removes its own bookkeeping entry on exit, fired or cancelled.
func (s *Scheduler) arm(ev model.ScheduledEvent) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[ev.ID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.cancels, ev.ID)
			s.mu.Unlock()
		}()
		if wait := ev.FireAt.Sub(s.clock.Now()); wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(wait):
			}
		}
		s.fire(ev.ID)
	}()
}

func (s *Scheduler) fire(eventID string) {
	s.mu.Lock()
	ev, ok := s.events[eventID]
	if !ok || ev.Triggered {
		s.mu.Unlock()
		return
	}
	ev.Triggered = true
	s.events[eventID] = ev
	s.mu.Unlock()

	if err := s.store.MarkEventTriggered(context.Background(), eventID); err != nil {
		s.log.WithFields(logrus.Fields{"event_id": eventID, "error": err}).Error("persist trigger")
	}
	if s.notifier != nil {
		s.notifier.EventFired(ev)
	}
	s.log.WithFields(logrus.Fields{"event_id": eventID, "kind": ev.Kind, "label": ev.Label}).Info("scheduled event fired")
}

// Cancel stops the wait task and removes the event. Cancelling an unknown or
// already-terminal id is a no-op, never an error.
func (s *Scheduler) Cancel(ctx context.Context, eventID string) model.Result {
	s.mu.Lock()
	cancel, hadTask := s.cancels[eventID]
	_, hadEvent := s.events[eventID]
	delete(s.events, eventID)
	s.mu.Unlock()

	if hadTask {
		cancel()
	}
	if err := s.store.DeleteScheduledEvent(ctx, eventID); err != nil {
		return model.Errorf(fmt.Sprintf("Failed to remove %s: %v", eventID, err))
	}
	if !hadEvent && !hadTask {
		return model.Success(fmt.Sprintf("Nothing scheduled under %s", eventID))
	}
	return model.Success(fmt.Sprintf("Cancelled: %s", eventID))
}

// List returns a snapshot of all events grouped by kind.
func (s *Scheduler) List() model.Result {
	s.mu.Lock()
	alarms := make([]model.ScheduledEvent, 0)
	timers := make([]model.ScheduledEvent, 0)
	reminders := make([]model.ScheduledEvent, 0)
	for _, ev := range s.events {
		switch ev.Kind {
		case model.KindAlarm:
			alarms = append(alarms, ev)
		case model.KindTimer:
			timers = append(timers, ev)
		case model.KindReminder:
			reminders = append(reminders, ev)
		}
	}
	s.mu.Unlock()

	return model.Success(fmt.Sprintf("Active: %d alarms, %d timers, %d reminders",
		len(alarms), len(timers), len(reminders))).
		With("alarms", alarms).
		With("timers", timers).
		With("reminders", reminders)
}

// Snapshot returns a copy of every tracked event, for tests and status.
func (s *Scheduler) Snapshot() []model.ScheduledEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ScheduledEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	return out
}

// Restore loads persisted events after a restart. Past-due events are marked
// triggered without firing their side effects. Future events are loaded as
// data; a live wait task is only recreated when rearm is set, since silently
// re-arming would change long-standing behavior.
func (s *Scheduler) Restore(ctx context.Context, rearm bool) error {
	events, err := s.store.ListScheduledEvents(ctx)
	if err != nil {
		return fmt.Errorf("load scheduled events: %w", err)
	}
	now := s.clock.Now()
	for _, ev := range events {
		if !ev.Triggered && !ev.FireAt.After(now) {
			ev.Triggered = true
			if err := s.store.MarkEventTriggered(ctx, ev.ID); err != nil {
				return fmt.Errorf("mark past-due event %s: %w", ev.ID, err)
			}
		}
		s.mu.Lock()
		s.events[ev.ID] = ev
		s.mu.Unlock()
		if !ev.Triggered && rearm {
			s.log.WithFields(logrus.Fields{"event_id": ev.ID, "fire_at": ev.FireAt}).Info("re-arming persisted event")
			s.arm(ev)
		}
	}
	return nil
}

// Shutdown cancels every live wait task. Events stay persisted.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, cancel := range s.cancels {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
