package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voicebridge/bridged/internal/model"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []chan time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, ch)
	return ch
}

func (c *fakeClock) fire() {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, ch := range waiters {
		ch <- c.Now()
	}
}

func (c *fakeClock) waiterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func waitForWaiter(t *testing.T, c *fakeClock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.waiterCount() > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no wait task armed")
}

type fakeEventStore struct {
	mu     sync.Mutex
	events map[string]model.ScheduledEvent
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: map[string]model.ScheduledEvent{}}
}

func (s *fakeEventStore) UpsertScheduledEvent(_ context.Context, ev model.ScheduledEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = ev
	return nil
}

func (s *fakeEventStore) MarkEventTriggered(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.events[eventID]
	ev.Triggered = true
	s.events[eventID] = ev
	return nil
}

func (s *fakeEventStore) DeleteScheduledEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, eventID)
	return nil
}

func (s *fakeEventStore) ListScheduledEvents(_ context.Context) ([]model.ScheduledEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ScheduledEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	return out, nil
}

func (s *fakeEventStore) get(id string) (model.ScheduledEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	return ev, ok
}

type fakeNotifier struct {
	fired chan model.ScheduledEvent
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{fired: make(chan model.ScheduledEvent, 8)}
}

func (n *fakeNotifier) EventFired(ev model.ScheduledEvent) {
	n.fired <- ev
}

func (n *fakeNotifier) expectFired(t *testing.T) model.ScheduledEvent {
	t.Helper()
	select {
	case ev := <-n.fired:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("expected event to fire")
		return model.ScheduledEvent{}
	}
}

func (n *fakeNotifier) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case ev := <-n.fired:
		t.Fatalf("unexpected fire: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func idFromResult(t *testing.T, result model.Result, key string) string {
	t.Helper()
	id, ok := result.Fields[key].(string)
	if !ok || id == "" {
		t.Fatalf("missing %s in %+v", key, result)
	}
	return id
}

func TestSetTimerFiresAndPersists(t *testing.T) {
	clock := newFakeClock(noon)
	store := newFakeEventStore()
	notifier := newFakeNotifier()
	s := New(store, notifier, clock, nil)
	defer s.Shutdown()

	result := s.SetTimer(context.Background(), "5m", "tea")
	if result.Status != model.StatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	id := idFromResult(t, result, "timer_id")

	ev, ok := store.get(id)
	if !ok {
		t.Fatalf("timer not persisted")
	}
	if want := noon.Add(5 * time.Minute); !ev.FireAt.Equal(want) {
		t.Fatalf("expected fire_at %v, got %v", want, ev.FireAt)
	}

	waitForWaiter(t, clock)
	clock.fire()

	fired := notifier.expectFired(t)
	if fired.ID != id || fired.Label != "tea" {
		t.Fatalf("unexpected fired event %+v", fired)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if ev, _ := store.get(id); ev.Triggered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("trigger not persisted")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSetAlarmPastTimeRollsToTomorrow(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	store := newFakeEventStore()
	s := New(store, newFakeNotifier(), clock, nil)
	defer s.Shutdown()

	result := s.SetAlarm(context.Background(), "13:00", "standup")
	if result.Status != model.StatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	id := idFromResult(t, result, "alarm_id")
	ev, _ := store.get(id)
	if ev.FireAt.Day() != 11 || ev.FireAt.Hour() != 13 {
		t.Fatalf("expected tomorrow 13:00, got %v", ev.FireAt)
	}
}

func TestSetTimerRejectsBadDuration(t *testing.T) {
	s := New(newFakeEventStore(), newFakeNotifier(), newFakeClock(noon), nil)
	defer s.Shutdown()

	result := s.SetTimer(context.Background(), "yesterday", "")
	if result.Status != model.StatusError {
		t.Fatalf("expected error, got %+v", result)
	}
	if result.Fields["code"] != model.ErrBadSchedule {
		t.Fatalf("expected %s, got %v", model.ErrBadSchedule, result.Fields["code"])
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	clock := newFakeClock(noon)
	store := newFakeEventStore()
	notifier := newFakeNotifier()
	s := New(store, notifier, clock, nil)
	defer s.Shutdown()

	result := s.SetTimer(context.Background(), "5m", "tea")
	id := idFromResult(t, result, "timer_id")
	waitForWaiter(t, clock)

	if got := s.Cancel(context.Background(), id); got.Status != model.StatusSuccess {
		t.Fatalf("first cancel failed: %+v", got)
	}
	if _, ok := store.get(id); ok {
		t.Fatalf("cancelled event still persisted")
	}
	if got := s.Cancel(context.Background(), id); got.Status != model.StatusSuccess {
		t.Fatalf("second cancel must stay a no-op success: %+v", got)
	}

	clock.fire()
	notifier.expectSilence(t)
}

func TestListGroupsByKind(t *testing.T) {
	clock := newFakeClock(noon)
	s := New(newFakeEventStore(), newFakeNotifier(), clock, nil)
	defer s.Shutdown()

	s.SetAlarm(context.Background(), "18:00", "dinner")
	s.SetTimer(context.Background(), "10m", "laundry")
	s.SetReminder(context.Background(), "in 1 hour", "call back")

	result := s.List()
	if result.Status != model.StatusSuccess {
		t.Fatalf("list failed: %+v", result)
	}
	for _, key := range []string{"alarms", "timers", "reminders"} {
		group, ok := result.Fields[key].([]model.ScheduledEvent)
		if !ok || len(group) != 1 {
			t.Fatalf("expected one %s, got %v", key, result.Fields[key])
		}
	}
}

func TestRestoreMarksPastDueWithoutFiring(t *testing.T) {
	clock := newFakeClock(noon)
	store := newFakeEventStore()
	notifier := newFakeNotifier()
	store.events["old1"] = model.ScheduledEvent{
		ID:     "old1",
		Kind:   model.KindAlarm,
		FireAt: noon.Add(-time.Hour),
		Label:  "missed",
	}
	s := New(store, notifier, clock, nil)
	defer s.Shutdown()

	if err := s.Restore(context.Background(), false); err != nil {
		t.Fatalf("restore: %v", err)
	}
	ev, _ := store.get("old1")
	if !ev.Triggered {
		t.Fatalf("past-due event must be marked triggered")
	}
	notifier.expectSilence(t)
	if clock.waiterCount() != 0 {
		t.Fatalf("past-due event must not be re-armed")
	}
}

func TestRestoreRearmsFutureEventsOnlyWhenAsked(t *testing.T) {
	clock := newFakeClock(noon)
	store := newFakeEventStore()
	notifier := newFakeNotifier()
	store.events["fut1"] = model.ScheduledEvent{
		ID:     "fut1",
		Kind:   model.KindTimer,
		FireAt: noon.Add(time.Hour),
		Label:  "later",
	}
	s := New(store, notifier, clock, nil)
	if err := s.Restore(context.Background(), false); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if clock.waiterCount() != 0 {
		t.Fatalf("future event must stay unarmed without rearm")
	}
	s.Shutdown()

	clock2 := newFakeClock(noon)
	s2 := New(store, notifier, clock2, nil)
	defer s2.Shutdown()
	if err := s2.Restore(context.Background(), true); err != nil {
		t.Fatalf("restore with rearm: %v", err)
	}
	waitForWaiter(t, clock2)
	clock2.fire()
	fired := notifier.expectFired(t)
	if fired.ID != "fut1" {
		t.Fatalf("unexpected fired event %+v", fired)
	}
}
