package leaf

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/voicebridge/bridged/internal/model"
)

// EventFired delivers the trigger side effects for a scheduled event: a
// desktop notification always, speech for reminders. Delivery failures are
// logged, never propagated; the event is already marked triggered.
func (e *Executor) EventFired(ev model.ScheduledEvent) {
	ctx := context.Background()

	var title string
	switch ev.Kind {
	case model.KindAlarm:
		title = fmt.Sprintf("Alarm: %s", ev.Label)
	case model.KindTimer:
		title = fmt.Sprintf("Timer done: %s", ev.Label)
	case model.KindReminder:
		title = "Reminder"
	default:
		title = ev.Label
	}

	if _, err := e.run(ctx, "notify-send", "-u", "critical", title, ev.Label); err != nil {
		e.log.WithFields(logrus.Fields{"event_id": ev.ID, "error": err}).Error("deliver notification")
	}
	if ev.Kind == model.KindReminder {
		if _, err := e.run(ctx, "spd-say", ev.Label); err != nil {
			e.log.WithFields(logrus.Fields{"event_id": ev.ID, "error": err}).Error("speak reminder")
		}
	}
}
