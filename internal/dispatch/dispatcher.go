package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/voicebridge/bridged/internal/action"
	"github.com/voicebridge/bridged/internal/model"
)

// Learner observes successfully dispatched actions. The dispatcher only
// depends on this notify contract.
type Learner interface {
	Notify(action string)
}

// untrackedActions never feed the learner: probes and meta queries would
// drown the transition counts.
var untrackedActions = map[string]struct{}{
	"ping":            {},
	"heartbeat":       {},
	"system_status":   {},
	"predict_next":    {},
	"detect_routines": {},
	"history":         {},
	"list_actions":    {},
}

type Dispatcher struct {
	registry *action.Registry
	learner  Learner
	log      *logrus.Logger
}

func New(registry *action.Registry, learner Learner, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{registry: registry, learner: learner, log: log}
}

// Dispatch resolves and runs one command. It always returns a Result: handler
// panics and malformed commands are normalized into error Results here so a
// broken leaf action can never take down a connection loop.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd model.Command) (result model.Result) {
	name := strings.ToLower(strings.TrimSpace(cmd.Action))
	if name == "" {
		return model.Errorf("Missing action in command payload").With("code", model.ErrMissingAction)
	}

	if action.Dangerous(name) {
		d.log.WithFields(logrus.Fields{"action": name, "target": cmd.Target}).Warn("dangerous action requested")
	}

	handler, ok := d.registry.Lookup(name)
	if !ok {
		return model.Errorf(fmt.Sprintf("Unknown action: %s. Available actions: %s",
			name, strings.Join(d.registry.Names(), ", "))).With("code", model.ErrUnknownAction)
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{"action": name, "panic": r}).Error("handler panicked")
			result = model.Errorf(fmt.Sprintf("%v", r)).With("code", model.ErrHandlerFailed)
		}
	}()

	result = handler(ctx, action.Invocation{Target: cmd.Target, Payload: cmd.Payload, Extra: cmd.Extra})
	if result.Status == "" {
		result.Status = model.StatusSuccess
	}

	if result.Status == model.StatusSuccess && d.learner != nil {
		if _, skip := untrackedActions[name]; !skip {
			d.learner.Notify(name)
		}
	}
	return result
}
