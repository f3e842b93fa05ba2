package learn

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/voicebridge/bridged/internal/db"
	"github.com/voicebridge/bridged/internal/model"
)

// Prediction is one likely follow-up action with its observed share of all
// transitions out of the same predecessor.
type Prediction struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

// Learner accumulates action-to-action transition counts and answers
// prediction queries from them. Counts persist across restarts; the only
// in-memory state is the previous action of the current session.
type Learner struct {
	store *db.Store
	log   *logrus.Logger

	mu   sync.Mutex
	prev string
}

func New(store *db.Store, log *logrus.Logger) *Learner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Learner{store: store, log: log}
}

// Notify records that action followed the previous successful action. The
// first action of a session only seeds the chain.
func (l *Learner) Notify(action string) {
	l.mu.Lock()
	prev := l.prev
	l.prev = action
	l.mu.Unlock()

	if prev == "" || prev == action {
		return
	}
	if err := l.store.BumpTransition(context.Background(), prev, action); err != nil {
		l.log.WithFields(logrus.Fields{"prev": prev, "next": action, "error": err}).Error("record transition")
	}
}

// Predict returns the most likely next actions after the last successful one.
func (l *Learner) Predict(ctx context.Context, limit int) model.Result {
	l.mu.Lock()
	prev := l.prev
	l.mu.Unlock()

	if prev == "" {
		return model.Info("No command history yet in this session")
	}
	transitions, err := l.store.TopTransitions(ctx, prev, limit)
	if err != nil {
		return model.Errorf(fmt.Sprintf("Failed to read transitions: %v", err))
	}
	if len(transitions) == 0 {
		return model.Info(fmt.Sprintf("No learned follow-ups after %s yet", prev))
	}

	var total int64
	for _, tr := range transitions {
		total += tr.Count
	}
	preds := make([]Prediction, 0, len(transitions))
	names := make([]string, 0, len(transitions))
	for _, tr := range transitions {
		preds = append(preds, Prediction{Action: tr.NextAction, Confidence: float64(tr.Count) / float64(total)})
		names = append(names, tr.NextAction)
	}
	return model.Success(fmt.Sprintf("After %s you usually run: %s", prev, strings.Join(names, ", "))).
		With("after", prev).
		With("predictions", preds)
}

// DetectRoutines surfaces transition pairs frequent enough to look habitual.
func (l *Learner) DetectRoutines(ctx context.Context, minCount int) model.Result {
	if minCount <= 0 {
		minCount = 3
	}
	transitions, err := l.store.FrequentTransitions(ctx, minCount, 10)
	if err != nil {
		return model.Errorf(fmt.Sprintf("Failed to read transitions: %v", err))
	}
	if len(transitions) == 0 {
		return model.Info("No routines detected yet")
	}
	lines := make([]string, 0, len(transitions))
	for _, tr := range transitions {
		lines = append(lines, fmt.Sprintf("%s -> %s (%dx)", tr.PrevAction, tr.NextAction, tr.Count))
	}
	return model.Success(fmt.Sprintf("Detected %d routine(s)", len(transitions))).
		With("routines", lines)
}
