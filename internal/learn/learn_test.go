package learn

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voicebridge/bridged/internal/db"
	"github.com/voicebridge/bridged/internal/model"
)

func openTestLearner(t *testing.T) *Learner {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return New(store, nil)
}

func TestPredictBeforeAnyCommand(t *testing.T) {
	l := openTestLearner(t)
	result := l.Predict(context.Background(), 3)
	if result.Status != model.StatusInfo {
		t.Fatalf("expected info result, got %+v", result)
	}
}

func TestNotifyBuildsTransitionsAndPredicts(t *testing.T) {
	ctx := context.Background()
	l := openTestLearner(t)

	// open_app -> volume_control twice, open_app -> media_control once.
	l.Notify("open_app")
	l.Notify("volume_control")
	l.Notify("open_app")
	l.Notify("volume_control")
	l.Notify("open_app")
	l.Notify("media_control")
	l.Notify("open_app")

	result := l.Predict(ctx, 3)
	if result.Status != model.StatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Fields["after"] != "open_app" {
		t.Fatalf("expected prediction after open_app, got %v", result.Fields["after"])
	}
	if !strings.Contains(result.Message, "volume_control") {
		t.Fatalf("expected volume_control in %q", result.Message)
	}

	preds, ok := result.Fields["predictions"].([]Prediction)
	if !ok || len(preds) != 2 {
		t.Fatalf("unexpected predictions %v", result.Fields["predictions"])
	}
	if preds[0].Action != "volume_control" || preds[0].Confidence != 2.0/3.0 {
		t.Fatalf("unexpected top prediction %+v", preds[0])
	}
	if preds[1].Action != "media_control" || preds[1].Confidence != 1.0/3.0 {
		t.Fatalf("unexpected second prediction %+v", preds[1])
	}
}

func TestNotifyIgnoresSelfTransition(t *testing.T) {
	ctx := context.Background()
	l := openTestLearner(t)

	l.Notify("ping_target")
	l.Notify("ping_target")
	l.Notify("other")
	l.Notify("ping_target")

	result := l.Predict(ctx, 3)
	if result.Status != model.StatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	if strings.Contains(result.Message, "ping_target you usually run: ping_target") {
		t.Fatalf("self transition should not be learned: %q", result.Message)
	}
}

func TestDetectRoutines(t *testing.T) {
	ctx := context.Background()
	l := openTestLearner(t)

	for i := 0; i < 3; i++ {
		l.Notify("open_app")
		l.Notify("volume_control")
	}

	result := l.DetectRoutines(ctx, 3)
	if result.Status != model.StatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	routines, ok := result.Fields["routines"].([]string)
	if !ok || len(routines) == 0 {
		t.Fatalf("expected routines, got %v", result.Fields["routines"])
	}
	if !strings.Contains(routines[0], "open_app -> volume_control") {
		t.Fatalf("unexpected routine %q", routines[0])
	}
}

func TestDetectRoutinesEmpty(t *testing.T) {
	l := openTestLearner(t)
	result := l.DetectRoutines(context.Background(), 3)
	if result.Status != model.StatusInfo {
		t.Fatalf("expected info result, got %+v", result)
	}
}
