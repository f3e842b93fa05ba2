package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voicebridge/bridged/internal/db"
	"github.com/voicebridge/bridged/internal/model"
)

type fakeDispatcher struct {
	dispatched []model.Command
	result     model.Result
}

func (f *fakeDispatcher) Dispatch(_ context.Context, cmd model.Command) model.Result {
	f.dispatched = append(f.dispatched, cmd)
	if f.result.Status == "" {
		return model.Success("done")
	}
	return f.result
}

func openTestLedger(t *testing.T, cap int) (*Ledger, *db.Store) {
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
	return New(store, cap, nil), store
}

func TestRecordRedactsDetails(t *testing.T) {
	ctx := context.Background()
	l, _ := openTestLedger(t, 0)

	entry, err := l.Record(ctx, "shell_execute", map[string]string{
		"command": "export API_KEY=super-secret-value",
		"plain":   "ls -la",
	}, false, nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	recent, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Seq != entry.Seq {
		t.Fatalf("unexpected history %+v", recent)
	}
	if strings.Contains(recent[0].Details["command"], "super-secret-value") {
		t.Fatalf("secret leaked into ledger: %q", recent[0].Details["command"])
	}
	if recent[0].Details["plain"] != "ls -la" {
		t.Fatalf("innocent detail mangled: %q", recent[0].Details["plain"])
	}
}

func TestUndoLastDispatchesInverseAndMarksUndone(t *testing.T) {
	ctx := context.Background()
	l, store := openTestLedger(t, 0)

	if _, err := l.Record(ctx, "open_app", map[string]string{"app": "firefox"}, true, &model.Command{
		Action: "close_app",
		Target: "firefox",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	d := &fakeDispatcher{}
	result := l.UndoLast(ctx, d)
	if result.Status != model.StatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(d.dispatched) != 1 || d.dispatched[0].Action != "close_app" || d.dispatched[0].Target != "firefox" {
		t.Fatalf("unexpected inverse dispatch %+v", d.dispatched)
	}
	if !strings.Contains(result.Message, "Undone: open_app") {
		t.Fatalf("unexpected message %q", result.Message)
	}

	if _, err := store.LatestUndoable(ctx); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("entry should be marked undone, got %v", err)
	}
	// Second undo has nothing left.
	result = l.UndoLast(ctx, d)
	if result.Status != model.StatusWarning || result.Message != "Nothing to undo" {
		t.Fatalf("expected nothing-to-undo warning, got %+v", result)
	}
	if len(d.dispatched) != 1 {
		t.Fatalf("no further dispatch expected, got %d", len(d.dispatched))
	}
}

func TestUndoLastWithEmptyLedgerWarns(t *testing.T) {
	l, _ := openTestLedger(t, 0)
	d := &fakeDispatcher{}
	result := l.UndoLast(context.Background(), d)
	if result.Status != model.StatusWarning || result.Message != "Nothing to undo" {
		t.Fatalf("expected warning, got %+v", result)
	}
	if len(d.dispatched) != 0 {
		t.Fatalf("nothing should be dispatched")
	}
}

func TestUndoLastRejectsEntryWithoutInverse(t *testing.T) {
	ctx := context.Background()
	l, store := openTestLedger(t, 0)

	// A row can only look like this through direct tampering; the guard keeps
	// the invariant local instead of trusting the query filter.
	if _, err := store.DB().ExecContext(ctx, `
INSERT INTO history(timestamp, action, details, undoable, undo_command, status)
VALUES ('2026-03-10T12:00:00Z', 'wifi', '{}', 1, '', 'executed')
`); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	d := &fakeDispatcher{}
	result := l.UndoLast(ctx, d)
	if result.Status != model.StatusError {
		t.Fatalf("expected error for missing inverse, got %+v", result)
	}
	if len(d.dispatched) != 0 {
		t.Fatalf("nothing should be dispatched without an inverse")
	}
}

func TestRecordEnforcesCap(t *testing.T) {
	ctx := context.Background()
	l, store := openTestLedger(t, 3)

	for i := 0; i < 5; i++ {
		if _, err := l.Record(ctx, "ping", nil, false, nil); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	recent, err := l.Recent(ctx, 100)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected cap of 3, got %d", len(recent))
	}
	oldest, err := store.OldestHistorySeq(ctx)
	if err != nil {
		t.Fatalf("oldest: %v", err)
	}
	if oldest != 3 {
		t.Fatalf("expected oldest surviving seq 3, got %d", oldest)
	}
}
