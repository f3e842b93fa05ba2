package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/voicebridge/bridged/internal/db"
	"github.com/voicebridge/bridged/internal/model"
	"github.com/voicebridge/bridged/internal/security"
)

// Redispatcher re-enters the dispatch pipeline for inverse commands. Undo
// commands must be dispatchable like any client command.
type Redispatcher interface {
	Dispatch(ctx context.Context, cmd model.Command) model.Result
}

// Ledger is the append-only, capped history of executed commands with
// optional inverse descriptors.
type Ledger struct {
	store *db.Store
	cap   int
	log   *logrus.Logger
}

func New(store *db.Store, cap int, log *logrus.Logger) *Ledger {
	if cap <= 0 {
		cap = 500
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{store: store, cap: cap, log: log}
}

// Record appends one executed command. Details pass through secret redaction
// before storage; shell output routinely carries tokens and key material.
func (l *Ledger) Record(ctx context.Context, action string, details map[string]string, undoable bool, undoCmd *model.Command) (model.HistoryEntry, error) {
	redacted := make(map[string]string, len(details))
	for k, v := range details {
		redacted[k] = security.RedactPayload(v)
	}
	entry := model.HistoryEntry{
		Action:      action,
		Details:     redacted,
		Undoable:    undoable,
		UndoCommand: undoCmd,
		Status:      model.HistoryExecuted,
	}
	seq, err := l.store.AppendHistory(ctx, entry, l.cap)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	entry.Seq = seq
	return entry, nil
}

// UndoLast finds the newest executed undoable entry, re-dispatches its
// inverse, and marks the entry undone. Nothing to undo is an expected
// outcome, reported as a warning rather than an error. Undo is single-level
// and linear: one reverse pass, stop at the first eligible hit.
func (l *Ledger) UndoLast(ctx context.Context, d Redispatcher) model.Result {
	entry, err := l.store.LatestUndoable(ctx)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return model.Warning("Nothing to undo")
		}
		return model.Errorf(fmt.Sprintf("Failed to scan history: %v", err))
	}

	if entry.UndoCommand == nil {
		return model.Errorf(fmt.Sprintf("History entry %d is marked undoable but has no inverse", entry.Seq))
	}

	result := d.Dispatch(ctx, *entry.UndoCommand)
	if err := l.store.MarkHistoryUndone(ctx, entry.Seq); err != nil {
		l.log.WithFields(logrus.Fields{"seq": entry.Seq, "error": err}).Error("mark undone")
	}
	return model.Result{
		Status:  result.Status,
		Message: fmt.Sprintf("Undone: %s -> %s", entry.Action, result.Message),
	}
}

// Recent returns the newest entries for the history action.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	return l.store.RecentHistory(ctx, limit)
}
