package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voicebridge/bridged/internal/model"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Scheduled events ---

func (s *Store) UpsertScheduledEvent(ctx context.Context, ev model.ScheduledEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO scheduled_events(event_id, kind, fire_at, label, triggered, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(event_id) DO UPDATE SET
	kind=excluded.kind,
	fire_at=excluded.fire_at,
	label=excluded.label,
	triggered=excluded.triggered
`, ev.ID, string(ev.Kind), ts(ev.FireAt), ev.Label, boolToInt(ev.Triggered), ts(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert scheduled event: %w", err)
	}
	return nil
}

func (s *Store) MarkEventTriggered(ctx context.Context, eventID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE scheduled_events SET triggered = 1 WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("mark event triggered: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark event triggered rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteScheduledEvent(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_events WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("delete scheduled event: %w", err)
	}
	return nil
}

func (s *Store) ListScheduledEvents(ctx context.Context) ([]model.ScheduledEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, kind, fire_at, label, triggered, created_at
FROM scheduled_events
ORDER BY fire_at ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled events: %w", err)
	}
	defer rows.Close()

	out := make([]model.ScheduledEvent, 0)
	for rows.Next() {
		var (
			ev        model.ScheduledEvent
			kind      string
			fireAt    string
			triggered int
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &kind, &fireAt, &ev.Label, &triggered, &createdAt); err != nil {
			return nil, fmt.Errorf("scan scheduled event: %w", err)
		}
		ev.Kind = model.EventKind(kind)
		ev.Triggered = triggered != 0
		if ev.FireAt, err = parseTS(fireAt); err != nil {
			return nil, fmt.Errorf("parse fire_at: %w", err)
		}
		if ev.CreatedAt, err = parseTS(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter scheduled events: %w", err)
	}
	return out, nil
}

// --- History ledger ---

// AppendHistory inserts a ledger entry and evicts rows beyond cap, oldest
// first. Returns the assigned sequence id.
func (s *Store) AppendHistory(ctx context.Context, entry model.HistoryEntry, cap int) (int64, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return 0, fmt.Errorf("encode history details: %w", err)
	}
	var undoCmd any
	if entry.UndoCommand != nil {
		b, err := json.Marshal(entry.UndoCommand)
		if err != nil {
			return 0, fmt.Errorf("encode undo command: %w", err)
		}
		undoCmd = string(b)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO history(timestamp, action, details, undoable, undo_command, status)
VALUES (?, ?, ?, ?, ?, 'executed')
`, ts(entry.Timestamp), entry.Action, string(details), boolToInt(entry.Undoable), undoCmd)
	if err != nil {
		return 0, fmt.Errorf("append history: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("history last insert id: %w", err)
	}
	if cap > 0 {
		if _, err := s.db.ExecContext(ctx, `
DELETE FROM history
WHERE seq NOT IN (SELECT seq FROM history ORDER BY seq DESC LIMIT ?)
`, cap); err != nil {
			return 0, fmt.Errorf("trim history: %w", err)
		}
	}
	return seq, nil
}

// LatestUndoable returns the newest executed entry that carries an undo
// command, or ErrNotFound.
func (s *Store) LatestUndoable(ctx context.Context) (model.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT seq, timestamp, action, details, undoable, undo_command, status
FROM history
WHERE undoable = 1 AND status = 'executed' AND undo_command IS NOT NULL
ORDER BY seq DESC
LIMIT 1
`)
	return scanHistory(row)
}

func (s *Store) MarkHistoryUndone(ctx context.Context, seq int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE history SET status = 'undone' WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("mark history undone: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark history undone rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) RecentHistory(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, timestamp, action, details, undoable, undo_command, status
FROM history
ORDER BY seq DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer rows.Close()

	out := make([]model.HistoryEntry, 0, limit)
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter history: %w", err)
	}
	return out, nil
}

func (s *Store) OldestHistorySeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MIN(seq), 0) FROM history`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("oldest history seq: %w", err)
	}
	return seq, nil
}

func scanHistory(scanner interface{ Scan(dest ...any) error }) (model.HistoryEntry, error) {
	var (
		entry       model.HistoryEntry
		timestamp   string
		details     string
		undoable    int
		undoCommand sql.NullString
		status      string
	)
	if err := scanner.Scan(&entry.Seq, &timestamp, &entry.Action, &details, &undoable, &undoCommand, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.HistoryEntry{}, ErrNotFound
		}
		return model.HistoryEntry{}, fmt.Errorf("scan history: %w", err)
	}
	entry.Undoable = undoable != 0
	entry.Status = model.HistoryStatus(status)
	var err error
	if entry.Timestamp, err = parseTS(timestamp); err != nil {
		return model.HistoryEntry{}, fmt.Errorf("parse history timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(details), &entry.Details); err != nil {
		return model.HistoryEntry{}, fmt.Errorf("decode history details: %w", err)
	}
	if undoCommand.Valid && undoCommand.String != "" {
		var cmd model.Command
		if err := json.Unmarshal([]byte(undoCommand.String), &cmd); err != nil {
			return model.HistoryEntry{}, fmt.Errorf("decode undo command: %w", err)
		}
		entry.UndoCommand = &cmd
	}
	return entry, nil
}

// --- Notes ---

func (s *Store) InsertNote(ctx context.Context, note model.Note) error {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO notes(note_id, title, body, created_at)
VALUES (?, ?, ?, ?)
`, note.NoteID, note.Title, note.Body, ts(note.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *Store) DeleteNote(ctx context.Context, noteID string) (model.Note, error) {
	note, err := s.getNote(ctx, noteID)
	if err != nil {
		return model.Note{}, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE note_id = ?`, noteID); err != nil {
		return model.Note{}, fmt.Errorf("delete note: %w", err)
	}
	return note, nil
}

func (s *Store) getNote(ctx context.Context, noteID string) (model.Note, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT note_id, title, body, created_at FROM notes WHERE note_id = ?
`, noteID)
	return scanNote(row)
}

func (s *Store) ListNotes(ctx context.Context, titleFilter string) ([]model.Note, error) {
	query := `SELECT note_id, title, body, created_at FROM notes`
	args := make([]any, 0, 1)
	if titleFilter != "" {
		query += ` WHERE title = ?`
		args = append(args, titleFilter)
	}
	query += ` ORDER BY created_at DESC`
	return s.queryNotes(ctx, query, args...)
}

func (s *Store) SearchNotes(ctx context.Context, term string) ([]model.Note, error) {
	pattern := "%" + term + "%"
	return s.queryNotes(ctx, `
SELECT note_id, title, body, created_at FROM notes
WHERE title LIKE ? OR body LIKE ?
ORDER BY created_at DESC
`, pattern, pattern)
}

func (s *Store) queryNotes(ctx context.Context, query string, args ...any) ([]model.Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	out := make([]model.Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter notes: %w", err)
	}
	return out, nil
}

func scanNote(scanner interface{ Scan(dest ...any) error }) (model.Note, error) {
	var (
		note      model.Note
		createdAt string
	)
	if err := scanner.Scan(&note.NoteID, &note.Title, &note.Body, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Note{}, ErrNotFound
		}
		return model.Note{}, fmt.Errorf("scan note: %w", err)
	}
	var err error
	if note.CreatedAt, err = parseTS(createdAt); err != nil {
		return model.Note{}, fmt.Errorf("parse note created_at: %w", err)
	}
	return note, nil
}

// --- Learned transitions ---

func (s *Store) BumpTransition(ctx context.Context, prevAction, nextAction string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO transitions(prev_action, next_action, count)
VALUES (?, ?, 1)
ON CONFLICT(prev_action, next_action) DO UPDATE SET count = count + 1
`, prevAction, nextAction)
	if err != nil {
		return fmt.Errorf("bump transition: %w", err)
	}
	return nil
}

func (s *Store) TopTransitions(ctx context.Context, prevAction string, limit int) ([]model.Transition, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT prev_action, next_action, count
FROM transitions
WHERE prev_action = ?
ORDER BY count DESC, next_action ASC
LIMIT ?
`, prevAction, limit)
	if err != nil {
		return nil, fmt.Errorf("top transitions: %w", err)
	}
	defer rows.Close()

	out := make([]model.Transition, 0, limit)
	for rows.Next() {
		var tr model.Transition
		if err := rows.Scan(&tr.PrevAction, &tr.NextAction, &tr.Count); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter transitions: %w", err)
	}
	return out, nil
}

// FrequentTransitions returns the pairs seen at least minCount times, most
// frequent first, for routine detection.
func (s *Store) FrequentTransitions(ctx context.Context, minCount, limit int) ([]model.Transition, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT prev_action, next_action, count
FROM transitions
WHERE count >= ?
ORDER BY count DESC, prev_action ASC, next_action ASC
LIMIT ?
`, minCount, limit)
	if err != nil {
		return nil, fmt.Errorf("frequent transitions: %w", err)
	}
	defer rows.Close()

	out := make([]model.Transition, 0, limit)
	for rows.Next() {
		var tr model.Transition
		if err := rows.Scan(&tr.PrevAction, &tr.NextAction, &tr.Count); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter transitions: %w", err)
	}
	return out, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
