package notes

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/voicebridge/bridged/internal/action"
	"github.com/voicebridge/bridged/internal/db"
	"github.com/voicebridge/bridged/internal/model"
)

// Recorder is the slice of the history ledger the notes actions need.
type Recorder interface {
	Record(ctx context.Context, action string, details map[string]string, undoable bool, undoCmd *model.Command) (model.HistoryEntry, error)
}

// Service implements the note-taking actions over the shared store.
type Service struct {
	store    *db.Store
	recorder Recorder
}

func New(store *db.Store, recorder Recorder) *Service {
	return &Service{store: store, recorder: recorder}
}

// RegisterActions wires the note actions into the registry.
func (s *Service) RegisterActions(r *action.Registry) {
	r.Register("add_note", s.Add)
	r.Register("list_notes", s.List)
	r.Register("search_notes", s.Search)
	r.Register("delete_note", s.Delete)
	r.Alias("take_note", "add_note")
}

// Add creates a note. Target is the title, payload the body; a body-only note
// gets an untitled default.
func (s *Service) Add(ctx context.Context, inv action.Invocation) model.Result {
	title := inv.Target
	body := inv.Payload
	if title == "" && body == "" {
		return model.Errorf("Note needs a title or a body")
	}
	if title == "" {
		title = "Untitled"
	}
	note := model.Note{NoteID: uuid.NewString()[:8], Title: title, Body: body}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return model.Errorf(fmt.Sprintf("Failed to save note: %v", err))
	}
	s.record(ctx, "add_note", map[string]string{"note_id": note.NoteID, "title": title}, true, &model.Command{
		Action: "delete_note",
		Target: note.NoteID,
	})
	return model.Success(fmt.Sprintf("Note saved: %s", title)).With("note_id", note.NoteID)
}

// List returns all notes, optionally filtered by exact title.
func (s *Service) List(ctx context.Context, inv action.Invocation) model.Result {
	found, err := s.store.ListNotes(ctx, inv.Target)
	if err != nil {
		return model.Errorf(fmt.Sprintf("Failed to list notes: %v", err))
	}
	return model.Success(fmt.Sprintf("%d note(s)", len(found))).With("notes", found)
}

// Search matches the term against titles and bodies.
func (s *Service) Search(ctx context.Context, inv action.Invocation) model.Result {
	term := inv.Payload
	if term == "" {
		term = inv.Target
	}
	if term == "" {
		return model.Errorf("Search needs a term")
	}
	found, err := s.store.SearchNotes(ctx, term)
	if err != nil {
		return model.Errorf(fmt.Sprintf("Failed to search notes: %v", err))
	}
	if len(found) == 0 {
		return model.Info(fmt.Sprintf("No notes matching %q", term))
	}
	return model.Success(fmt.Sprintf("%d note(s) matching %q", len(found), term)).With("notes", found)
}

// Delete removes a note by id and records an inverse that re-adds it.
func (s *Service) Delete(ctx context.Context, inv action.Invocation) model.Result {
	if inv.Target == "" {
		return model.Errorf("delete_note needs a note id")
	}
	note, err := s.store.DeleteNote(ctx, inv.Target)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return model.Warning(fmt.Sprintf("No note with id %s", inv.Target))
		}
		return model.Errorf(fmt.Sprintf("Failed to delete note: %v", err))
	}
	s.record(ctx, "delete_note", map[string]string{"note_id": note.NoteID, "title": note.Title}, true, &model.Command{
		Action:  "add_note",
		Target:  note.Title,
		Payload: note.Body,
	})
	return model.Success(fmt.Sprintf("Deleted note: %s", note.Title))
}

func (s *Service) record(ctx context.Context, name string, details map[string]string, undoable bool, undoCmd *model.Command) {
	if s.recorder == nil {
		return
	}
	// Ledger failures never fail the action itself.
	_, _ = s.recorder.Record(ctx, name, details, undoable, undoCmd)
}
