package model

import (
	"encoding/json"
	"time"
)

// ResultStatus is the normalized outcome tag carried by every Result.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
	StatusWarning ResultStatus = "warning"
	StatusInfo    ResultStatus = "info"
)

// Command is one decoded wire message. Protocol metadata (AuthToken,
// Timestamp, Nonce, RequestID) is stripped before dispatch.
type Command struct {
	Action    string `json:"action"`
	Target    string `json:"target,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Extra     string `json:"extra,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	RequestID string `json:"_reqId,omitempty"`
}

// Result is returned by every action handler. Fields holds action-specific
// payload merged alongside status/message on the wire.
type Result struct {
	Status  ResultStatus
	Message string
	Fields  map[string]any
}

func Success(message string) Result {
	return Result{Status: StatusSuccess, Message: message}
}

func Errorf(message string) Result {
	return Result{Status: StatusError, Message: message}
}

func Warning(message string) Result {
	return Result{Status: StatusWarning, Message: message}
}

func Info(message string) Result {
	return Result{Status: StatusInfo, Message: message}
}

// With returns a copy of the result with an extra field attached.
func (r Result) With(key string, value any) Result {
	fields := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		fields[k] = v
	}
	fields[key] = value
	r.Fields = fields
	return r
}

// MarshalJSON flattens Fields next to status and message.
func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["status"] = string(r.Status)
	out["message"] = r.Message
	return json.Marshal(out)
}

// EventKind distinguishes the three scheduled-event collections.
type EventKind string

const (
	KindAlarm    EventKind = "alarm"
	KindTimer    EventKind = "timer"
	KindReminder EventKind = "reminder"
)

// ScheduledEvent is an alarm, timer, or reminder owned by the scheduler.
// A live wait task exists 1:1 with a non-triggered event in a running process.
type ScheduledEvent struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	FireAt    time.Time `json:"fire_at"`
	Label     string    `json:"label"`
	Triggered bool      `json:"triggered"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryStatus tracks whether a ledger entry has been undone.
type HistoryStatus string

const (
	HistoryExecuted HistoryStatus = "executed"
	HistoryUndone   HistoryStatus = "undone"
)

// HistoryEntry is one executed command in the undo ledger. UndoCommand, when
// present, is a fully-formed Command dispatchable through the same dispatcher.
type HistoryEntry struct {
	Seq         int64             `json:"seq"`
	Timestamp   time.Time         `json:"timestamp"`
	Action      string            `json:"action"`
	Details     map[string]string `json:"details,omitempty"`
	Undoable    bool              `json:"undoable"`
	UndoCommand *Command          `json:"undo_command,omitempty"`
	Status      HistoryStatus     `json:"status"`
}

// Note is a quick text note stored by the notes actions.
type Note struct {
	NoteID    string    `json:"note_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Transition is one learned action-follows-action frequency row.
type Transition struct {
	PrevAction string `json:"prev_action"`
	NextAction string `json:"next_action"`
	Count      int64  `json:"count"`
}

// Error codes surfaced in error Results and logs.
const (
	ErrMissingAction = "E_MISSING_ACTION"
	ErrUnknownAction = "E_UNKNOWN_ACTION"
	ErrAuthFailed    = "E_AUTH_FAILED"
	ErrBadEnvelope   = "E_BAD_ENVELOPE"
	ErrBadSchedule   = "E_BAD_SCHEDULE"
	ErrHandlerFailed = "E_HANDLER_FAILED"
)
