package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/voicebridge/bridged/internal/model"
)

// ErrInvalidEnvelope marks a frame that is not a valid JSON command object.
// Unknown actions are not an envelope concern; the dispatcher owns those.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// PingFrame and PongFrame are literal text frames exchanged outside the JSON
// protocol so dumb clients can probe liveness without auth.
const (
	PingFrame = "ping"
	PongFrame = "pong"
)

func IsPing(raw []byte) bool {
	return string(raw) == PingFrame
}

// Decode parses a wire frame into a Command. The action is case-normalized
// here so every later layer sees one canonical spelling.
func Decode(raw []byte) (model.Command, error) {
	var cmd model.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return model.Command{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	cmd.Action = strings.ToLower(strings.TrimSpace(cmd.Action))
	return cmd, nil
}

// Encode serializes a Result, merging the correlation field verbatim when the
// request carried one so clients can match async responses on a shared
// connection.
func Encode(result model.Result, requestID string) ([]byte, error) {
	if requestID == "" {
		return json.Marshal(result)
	}
	return json.Marshal(result.With("_reqId", requestID))
}

// EncodeBroadcast serializes an out-of-band push message. The type
// discriminator lets clients tell pushes apart from request/response pairs.
func EncodeBroadcast(msgType string, fields map[string]any) ([]byte, error) {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["type"] = msgType
	return json.Marshal(out)
}
