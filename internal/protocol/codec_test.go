package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/voicebridge/bridged/internal/model"
)

func TestDecodeNormalizesAction(t *testing.T) {
	cmd, err := Decode([]byte(`{"action": "  Open_App ", "target": "Firefox"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Action != "open_app" {
		t.Fatalf("expected normalized action, got %q", cmd.Action)
	}
	if cmd.Target != "Firefox" {
		t.Fatalf("target must stay verbatim, got %q", cmd.Target)
	}
}

func TestDecodeKeepsProtocolMetadata(t *testing.T) {
	cmd, err := Decode([]byte(`{"action":"ping","auth_token":"tok","timestamp":42,"nonce":"n","_reqId":"r-1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.AuthToken != "tok" || cmd.Timestamp != 42 || cmd.Nonce != "n" || cmd.RequestID != "r-1" {
		t.Fatalf("metadata lost: %#v", cmd)
	}
}

func TestDecodeRejectsMalformedFrame(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestIsPing(t *testing.T) {
	if !IsPing([]byte("ping")) {
		t.Fatalf("literal ping frame not recognized")
	}
	if IsPing([]byte(`{"action":"ping"}`)) {
		t.Fatalf("JSON ping command is not a literal ping frame")
	}
}

func TestEncodeMergesRequestID(t *testing.T) {
	out, err := Encode(model.Success("done").With("value", 7), "req-9")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if decoded["_reqId"] != "req-9" {
		t.Fatalf("expected correlation id, got %v", decoded["_reqId"])
	}
	if decoded["status"] != "success" || decoded["message"] != "done" {
		t.Fatalf("unexpected result payload: %v", decoded)
	}
	if decoded["value"] != float64(7) {
		t.Fatalf("fields must flatten beside status, got %v", decoded["value"])
	}
}

func TestEncodeWithoutRequestIDOmitsField(t *testing.T) {
	out, err := Encode(model.Success("done"), "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if _, ok := decoded["_reqId"]; ok {
		t.Fatalf("unsolicited correlation id in %v", decoded)
	}
}

func TestEncodeBroadcastAddsTypeDiscriminator(t *testing.T) {
	out, err := EncodeBroadcast("system_monitor", map[string]any{"cpu": 3})
	if err != nil {
		t.Fatalf("encode broadcast: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if decoded["type"] != "system_monitor" {
		t.Fatalf("expected type discriminator, got %v", decoded)
	}
	if decoded["cpu"] != float64(3) {
		t.Fatalf("payload fields lost: %v", decoded)
	}
}
