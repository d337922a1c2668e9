package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/healthwatch/healthwatch-go/pkg/wire"
)

func logOne(t *testing.T, event Event) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	NewSlogAdapter(slog.New(handler)).Log(event)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestSlogAdapterLogsFrameEvent(t *testing.T) {
	entry := logOne(t, Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-123",
		Direction:    DirectionIn,
		Layer:        LayerTransport,
		Frame:        &FrameEvent{Size: 256, Data: []byte{0x01}},
	})

	if entry["conn_id"] != "conn-123" {
		t.Errorf("conn_id: got %v", entry["conn_id"])
	}
	if entry["layer"] != "TRANSPORT" {
		t.Errorf("layer: got %v", entry["layer"])
	}
	if entry["frame_size"] != float64(256) {
		t.Errorf("frame_size: got %v", entry["frame_size"])
	}
	if entry["level"] != "DEBUG" {
		t.Errorf("level: got %v", entry["level"])
	}
}

func TestSlogAdapterLogsResult(t *testing.T) {
	call := &wire.MethodCall{CallID: 42, Method: "setupHealthKitObservers"}
	entry := logOne(t, Event{
		Direction: DirectionOut,
		Layer:     LayerWire,
		Channel:   "com.example.healthkitIntegrationTesting/background",
		Message:   ResultMessage(call.Method, wire.Success(call, true), time.Millisecond),
	})

	if entry["call_id"] != float64(42) {
		t.Errorf("call_id: got %v", entry["call_id"])
	}
	if entry["method"] != "setupHealthKitObservers" {
		t.Errorf("method: got %v", entry["method"])
	}
	if entry["status"] != "SUCCESS" {
		t.Errorf("status: got %v", entry["status"])
	}
	if entry["channel"] == nil {
		t.Error("channel missing")
	}
}

func TestSlogAdapterLogsStateChange(t *testing.T) {
	entry := logOne(t, Event{
		Layer:      LayerService,
		Category:   CategoryState,
		Invocation: 3,
		StateChange: &StateChangeEvent{
			Entity:   StateEntitySubscription,
			Subject:  "bloodGlucose",
			OldState: "PENDING",
			NewState: "FAILED",
			Reason:   "permission revoked",
		},
	})

	if entry["entity"] != "SUBSCRIPTION" || entry["subject"] != "bloodGlucose" {
		t.Errorf("entity/subject: got %v/%v", entry["entity"], entry["subject"])
	}
	if entry["new_state"] != "FAILED" || entry["reason"] != "permission revoked" {
		t.Errorf("new_state/reason: got %v/%v", entry["new_state"], entry["reason"])
	}
	if entry["invocation"] != float64(3) {
		t.Errorf("invocation: got %v", entry["invocation"])
	}
	if _, ok := entry["conn_id"]; ok {
		t.Error("conn_id should be omitted for service events")
	}
}

func TestSlogAdapterLogsUpdateAndError(t *testing.T) {
	entry := logOne(t, Event{
		Layer:    LayerService,
		Category: CategoryUpdate,
		Update:   &UpdateEvent{Type: "steps", Seq: 9, Forwarded: true},
	})
	if entry["type"] != "steps" || entry["seq"] != float64(9) || entry["forwarded"] != true {
		t.Errorf("update attrs: %v", entry)
	}

	entry = logOne(t, Event{
		Category: CategoryError,
		Error:    &ErrorEventData{Layer: LayerWire, Message: "bad frame", Context: "decode"},
	})
	if entry["error_layer"] != "WIRE" || entry["error_msg"] != "bad frame" || entry["error_context"] != "decode" {
		t.Errorf("error attrs: %v", entry)
	}
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	NewSlogAdapter(slog.New(handler)).Log(Event{Timestamp: time.Now()})

	if buf.Len() != 0 {
		t.Errorf("expected no output at info level, got %q", buf.String())
	}
}
