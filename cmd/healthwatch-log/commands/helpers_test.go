package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/healthwatch/healthwatch-go/pkg/log"
	"github.com/healthwatch/healthwatch-go/pkg/wire"
)

// createTestLogFile writes events to a temporary .hwlog file.
func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.hwlog")
	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

// setupTrace is a trace of one failed setup followed by one update.
func setupTrace() []log.Event {
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	status := wire.StatusSuccess
	elapsed := 40 * time.Millisecond
	return []log.Event{
		{
			Timestamp: ts, ConnectionID: "c0ffee00-1111-2222-3333-444455556666",
			Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryMessage,
			RemoteAddr: "127.0.0.1:50000", Channel: "com.example.healthkitIntegrationTesting/background",
			Message: &log.MessageEvent{Type: log.MessageTypeCall, CallID: 1, Method: "setupHealthKitObservers"},
		},
		{
			Timestamp: ts.Add(time.Millisecond), Layer: log.LayerService, Category: log.CategoryState,
			Invocation: 1,
			StateChange: &log.StateChangeEvent{
				Entity: log.StateEntityCoordinator, OldState: "IDLE", NewState: "AUTHORIZATION_PENDING",
			},
		},
		{
			Timestamp: ts.Add(10 * time.Millisecond), Layer: log.LayerService, Category: log.CategoryState,
			Invocation: 1,
			StateChange: &log.StateChangeEvent{
				Entity: log.StateEntitySubscription, Subject: "bloodGlucose",
				OldState: "PENDING", NewState: "FAILED", Reason: "permission revoked",
			},
		},
		{
			Timestamp: ts.Add(20 * time.Millisecond), Layer: log.LayerService, Category: log.CategoryState,
			Invocation: 1,
			StateChange: &log.StateChangeEvent{
				Entity: log.StateEntityCoordinator, OldState: "AWAITING_COMPLETION", NewState: "RESOLVED",
				Reason: "setup incomplete",
			},
		},
		{
			Timestamp: ts.Add(40 * time.Millisecond), ConnectionID: "c0ffee00-1111-2222-3333-444455556666",
			Direction: log.DirectionOut, Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: &log.MessageEvent{
				Type: log.MessageTypeResult, CallID: 1, Method: "setupHealthKitObservers",
				Status: &status, Value: false, ProcessingTime: &elapsed,
			},
		},
		{
			Timestamp: ts.Add(time.Second), Layer: log.LayerService, Category: log.CategoryUpdate,
			Invocation: 1,
			Update:     &log.UpdateEvent{Type: "heartRate", Seq: 1, Forwarded: true},
		},
		{
			Timestamp: ts.Add(2 * time.Second), Layer: log.LayerService, Category: log.CategoryUpdate,
			Invocation: 1,
			Update:     &log.UpdateEvent{Type: "heartRate"},
		},
		{
			Timestamp: ts.Add(3 * time.Second), Layer: log.LayerWire, Category: log.CategoryError,
			ConnectionID: "c0ffee00-1111-2222-3333-444455556666",
			Error:        &log.ErrorEventData{Layer: log.LayerWire, Message: "malformed call", Context: "decode"},
		},
	}
}
