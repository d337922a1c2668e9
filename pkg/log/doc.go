// Package log records a machine-readable trace of the bridge and the
// observation coordinator.
//
// It is separate from operational logging (slog). Operational logs tell an
// operator what happened; the trace captures every frame, decoded bridge
// message, state transition and update so a session can be replayed and
// analysed with healthwatch-log.
//
//	// Console while developing
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// File and console
//	fl, _ := log.NewFileLogger("/var/log/healthwatch/bridge.hwlog")
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Layers
//
//   - Transport: raw frames (FrameEvent)
//   - Wire: decoded calls, results and events (MessageEvent)
//   - Service: coordinator and subscription transitions (StateChangeEvent)
//     and data updates (UpdateEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// A .hwlog file is a plain sequence of CBOR-encoded Event values.
package log
