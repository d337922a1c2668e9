// Package transport carries bridge messages between the native process and
// the host shell.
//
// Every message is a single frame on a TCP stream:
//
//	┌──────────────────────┬─────────────────────┐
//	│ length (4B, big end) │ CBOR payload        │
//	└──────────────────────┴─────────────────────┘
//
// Server runs on the native side and hands each received frame to
// OnMessage. Dial opens the shell side. Both sides can trace frames to a
// log.Logger.
package transport
