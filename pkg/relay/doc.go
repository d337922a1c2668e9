// Package relay delivers data update events to a single downstream sink.
//
// Forward may be called from any goroutine, including capability callbacks,
// and never waits for the sink: it appends to an in-memory FIFO and wakes
// the dispatcher. One dispatch goroutine drains the FIFO and calls the sink,
// so the sink sees events one at a time and in the order they were
// forwarded. Sink errors are logged and counted and do not stop later
// deliveries.
package relay
