// Package bridge connects a host shell to the native observer service.
//
// The shell invokes methods on a named Channel over the bridge transport and
// receives one-way events in return. The native side exposes a single
// method, setupHealthKitObservers, which runs observer setup and answers
// with a boolean, and emits healthDataUpdated whenever the relay forwards an
// update.
//
//	shell                          native
//	  |-- CALL setupHealthKitObservers -->|
//	  |<------------- RESULT true --------|
//	  |<------ EVENT healthDataUpdated ---|
package bridge
