// Package wire defines the CBOR message format exchanged with the host shell
// over the bridge.
//
// The bridge is a named method channel. The shell invokes methods on the
// native side and receives a single result per invocation; the native side
// pushes fire-and-forget events back to the shell.
//
// # Message Kinds
//
// There are three message kinds, distinguished by key 1:
//   - MethodCall: shell to native (e.g. setupHealthKitObservers)
//   - MethodResult: native to shell, correlated by call ID
//   - Event: native to shell (e.g. healthDataUpdated)
//
// # CBOR Integer Keys
//
// All maps use integer keys for compactness:
//
//	{
//	  1: kind,       // uint8
//	  2: callId,     // uint32, absent for events
//	  3: channel,    // string (call, event) or status (result)
//	  4: method,     // string (call, event) or value (result)
//	  5: arguments   // call/event arguments, or result message
//	}
package wire
