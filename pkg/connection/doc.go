// Package connection keeps a shell attached to a bridge across restarts.
//
// A Manager runs a session function repeatedly. Each session dials the
// bridge, requests observer setup and blocks until the link drops. When a
// session fails the Manager waits an exponential backoff before the next
// attempt:
//
//  1. Initial delay: 500 milliseconds
//  2. Doubles after every failed attempt
//  3. Capped at 30 seconds
//  4. Reset once a session reports it is connected
//
// Each delay gets up to 25% random jitter so shells restarted together do
// not reconnect in lockstep.
//
// Errors wrapped with Permanent end the loop immediately. A session that
// returns nil ends it as well.
package connection
