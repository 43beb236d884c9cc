// Package session owns the lifecycle of one duplex voice session at a time.
//
// A single coordinating goroutine owns all per-connection state. Connect
// and Disconnect are commands applied by that goroutine; network reads,
// capture failures, dial results and retry timers arrive as events tagged
// with the attempt that produced them. Events from superseded attempts are
// discarded and any resources they carry are closed.
//
// State machine:
//
//	Idle -> Connecting -> Open -> Idle        (clean close)
//	                           -> Connecting  (transient error, retries left)
//	                           -> Closed      (terminal error or retries exhausted)
package session
