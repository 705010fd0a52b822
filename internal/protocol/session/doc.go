// Package session owns the dice client session state machine.
//
// Ownership boundary:
// - protocol states and the pure transition table
// - the per-connection Session value and its state-entry log lines
// - client transport configuration and its validation
//
// The package never touches a socket. Callers feed Events and execute the
// returned Actions.
package session
