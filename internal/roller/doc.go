// Package roller is the connection shell around the dice session.
//
// It dials the dice service, turns socket reads and timer firings into
// session events, and executes the resulting actions. One Client runs one
// connection; there is no reconnect.
package roller
