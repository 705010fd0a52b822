package session

import (
	"sync/atomic"

	"github.com/danmuck/rollctl/internal/protocol/dice"
	"github.com/rs/zerolog/log"
)

// Snapshot is a read-only view of a Session for status reporting.
type Snapshot struct {
	State      State
	RollsSent  uint64
	Results    uint64
	LastResult dice.Result
}

// Session tracks protocol state for exactly one connection. Step must be
// called from a single goroutine; Snapshot is safe from any goroutine.
type Session struct {
	state    State
	rolls    uint64
	results  uint64
	last     dice.Result
	snapshot atomic.Pointer[Snapshot]
}

func New() *Session {
	s := &Session{state: StateIdle}
	s.publish()
	return s
}

func (s *Session) State() State {
	return s.state
}

// Step applies ev and returns the actions the caller must execute.
func (s *Session) Step(ev Event) []Action {
	from := s.state
	next, actions := Transition(from, ev)
	s.state = next
	if next == from && len(actions) == 0 {
		log.Debug().
			Str("state", from.String()).
			Str("event", ev.Kind.String()).
			Msg("session event ignored")
		return nil
	}
	for _, a := range actions {
		s.observe(a)
	}
	s.logEntry(from, ev, actions)
	s.publish()
	return actions
}

func (s *Session) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

func (s *Session) observe(a Action) {
	switch a.Kind {
	case ActionSend:
		if string(a.Payload) == string(dice.Roll()) {
			s.rolls++
		}
	case ActionReport:
		s.results++
		s.last = a.Result
	}
}

func (s *Session) logEntry(from State, ev Event, actions []Action) {
	switch s.state {
	case StateHelloSent:
		log.Info().Msg("connected, greeting sent")
	case StateRollSent:
		log.Info().Uint64("roll", s.rolls).Msg("rolling the dice...")
	case StateRollAcked:
		if s.last.Matched {
			log.Info().Str("value", s.last.Value).Msg("roll result")
		} else {
			log.Warn().Str("raw", s.last.Raw).Msg("roll result malformed")
		}
	case StateClosed:
		reason := ""
		for _, a := range actions {
			if a.Kind == ActionClose {
				reason = a.Reason
			}
		}
		log.Error().
			Str("state", from.String()).
			Str("event", ev.Kind.String()).
			Str("reason", reason).
			Int("bytes", len(ev.Data)).
			Msg("protocol violation")
	}
}

func (s *Session) publish() {
	s.snapshot.Store(&Snapshot{
		State:      s.state,
		RollsSent:  s.rolls,
		Results:    s.results,
		LastResult: s.last,
	})
}
