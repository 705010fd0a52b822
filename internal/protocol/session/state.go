package session

import (
	"github.com/danmuck/rollctl/internal/protocol/dice"
)

// State is the client protocol state.
type State int

const (
	StateIdle State = iota
	StateHelloSent
	StateRollSent
	StateRollAcked
	// StateClosed is entered only after a protocol violation.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHelloSent:
		return "hello_sent"
	case StateRollSent:
		return "roll_sent"
	case StateRollAcked:
		return "roll_acked"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	EventConnected EventKind = iota
	EventData
	EventTimerFired
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventData:
		return "data"
	case EventTimerFired:
		return "timer_fired"
	default:
		return "unknown"
	}
}

// Event is one input to the state machine. Data is set only for EventData.
type Event struct {
	Kind EventKind
	Data []byte
}

func Connected() Event {
	return Event{Kind: EventConnected}
}

func Data(b []byte) Event {
	return Event{Kind: EventData, Data: b}
}

func TimerFired() Event {
	return Event{Kind: EventTimerFired}
}

type ActionKind int

const (
	// ActionSend writes Payload to the connection.
	ActionSend ActionKind = iota
	// ActionReport surfaces Result to the user.
	ActionReport
	// ActionSchedule arms the re-roll timer.
	ActionSchedule
	// ActionClose closes the connection; Reason says why.
	ActionClose
)

func (k ActionKind) String() string {
	switch k {
	case ActionSend:
		return "send"
	case ActionReport:
		return "report"
	case ActionSchedule:
		return "schedule"
	case ActionClose:
		return "close"
	default:
		return "unknown"
	}
}

// Action is one command the caller must execute, in order.
type Action struct {
	Kind    ActionKind
	Payload []byte
	Result  dice.Result
	Reason  string
}

const ReasonUnexpectedData = "unexpected data"

// Transition is the whole protocol table. It has no side effects; the same
// (state, event) pair always yields the same result.
func Transition(s State, ev Event) (State, []Action) {
	switch s {
	case StateIdle:
		switch ev.Kind {
		case EventConnected:
			return StateHelloSent, []Action{send(dice.Hello())}
		case EventData:
			return violation()
		}
	case StateHelloSent:
		// Any reply to hello is the acknowledgment.
		if ev.Kind == EventData {
			return StateRollSent, []Action{send(dice.Roll())}
		}
	case StateRollSent:
		if ev.Kind == EventData {
			return StateRollAcked, []Action{
				{Kind: ActionReport, Result: dice.ParseResult(ev.Data)},
				{Kind: ActionSchedule},
			}
		}
	case StateRollAcked:
		switch ev.Kind {
		case EventTimerFired:
			return StateRollSent, []Action{send(dice.Roll())}
		case EventData:
			return violation()
		}
	}
	return s, nil
}

func send(payload []byte) Action {
	return Action{Kind: ActionSend, Payload: payload}
}

func violation() (State, []Action) {
	return StateClosed, []Action{{Kind: ActionClose, Reason: ReasonUnexpectedData}}
}
