package chat

import (
	"errors"
	"fmt"

	"labreport-bot/api/internal/fault"
)

type Phase uint8

const (
	Idle Phase = iota
	AwaitingResponse
	// Error is entered when a turn fails and left once the fallback reply
	// has been recorded.
	Error
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case AwaitingResponse:
		return "awaiting_response"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*p = Idle
	case "awaiting_response":
		*p = AwaitingResponse
	case "error":
		*p = Error
	default:
		return fmt.Errorf("invalid phase %q", string(b))
	}
	return nil
}

// ErrNotUpdatable is returned by UpdateSystem when the target is no longer
// the latest message, is not a System message, or the session is idle.
var ErrNotUpdatable = errors.New("message can no longer be updated")

// State is the session value. Transitions below never mutate the receiver;
// History is extended on a fresh backing array.
type State struct {
	Phase   Phase
	Busy    bool
	Op      string
	History []Message
}

func (s State) withMessage(m Message) State {
	h := s.History[:len(s.History):len(s.History)]
	s.History = append(h, m)
	return s
}

func (s State) begin(op string) (State, error) {
	if s.Busy {
		return s, fault.ErrBusy
	}
	s.Busy = true
	s.Op = op
	if op == OpChat {
		s.Phase = AwaitingResponse
	}
	return s, nil
}

func (s State) failed() State {
	s.Phase = Error
	return s
}

func (s State) released() State {
	s.Busy = false
	s.Op = ""
	s.Phase = Idle
	return s
}

func (s State) withSystemUpdate(id, content string) (State, Message, error) {
	n := len(s.History)
	if !s.Busy || n == 0 {
		return s, Message{}, ErrNotUpdatable
	}
	last := s.History[n-1]
	if last.ID != id || last.Role != RoleSystem {
		return s, Message{}, ErrNotUpdatable
	}
	last.Content = content
	h := make([]Message, n)
	copy(h, s.History)
	h[n-1] = last
	s.History = h
	return s, last, nil
}
