package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is closed: User, Bot and System are the only authors.
type Role uint8

const (
	RoleUser Role = iota + 1
	RoleBot
	RoleSystem
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleBot:
		return "bot"
	case RoleSystem:
		return "system"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

func (r Role) MarshalText() ([]byte, error) {
	switch r {
	case RoleUser, RoleBot, RoleSystem:
		return []byte(r.String()), nil
	default:
		return nil, fmt.Errorf("invalid role %d", uint8(r))
	}
}

func (r *Role) UnmarshalText(b []byte) error {
	switch string(b) {
	case "user":
		*r = RoleUser
	case "bot":
		*r = RoleBot
	case "system":
		*r = RoleSystem
	default:
		return fmt.Errorf("invalid role %q", string(b))
	}
	return nil
}

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Fallback marks the canned bot reply written after a failed turn.
	Fallback bool `json:"fallback,omitempty"`
}

func newMessage(role Role, content string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
}
