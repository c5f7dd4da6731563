// Package llm describes the generative text service consumed by the report
// normalizer and the conversation manager.
package llm

import "context"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one prior exchange unit replayed into a new service session.
type Turn struct {
	Role Role
	Text string
}

// Service opens chat sessions. The preamble is sent as the first user turn,
// followed by prior in order.
type Service interface {
	Name() string
	StartSession(ctx context.Context, preamble string, prior []Turn) (Session, error)
}

// Session is a single chat with the service. Close releases the underlying
// client and must be called once the caller is done.
type Session interface {
	SendMessage(ctx context.Context, text string) (string, error)
	Close() error
}
