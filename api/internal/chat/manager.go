// Package chat is the conversation session: an append-only message history,
// a single-flight busy guard and the chat turn against the generative service.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"labreport-bot/api/internal/fault"
	"labreport-bot/api/internal/llm"
	"labreport-bot/api/internal/observability"
)

// Operations that hold the busy guard.
const (
	OpChat    = "chat"
	OpExtract = "extract"
)

const DefaultHistoryTurns = 10

type EventKind uint8

const (
	MessageAppended EventKind = iota + 1
	MessageUpdated
	StateChanged
)

// Event is delivered to the observer for every change, in order.
type Event struct {
	Kind    EventKind
	Message Message
	Phase   Phase
	Busy    bool
}

// Observer is called while the session lock is held. It must not call back
// into the Manager and should hand slow work off to another goroutine.
type Observer func(Event)

// Reply is the outcome of an accepted Send.
type Reply struct {
	Message Message
	// Failure is the *fault.ChatError behind a fallback reply.
	Failure error
}

type Manager struct {
	svc      llm.Service
	preamble string
	turns    int
	observer Observer
	now      func() time.Time

	mu sync.Mutex
	st State
}

type Option func(*Manager)

// WithHistoryTurns caps how many answered exchanges are replayed into each
// new service session. Zero sends only the preamble.
func WithHistoryTurns(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.turns = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

func WithPreamble(p string) Option {
	return func(m *Manager) {
		if strings.TrimSpace(p) != "" {
			m.preamble = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(svc llm.Service, opts ...Option) *Manager {
	m := &Manager{
		svc:      svc,
		preamble: Preamble,
		turns:    DefaultHistoryTurns,
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Send appends text as a user message and asks the service for the bot turn.
// Empty text and a busy session are rejected without touching history. A
// service failure is not returned as an error: the fallback reply is recorded
// and the cause is carried in Reply.Failure.
func (m *Manager) Send(ctx context.Context, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, &fault.InvalidInputError{Reason: "message is empty", Err: fault.ErrEmptyMessage}
	}

	m.mu.Lock()
	next, err := m.st.begin(OpChat)
	if err != nil {
		m.mu.Unlock()
		return Reply{}, err
	}
	user := newMessage(RoleUser, text, m.now())
	m.st = next.withMessage(user)
	m.emit(Event{Kind: MessageAppended, Message: user})
	m.emitState()
	prior := m.priorTurns(m.st.History[:len(m.st.History)-1])
	m.mu.Unlock()

	// An accepted turn runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	answer, err := m.ask(ctx, prior, text)

	m.mu.Lock()
	defer m.mu.Unlock()
	var bot Message
	var failure error
	if err != nil {
		failure = &fault.ChatError{Err: err}
		observability.LoggerFromContext(ctx).Error("chat turn failed", "service", m.svc.Name(), "err", err)
		m.st = m.st.failed()
		m.emitState()
		bot = newMessage(RoleBot, FallbackReply, m.now())
		bot.Fallback = true
	} else {
		bot = newMessage(RoleBot, answer, m.now())
	}
	m.st = m.st.withMessage(bot)
	m.emit(Event{Kind: MessageAppended, Message: bot})
	m.st = m.st.released()
	m.emitState()
	return Reply{Message: bot, Failure: failure}, nil
}

func (m *Manager) ask(ctx context.Context, prior []llm.Turn, text string) (string, error) {
	sess, err := m.svc.StartSession(ctx, m.preamble, prior)
	if err != nil {
		return "", err
	}
	defer sess.Close()
	return sess.SendMessage(ctx, text)
}

// priorTurns replays the acknowledgment and then the answered user/bot pairs
// of history, newest m.turns pairs only.
func (m *Manager) priorTurns(history []Message) []llm.Turn {
	type pair struct{ user, bot string }
	var (
		pairs   []pair
		pending *Message
	)
	for i := range history {
		msg := history[i]
		switch msg.Role {
		case RoleUser:
			pending = &msg
		case RoleBot:
			if pending != nil && !msg.Fallback {
				pairs = append(pairs, pair{user: pending.Content, bot: msg.Content})
			}
			pending = nil
		case RoleSystem:
		}
	}
	if len(pairs) > m.turns {
		pairs = pairs[len(pairs)-m.turns:]
	}

	turns := make([]llm.Turn, 0, 1+2*len(pairs))
	turns = append(turns, llm.Turn{Role: llm.RoleModel, Text: Acknowledgment})
	for _, p := range pairs {
		turns = append(turns,
			llm.Turn{Role: llm.RoleUser, Text: p.user},
			llm.Turn{Role: llm.RoleModel, Text: p.bot},
		)
	}
	return turns
}

// Begin takes the busy guard for op. The returned release is idempotent.
func (m *Manager) Begin(op string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := m.st.begin(op)
	if err != nil {
		return nil, err
	}
	m.st = next
	m.emitState()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.st = m.st.released()
			m.emitState()
		})
	}, nil
}

// AppendSystem records a status message.
func (m *Manager) AppendSystem(content string) Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := newMessage(RoleSystem, content, m.now())
	m.st = m.st.withMessage(msg)
	m.emit(Event{Kind: MessageAppended, Message: msg})
	return msg
}

// UpdateSystem rewrites the content of the System message id in place. Only
// the latest message may change, and only while the session is busy.
func (m *Manager) UpdateSystem(id, content string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, msg, err := m.st.withSystemUpdate(id, content)
	if err != nil {
		return Message{}, err
	}
	m.st = next
	m.emit(Event{Kind: MessageUpdated, Message: msg})
	return msg, nil
}

// History returns a copy of the messages in insertion order.
func (m *Manager) History() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.st.History))
	copy(out, m.st.History)
	return out
}

// Snapshot returns the current state; its History must not be modified.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Busy
}

func (m *Manager) emit(ev Event) {
	if m.observer == nil {
		return
	}
	ev.Phase = m.st.Phase
	ev.Busy = m.st.Busy
	m.observer(ev)
}

func (m *Manager) emitState() {
	m.emit(Event{Kind: StateChanged})
}
