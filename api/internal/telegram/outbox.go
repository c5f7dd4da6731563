package telegram

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"labreport-bot/api/internal/chat"
	"labreport-bot/api/internal/prefs"
	"labreport-bot/api/internal/util"
)

type itemKind uint8

const (
	itemSend itemKind = iota + 1
	itemEdit
	itemReply
	itemDraft
	itemTyping
)

type outItem struct {
	kind itemKind
	ref  string // chat.Message ID of a status message
	text string
}

// outbox delivers session events to one Telegram chat in order. The chat
// observer only enqueues; consecutive edits of one message collapse into the
// latest text.
type outbox struct {
	r      *Router
	chatID int64

	mu    sync.Mutex
	queue []outItem
	wake  chan struct{}

	// chat message ID -> Telegram message ID, touched only by run
	sent map[string]int
}

func newOutbox(r *Router, chatID int64) *outbox {
	return &outbox{
		r:      r,
		chatID: chatID,
		wake:   make(chan struct{}, 1),
		sent:   map[string]int{},
	}
}

func (o *outbox) observe(ev chat.Event) {
	switch ev.Kind {
	case chat.MessageAppended:
		switch ev.Message.Role {
		case chat.RoleSystem:
			o.push(outItem{kind: itemSend, ref: ev.Message.ID, text: ev.Message.Content})
		case chat.RoleBot:
			kind := itemReply
			if ev.Message.Fallback {
				kind = itemSend
			}
			o.push(outItem{kind: kind, text: ev.Message.Content})
		case chat.RoleUser:
		}
	case chat.MessageUpdated:
		o.push(outItem{kind: itemEdit, ref: ev.Message.ID, text: ev.Message.Content})
	case chat.StateChanged:
		if ev.Phase == chat.AwaitingResponse {
			o.push(outItem{kind: itemTyping})
		}
	}
}

func (o *outbox) sendDraft(text string) {
	o.push(outItem{kind: itemDraft, text: text})
}

func (o *outbox) push(it outItem) {
	o.mu.Lock()
	if n := len(o.queue); it.kind == itemEdit && n > 0 {
		last := &o.queue[n-1]
		if last.ref == it.ref && (last.kind == itemEdit || last.kind == itemSend) {
			last.text = it.text
			o.mu.Unlock()
			o.signal()
			return
		}
	}
	o.queue = append(o.queue, it)
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) run() {
	for range o.wake {
		for {
			o.mu.Lock()
			batch := o.queue
			o.queue = nil
			o.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, it := range batch {
				o.deliver(it)
			}
		}
	}
}

func (o *outbox) deliver(it outItem) {
	switch it.kind {
	case itemSend:
		m, err := o.r.Bot.Send(tgbotapi.NewMessage(o.chatID, it.text))
		if err == nil && it.ref != "" {
			o.sent[it.ref] = m.MessageID
		}
	case itemEdit:
		id, ok := o.sent[it.ref]
		if !ok {
			m, err := o.r.Bot.Send(tgbotapi.NewMessage(o.chatID, it.text))
			if err == nil {
				o.sent[it.ref] = m.MessageID
			}
			return
		}
		_, _ = o.r.Bot.Send(tgbotapi.NewEditMessageText(o.chatID, id, it.text))
	case itemReply:
		o.sendReply(it.text)
	case itemDraft:
		msg := tgbotapi.NewMessage(o.chatID, draftHeader+util.Truncate(it.text, maxDraftRunes))
		msg.ReplyMarkup = makeDraftKeyboard()
		_, _ = o.r.Bot.Send(msg)
	case itemTyping:
		_, _ = o.r.Bot.Request(tgbotapi.NewChatAction(o.chatID, tgbotapi.ChatTyping))
	}
}

// sendReply renders a bot answer in the chat's display mode, splitting long
// answers into plain text chunks.
func (o *outbox) sendReply(text string) {
	mode := prefs.Default
	if o.r.Prefs != nil {
		if m, err := o.r.Prefs.DisplayMode(context.Background(), owner(o.chatID)); err == nil {
			mode = m
		}
	}
	if mode == prefs.Rich {
		if html := renderHTML(text); len([]rune(html)) <= maxMessageRunes {
			msg := tgbotapi.NewMessage(o.chatID, html)
			msg.ParseMode = tgbotapi.ModeHTML
			if _, err := o.r.Bot.Send(msg); err == nil {
				return
			}
		}
	}
	for _, part := range splitRunes(renderPlain(text), maxMessageRunes) {
		_, _ = o.r.Bot.Send(tgbotapi.NewMessage(o.chatID, part))
	}
}
