package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"labreport-bot/api/internal/chat"
	"labreport-bot/api/internal/fault"
	"labreport-bot/api/internal/observability"
	"labreport-bot/api/internal/pipeline"
	"labreport-bot/api/internal/prefs"
	"labreport-bot/api/internal/speech"
)

// BotAPI is the part of *tgbotapi.BotAPI the router uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// PipelineFactory builds the session pipeline of a chat. observer must be
// installed on the chat.Manager it creates.
type PipelineFactory func(chatID int64, observer chat.Observer) *pipeline.Orchestrator

type Router struct {
	Bot         BotAPI
	NewPipeline PipelineFactory
	Prefs       prefs.Store
	Speech      speech.Capturer
	HTTPClient  *http.Client

	// AlbumDebounce is how long to wait for more pages of a media group.
	AlbumDebounce time.Duration

	mu       sync.Mutex
	sessions map[int64]*session
}

type session struct {
	chatID int64
	pipe   *pipeline.Orchestrator
	out    *outbox
}

func (r *Router) session(chatID int64) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions == nil {
		r.sessions = map[int64]*session{}
	}
	if s, ok := r.sessions[chatID]; ok {
		return s
	}
	out := newOutbox(r, chatID)
	s := &session{chatID: chatID, out: out}
	s.pipe = r.NewPipeline(chatID, out.observe)
	r.sessions[chatID] = s
	go out.run()
	return s
}

func owner(chatID int64) string { return fmt.Sprintf("tg:%d", chatID) }

// HandleUpdate dispatches one update. Callers run it in its own goroutine;
// the session guard serializes work per chat.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		if upd.CallbackQuery.Message == nil {
			return
		}
		ctx = observability.WithChatID(ctx, upd.CallbackQuery.Message.Chat.ID)
		r.handleCallback(ctx, *upd.CallbackQuery)
		return
	}
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	cid := msg.Chat.ID
	ctx = observability.WithChatID(ctx, cid)

	switch {
	case msg.IsCommand():
		r.HandleCommand(ctx, msg)
	case len(msg.Photo) > 0:
		r.acceptPhoto(ctx, msg)
	case msg.Document != nil:
		r.acceptDocument(ctx, msg)
	case msg.Voice != nil:
		r.acceptVoice(ctx, msg)
	case strings.TrimSpace(msg.Text) != "":
		r.acceptText(ctx, cid, msg.Text)
	}
}

func (r *Router) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		r.send(cid, helpText(r.Speech != nil && r.Speech.Available()))
	case "health":
		r.send(cid, "✅ OK")
	case "mode":
		r.handleModeCommand(ctx, cid, msg.CommandArguments())
	case "draft":
		d := r.session(cid).pipe.Draft()
		if strings.TrimSpace(d) == "" {
			r.send(cid, "The draft is empty. Send a photo of a lab report first.")
			return
		}
		r.session(cid).out.sendDraft(d)
	default:
		r.send(cid, "Unknown command. Try /help.")
	}
}

func (r *Router) handleModeCommand(ctx context.Context, cid int64, args string) {
	if r.Prefs == nil {
		r.send(cid, "Display preferences are not available.")
		return
	}
	if strings.TrimSpace(args) == "" {
		cur, err := r.Prefs.DisplayMode(ctx, owner(cid))
		if err != nil {
			r.replyError(ctx, cid, err)
			return
		}
		r.send(cid, "Display mode: "+string(cur)+"\nUsage: /mode rich | /mode plain")
		return
	}
	mode, err := prefs.ParseMode(args)
	if err != nil {
		r.send(cid, "Usage: /mode rich | /mode plain")
		return
	}
	if err := r.Prefs.SetDisplayMode(ctx, owner(cid), mode); err != nil {
		r.replyError(ctx, cid, err)
		return
	}
	r.send(cid, "✅ Display mode: "+string(mode))
}

// acceptText sends text as a chat turn, or replaces the draft first when the
// user was asked for a corrected version.
func (r *Router) acceptText(ctx context.Context, cid int64, text string) {
	s := r.session(cid)
	if takeEditWait(cid) {
		s.pipe.SetDraft(text)
		r.submitDraft(ctx, s)
		return
	}
	r.reportTurn(ctx, s, func() (chat.Reply, error) { return s.pipe.Chat().Send(ctx, text) })
}

func (r *Router) submitDraft(ctx context.Context, s *session) {
	r.reportTurn(ctx, s, func() (chat.Reply, error) { return s.pipe.SubmitDraft(ctx) })
}

// reportTurn runs a chat turn. Accepted turns are delivered by the outbox;
// rejected ones are answered here.
func (r *Router) reportTurn(ctx context.Context, s *session, turn func() (chat.Reply, error)) {
	reply, err := turn()
	if err != nil {
		r.replyError(ctx, s.chatID, err)
		return
	}
	if reply.Failure != nil {
		observability.LoggerFromContext(ctx).Warn("chat turn fell back", "err", reply.Failure)
	}
}

func (r *Router) process(ctx context.Context, cid int64, data []byte) {
	s := r.session(cid)
	_, err := s.pipe.ProcessImage(ctx, data)
	var ne *fault.NormalizationError
	switch {
	case err == nil, errors.As(err, &ne):
		if d := s.pipe.Draft(); strings.TrimSpace(d) != "" {
			s.out.sendDraft(d)
		}
	case errors.Is(err, fault.ErrBusy):
		r.send(cid, fault.UserMessage(err))
	}
}

func (r *Router) replyError(ctx context.Context, cid int64, err error) {
	var inv *fault.InvalidInputError
	if !errors.Is(err, fault.ErrBusy) && !errors.As(err, &inv) {
		observability.LoggerFromContext(ctx).Error("telegram handler", "err", err)
	}
	r.send(cid, fault.UserMessage(err))
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	_, _ = r.Bot.Send(msg)
}
