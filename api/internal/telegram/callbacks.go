package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"labreport-bot/api/internal/fault"
)

func (r *Router) handleCallback(ctx context.Context, cb tgbotapi.CallbackQuery) {
	cid := cb.Message.Chat.ID
	_, _ = r.Bot.Request(tgbotapi.NewCallback(cb.ID, "")) // ack

	switch cb.Data {
	case cbDraftSend:
		r.onDraftSend(ctx, cid, cb.Message.MessageID)
	case cbDraftEdit:
		r.onDraftEdit(cid)
	case cbDraftRetry:
		r.onDraftRetry(ctx, cid, cb.Message.MessageID)
	}
}

func (r *Router) onDraftSend(ctx context.Context, chatID int64, msgID int) {
	clearEditWait(chatID)
	s := r.session(chatID)
	if strings.TrimSpace(s.pipe.Draft()) == "" {
		r.send(chatID, "The draft is empty. Send a photo of a lab report first.")
		return
	}
	r.removeKeyboard(chatID, msgID)
	r.submitDraft(ctx, s)
}

func (r *Router) onDraftEdit(chatID int64) {
	setEditWait(chatID)
	r.send(chatID, editPrompt)
}

func (r *Router) onDraftRetry(ctx context.Context, chatID int64, msgID int) {
	clearEditWait(chatID)
	s := r.session(chatID)
	_, err := s.pipe.Renormalize(ctx)
	var ne *fault.NormalizationError
	switch {
	case err == nil, errors.As(err, &ne):
		r.removeKeyboard(chatID, msgID)
		if d := s.pipe.Draft(); strings.TrimSpace(d) != "" {
			s.out.sendDraft(d)
		}
	case errors.Is(err, fault.ErrBusy):
		r.send(chatID, fault.UserMessage(err))
	}
}

func (r *Router) removeKeyboard(chatID int64, msgID int) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, _ = r.Bot.Send(edit)
}
