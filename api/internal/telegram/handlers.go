package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"labreport-bot/api/internal/chat"
	"labreport-bot/api/internal/speech"
)

// acceptVoice transcribes a voice note and sends it as a question.
func (r *Router) acceptVoice(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	if r.Speech == nil || !r.Speech.Available() {
		r.send(cid, noVoiceText)
		return
	}
	data, err := r.downloadFile(ctx, msg.Voice.FileID)
	if err != nil {
		r.replyError(ctx, cid, fmt.Errorf("download voice: %w", err))
		return
	}
	text, err := r.Speech.CaptureOnce(ctx, speech.Clip{Data: data, MIME: msg.Voice.MimeType})
	if err != nil {
		r.replyError(ctx, cid, err)
		return
	}
	r.send(cid, "🎙 "+text)
	s := r.session(cid)
	r.reportTurn(ctx, s, func() (chat.Reply, error) { return s.pipe.Chat().Send(ctx, text) })
}
