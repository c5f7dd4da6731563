package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cbDraftSend  = "draft_send"
	cbDraftEdit  = "draft_edit"
	cbDraftRetry = "draft_retry"
)

// Draft actions shown under the structured report.
func makeDraftKeyboard() tgbotapi.InlineKeyboardMarkup {
	send := tgbotapi.NewInlineKeyboardButtonData("Send for analysis", cbDraftSend)
	edit := tgbotapi.NewInlineKeyboardButtonData("Edit", cbDraftEdit)
	retry := tgbotapi.NewInlineKeyboardButtonData("Retry structuring", cbDraftRetry)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(send),
		tgbotapi.NewInlineKeyboardRow(edit, retry),
	)
}

func helpText(voice bool) string {
	s := "Send a photo of a lab report. I will read it, structure the results and compare every value with its reference range.\n" +
		"You can review and edit the text before sending it for analysis, or just ask a question.\n\n" +
		"Commands: /draft, /mode rich|plain, /health"
	if voice {
		s += "\nVoice messages are transcribed and sent as questions."
	}
	return s
}

const (
	draftHeader   = "📝 Draft (review before sending):\n\n"
	editPrompt    = "Send the corrected text as a message. It will replace the draft and be sent for analysis."
	noVoiceText   = "Voice messages are not supported here."
	maxDraftRunes = 3900
)
