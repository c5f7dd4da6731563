package telegram

import (
	"sync"
	"time"
)

const defaultAlbumDebounce = 1200 * time.Millisecond

// chatID -> struct{}: the next text message replaces the draft
var editWait sync.Map

func setEditWait(chatID int64) { editWait.Store(chatID, struct{}{}) }

func takeEditWait(chatID int64) bool {
	_, ok := editWait.LoadAndDelete(chatID)
	return ok
}

func clearEditWait(chatID int64) { editWait.Delete(chatID) }

type photoBatch struct {
	ChatID       int64
	Key          string // "grp:<mediaGroupID>" | "chat:<chatID>"
	MediaGroupID string

	mu     sync.Mutex
	images [][]byte
	timer  *time.Timer
}

var batches sync.Map // key -> *photoBatch
