package telegram

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"labreport-bot/api/internal/fault"
	"labreport-bot/api/internal/util"
)

// maxFileBytes is the Bot API download limit.
const maxFileBytes = 20 << 20

// acceptPhoto collects album pages and processes them as one image once no
// new page arrived for AlbumDebounce.
func (r *Router) acceptPhoto(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	ph := msg.Photo[len(msg.Photo)-1]
	imgBytes, err := r.downloadFile(ctx, ph.FileID)
	if err != nil {
		r.replyError(ctx, cid, fmt.Errorf("download photo: %w", err))
		return
	}
	if msg.MediaGroupID == "" {
		r.process(ctx, cid, imgBytes)
		return
	}

	key := "grp:" + msg.MediaGroupID
	bi, _ := batches.LoadOrStore(key, &photoBatch{
		ChatID: cid, Key: key, MediaGroupID: msg.MediaGroupID, images: make([][]byte, 0, 4),
	})
	b := bi.(*photoBatch)

	b.mu.Lock()
	b.images = append(b.images, imgBytes)
	if b.timer != nil {
		b.timer.Stop()
	}
	wait := r.AlbumDebounce
	if wait <= 0 {
		wait = defaultAlbumDebounce
	}
	b.timer = time.AfterFunc(wait, func() { r.processBatch(context.WithoutCancel(ctx), key) })
	b.mu.Unlock()
}

func (r *Router) processBatch(ctx context.Context, key string) {
	bi, ok := batches.LoadAndDelete(key)
	if !ok {
		return
	}
	b := bi.(*photoBatch)

	b.mu.Lock()
	images := append([][]byte(nil), b.images...)
	chatID := b.ChatID
	b.mu.Unlock()

	if len(images) == 0 {
		return
	}
	merged := images[0]
	if len(images) > 1 {
		var err error
		if merged, err = combineAsOne(images); err != nil {
			r.replyError(ctx, chatID, &fault.InvalidInputError{Reason: "album pages could not be combined", Err: err})
			return
		}
	}
	r.process(ctx, chatID, merged)
}

// acceptDocument handles images sent as files. Non-image documents still go
// through the pipeline, which rejects them with a status message.
func (r *Router) acceptDocument(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	doc := msg.Document
	if doc.FileSize > maxFileBytes {
		r.replyError(ctx, cid, &fault.InvalidInputError{Reason: "file is larger than 20 MB"})
		return
	}
	data, err := r.downloadFile(ctx, doc.FileID)
	if err != nil {
		r.replyError(ctx, cid, fmt.Errorf("download document: %w", err))
		return
	}
	r.process(ctx, cid, data)
}

// combineAsOne stacks album pages vertically on a white canvas.
func combineAsOne(images [][]byte) ([]byte, error) {
	decoded := make([]image.Image, 0, len(images))
	maxW, sumH := 0, 0
	for _, b := range images {
		img, _, err := image.Decode(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, img)
		maxW = max(maxW, img.Bounds().Dx())
		sumH += img.Bounds().Dy()
	}
	if maxW == 0 || sumH == 0 {
		return nil, fmt.Errorf("empty images")
	}

	dst := image.NewRGBA(image.Rect(0, 0, maxW, sumH))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	y := 0
	for _, img := range decoded {
		w, h := img.Bounds().Dx(), img.Bounds().Dy()
		x := (maxW - w) / 2
		draw.Draw(dst, image.Rect(x, y, x+w, y+h), img, img.Bounds().Min, draw.Over)
		y += h
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (r *Router) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	return r.download(ctx, url)
}

func (r *Router) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, util.Truncate(string(b), 200))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFileBytes+1))
}

func (r *Router) httpClient() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}
