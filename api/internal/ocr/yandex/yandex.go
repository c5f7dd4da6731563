// Package yandex is the Yandex Cloud Vision OCR engine.
package yandex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"labreport-bot/api/internal/ocr"
	"labreport-bot/api/internal/util"
)

const defaultRecognizeURL = "https://ocr.api.cloud.yandex.net/ocr/v1/recognizeText"

type Engine struct {
	iamc         *IamClient
	folderID     string
	httpc        *http.Client
	recognizeURL string
	model        string
}

type Option func(*Engine)

// WithEndpoints overrides the recognize and IAM URLs.
func WithEndpoints(recognizeURL, iamURL string) Option {
	return func(e *Engine) {
		e.recognizeURL = recognizeURL
		e.iamc.url = iamURL
	}
}

// WithModel selects the recognition model ("page" by default).
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

func New(oauth2Token, folderID string, opts ...Option) *Engine {
	e := &Engine{
		iamc:         NewIamClient(oauth2Token),
		folderID:     folderID,
		httpc:        &http.Client{Timeout: 60 * time.Second},
		recognizeURL: defaultRecognizeURL,
		model:        "page",
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Name() string { return "yandex" }

type request struct {
	Content       string   `json:"content"`
	MimeType      string   `json:"mimeType,omitempty"`      // "JPEG" | "PNG"
	LanguageCodes []string `json:"languageCodes,omitempty"` // ["ru","en"]
	Model         string   `json:"model,omitempty"`
}

type textAnnotation struct {
	FullText string `json:"fullText,omitempty"`
	Blocks   []struct {
		Lines []struct {
			Text string `json:"text,omitempty"`
		} `json:"lines,omitempty"`
	} `json:"blocks,omitempty"`
}

type response struct {
	Result *struct {
		TextAnnotation *textAnnotation `json:"textAnnotation,omitempty"`
	} `json:"result,omitempty"`
}

func (r *response) annotation() *textAnnotation {
	if r == nil || r.Result == nil {
		return nil
	}
	return r.Result.TextAnnotation
}

// Recognize posts img to the recognizeText endpoint. The call is a single
// round trip so progress is reported around it.
func (e *Engine) Recognize(ctx context.Context, img ocr.Image, language string, onProgress func(float64)) (string, error) {
	report := func(f float64) {
		if onProgress != nil {
			onProgress(f)
		}
	}
	report(0)

	iamToken, err := e.iamc.Token(ctx)
	if err != nil {
		return "", err
	}
	report(0.1)

	payload, err := json.Marshal(request{
		Content:       base64.StdEncoding.EncodeToString(img.Data),
		MimeType:      util.SniffMimeForOCR(img.Data),
		LanguageCodes: languageCodes(language),
		Model:         e.model,
	})
	if err != nil {
		return "", err
	}

	resp, err := e.post(ctx, payload, iamToken)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// один ретрай с новым токеном
		e.iamc.Invalidate()
		if iamToken, err = e.iamc.Token(ctx); err != nil {
			return "", err
		}
		resp.Body.Close()
		if resp, err = e.post(ctx, payload, iamToken); err != nil {
			return "", err
		}
		defer resp.Body.Close()
	}
	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("yandex ocr %d: %s", resp.StatusCode, strings.TrimSpace(string(x)))
	}
	report(0.8)

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("yandex ocr decode: %w", err)
	}
	ta := out.annotation()
	if ta == nil {
		return "", nil
	}
	if t := strings.TrimSpace(ta.FullText); t != "" {
		return t, nil
	}
	// fallback: lines
	var lines []string
	for _, b := range ta.Blocks {
		for _, l := range b.Lines {
			if s := strings.TrimSpace(l.Text); s != "" {
				lines = append(lines, s)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (e *Engine) post(ctx context.Context, payload []byte, iamToken string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.recognizeURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+iamToken)
	req.Header.Set("x-folder-id", e.folderID)
	return e.httpc.Do(req)
}

var tesseractToISO = map[string]string{
	"eng": "en",
	"rus": "ru",
	"deu": "de",
	"fra": "fr",
	"spa": "es",
	"ita": "it",
	"ukr": "uk",
	"kaz": "kk",
}

// languageCodes maps Tesseract style "eng+rus" to ["en","ru"].
func languageCodes(language string) []string {
	var out []string
	for _, l := range strings.Split(language, "+") {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		if iso, ok := tesseractToISO[l]; ok {
			l = iso
		}
		out = append(out, l)
	}
	return out
}
