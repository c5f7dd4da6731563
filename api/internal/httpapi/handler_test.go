package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labreport-bot/api/internal/chat"
	"labreport-bot/api/internal/llm"
	"labreport-bot/api/internal/ocr"
	"labreport-bot/api/internal/pipeline"
	"labreport-bot/api/internal/prefs"
	"labreport-bot/api/internal/rangecheck"
	"labreport-bot/api/internal/report"
	"labreport-bot/api/internal/store"
)

type scriptedLLM struct {
	mu    sync.Mutex
	reply string
	err   error
}

func (s *scriptedLLM) Name() string { return "scripted" }
func (s *scriptedLLM) StartSession(context.Context, string, []llm.Turn) (llm.Session, error) {
	return s, nil
}
func (s *scriptedLLM) SendMessage(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reply, s.err
}
func (s *scriptedLLM) Close() error { return nil }

type textEngine struct{ text string }

func (t textEngine) Name() string { return "text" }
func (t textEngine) Recognize(_ context.Context, _ ocr.Image, _ string, onProgress func(float64)) (string, error) {
	onProgress(0.5)
	return t.text, nil
}

const normalized = "Glucose:\n- Value: 73 mg/dL\n- Reference Range: 100 - 150 mg/dL\n- Status: LOWER\n"

type fixture struct {
	e       *echo.Echo
	h       *Handler
	hub     *Hub
	pipe    *pipeline.Orchestrator
	chatLLM *scriptedLLM
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	chatLLM := &scriptedLLM{reply: "Your glucose is low."}
	m := chat.NewManager(chatLLM, chat.WithObserver(hub.Observe))
	pipe := pipeline.New(m, ocr.NewExtractor(textEngine{text: "GLU 73 mg/dL 100-150"}), report.NewNormalizer(&scriptedLLM{reply: normalized}))
	h := NewHandler(pipe, store.NewMemoryPrefs(), hub)
	e := echo.New()
	h.RegisterRoutes(e)
	return &fixture{e: e, h: h, hub: hub, pipe: pipe, chatLLM: chatLLM}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func TestClassify(t *testing.T) {
	e := echo.New()
	h := NewHandler(nil, nil, nil)

	tests := []struct {
		name   string
		body   string
		code   int
		status rangecheck.Status
	}{
		{"below", `{"value":"3.4","min":"3.5","max":"5.0"}`, http.StatusOK, rangecheck.Lower},
		{"upper bound inclusive", `{"value":5.0,"min":3.5,"max":5}`, http.StatusOK, rangecheck.Normal},
		{"above", `{"value":"150001","min":"150000","max":"150000"}`, http.StatusOK, rangecheck.Higher},
		{"inverted range", `{"value":"4","min":"5","max":"3"}`, http.StatusBadRequest, ""},
		{"missing max", `{"value":"4","min":"3"}`, http.StatusBadRequest, ""},
		{"garbage", `{"value":`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/classify", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			require.NoError(t, h.Classify(c))
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				var resp ClassifyResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.status, resp.Status)
			}
		})
	}
}

func TestUploadImageBase64ThenSubmitDraft(t *testing.T) {
	f := newFixture(t)
	body := `{"image":"data:image/png;base64,` + base64.StdEncoding.EncodeToString(pngBytes(t)) + `"}`

	rec := f.do(t, http.MethodPost, "/v1/session/image", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ProcessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Report)
	assert.Equal(t, "GLU 73 mg/dL 100-150", resp.Report.Raw)
	require.Len(t, resp.Report.Results, 1)
	assert.Equal(t, "Glucose", resp.Report.Results[0].Name)
	assert.Equal(t, rangecheck.Lower, resp.Report.Results[0].Computed)
	assert.Empty(t, resp.Report.Mismatches)
	assert.Equal(t, resp.Report.Text, resp.Draft)

	rec = f.do(t, http.MethodPut, "/v1/session/draft", `{"draft":"Glucose 73, range 100-150"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/session/draft", "")
	assert.JSONEq(t, `{"draft":"Glucose 73, range 100-150"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/session/draft/submit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var reply ReplyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, chat.RoleBot, reply.Message.Role)
	assert.Equal(t, "Your glucose is low.", reply.Message.Content)
	assert.Empty(t, reply.Error)
	assert.Empty(t, f.pipe.Draft())

	rec = f.do(t, http.MethodGet, "/v1/session/messages", "")
	var hist HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.Messages, 3)
	assert.Equal(t, chat.RoleSystem, hist.Messages[0].Role)
	assert.Equal(t, pipeline.StatusDone, hist.Messages[0].Content)
	assert.Equal(t, "Glucose 73, range 100-150", hist.Messages[1].Content)
	assert.False(t, hist.Busy)
}

func TestUploadImageMultipart(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "report.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes(t))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/session/image", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, f.pipe.Draft(), "Glucose")
}

func TestUploadNonImage(t *testing.T) {
	f := newFixture(t)
	body := `{"image":"` + base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 not an image")) + `"}`

	rec := f.do(t, http.MethodPost, "/v1/session/image", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	hist := f.pipe.Chat().History()
	require.Len(t, hist, 1)
	assert.Equal(t, chat.RoleSystem, hist[0].Role)
	assert.True(t, strings.HasPrefix(hist[0].Content, "Error: "))

	rec = f.do(t, http.MethodPost, "/v1/session/image", `{"image":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenormalizeWithoutText(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/session/draft/renormalize", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessage(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/session/messages", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.pipe.Chat().History())

	release, err := f.pipe.Chat().Begin(chat.OpExtract)
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/v1/session/messages", `{"text":"hello"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, f.pipe.Chat().History())
	release()

	f.chatLLM.err = errors.New("quota exceeded")
	rec = f.do(t, http.MethodPost, "/v1/session/messages", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var reply ReplyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.True(t, reply.Message.Fallback)
	assert.Equal(t, chat.FallbackReply, reply.Message.Content)
	assert.Contains(t, reply.Error, "quota exceeded")
}

func TestDisplayMode(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/preferences/display-mode", "")
	assert.JSONEq(t, `{"mode":"rich"}`, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/v1/preferences/display-mode", `{"mode":"text"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mode":"plain"}`, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/v1/preferences/display-mode", `{"mode":"sepia"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	m, err := f.h.prefs.DisplayMode(context.Background(), Owner)
	require.NoError(t, err)
	assert.Equal(t, prefs.Plain, m)
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)
	f.pipe.Chat().AppendSystem("earlier")

	srv := httptest.NewServer(f.e)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/session/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var snap Frame
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, FrameSnapshot, snap.Type)
	require.Len(t, snap.History, 1)
	assert.Equal(t, "earlier", snap.History[0].Content)

	// the snapshot is written only after the client joined the hub
	_, err = f.pipe.Chat().Send(context.Background(), "hi")
	require.NoError(t, err)

	var appended []string
	for len(appended) < 2 {
		var fr Frame
		require.NoError(t, conn.ReadJSON(&fr))
		if fr.Type == FrameMessageAppended {
			require.NotNil(t, fr.Message)
			appended = append(appended, fr.Message.Role.String()+":"+fr.Message.Content)
		}
	}
	assert.Equal(t, []string{"user:hi", "bot:Your glucose is low."}, appended)
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, errorStatus(errors.New("boom")))
}
