package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labreport-bot/api/internal/chat"
	"labreport-bot/api/internal/config"
	"labreport-bot/api/internal/prefs"
	"labreport-bot/api/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		GeminiAPIKey:     "key",
		GeminiModel:      "gemini-1.5-flash",
		OCREngine:        "tesseract",
		OCRLanguage:      "eng",
		OCRMaxPixels:     1_000_000,
		ChatHistoryTurns: 4,
		ReportCacheTTL:   time.Hour,
	}
}

func TestNewWithoutStore(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Reports)
	assert.NoError(t, a.Ping(context.Background()))
	assert.False(t, a.Speech.Available())

	var events []chat.Event
	p := a.NewPipeline("test", func(ev chat.Event) { events = append(events, ev) })
	require.NotNil(t, p)
	p.Chat().AppendSystem("hello")
	require.NotEmpty(t, events)
	assert.Equal(t, chat.MessageAppended, events[0].Kind)
}

func TestChatPreambleFromPromptDir(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Equal(t, chat.Preamble, a.preamble)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat.txt"), []byte("Answer in plain words.\n"), 0o600))
	t.Setenv("PROMPT_DIR", dir)
	a, err = New(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Equal(t, "Answer in plain words.", a.preamble)
	assert.Equal(t, "gemini-1.5-flash", a.chatLLM.GetModel())
}

func TestNewWithSQLite(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = store.DriverSQLite
	cfg.SQLitePath = ":memory:"
	cfg.SpeechEnabled = true

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Reports)
	assert.NoError(t, a.Ping(context.Background()))
	assert.True(t, a.Speech.Available())

	ctx := context.Background()
	require.NoError(t, a.Prefs.SetDisplayMode(ctx, "tg:1", prefs.Plain))
	m, err := a.Prefs.DisplayMode(ctx, "tg:1")
	require.NoError(t, err)
	assert.Equal(t, prefs.Plain, m)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.OCREngine = "yandex"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunJanitorStops(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = store.DriverSQLite
	cfg.SQLitePath = ":memory:"
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.RunJanitor(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
