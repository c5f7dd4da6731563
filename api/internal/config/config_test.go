package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "LOG_LEVEL", "TELEGRAM_BOT_TOKEN", "WEBHOOK_URL", "GEMINI_MODEL",
		"OCR_ENGINE", "OCR_LANGUAGE", "OCR_MAX_PIXELS", "YC_OAUTH_TOKEN", "YC_FOLDER_ID",
		"STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH", "REPORT_CACHE_TTL_HOURS",
		"CHAT_HISTORY_TURNS", "SPEECH_ENABLED", "PROMPT_DIR",
		"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_SSLMODE",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("GEMINI_API_KEY", "key")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c := Load()

	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "gemini-1.5-flash", c.GeminiModel)
	assert.Equal(t, "tesseract", c.OCREngine)
	assert.Equal(t, "eng", c.OCRLanguage)
	assert.Equal(t, 18_000_000, c.OCRMaxPixels)
	assert.Equal(t, 7*24*time.Hour, c.ReportCacheTTL)
	assert.Equal(t, 10, c.ChatHistoryTurns)
	assert.True(t, c.SpeechEnabled)
	assert.Empty(t, c.StoreDriver)
	require.NoError(t, c.Validate())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OCR_ENGINE", "Yandex")
	t.Setenv("YC_OAUTH_TOKEN", "oauth")
	t.Setenv("YC_FOLDER_ID", "folder")
	t.Setenv("CHAT_HISTORY_TURNS", "0")
	t.Setenv("SPEECH_ENABLED", "false")
	t.Setenv("OCR_MAX_PIXELS", "not-a-number")
	t.Setenv("SQLITE_PATH", "/tmp/lab.db")

	c := Load()
	assert.Equal(t, "yandex", c.OCREngine)
	assert.Equal(t, 0, c.ChatHistoryTurns)
	assert.False(t, c.SpeechEnabled)
	assert.Equal(t, 18_000_000, c.OCRMaxPixels)
	assert.Equal(t, "sqlite3", c.StoreDriver)
	assert.Equal(t, "/tmp/lab.db", c.StoreDSN())
	require.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base := Load()

	c := *base
	c.OCREngine = "yandex"
	assert.Error(t, c.Validate())

	c = *base
	c.OCREngine = "easyocr"
	assert.Error(t, c.Validate())

	c = *base
	c.StoreDriver = "pgx"
	assert.Error(t, c.Validate())

	c = *base
	c.StoreDriver = "mysql"
	assert.Error(t, c.Validate())
}

func TestResolveDSN(t *testing.T) {
	clearEnv(t)
	assert.Empty(t, resolveDSN())

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "lab")
	t.Setenv("POSTGRES_PASSWORD", "s3cret")
	t.Setenv("POSTGRES_DB", "reports")
	dsn := resolveDSN()
	assert.Equal(t, "postgres://lab:s3cret@db:5432/reports?sslmode=disable", dsn)
	assert.Equal(t, "postgres://db:5432/reports", SafeDSNSummary(dsn))

	c := Load()
	assert.Equal(t, "pgx", c.StoreDriver)

	t.Setenv("DATABASE_URL", "postgres://u:p@h:1/x")
	assert.Equal(t, "postgres://u:p@h:1/x", resolveDSN())
	assert.Equal(t, "(empty)", SafeDSNSummary(""))
}
