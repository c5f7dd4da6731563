package config

import (
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     string
	LogLevel string

	TelegramToken string
	WebhookURL    string

	GeminiAPIKey string
	GeminiModel  string

	OCREngine    string // tesseract | yandex
	OCRLanguage  string
	OCRMaxPixels int
	YCOAuthToken string
	YCFolderID   string

	StoreDriver    string // pgx | sqlite3 | "" (no store)
	DatabaseURL    string
	SQLitePath     string
	ReportCacheTTL time.Duration

	ChatHistoryTurns int
	SpeechEnabled    bool
	PromptDir        string
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("missing required env %s", k)
	}
	return v
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("config: %s=%q is not a number, using %d", k, v, def)
		return def
	}
	return n
}

func getEnvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("config: %s=%q is not a bool, using %t", k, v, def)
		return def
	}
	return b
}

// Load reads the environment. Keys required by a particular binary are
// checked with RequireTelegram / Validate.
func Load() *Config {
	c := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		WebhookURL:    os.Getenv("WEBHOOK_URL"),

		GeminiAPIKey: mustEnv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		OCREngine:    strings.ToLower(getEnv("OCR_ENGINE", "tesseract")),
		OCRLanguage:  getEnv("OCR_LANGUAGE", "eng"),
		OCRMaxPixels: getEnvInt("OCR_MAX_PIXELS", 18_000_000),
		YCOAuthToken: os.Getenv("YC_OAUTH_TOKEN"),
		YCFolderID:   os.Getenv("YC_FOLDER_ID"),

		StoreDriver:    os.Getenv("STORE_DRIVER"),
		DatabaseURL:    resolveDSN(),
		SQLitePath:     os.Getenv("SQLITE_PATH"),
		ReportCacheTTL: time.Duration(getEnvInt("REPORT_CACHE_TTL_HOURS", 24*7)) * time.Hour,

		ChatHistoryTurns: getEnvInt("CHAT_HISTORY_TURNS", 10),
		SpeechEnabled:    getEnvBool("SPEECH_ENABLED", true),
		PromptDir:        os.Getenv("PROMPT_DIR"),
	}
	if c.StoreDriver == "" {
		switch {
		case c.DatabaseURL != "":
			c.StoreDriver = "pgx"
		case c.SQLitePath != "":
			c.StoreDriver = "sqlite3"
		}
	}
	return c
}

// Validate checks cross-key constraints shared by all binaries.
func (c *Config) Validate() error {
	switch c.OCREngine {
	case "tesseract":
	case "yandex":
		if c.YCOAuthToken == "" || c.YCFolderID == "" {
			return fmt.Errorf("OCR_ENGINE=yandex needs YC_OAUTH_TOKEN and YC_FOLDER_ID")
		}
	default:
		return fmt.Errorf("unknown OCR_ENGINE %q (tesseract|yandex)", c.OCREngine)
	}
	switch c.StoreDriver {
	case "":
	case "pgx":
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE_DRIVER=pgx needs DATABASE_URL or POSTGRES_*")
		}
	case "sqlite3":
		if c.SQLitePath == "" {
			return fmt.Errorf("STORE_DRIVER=sqlite3 needs SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (pgx|sqlite3)", c.StoreDriver)
	}
	if c.OCRMaxPixels <= 0 {
		return fmt.Errorf("OCR_MAX_PIXELS must be > 0")
	}
	if c.ChatHistoryTurns < 0 {
		return fmt.Errorf("CHAT_HISTORY_TURNS must be >= 0")
	}
	return nil
}

// StoreDSN is the data source for StoreDriver.
func (c *Config) StoreDSN() string {
	if c.StoreDriver == "sqlite3" {
		return c.SQLitePath
	}
	return c.DatabaseURL
}

// resolveDSN prefers DATABASE_URL and otherwise builds one from POSTGRES_*.
func resolveDSN() string {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		return dsn
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "postgres")
	pass := os.Getenv("POSTGRES_PASSWORD")
	db := getEnv("POSTGRES_DB", "postgres")
	ssl := getEnv("POSTGRES_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := u.Query()
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return u.String()
}

// SafeDSNSummary hides credentials for logging.
func SafeDSNSummary(dsn string) string {
	if dsn == "" {
		return "(empty)"
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "(dsn)"
	}
	return fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Path)
}
