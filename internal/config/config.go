// Package config loads the process-wide configuration from the environment,
// following the teacher's main.go habit of godotenv.Load() + os.Getenv.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config-related error definitions.
var (
	ErrFXFeedURLNotSet = errors.New("FX_FEED_URL not set")
)

// Config is the process-wide configuration surface the core honors (§6).
type Config struct {
	BrowserExecPath    string
	FetchAllowedHosts  map[string]bool
	CORSAllowedOrigins []string
	WebhookProxyBase   string

	DiscordWebhookURL string
	TelegramBotToken  string
	TelegramChatID    string

	FXFeedURL string

	StateDir string
	MongoURI string

	SweepIntervalMinutes int
	ItemPaceSeconds       int
}

// Load reads .env (if present) and the environment into a Config. It never
// fails when .env is missing -- only real environment variables are
// required in production.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		// A malformed .env is worth surfacing; a missing one is not.
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "config: continuing without .env: %v\n", err)
		}
	}

	cfg := &Config{
		BrowserExecPath:       os.Getenv("BROWSER_EXEC_PATH"),
		FetchAllowedHosts:     parseHostSet(os.Getenv("FETCH_ALLOWED_HOSTS")),
		CORSAllowedOrigins:    splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
		WebhookProxyBase:      os.Getenv("WEBHOOK_PROXY_BASE"),
		DiscordWebhookURL:     os.Getenv("DISCORD_WEBHOOK_URL"),
		TelegramBotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:        os.Getenv("TELEGRAM_CHAT_ID"),
		FXFeedURL:             getenvDefault("FX_FEED_URL", "https://api.exchangerate.host/latest?base=USD"),
		StateDir:              getenvDefault("STATE_DIR", "./data"),
		MongoURI:              os.Getenv("MONGODB_URI"),
		SweepIntervalMinutes:  getenvIntDefault("SWEEP_INTERVAL_MINUTES", 60),
		ItemPaceSeconds:       getenvIntDefault("ITEM_PACE_SECONDS", 2),
	}

	return cfg, nil
}

// Validate checks that the config is internally consistent. It never
// panics -- callers decide whether a missing value is fatal.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.FXFeedURL) == "" {
		return fmt.Errorf("%w", ErrFXFeedURLNotSet)
	}
	return nil
}

func parseHostSet(raw string) map[string]bool {
	hosts := splitCSV(raw)
	if len(hosts) == 0 {
		return nil
	}
	set := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		set[strings.ToLower(h)] = true
	}
	return set
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
