// Package notify dispatches alert notifications to the configured sinks:
// a local desktop notifier (best effort), a Discord-style webhook, and a
// Telegram-compatible chat bot (spec §4.7, §6).
//
// TelegramSink adapts the teacher's services/messenger.go
// TelegramMessenger.sendTelegramMessage (a hand-built {chat_id, text,
// parse_mode: "Markdown"} POST) onto github.com/go-telegram-bot-api/
// telegram-bot-api/v5, a teacher dependency that was only declared
// (// indirect) and never imported.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Error definitions for notification dispatch.
var (
	ErrTokenNotSet  = errors.New("notify: token not set")
	ErrChatIDNotSet = errors.New("notify: chat id not set")
	ErrSendFailed   = errors.New("notify: send failed")
)

// Sink delivers one (title, body) alert. Implementations never block the
// caller past their own timeout, and a failing sink must not affect any
// other sink (spec §4.7/§7).
type Sink interface {
	Name() string
	Send(ctx context.Context, title, body string) error
}

// Dispatcher fans an alert out to every configured sink, logging (not
// propagating) per-sink failures.
type Dispatcher struct {
	Sinks []Sink
}

// Dispatch sends (title, body) to every sink, continuing past failures.
func (d *Dispatcher) Dispatch(ctx context.Context, title, body string) {
	for _, s := range d.Sinks {
		if err := s.Send(ctx, title, body); err != nil {
			log.Printf("[notify] sink %s failed: %v", s.Name(), err)
		}
	}
}

// --- Webhook sink (Discord-style {content}) ---

// WebhookSink posts {"content": "**title**\nbody"} to a Discord-style
// webhook URL, optionally rewritten through a reverse-proxy base prefix
// (spec §6).
type WebhookSink struct {
	url       string
	proxyBase string
	client    *resty.Client
}

func NewWebhookSink(url, proxyBase string) *WebhookSink {
	return &WebhookSink{
		url:       url,
		proxyBase: proxyBase,
		client:    resty.New().SetTimeout(15 * time.Second),
	}
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Send(ctx context.Context, title, body string) error {
	if strings.TrimSpace(w.url) == "" {
		return nil
	}

	content := fmt.Sprintf("**%s**\n%s", title, body)
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"content": content}).
		Post(w.rewrittenURL())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ErrSendFailed, resp.StatusCode())
	}
	return nil
}

// rewrittenURL maps .../api/webhooks/{id}/{token} to <proxy>/webhooks/{id}/{token}
// when a proxy base is configured (spec §6).
func (w *WebhookSink) rewrittenURL() string {
	if w.proxyBase == "" {
		return w.url
	}
	idx := strings.Index(w.url, "/api/webhooks/")
	if idx == -1 {
		return w.url
	}
	suffix := strings.TrimPrefix(w.url[idx:], "/api/webhooks/")
	return strings.TrimSuffix(w.proxyBase, "/") + "/webhooks/" + suffix
}

// --- Telegram chat-bot sink ---

// TelegramSink posts {chat_id, text, parse_mode: "Markdown"} via the
// go-telegram-bot-api client.
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramSink(token, chatID string) (*TelegramSink, error) {
	if token == "" {
		return nil, ErrTokenNotSet
	}
	if chatID == "" {
		return nil, ErrChatIDNotSet
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("notify: invalid telegram chat id %q: %w", chatID, err)
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram bot init: %w", err)
	}

	return &TelegramSink{bot: bot, chatID: id}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Send(ctx context.Context, title, body string) error {
	text := fmt.Sprintf("*%s*\n%s", escapeMarkdown(title), body)
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)
	return replacer.Replace(s)
}

// --- Desktop sink (best-effort local notifier) ---

// DesktopSink is the "local desktop notifier if available" sink from
// spec §4.7. In a headless server deployment there is no desktop to
// notify; this logs the alert so it is never silently dropped, and
// Available() lets callers skip wiring it when not applicable.
type DesktopSink struct{}

func (DesktopSink) Name() string { return "desktop" }

func (DesktopSink) Available() bool { return false }

func (DesktopSink) Send(ctx context.Context, title, body string) error {
	log.Printf("[notify:desktop] %s: %s", title, body)
	return nil
}
