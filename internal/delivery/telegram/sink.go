// Package telegram delivers notifications to a Telegram chat.
//
// The sink is send-only: it never polls for updates, it only pushes
// messages to the configured chat. Long texts are split on newline
// boundaries to stay under Telegram's message size limit.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"notifyd/internal/notify"
	"notifyd/pkg/logx"
)

// Config for the Telegram sink.
type Config struct {
	Token    string
	ChatID   int64
	ThreadID int

	// ParseMode is passed through to Telegram ("", "HTML", "MarkdownV2").
	ParseMode      string
	DisablePreview bool
}

type Sink struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	// No poller: the bot object is used purely as a send client.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{cfg: cfg, log: log, bot: b}, nil
}

func (s *Sink) Name() string { return "telegram" }

func (s *Sink) Deliver(ctx context.Context, n notify.Notification) error {
	text := renderText(n)
	if text == "" {
		return nil
	}

	chat := &tele.Chat{ID: s.cfg.ChatID}
	opt := &tele.SendOptions{
		ParseMode:             s.cfg.ParseMode,
		DisableWebPagePreview: s.cfg.DisablePreview,
		ThreadID:              s.cfg.ThreadID,
	}

	start := time.Now()
	for _, chunk := range splitText(text, telegramTextLimit) {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if _, err := s.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	s.log.Debug("sent", logx.Int("id", int(n.ID)), logx.Duration("took", time.Since(start)))
	return nil
}

func renderText(n notify.Notification) string {
	var b strings.Builder
	if n.Title != "" {
		b.WriteString(n.Title)
	}
	body := n.Body
	if n.LargeBody != "" {
		body = n.LargeBody
	}
	if body != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(body)
	}
	for _, line := range n.InboxLines {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
	}
	if n.Summary != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(n.Summary)
	}
	return strings.TrimSpace(b.String())
}

const telegramTextLimit = 4000

// splitText splits long messages into chunks that are safe to send,
// preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid extremely small chunks.
					if i-start >= limit/3 {
						cut = i + 1
						break
					}
				}
			}
			if cut != -1 {
				end = cut
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
