// Package telegram pushes failure alerts to a Telegram chat. It is an
// outbound channel only; the daemon is driven through the API and NATS.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/pkatsogr/crewd/internal/agent"
	"github.com/pkatsogr/crewd/internal/config"
)

// Alerter is nil-safe: a nil *Alerter drops everything, so callers need no
// configured checks.
type Alerter struct {
	bot    *telego.Bot
	chatID int64
}

// New returns (nil, nil) when no token or chat id is configured.
func New(cfg config.TelegramConfig) (*Alerter, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, nil
	}

	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Alerter{bot: bot, chatID: cfg.ChatID}, nil
}

// Observer alerts on task failures and agent errors. Send failures are
// logged and dropped; alerting is best-effort.
func (a *Alerter) Observer() agent.Observer {
	return func(ev agent.Event) {
		if a == nil {
			return
		}

		var text string
		switch ev.Type {
		case agent.EventTaskFailed:
			taskID := ""
			if ev.Task != nil {
				taskID = ev.Task.ID
			}
			text = fmt.Sprintf("task failed\nagent: %s\ntask: %s\nerror: %v", ev.Agent, taskID, ev.Err)
		case agent.EventError:
			text = fmt.Sprintf("agent error\nagent: %s\ncontext: %s\nerror: %v", ev.Agent, ev.Context, ev.Err)
		default:
			return
		}

		if err := a.Send(context.Background(), text); err != nil {
			slog.Error("telegram alert failed", "agent", ev.Agent, "error", err)
		}
	}
}

// Send delivers a message to the configured chat, split to fit Telegram's
// message size limit.
func (a *Alerter) Send(ctx context.Context, text string) error {
	if a == nil {
		return nil
	}
	for _, chunk := range chunkMessage(text, 4096) {
		if _, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(a.chatID), chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}
