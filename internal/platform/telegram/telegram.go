// Package telegram implements the platform Dialer and Conn for
// Telegram bots.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/relaywire/relaywire/internal/platform"
)

// api abstracts the tgbotapi.BotAPI methods we use, enabling test mocks.
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetMe() (tgbotapi.User, error)
}

// Dialer authenticates Telegram bot accounts. The account's
// credentials ref names the environment variable holding the bot token.
type Dialer struct {
	// NewAPI builds the client for a token. Tests inject a fake; nil
	// uses the real Bot API.
	NewAPI func(token string) (api, error)
}

// NewDialer creates a Dialer backed by the real Bot API.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Platform returns "telegram".
func (d *Dialer) Platform() string { return "telegram" }

// Dial resolves the token and verifies it with a getMe call.
func (d *Dialer) Dial(ctx context.Context, creds platform.Credentials) (platform.Conn, error) {
	token := os.Getenv(creds.Ref)
	if token == "" {
		return nil, platform.NewPermanent("dial", fmt.Errorf("telegram: credentials ref %q resolves to nothing", creds.Ref))
	}

	build := d.NewAPI
	if build == nil {
		build = func(token string) (api, error) {
			return tgbotapi.NewBotAPI(token)
		}
	}
	bot, err := build(token)
	if err != nil {
		return nil, classify("dial", err)
	}
	conn := &Conn{bot: bot}
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// Conn is one authenticated Telegram bot connection.
type Conn struct {
	bot api
}

// Send delivers a message. A message with forward addressing uses
// Telegram's native forward so the "forwarded from" header is kept;
// anything else is sent as a copy.
func (c *Conn) Send(ctx context.Context, msg platform.Message) error {
	if err := ctx.Err(); err != nil {
		return platform.NewTransient("send", err)
	}
	chatID, err := strconv.ParseInt(msg.ChatRef, 10, 64)
	if err != nil {
		return platform.NewPermanent("send", fmt.Errorf("telegram: chat ref %q is not a chat id", msg.ChatRef))
	}

	var payload tgbotapi.Chattable
	if msg.ForwardOf != "" && msg.SourceChatRef != "" {
		fromChat, err := strconv.ParseInt(msg.SourceChatRef, 10, 64)
		if err != nil {
			return platform.NewPermanent("send", fmt.Errorf("telegram: source chat ref %q is not a chat id", msg.SourceChatRef))
		}
		msgID, err := strconv.Atoi(msg.ForwardOf)
		if err != nil {
			return platform.NewPermanent("send", fmt.Errorf("telegram: message id %q is not numeric", msg.ForwardOf))
		}
		fwd := tgbotapi.NewForward(chatID, fromChat, msgID)
		fwd.DisableNotification = msg.Silent
		payload = fwd
	} else {
		out := tgbotapi.NewMessage(chatID, msg.Text)
		out.DisableNotification = msg.Silent
		payload = out
	}

	if _, err := c.bot.Send(payload); err != nil {
		return classify("send", err)
	}
	return nil
}

// Ping verifies the token is still valid.
func (c *Conn) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return platform.NewTransient("ping", err)
	}
	if _, err := c.bot.GetMe(); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close releases the connection. The Bot API is stateless HTTP, so
// there is nothing to tear down.
func (c *Conn) Close() error { return nil }

// classify maps Bot API errors onto the retry policy. Client errors
// other than rate limiting are permanent; everything else is worth a
// retry.
func classify(op string, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return platform.NewTransient(op, err)
		case apiErr.Code >= 400 && apiErr.Code < 500:
			return platform.NewPermanent(op, err)
		}
	}
	return platform.NewTransient(op, err)
}
