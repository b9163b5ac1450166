// Package discord implements the platform Dialer and Conn for Discord
// bots over the REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/bwmarrin/discordgo"

	"github.com/relaywire/relaywire/internal/platform"
)

// session abstracts the discordgo.Session methods we use, enabling
// test mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	Close() error
}

// realSession wraps *discordgo.Session to implement the session
// interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	return r.s.User(userID, options...)
}
func (r *realSession) Close() error { return r.s.Close() }

// Dialer authenticates Discord bot accounts. The account's credentials
// ref names the environment variable holding the bot token.
type Dialer struct {
	// NewSession builds the client for a token. Tests inject a fake;
	// nil uses discordgo.
	NewSession func(token string) (session, error)
}

// NewDialer creates a Dialer backed by discordgo.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Platform returns "discord".
func (d *Dialer) Platform() string { return "discord" }

// Dial resolves the token and verifies it by fetching the bot user.
func (d *Dialer) Dial(ctx context.Context, creds platform.Credentials) (platform.Conn, error) {
	token := os.Getenv(creds.Ref)
	if token == "" {
		return nil, platform.NewPermanent("dial", fmt.Errorf("discord: credentials ref %q resolves to nothing", creds.Ref))
	}

	build := d.NewSession
	if build == nil {
		build = func(token string) (session, error) {
			s, err := discordgo.New("Bot " + token)
			if err != nil {
				return nil, err
			}
			return &realSession{s: s}, nil
		}
	}
	sess, err := build(token)
	if err != nil {
		return nil, classify("dial", err)
	}
	conn := &Conn{sess: sess}
	if err := conn.Ping(ctx); err != nil {
		sess.Close()
		return nil, err
	}
	return conn, nil
}

// Conn is one authenticated Discord bot connection.
type Conn struct {
	sess session
}

// Send posts the message to the destination channel. Discord has no
// cross-channel forward, so forwarded messages are sent as content.
func (c *Conn) Send(ctx context.Context, msg platform.Message) error {
	if err := ctx.Err(); err != nil {
		return platform.NewTransient("send", err)
	}
	data := &discordgo.MessageSend{Content: msg.Text}
	if msg.Silent {
		data.Flags = discordgo.MessageFlagsSuppressNotifications
	}
	if _, err := c.sess.ChannelMessageSendComplex(msg.ChatRef, data, discordgo.WithContext(ctx)); err != nil {
		return classify("send", err)
	}
	return nil
}

// Ping verifies the token by fetching the bot's own user.
func (c *Conn) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return platform.NewTransient("ping", err)
	}
	if _, err := c.sess.User("@me", discordgo.WithContext(ctx)); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close releases the underlying HTTP resources.
func (c *Conn) Close() error { return c.sess.Close() }

// classify maps Discord REST errors onto the retry policy. Rate limits
// and server errors are transient; other client errors (unknown
// channel, missing access, revoked token) are permanent.
func classify(op string, err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch {
		case rest.Response.StatusCode == http.StatusTooManyRequests:
			return platform.NewTransient(op, err)
		case rest.Response.StatusCode >= 400 && rest.Response.StatusCode < 500:
			return platform.NewPermanent(op, err)
		}
	}
	if errors.As(err, new(*discordgo.RateLimitError)) {
		return platform.NewTransient(op, err)
	}
	return platform.NewTransient(op, err)
}
