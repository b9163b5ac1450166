// Package slack implements the platform Dialer and Conn for Slack bot
// tokens via the Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"os"

	slackapi "github.com/slack-go/slack"

	"github.com/relaywire/relaywire/internal/platform"
)

// client abstracts the slack.Client methods we use, enabling test
// mocks.
type client interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
}

// Dialer authenticates Slack bot accounts. The account's credentials
// ref names the environment variable holding the bot token.
type Dialer struct {
	// NewClient builds the client for a token. Tests inject a fake;
	// nil uses the real Web API.
	NewClient func(token string) client
}

// NewDialer creates a Dialer backed by the real Web API.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Platform returns "slack".
func (d *Dialer) Platform() string { return "slack" }

// Dial resolves the token and verifies it with an auth.test call.
func (d *Dialer) Dial(ctx context.Context, creds platform.Credentials) (platform.Conn, error) {
	token := os.Getenv(creds.Ref)
	if token == "" {
		return nil, platform.NewPermanent("dial", fmt.Errorf("slack: credentials ref %q resolves to nothing", creds.Ref))
	}

	build := d.NewClient
	if build == nil {
		build = func(token string) client {
			return slackapi.New(token)
		}
	}
	conn := &Conn{api: build(token)}
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// Conn is one authenticated Slack connection.
type Conn struct {
	api client
}

// Send posts the message to the destination channel. Slack has no
// cross-workspace forward, so forwarded messages are sent as content.
func (c *Conn) Send(ctx context.Context, msg platform.Message) error {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	_, _, err := c.api.PostMessageContext(ctx, msg.ChatRef, opts...)
	if err != nil {
		return classify("send", err)
	}
	return nil
}

// Ping verifies the token is still valid.
func (c *Conn) Ping(ctx context.Context) error {
	if _, err := c.api.AuthTestContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close releases the connection. The Web API is stateless HTTP, so
// there is nothing to tear down.
func (c *Conn) Close() error { return nil }

// permanentCodes are Web API error strings that will not succeed on
// retry without operator or tenant action.
var permanentCodes = map[string]bool{
	"invalid_auth":      true,
	"account_inactive":  true,
	"token_revoked":     true,
	"channel_not_found": true,
	"not_in_channel":    true,
	"is_archived":       true,
	"msg_too_long":      true,
	"restricted_action": true,
}

// classify maps Web API errors onto the retry policy.
func classify(op string, err error) error {
	var rl *slackapi.RateLimitedError
	if errors.As(err, &rl) {
		return platform.NewTransient(op, err)
	}
	if permanentCodes[err.Error()] {
		return platform.NewPermanent(op, err)
	}
	var resp slackapi.SlackErrorResponse
	if errors.As(err, &resp) && permanentCodes[resp.Err] {
		return platform.NewPermanent(op, err)
	}
	return platform.NewTransient(op, err)
}
