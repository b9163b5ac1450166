// Package platform defines the narrow capability the orchestration core
// needs from a chat platform: dial an authenticated connection, send a
// message, probe liveness. Platform SDK specifics stay in the
// subpackages (telegram, discord, slack); nothing above this interface
// imports them.
package platform

import "context"

// Message is the platform-neutral outbound payload, produced by the
// transform pipeline just before dispatch.
type Message struct {
	ChatRef string // platform-specific channel/chat identifier
	Text    string
	// ForwardOf and SourceChatRef identify the original message when
	// forwarding rather than copying; platforms without a native
	// forward fall back to sending Text.
	ForwardOf     string
	SourceChatRef string
	Silent        bool // suppress notification where the platform supports it
}

// Credentials locates the secret for one account. Ref names an
// environment variable (or vault key) holding the token; the resolved
// Token is populated by the dialer just-in-time and never persisted.
type Credentials struct {
	AccountID string
	TenantID  string
	Ref       string
}

// Conn is one live authenticated connection to a platform.
// Implementations must be safe for concurrent Send/Ping calls; Close
// may race with in-flight calls and must not panic.
type Conn interface {
	Send(ctx context.Context, msg Message) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer authenticates accounts against one platform.
type Dialer interface {
	// Platform returns the platform name ("telegram", "discord", "slack").
	Platform() string
	// Dial authenticates and returns a live connection. Authentication
	// failures are Permanent errors; network failures are Transient.
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}
