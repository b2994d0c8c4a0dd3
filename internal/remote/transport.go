// Package remote manages live connections to remote MCP servers: connect,
// disconnect, reconnect-all, and the per-namespace tools cache.
package remote

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/alpaca-computer/alpaca-connect/internal/oauth"
)

// ErrAuthorizationRequired is returned by Factory.Dial when the remote
// endpoint demands authorization. The authorization redirect has already been
// dispatched through the session by the time the caller sees this error, so
// it is an expected outcome rather than a failure.
var ErrAuthorizationRequired = errors.New("authorization required")

// Client is a live handle to a remote MCP server.
type Client interface {
	// Tools lists the server's tools keyed by tool name.
	Tools(ctx context.Context) (map[string]mcp.Tool, error)
	Close() error
}

// Factory is the transport boundary. Dial opens a client for the given
// endpoint, using the session for credentials and authorization challenges.
// It returns ErrAuthorizationRequired (possibly wrapped) when the endpoint
// requires a fresh authorization.
type Factory interface {
	Dial(ctx context.Context, endpoint string, session *oauth.Session) (Client, error)
}
