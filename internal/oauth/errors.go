// Package oauth manages per-namespace OAuth client state for remote MCP
// server connections: tokens, client registration, PKCE verifiers, and the
// authorization-code exchange.
package oauth

import "errors"

// Sentinel errors for OAuth flow state.
var (
	// ErrNoVerifier indicates no PKCE code verifier is saved, meaning no
	// authorization flow is in progress for the namespace.
	ErrNoVerifier = errors.New("no code verifier saved")

	// ErrTokenExchange indicates the provider rejected the
	// authorization-code exchange. The flow must be restarted by the user.
	ErrTokenExchange = errors.New("token exchange failed")
)
