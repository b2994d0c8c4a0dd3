package remote

// ResultCode classifies the terminal outcome of an authorization completion.
type ResultCode string

const (
	// CodeNone means the operation fully succeeded.
	CodeNone ResultCode = ""
	// CodeNoSession means no OAuth session exists for the namespace; the
	// authorization flow was never started.
	CodeNoSession ResultCode = "no_auth_provider"
	// CodeInvalidCode means no PKCE verifier was available for the exchange.
	CodeInvalidCode ResultCode = "invalid_code"
	// CodeTokenExchangeFailed means the provider rejected the exchange.
	CodeTokenExchangeFailed ResultCode = "token_exchange_failed"
	// CodeReconnectionFailed means tokens were obtained but the follow-up
	// connection failed. The caller should offer a manual retry, not re-run
	// authorization.
	CodeReconnectionFailed ResultCode = "reconnection_failed"
)

// ConnectResult is the outcome of a connect attempt.
type ConnectResult struct {
	// ReAuthRequired reports that the endpoint demanded authorization and
	// the browser redirect has been dispatched.
	ReAuthRequired bool
}

// AuthResult is the outcome of completing an authorization.
type AuthResult struct {
	// Success reports whether tokens were obtained. It can be true together
	// with CodeReconnectionFailed (partial success).
	Success bool
	Code    ResultCode
	Message string
}
