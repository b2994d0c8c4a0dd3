package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alpaca-computer/alpaca-connect/internal/storage"
)

// Host rewrite for deriving a namespace's token endpoint from its connection
// URL: the service subdomain is swapped for the auth subdomain and a fixed
// /token path segment is appended.
const (
	serverHostPrefix = "server."
	authHostPrefix   = "auth."
	tokenPathSuffix  = "/token"
)

// Exchanger turns an authorization code into a token set via the provider's
// token endpoint.
type Exchanger struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewExchanger creates a token exchanger. A nil httpClient gets a default
// with a 30-second timeout.
func NewExchanger(httpClient *http.Client, logger *zap.Logger) *Exchanger {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Exchanger{
		httpClient: httpClient,
		logger:     logger.Named("token-exchange"),
	}
}

// TokenEndpoint derives the token endpoint for a server connection URL.
// https://server.smithery.ai/<ns> becomes https://auth.smithery.ai/<ns>/token.
func TokenEndpoint(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	if strings.HasPrefix(u.Host, serverHostPrefix) {
		u.Host = authHostPrefix + strings.TrimPrefix(u.Host, serverHostPrefix)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + tokenPathSuffix
	return u.String(), nil
}

// Exchange performs the authorization-code grant for the session's namespace.
// A missing verifier fails with ErrNoVerifier; a provider rejection fails
// with ErrTokenExchange. Both reset the session's auth state so the user can
// start over. On success the tokens are saved into the session and returned.
func (e *Exchanger) Exchange(ctx context.Context, session *Session, serverURL, authCode string) (*storage.TokenSet, error) {
	endpoint, err := TokenEndpoint(serverURL)
	if err != nil {
		session.ResetAuthState()
		return nil, err
	}

	verifier, err := session.CodeVerifier()
	if err != nil {
		session.ResetAuthState()
		return nil, fmt.Errorf("namespace %s: %w", session.Namespace(), err)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", authCode)
	form.Set("redirect_uri", session.RedirectURL())
	form.Set("code_verifier", verifier)
	if info := session.ClientInformation(); info != nil && info.ClientID != "" {
		form.Set("client_id", info.ClientID)
	}

	exchangeID := uuid.NewString()
	e.logger.Info("exchanging authorization code",
		zap.String("namespace", session.Namespace()),
		zap.String("endpoint", endpoint),
		zap.String("exchange_id", exchangeID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		session.ResetAuthState()
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		session.ResetAuthState()
		return nil, fmt.Errorf("token endpoint unreachable: %w: %w", ErrTokenExchange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		session.ResetAuthState()
		e.logger.Error("token exchange rejected",
			zap.String("namespace", session.Namespace()),
			zap.String("exchange_id", exchangeID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, fmt.Errorf("%w: HTTP %d", ErrTokenExchange, resp.StatusCode)
	}

	var tokens storage.TokenSet
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		session.ResetAuthState()
		return nil, fmt.Errorf("%w: invalid token response: %w", ErrTokenExchange, err)
	}
	if tokens.ExpiresIn > 0 {
		tokens.ExpiresAt = time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}

	if err := session.SaveTokens(&tokens); err != nil {
		return nil, err
	}

	e.logger.Info("token exchange complete",
		zap.String("namespace", session.Namespace()),
		zap.String("exchange_id", exchangeID))
	return &tokens, nil
}
