package remote

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/alpaca-computer/alpaca-connect/internal/oauth"
	"github.com/alpaca-computer/alpaca-connect/internal/storage"
)

const (
	clientName    = "Alpaca Computer"
	clientVersion = "1.0.0"
	oauthScope    = "mcp:tools"
)

// StreamableHTTPFactory dials remote MCP servers over streamable HTTP with
// OAuth support. When a server demands authorization it performs dynamic
// client registration, stores the PKCE verifier in the session, dispatches
// the browser redirect, and reports ErrAuthorizationRequired.
type StreamableHTTPFactory struct {
	logger *zap.Logger
}

// NewStreamableHTTPFactory creates the default transport factory.
func NewStreamableHTTPFactory(logger *zap.Logger) *StreamableHTTPFactory {
	return &StreamableHTTPFactory{logger: logger.Named("transport")}
}

// Dial opens and initializes an MCP client for the endpoint.
func (f *StreamableHTTPFactory) Dial(ctx context.Context, endpoint string, session *oauth.Session) (Client, error) {
	oauthConfig := client.OAuthConfig{
		RedirectURI: session.RedirectURL(),
		Scopes:      []string{oauthScope},
		PKCEEnabled: true,
		TokenStore:  newSessionTokenStore(session),
	}
	if info := session.ClientInformation(); info != nil {
		oauthConfig.ClientID = info.ClientID
		oauthConfig.ClientSecret = info.ClientSecret
	}

	c, err := client.NewOAuthStreamableHttpClient(endpoint, oauthConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := c.Start(ctx); err != nil {
		return nil, f.classify(ctx, session, err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	if _, err := c.Initialize(ctx, initRequest); err != nil {
		_ = c.Close()
		return nil, f.classify(ctx, session, err)
	}

	return &mcpClient{c: c}, nil
}

// classify maps an mcp-go error onto the transport boundary's taxonomy. The
// OAuth-required case triggers the authorization side effects before the
// sentinel is returned.
func (f *StreamableHTTPFactory) classify(ctx context.Context, session *oauth.Session, err error) error {
	if !client.IsOAuthAuthorizationRequiredError(err) {
		return fmt.Errorf("connection failed: %w", err)
	}

	handler := client.GetOAuthHandler(err)
	if handler == nil {
		return fmt.Errorf("authorization required but no OAuth handler available: %w", err)
	}

	if handler.GetClientID() == "" {
		if regErr := handler.RegisterClient(ctx, clientName); regErr != nil {
			return fmt.Errorf("dynamic client registration failed: %w", regErr)
		}
	}
	if saveErr := session.SaveClientInformation(&storage.ClientInfo{ClientID: handler.GetClientID()}); saveErr != nil {
		return fmt.Errorf("failed to persist client registration: %w", saveErr)
	}

	codeVerifier, vErr := client.GenerateCodeVerifier()
	if vErr != nil {
		return fmt.Errorf("failed to generate code verifier: %w", vErr)
	}
	codeChallenge := client.GenerateCodeChallenge(codeVerifier)

	state, sErr := client.GenerateState()
	if sErr != nil {
		return fmt.Errorf("failed to generate state: %w", sErr)
	}

	authURL, uErr := handler.GetAuthorizationURL(ctx, state, codeChallenge)
	if uErr != nil {
		return fmt.Errorf("failed to build authorization URL: %w", uErr)
	}

	if err := session.SaveCodeVerifier(codeVerifier); err != nil {
		return fmt.Errorf("failed to save code verifier: %w", err)
	}
	if err := session.RedirectToAuthorization(authURL); err != nil {
		return fmt.Errorf("failed to dispatch authorization redirect: %w", err)
	}

	return fmt.Errorf("%w: %w", ErrAuthorizationRequired, err)
}

// mcpClient adapts an mcp-go client to the Client interface.
type mcpClient struct {
	c *client.Client
}

func (m *mcpClient) Tools(ctx context.Context) (map[string]mcp.Tool, error) {
	tools := make(map[string]mcp.Tool)

	request := mcp.ListToolsRequest{}
	for {
		result, err := m.c.ListTools(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}
		for _, tool := range result.Tools {
			tools[tool.Name] = tool
		}
		if result.NextCursor == "" {
			break
		}
		request.Params.Cursor = result.NextCursor
	}

	return tools, nil
}

func (m *mcpClient) Close() error {
	return m.c.Close()
}

// sessionTokenStore adapts a Session to mcp-go's TokenStore so the library's
// transport reads and writes credentials through the session. The library may
// save twice in quick succession; the session's guards absorb that.
type sessionTokenStore struct {
	session *oauth.Session
}

func newSessionTokenStore(session *oauth.Session) client.TokenStore {
	return &sessionTokenStore{session: session}
}

func (s *sessionTokenStore) GetToken(_ context.Context) (*client.Token, error) {
	tokens := s.session.Tokens()
	if tokens == nil {
		return nil, transport.ErrNoToken
	}
	return &client.Token{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		ExpiresAt:    tokens.ExpiresAt,
		Scope:        tokens.Scope,
	}, nil
}

func (s *sessionTokenStore) SaveToken(_ context.Context, token *client.Token) error {
	return s.session.SaveTokens(&storage.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.ExpiresAt,
		Scope:        token.Scope,
	})
}
