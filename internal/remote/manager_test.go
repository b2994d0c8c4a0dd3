package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alpaca-computer/alpaca-connect/internal/config"
	"github.com/alpaca-computer/alpaca-connect/internal/oauth"
	"github.com/alpaca-computer/alpaca-connect/internal/storage"
)

type nopBrowser struct{}

func (nopBrowser) OpenURL(string) error { return nil }

// fakeClient is a controllable live handle.
type fakeClient struct {
	mu       sync.Mutex
	tools    map[string]mcp.Tool
	toolsErr error
	closeErr error
	closed   bool
}

func (c *fakeClient) Tools(_ context.Context) (map[string]mcp.Tool, error) {
	if c.toolsErr != nil {
		return nil, c.toolsErr
	}
	return c.tools, nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.closeErr
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeFactory dials fakeClients according to per-namespace outcomes.
type fakeFactory struct {
	mu sync.Mutex
	// unauthorized namespaces trigger the authorization side effects the
	// real transport performs before reporting the challenge.
	unauthorized map[string]bool
	failing      map[string]error
	clients      map[string]*fakeClient
	dials        []string
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		unauthorized: make(map[string]bool),
		failing:      make(map[string]error),
		clients:      make(map[string]*fakeClient),
	}
}

func (f *fakeFactory) Dial(_ context.Context, _ string, session *oauth.Session) (Client, error) {
	namespace := session.Namespace()
	f.mu.Lock()
	f.dials = append(f.dials, namespace)
	f.mu.Unlock()

	if f.unauthorized[namespace] {
		if err := session.SaveCodeVerifier("verifier-" + namespace); err != nil {
			return nil, err
		}
		if err := session.RedirectToAuthorization("https://auth.smithery.ai/" + namespace + "/authorize"); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: HTTP 401", ErrAuthorizationRequired)
	}
	if err := f.failing[namespace]; err != nil {
		return nil, err
	}

	client := f.clients[namespace]
	if client == nil {
		client = &fakeClient{tools: map[string]mcp.Tool{}}
		f.clients[namespace] = client
	}
	return client, nil
}

func (f *fakeFactory) dialCount(namespace string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, ns := range f.dials {
		if ns == namespace {
			count++
		}
	}
	return count
}

type testEnv struct {
	manager *Manager
	repo    *storage.Repository
	factory *fakeFactory
}

func newTestEnv(t *testing.T, serverBaseURL string, httpClient *http.Client) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	repo := storage.NewRepository(storage.NewMemoryKV(), logger)
	factory := newFakeFactory()
	cfg := &config.Config{
		ServerBaseURL: serverBaseURL,
		RedirectURL:   "alpaca.computer://oauth/callback",
	}
	exchanger := oauth.NewExchanger(httpClient, logger)
	manager := NewManager(cfg, repo, factory, nopBrowser{}, exchanger, logger)
	t.Cleanup(manager.Shutdown)
	return &testEnv{manager: manager, repo: repo, factory: factory}
}

func TestManager_ConnectSuccess(t *testing.T) {
	env := newTestEnv(t, "https://server.smithery.ai", nil)
	env.factory.clients["gmail"] = &fakeClient{tools: map[string]mcp.Tool{
		"send_email": {Name: "send_email"},
	}}

	result, err := env.manager.Connect(context.Background(), &storage.ServerRecord{
		Namespace:   "gmail",
		DisplayName: "Gmail",
	})
	require.NoError(t, err)
	assert.False(t, result.ReAuthRequired)
	assert.Equal(t, StatusConnected, env.manager.Status("gmail"))

	tools := env.manager.ToolsFromNamespaces([]string{"gmail"})
	assert.Contains(t, tools, "send_email")

	record, err := env.repo.Load("gmail")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "Gmail", record.DisplayName)
}

func TestManager_ConnectUnauthorized(t *testing.T) {
	env := newTestEnv(t, "https://server.smithery.ai", nil)
	env.factory.unauthorized["gmail"] = true

	result, err := env.manager.Connect(context.Background(), &storage.ServerRecord{
		Namespace:   "gmail",
		DisplayName: "Gmail",
	})
	require.NoError(t, err, "an authorization challenge is an expected outcome, not an error")
	assert.True(t, result.ReAuthRequired)

	// The record is persisted so a later retry has the metadata, but no
	// tokens exist yet and no live handle was stored.
	record, err := env.repo.Load("gmail")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Nil(t, record.Tokens)

	servers, err := env.manager.ListConnected()
	require.NoError(t, err)
	assert.False(t, servers["gmail"].Connected)
	assert.Empty(t, env.manager.ToolsFromNamespaces([]string{"gmail"}))
}

func TestManager_ConnectTransportError(t *testing.T) {
	env := newTestEnv(t, "https://server.smithery.ai", nil)
	env.factory.failing["gmail"] = errors.New("connection refused")

	_, err := env.manager.Connect(context.Background(), &storage.ServerRecord{Namespace: "gmail"})
	require.Error(t, err)
	assert.Equal(t, StatusError, env.manager.Status("gmail"))
}

func TestManager_ConnectToolFetchFailureDegrades(t *testing.T) {
	env := newTestEnv(t, "https://server.smithery.ai", nil)
	env.factory.clients["gmail"] = &fakeClient{toolsErr: errors.New("tools unavailable")}

	result, err := env.manager.Connect(context.Background(), &storage.ServerRecord{Namespace: "gmail"})
	require.NoError(t, err, "a tools fetch failure must not fail the connect")
	assert.False(t, result.ReAuthRequired)
	assert.Equal(t, StatusConnected, env.manager.Status("gmail"))
	assert.Empty(t, env.manager.ToolsFromNamespaces([]string{"gmail"}))
}

func TestManager_Disconnect(t *testing.T) {
	env := newTestEnv(t, "https://server.smithery.ai", nil)
	client := &fakeClient{tools: map[string]mcp.Tool{"send_email": {Name: "send_email"}}}
	env.factory.clients["gmail"] = client

	_, err := env.manager.Connect(context.Background(), &storage.ServerRecord{Namespace: "gmail"})
	require.NoError(t, err)

	require.NoError(t, env.manager.Disconnect(context.Background(), "gmail"))

	assert.True(t, client.isClosed())
	assert.Empty(t, env.manager.ToolsFromNamespaces([]string{"gmail"}))

	record, err := env.repo.Load("gmail")
	require.NoError(t, err)
	assert.Nil(t, record)

	index, err := env.repo.Index()
	require.NoError(t, err)
	assert.NotContains(t, index, "gmail")

	servers, err := env.manager.ListConnected()
	require.NoError(t, err)
	assert.NotContains(t, servers, "gmail")
}

func TestManager_DisconnectUnknownIsNoop(t *testing.T) {
	env := newTestEnv(t, "https://server.smithery.ai", nil)
	assert.NoError(t, env.manager.Disconnect(context.Background(), "unknown"))
}

func TestManager_DisconnectToleratesCloseFailure(t *testing.T) {
	env := newTestEnv(t, "https://server.smithery.ai", nil)
	env.factory.clients["gmail"] = &fakeClient{closeErr: errors.New("remote gone")}

	_, err := env.manager.Connect(context.Background(), &storage.ServerRecord{Namespace: "gmail"})
	require.NoError(t, err)

	require.NoError(t, env.manager.Disconnect(context.Background(), "gmail"),
		"a close failure is logged, never propagated")

	servers, err := env.manager.ListConnected()
	require.NoError(t, err)
	assert.NotContains(t, servers, "gmail")
}

func TestManager_ListConnectedNeverLeaksOAuthFields(t *testing.T) {
	env := newTestEnv(t, "https://server.smithery.ai", nil)

	require.NoError(t, env.repo.Save("gmail", &storage.ServerRecord{
		DisplayName: "Gmail",
		Tokens:      &storage.TokenSet{AccessToken: "secret-token"},
		ClientInfo:  &storage.ClientInfo{ClientID: "client-1", ClientSecret: "hush"},
	}))

	servers, err := env.manager.ListConnected()
	require.NoError(t, err)

	raw, err := json.Marshal(servers)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-token")
	assert.NotContains(t, string(raw), "tokens")
	assert.NotContains(t, string(raw), "client_info")
	assert.NotContains(t, string(raw), "hush")
}

func TestManager_CompleteAuthorization(t *testing.T) {
	newTokenServer := func(t *testing.T, status int) *httptest.Server {
		t.Helper()
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if status != http.StatusOK {
				http.Error(w, `{"error":"invalid_grant"}`, status)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
		}))
		t.Cleanup(ts.Close)
		return ts
	}

	t.Run("no session is fatal", func(t *testing.T) {
		env := newTestEnv(t, "https://server.smithery.ai", nil)

		result, err := env.manager.CompleteAuthorization(context.Background(), "gmail", "code123")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, CodeNoSession, result.Code)
	})

	t.Run("missing verifier signals invalid_code", func(t *testing.T) {
		env := newTestEnv(t, "https://server.smithery.ai", nil)
		env.factory.failing["gmail"] = errors.New("connection refused")

		// A failed connect leaves a session behind but no verifier.
		_, err := env.manager.Connect(context.Background(), &storage.ServerRecord{Namespace: "gmail"})
		require.Error(t, err)

		result, err := env.manager.CompleteAuthorization(context.Background(), "gmail", "code123")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, CodeInvalidCode, result.Code)

		session, ok := env.manager.Session("gmail")
		require.True(t, ok)
		assert.False(t, session.AuthInProgress())
	})

	t.Run("provider rejection signals token_exchange_failed", func(t *testing.T) {
		ts := newTokenServer(t, http.StatusBadRequest)
		env := newTestEnv(t, ts.URL, ts.Client())
		env.factory.unauthorized["gmail"] = true

		result, err := env.manager.Connect(context.Background(), &storage.ServerRecord{Namespace: "gmail"})
		require.NoError(t, err)
		require.True(t, result.ReAuthRequired)

		authResult, err := env.manager.CompleteAuthorization(context.Background(), "gmail", "code123")
		require.NoError(t, err)
		assert.False(t, authResult.Success)
		assert.Equal(t, CodeTokenExchangeFailed, authResult.Code)

		session, ok := env.manager.Session("gmail")
		require.True(t, ok)
		assert.False(t, session.AuthInProgress())
	})

	t.Run("tokens obtained but reconnect fails is partial success", func(t *testing.T) {
		ts := newTokenServer(t, http.StatusOK)
		env := newTestEnv(t, ts.URL, ts.Client())
		env.factory.unauthorized["gmail"] = true

		result, err := env.manager.Connect(context.Background(), &storage.ServerRecord{Namespace: "gmail"})
		require.NoError(t, err)
		require.True(t, result.ReAuthRequired)

		// The exchange succeeds, then the reconnect hits a dead server.
		env.factory.unauthorized["gmail"] = false
		env.factory.failing["gmail"] = errors.New("connection refused")

		authResult, err := env.manager.CompleteAuthorization(context.Background(), "gmail", "code123")
		require.NoError(t, err)
		assert.True(t, authResult.Success, "tokens were obtained")
		assert.Equal(t, CodeReconnectionFailed, authResult.Code)

		// Credentials survived; the caller retries the connect, not the
		// authorization.
		record, err := env.repo.Load("gmail")
		require.NoError(t, err)
		require.NotNil(t, record.Tokens)
		assert.Equal(t, "at-1", record.Tokens.AccessToken)
	})

	t.Run("full success reconnects with fresh tokens", func(t *testing.T) {
		ts := newTokenServer(t, http.StatusOK)
		env := newTestEnv(t, ts.URL, ts.Client())
		env.factory.unauthorized["gmail"] = true
		env.factory.clients["gmail"] = &fakeClient{tools: map[string]mcp.Tool{
			"send_email": {Name: "send_email"},
		}}

		result, err := env.manager.Connect(context.Background(), &storage.ServerRecord{
			Namespace:   "gmail",
			DisplayName: "Gmail",
		})
		require.NoError(t, err)
		require.True(t, result.ReAuthRequired)

		env.factory.unauthorized["gmail"] = false

		authResult, err := env.manager.CompleteAuthorization(context.Background(), "gmail", "code123")
		require.NoError(t, err)
		assert.True(t, authResult.Success)
		assert.Equal(t, CodeNone, authResult.Code)
		assert.Equal(t, StatusConnected, env.manager.Status("gmail"))
		assert.Contains(t, env.manager.ToolsFromNamespaces([]string{"gmail"}), "send_email")

		// The reconnect saved metadata only; the fresh tokens written by the
		// exchange were not clobbered by a stale snapshot.
		record, err := env.repo.Load("gmail")
		require.NoError(t, err)
		assert.Equal(t, "Gmail", record.DisplayName)
		require.NotNil(t, record.Tokens)
		assert.Equal(t, "at-1", record.Tokens.AccessToken)
	})
}

func TestManager_ReconnectAll(t *testing.T) {
	env := newTestEnv(t, "https://server.smithery.ai", nil)

	// Three namespaces with tokens, one of which always fails to dial, plus
	// one namespace that never authorized.
	for _, ns := range []string{"gmail", "slack", "github"} {
		require.NoError(t, env.repo.Save(ns, &storage.ServerRecord{
			Tokens: &storage.TokenSet{AccessToken: "at-" + ns},
		}))
	}
	require.NoError(t, env.repo.Save("linear", &storage.ServerRecord{DisplayName: "Linear"}))
	env.factory.failing["slack"] = errors.New("connection refused")

	var events []Event
	err := env.manager.ReconnectAll(context.Background(), func(event Event) {
		events = append(events, event)
	})
	require.NoError(t, err, "one namespace's failure must not fail the aggregate call")

	require.NotEmpty(t, events)
	assert.Equal(t, EventStart, events[0].Type)
	assert.Equal(t, 4, events[0].Total)

	last := events[len(events)-1]
	assert.Equal(t, EventComplete, last.Type)
	assert.Equal(t, 4, last.Total)
	assert.Equal(t, 2, last.Connected)

	counts := map[EventType]int{}
	for _, event := range events {
		counts[event.Type]++
	}
	assert.Equal(t, 1, counts[EventStart])
	assert.Equal(t, 1, counts[EventComplete])
	assert.Equal(t, 2, counts[EventConnected])
	assert.Equal(t, 1, counts[EventError])
	assert.Equal(t, 1, counts[EventSkipped])

	assert.Equal(t, StatusConnected, env.manager.Status("gmail"))
	assert.Equal(t, StatusConnected, env.manager.Status("github"))
	assert.Equal(t, StatusError, env.manager.Status("slack"))
	assert.Equal(t, StatusDisconnected, env.manager.Status("linear"))
}

func TestManager_ToolAggregation(t *testing.T) {
	env := newTestEnv(t, "https://server.smithery.ai", nil)
	env.factory.clients["gmail"] = &fakeClient{tools: map[string]mcp.Tool{
		"send_email": {Name: "send_email"},
		"search":     {Name: "search", Description: "gmail search"},
	}}
	env.factory.clients["slack"] = &fakeClient{tools: map[string]mcp.Tool{
		"post_message": {Name: "post_message"},
		"search":       {Name: "search", Description: "slack search"},
	}}

	for _, ns := range []string{"gmail", "slack"} {
		_, err := env.manager.Connect(context.Background(), &storage.ServerRecord{Namespace: ns})
		require.NoError(t, err)
	}

	all := env.manager.AllTools()
	// Collisions resolve last-write-wins; with two namespaces the colliding
	// name appears exactly once.
	assert.Len(t, all, 3)
	assert.Contains(t, all, "send_email")
	assert.Contains(t, all, "post_message")
	assert.Contains(t, all, "search")

	ordered := env.manager.ToolsFromNamespaces([]string{"gmail", "slack"})
	assert.Equal(t, "slack search", ordered["search"].Description,
		"later namespace in the list wins the collision")

	assert.Empty(t, env.manager.ToolsFromNamespaces([]string{"unknown"}))
}

func TestManager_Shutdown(t *testing.T) {
	env := newTestEnv(t, "https://server.smithery.ai", nil)
	gmail := &fakeClient{tools: map[string]mcp.Tool{}}
	slack := &fakeClient{closeErr: errors.New("remote gone")}
	env.factory.clients["gmail"] = gmail
	env.factory.clients["slack"] = slack

	for _, ns := range []string{"gmail", "slack"} {
		_, err := env.manager.Connect(context.Background(), &storage.ServerRecord{Namespace: ns})
		require.NoError(t, err)
	}

	env.manager.Shutdown()

	assert.True(t, gmail.isClosed())
	assert.True(t, slack.isClosed(), "close failures are tolerated")
	assert.Empty(t, env.manager.AllTools())
	_, ok := env.manager.Session("gmail")
	assert.False(t, ok)

	// Safe with zero live connections.
	env.manager.Shutdown()
}
