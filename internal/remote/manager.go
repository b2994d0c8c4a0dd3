package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/alpaca-computer/alpaca-connect/internal/config"
	"github.com/alpaca-computer/alpaca-connect/internal/oauth"
	"github.com/alpaca-computer/alpaca-connect/internal/storage"
)

// Manager owns the lifecycle of remote MCP server connections: the live
// client handles, per-namespace OAuth sessions and connection status, and the
// tools cache. All shared state is mutated only through its methods.
type Manager struct {
	serverBaseURL string
	redirectURL   string
	repo          *storage.Repository
	factory       Factory
	browser       oauth.BrowserOpener
	exchanger     *oauth.Exchanger
	logger        *zap.Logger

	mu       sync.RWMutex
	clients  map[string]Client
	sessions map[string]*oauth.Session
	status   map[string]Status
	tools    map[string]map[string]mcp.Tool
}

// NewManager creates a connection manager. Each instance has independent
// state and must be released with Shutdown.
func NewManager(cfg *config.Config, repo *storage.Repository, factory Factory, browser oauth.BrowserOpener, exchanger *oauth.Exchanger, logger *zap.Logger) *Manager {
	return &Manager{
		serverBaseURL: strings.TrimSuffix(cfg.ServerBaseURL, "/"),
		redirectURL:   cfg.RedirectURL,
		repo:          repo,
		factory:       factory,
		browser:       browser,
		exchanger:     exchanger,
		logger:        logger.Named("remote"),
		clients:       make(map[string]Client),
		sessions:      make(map[string]*oauth.Session),
		status:        make(map[string]Status),
		tools:         make(map[string]map[string]mcp.Tool),
	}
}

// ServerURL returns the MCP endpoint for a namespace.
func (m *Manager) ServerURL(namespace string) string {
	return m.serverBaseURL + "/" + namespace
}

// Status returns the connection status for a namespace.
func (m *Manager) Status(namespace string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status[namespace]
}

// Session returns the namespace's OAuth session, if one exists.
func (m *Manager) Session(namespace string) (*oauth.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[namespace]
	return session, ok
}

// Connect opens a connection to the namespace's endpoint. When the endpoint
// demands authorization the record is persisted anyway (a later retry needs
// the metadata), the redirect has already been dispatched inside the dial
// attempt, and the result reports ReAuthRequired without an error.
func (m *Manager) Connect(ctx context.Context, record *storage.ServerRecord) (ConnectResult, error) {
	namespace := record.Namespace
	if namespace == "" {
		return ConnectResult{}, fmt.Errorf("server record has no namespace")
	}

	m.logger.Info("connecting", zap.String("namespace", namespace))

	session, err := m.sessionFor(namespace)
	if err != nil {
		return ConnectResult{}, err
	}
	m.setStatus(namespace, StatusConnecting)

	client, err := m.factory.Dial(ctx, m.ServerURL(namespace), session)
	if errors.Is(err, ErrAuthorizationRequired) {
		m.logger.Info("authorization flow initiated, waiting for user",
			zap.String("namespace", namespace))
		m.setStatus(namespace, StatusDisconnected)
		if saveErr := m.repo.Save(namespace, record.Metadata()); saveErr != nil {
			return ConnectResult{}, saveErr
		}
		return ConnectResult{ReAuthRequired: true}, nil
	}
	if err != nil {
		m.setStatus(namespace, StatusError)
		return ConnectResult{}, fmt.Errorf("failed to connect to %s: %w", namespace, err)
	}

	if err := m.repo.Save(namespace, record.Metadata()); err != nil {
		_ = client.Close()
		m.setStatus(namespace, StatusError)
		return ConnectResult{}, err
	}

	m.mu.Lock()
	m.clients[namespace] = client
	m.status[namespace] = StatusConnected
	m.mu.Unlock()

	m.cacheTools(ctx, namespace, client)

	return ConnectResult{}, nil
}

// Disconnect closes the namespace's connection and removes all of its state:
// the live handle, cached tools, OAuth session, and the persisted record.
// Close failures are logged, never propagated; local cleanup must not depend
// on the remote endpoint cooperating. Disconnecting an unknown namespace is a
// no-op.
func (m *Manager) Disconnect(_ context.Context, namespace string) error {
	m.mu.Lock()
	client := m.clients[namespace]
	session := m.sessions[namespace]
	delete(m.clients, namespace)
	delete(m.sessions, namespace)
	delete(m.tools, namespace)
	delete(m.status, namespace)
	m.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			m.logger.Warn("error closing client",
				zap.String("namespace", namespace), zap.Error(err))
		}
	}
	if session != nil {
		session.DeleteTokens()
	}

	return m.repo.Remove(namespace)
}

// ListConnected merges persisted records with live status. OAuth artifacts
// are stripped here, unconditionally; callers never see tokens.
func (m *Manager) ListConnected() (map[string]storage.PublicServerRecord, error) {
	records, err := m.repo.LoadAll()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]storage.PublicServerRecord, len(records))
	for namespace, record := range records {
		_, connected := m.clients[namespace]
		result[namespace] = storage.Sanitize(record, connected)
	}
	return result, nil
}

// CompleteAuthorization exchanges the authorization code for tokens and
// reconnects using the stored record's non-OAuth fields. Three terminal
// outcomes: full success; tokens obtained but reconnect failed
// (Success=true, CodeReconnectionFailed); and exchange failure (Success=false
// with the failure code). The returned error is reserved for unexpected
// internal failures.
func (m *Manager) CompleteAuthorization(ctx context.Context, namespace, authCode string) (AuthResult, error) {
	m.logger.Info("completing authorization", zap.String("namespace", namespace))

	session, ok := m.Session(namespace)
	if !ok {
		return AuthResult{
			Code:    CodeNoSession,
			Message: fmt.Sprintf("no OAuth session for %s", namespace),
		}, nil
	}

	_, err := m.exchanger.Exchange(ctx, session, m.ServerURL(namespace), authCode)
	switch {
	case errors.Is(err, oauth.ErrNoVerifier):
		return AuthResult{
			Code:    CodeInvalidCode,
			Message: err.Error(),
		}, nil
	case errors.Is(err, oauth.ErrTokenExchange):
		return AuthResult{
			Code:    CodeTokenExchangeFailed,
			Message: err.Error(),
		}, nil
	case err != nil:
		session.ResetAuthState()
		return AuthResult{}, err
	}

	stored, err := m.repo.Load(namespace)
	if err != nil || stored == nil {
		// Tokens are saved; only the reconnect is missing its metadata.
		message := fmt.Sprintf("server record not found for %s", namespace)
		if err != nil {
			message = err.Error()
		}
		return AuthResult{Success: true, Code: CodeReconnectionFailed, Message: message}, nil
	}

	// Reconnect with metadata only; the fresh tokens live in the session and
	// must not be clobbered by a stale snapshot.
	result, err := m.Connect(ctx, stored.Metadata())
	if err != nil || result.ReAuthRequired {
		message := "connection failed after authorization"
		if err != nil {
			message = err.Error()
		}
		m.logger.Warn("authorization succeeded but reconnect failed",
			zap.String("namespace", namespace), zap.String("reason", message))
		return AuthResult{Success: true, Code: CodeReconnectionFailed, Message: message}, nil
	}

	return AuthResult{Success: true}, nil
}

// ReconnectAll attempts to reconnect every persisted namespace concurrently.
// Namespaces with no stored tokens are skipped; they need a fresh interactive
// authorization. Per-namespace failures are isolated: the aggregate call
// waits for every attempt to finish and never fails because one did. The
// event stream is bounded by exactly one start and one complete.
func (m *Manager) ReconnectAll(ctx context.Context, onStatus StatusFunc) error {
	records, err := m.repo.LoadAll()
	if err != nil {
		return err
	}

	var emitMu sync.Mutex
	emit := func(event Event) {
		if onStatus == nil {
			return
		}
		emitMu.Lock()
		defer emitMu.Unlock()
		onStatus(event)
	}

	m.logger.Info("reconnecting to saved servers", zap.Int("count", len(records)))
	emit(Event{Type: EventStart, Total: len(records)})

	var wg sync.WaitGroup
	var connectedMu sync.Mutex
	connected := 0

	for namespace, record := range records {
		wg.Add(1)
		go func(namespace string, record *storage.ServerRecord) {
			defer wg.Done()

			emit(Event{Type: EventConnecting, Namespace: namespace})

			session, err := m.sessionFor(namespace)
			if err != nil {
				m.logger.Error("failed to create session",
					zap.String("namespace", namespace), zap.Error(err))
				emit(Event{Type: EventError, Namespace: namespace})
				return
			}

			if session.Tokens() == nil {
				m.logger.Debug("no stored tokens, skipping",
					zap.String("namespace", namespace))
				emit(Event{Type: EventSkipped, Namespace: namespace})
				return
			}

			m.setStatus(namespace, StatusConnecting)
			client, err := m.factory.Dial(ctx, m.ServerURL(namespace), session)
			if err != nil {
				m.logger.Warn("reconnect failed",
					zap.String("namespace", namespace), zap.Error(err))
				m.setStatus(namespace, StatusError)
				emit(Event{Type: EventError, Namespace: namespace})
				return
			}

			m.mu.Lock()
			m.clients[namespace] = client
			m.status[namespace] = StatusConnected
			m.mu.Unlock()

			m.cacheTools(ctx, namespace, client)

			connectedMu.Lock()
			connected++
			connectedMu.Unlock()
			emit(Event{Type: EventConnected, Namespace: namespace})
		}(namespace, record)
	}

	wg.Wait()

	m.logger.Info("reconnect complete",
		zap.Int("total", len(records)), zap.Int("connected", connected))
	emit(Event{Type: EventComplete, Total: len(records), Connected: connected})
	return nil
}

// AllTools aggregates cached tools across every connected namespace.
// Name collisions resolve last-write-wins. Never touches the network.
func (m *Manager) AllTools() map[string]mcp.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make(map[string]mcp.Tool)
	for _, tools := range m.tools {
		for name, tool := range tools {
			all[name] = tool
		}
	}
	return all
}

// ToolsFromNamespaces aggregates cached tools from the given namespaces.
// Unknown or disconnected namespaces are skipped.
func (m *Manager) ToolsFromNamespaces(namespaces []string) map[string]mcp.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]mcp.Tool)
	for _, namespace := range namespaces {
		tools, ok := m.tools[namespace]
		if !ok {
			m.logger.Debug("namespace not connected or tools not cached",
				zap.String("namespace", namespace))
			continue
		}
		for name, tool := range tools {
			result[name] = tool
		}
	}
	return result
}

// Shutdown closes every live handle concurrently, tolerating individual
// failures, then clears all in-memory state. Safe to call with zero live
// connections.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]Client)
	m.sessions = make(map[string]*oauth.Session)
	m.status = make(map[string]Status)
	m.tools = make(map[string]map[string]mcp.Tool)
	m.mu.Unlock()

	m.logger.Info("shutting down", zap.Int("connections", len(clients)))

	var wg sync.WaitGroup
	for namespace, client := range clients {
		wg.Add(1)
		go func(namespace string, client Client) {
			defer wg.Done()
			if err := client.Close(); err != nil {
				m.logger.Warn("error closing connection",
					zap.String("namespace", namespace), zap.Error(err))
			}
		}(namespace, client)
	}
	wg.Wait()
}

// sessionFor returns the namespace's session, creating one seeded from the
// persisted record if needed.
func (m *Manager) sessionFor(namespace string) (*oauth.Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[namespace]
	m.mu.RUnlock()
	if ok {
		return session, nil
	}

	stored, err := m.repo.Load(namespace)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another goroutine may have won the race.
	if session, ok := m.sessions[namespace]; ok {
		return session, nil
	}
	session = oauth.NewSession(namespace, stored, m.repo, m.browser, m.redirectURL, m.logger)
	m.sessions[namespace] = session
	return session, nil
}

func (m *Manager) setStatus(namespace string, status Status) {
	m.mu.Lock()
	m.status[namespace] = status
	m.mu.Unlock()
}

// cacheTools refreshes the namespace's tools cache. A fetch failure degrades
// to an empty tool set rather than failing the connect.
func (m *Manager) cacheTools(ctx context.Context, namespace string, client Client) {
	tools, err := client.Tools(ctx)
	if err != nil {
		m.logger.Warn("failed to cache tools",
			zap.String("namespace", namespace), zap.Error(err))
		tools = map[string]mcp.Tool{}
	} else {
		m.logger.Info("cached tools",
			zap.String("namespace", namespace), zap.Int("count", len(tools)))
	}

	m.mu.Lock()
	m.tools[namespace] = tools
	m.mu.Unlock()
}
