package oauth

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alpaca-computer/alpaca-connect/internal/storage"
)

const (
	// RedirectDebounce suppresses duplicate authorization redirects and
	// verifier saves. The calling library can issue two near-simultaneous
	// attempts for one logical user action.
	RedirectDebounce = 3 * time.Second

	// AbandonTimeout resets auth state when an authorization flow never
	// produces tokens, so the user is not stuck in a loading state.
	AbandonTimeout = 5 * time.Minute
)

// BrowserOpener opens an authorization URL in the user's browser.
// Fire-and-forget from the session's point of view.
type BrowserOpener interface {
	OpenURL(url string) error
}

// Session owns one namespace's OAuth client state: tokens, client
// registration, PKCE verifier, and the in-progress/debounce guards. It is the
// sole owner of these fields; other components interact only through its
// methods. All methods are safe for concurrent use.
type Session struct {
	namespace   string
	redirectURL string
	repo        *storage.Repository
	browser     BrowserOpener
	logger      *zap.Logger

	mu             sync.Mutex
	tokens         *storage.TokenSet
	clientInfo     *storage.ClientInfo
	codeVerifier   string
	authInProgress bool
	lastRedirect   time.Time
	abandonTimer   *time.Timer

	// test seams
	now            func() time.Time
	abandonTimeout time.Duration
}

// NewSession creates a session for a namespace, seeded with any previously
// persisted tokens and client registration.
func NewSession(namespace string, stored *storage.ServerRecord, repo *storage.Repository, browser BrowserOpener, redirectURL string, logger *zap.Logger) *Session {
	s := &Session{
		namespace:      namespace,
		redirectURL:    redirectURL,
		repo:           repo,
		browser:        browser,
		logger:         logger.Named("oauth-session").With(zap.String("namespace", namespace)),
		now:            time.Now,
		abandonTimeout: AbandonTimeout,
	}
	if stored != nil {
		s.tokens = stored.Tokens
		s.clientInfo = stored.ClientInfo
	}
	return s
}

// Namespace returns the namespace this session belongs to.
func (s *Session) Namespace() string {
	return s.namespace
}

// RedirectURL returns the fixed OAuth redirect registered by the hosting
// application.
func (s *Session) RedirectURL() string {
	return s.redirectURL
}

// ClientInformation returns the registered OAuth client, if any.
func (s *Session) ClientInformation() *storage.ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// SaveClientInformation stores the client registration and persists it merged
// into the server record.
func (s *Session) SaveClientInformation(info *storage.ClientInfo) error {
	s.mu.Lock()
	s.clientInfo = info
	s.mu.Unlock()

	return s.repo.Save(s.namespace, &storage.ServerRecord{ClientInfo: info})
}

// Tokens returns the current token set, if any.
func (s *Session) Tokens() *storage.TokenSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// SaveTokens stores tokens, ends the in-progress authorization attempt, and
// persists tokens and client registration. The code verifier is deliberately
// left in place; a fresh flow replaces it via SaveCodeVerifier.
func (s *Session) SaveTokens(tokens *storage.TokenSet) error {
	s.mu.Lock()
	s.tokens = tokens
	s.authInProgress = false
	s.lastRedirect = time.Time{}
	s.cancelAbandonTimerLocked()
	info := s.clientInfo
	s.mu.Unlock()

	if err := s.repo.Save(s.namespace, &storage.ServerRecord{
		Tokens:     tokens,
		ClientInfo: info,
	}); err != nil {
		return err
	}

	s.logger.Info("authorization complete, tokens saved")
	return nil
}

// RedirectToAuthorization opens the authorization URL in the browser.
// A second call within the debounce window is suppressed as a duplicate; a
// call after the window is treated as a user retry.
func (s *Session) RedirectToAuthorization(authURL string) error {
	s.mu.Lock()

	now := s.now()
	if elapsed := now.Sub(s.lastRedirect); elapsed < RedirectDebounce {
		s.mu.Unlock()
		s.logger.Debug("suppressed duplicate authorization redirect",
			zap.Duration("since_last_redirect", elapsed))
		return nil
	}

	if s.authInProgress {
		s.logger.Info("authorization already in progress, allowing retry")
	}

	flowID := uuid.NewString()
	s.authInProgress = true
	s.lastRedirect = now
	s.armAbandonTimerLocked()
	s.mu.Unlock()

	s.logger.Info("opening authorization URL",
		zap.String("flow_id", flowID))

	if err := s.browser.OpenURL(authURL); err != nil {
		// The flow can still complete if the user opens the URL manually.
		s.logger.Warn("failed to open browser", zap.Error(err))
	}
	return nil
}

// SaveCodeVerifier stores the PKCE verifier for the current flow. A second
// save within the debounce window would overwrite the verifier mid-exchange
// and is suppressed; a save after the window replaces it for a fresh retry.
func (s *Session) SaveCodeVerifier(verifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := s.now().Sub(s.lastRedirect)
	if s.codeVerifier != "" && elapsed < RedirectDebounce {
		s.logger.Debug("suppressed duplicate code verifier save",
			zap.Duration("since_last_redirect", elapsed))
		return nil
	}

	if s.authInProgress && s.codeVerifier != "" {
		s.logger.Info("replacing code verifier for retry")
	}

	s.codeVerifier = verifier
	return nil
}

// CodeVerifier returns the saved PKCE verifier, or ErrNoVerifier when no
// authorization flow is in progress.
func (s *Session) CodeVerifier() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.codeVerifier == "" {
		return "", ErrNoVerifier
	}
	return s.codeVerifier, nil
}

// DeleteTokens clears all in-memory OAuth state. The persisted record's
// non-OAuth fields are untouched.
func (s *Session) DeleteTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = nil
	s.clientInfo = nil
	s.codeVerifier = ""
	s.authInProgress = false
	s.lastRedirect = time.Time{}
	s.cancelAbandonTimerLocked()
}

// ResetAuthState ends the current authorization attempt so a subsequent user
// retry is not blocked by the debounce window. Called on any exchange failure.
func (s *Session) ResetAuthState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetAuthStateLocked()
	s.logger.Info("auth state reset")
}

// AuthInProgress reports whether an authorization attempt is pending.
func (s *Session) AuthInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authInProgress
}

func (s *Session) resetAuthStateLocked() {
	s.authInProgress = false
	s.lastRedirect = time.Time{}
	s.cancelAbandonTimerLocked()
}

func (s *Session) armAbandonTimerLocked() {
	s.cancelAbandonTimerLocked()
	s.abandonTimer = time.AfterFunc(s.abandonTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.authInProgress {
			return
		}
		s.logger.Warn("authorization abandoned, resetting auth state",
			zap.Duration("timeout", s.abandonTimeout))
		s.resetAuthStateLocked()
	})
}

func (s *Session) cancelAbandonTimerLocked() {
	if s.abandonTimer != nil {
		s.abandonTimer.Stop()
		s.abandonTimer = nil
	}
}
