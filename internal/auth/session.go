package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iconidentify/streamfetch/internal/credstore"
	"github.com/iconidentify/streamfetch/internal/domain"
)

// ErrCaptureUnavailable is returned when no LoginCapturer is configured.
var ErrCaptureUnavailable = errors.New("login capture not configured")

// LoginCapturer obtains a fresh credential set interactively.
type LoginCapturer interface {
	CaptureLogin(ctx context.Context) (*domain.CredentialSet, error)
}

// Prober checks credentials against the platform.
type Prober interface {
	Probe(ctx context.Context, creds *domain.CredentialSet) error
}

// Config holds session manager settings.
type Config struct {
	// CookieDomains filters imported cookies; empty keeps everything.
	CookieDomains []string
	LoginTimeout  time.Duration
}

// Option configures a SessionManager.
type Option func(*SessionManager)

// WithCapturer enables BeginCaptureLogin.
func WithCapturer(c LoginCapturer) Option {
	return func(m *SessionManager) { m.capturer = c }
}

// WithProber enables Validate.
func WithProber(p Prober) Option {
	return func(m *SessionManager) { m.prober = p }
}

// SessionManager owns the authenticated session. Every transition happens
// under mu and is published to the event sink before the lock is released,
// so observers see transitions in order.
type SessionManager struct {
	cfg      Config
	store    credstore.Store
	capturer LoginCapturer
	prober   Prober
	events   domain.EventPublisher
	logger   *slog.Logger

	mu         sync.Mutex
	state      domain.AuthState
	creds      *domain.CredentialSet
	generation uint64
	lastError  string
	persisted  bool
	reauth     bool

	loginSeq    uint64
	loginCancel context.CancelFunc

	now func() time.Time
}

// NewSessionManager creates a logged-out session manager.
func NewSessionManager(cfg Config, store credstore.Store, events domain.EventPublisher, logger *slog.Logger, opts ...Option) *SessionManager {
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 5 * time.Minute
	}
	m := &SessionManager{
		cfg:    cfg,
		store:  store,
		events: events,
		logger: logger.With("component", "auth"),
		state:  domain.AuthStateLoggedOut,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore loads a persisted session at startup. A missing or unreadable
// session leaves the manager logged out.
func (m *SessionManager) Restore(ctx context.Context) error {
	set, err := m.store.Load(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if !errors.Is(err, domain.ErrCredentialsNotFound) {
			m.logger.Warn("stored session unreadable, starting logged out", "error", err)
			m.lastError = "stored session could not be read"
		}
		return nil
	}

	if set.Expired(m.now()) {
		m.logger.Info("stored session has expired")
		m.expireLocked("stored session has expired")
		return nil
	}

	m.authenticateLocked(set)
	m.persisted = true
	m.publishLocked("session restored")
	return nil
}

// ImportCookies replaces the session with cookies parsed from Netscape
// cookie-jar text.
func (m *SessionManager) ImportCookies(ctx context.Context, raw string) error {
	set, err := domain.ParseNetscapeCookies(raw)
	if err != nil {
		return err
	}
	set.FilterDomains(m.cfg.CookieDomains)
	if set.IsEmpty() {
		return &domain.ParseError{Reason: "no cookies for the configured domains"}
	}
	set.Source = "import"
	set.CapturedAt = m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	// The same cookies are the same session: keep its generation so that
	// rejections reported by running jobs still expire it.
	if m.state == domain.AuthStateAuthenticated && m.creds.SameCookies(set) {
		if !m.persisted {
			m.persistLocked(ctx)
		}
		m.logger.Debug("imported cookies unchanged", "cookies", len(set.Cookies))
		return nil
	}

	// An import supersedes a capture in flight.
	m.cancelLoginLocked()
	m.authenticateLocked(set)
	m.persistLocked(ctx)
	message := fmt.Sprintf("imported %d cookies", len(set.Cookies))
	if set.Skipped > 0 {
		message = fmt.Sprintf("imported %d cookies, skipped %d malformed lines", len(set.Cookies), set.Skipped)
	}
	m.publishLocked(message)

	m.logger.Info("cookies imported", "cookies", len(set.Cookies), "skipped", set.Skipped, "persisted", m.persisted)
	return nil
}

// BeginCaptureLogin runs the configured capturer and blocks until it
// finishes, times out or is cancelled.
func (m *SessionManager) BeginCaptureLogin(ctx context.Context) error {
	if m.capturer == nil {
		return ErrCaptureUnavailable
	}

	m.mu.Lock()
	if m.loginCancel != nil {
		m.mu.Unlock()
		return domain.ErrLoginInProgress
	}
	loginCtx, cancel := context.WithTimeout(ctx, m.cfg.LoginTimeout)
	m.loginSeq++
	seq := m.loginSeq
	m.loginCancel = cancel
	m.creds = nil
	m.state = domain.AuthStateAuthenticating
	m.reauth = false
	m.lastError = ""
	m.publishLocked("login started")
	m.mu.Unlock()

	m.logger.Info("capture login started", "timeout", m.cfg.LoginTimeout)
	set, err := m.capturer.CaptureLogin(loginCtx)
	ctxErr := loginCtx.Err()
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if seq != m.loginSeq || m.state != domain.AuthStateAuthenticating {
		// Superseded by an import or logout while the capture ran.
		if err == nil {
			err = domain.ErrLoginCancelled
		}
		return err
	}
	m.loginCancel = nil

	if err == nil && set.IsEmpty() {
		err = errors.New("no cookies captured")
	}
	if err == nil {
		set.FilterDomains(m.cfg.CookieDomains)
		if set.IsEmpty() {
			err = errors.New("no cookies for the configured domains")
		}
	}
	if err != nil {
		switch {
		case errors.Is(ctxErr, context.DeadlineExceeded):
			err = fmt.Errorf("capture login: timed out after %s: %w", m.cfg.LoginTimeout, context.DeadlineExceeded)
		case ctxErr != nil || errors.Is(err, context.Canceled):
			err = domain.ErrLoginCancelled
		}
		m.logger.Warn("capture login failed", "error", err)
		m.creds = nil
		m.state = domain.AuthStateLoggedOut
		m.lastError = err.Error()
		if clearErr := m.store.Clear(context.Background()); clearErr != nil {
			m.logger.Warn("clear stored session", "error", clearErr)
		}
		m.persisted = false
		m.publishLocked("login failed")
		return err
	}

	if set.CapturedAt.IsZero() {
		set.CapturedAt = m.now()
	}
	m.authenticateLocked(set)
	m.persistLocked(ctx)
	m.publishLocked("login completed")
	m.logger.Info("capture login completed", "source", set.Source, "cookies", len(set.Cookies))
	return nil
}

// CancelCaptureLogin aborts a capture in flight. It reports whether one was running.
func (m *SessionManager) CancelCaptureLogin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loginCancel == nil {
		return false
	}
	m.loginCancel()
	return true
}

// CanCaptureLogin reports whether a capturer is configured.
func (m *SessionManager) CanCaptureLogin() bool {
	return m.capturer != nil
}

// LoginInProgress reports whether a capture is running.
func (m *SessionManager) LoginInProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginCancel != nil
}

// Validate probes the current credentials. A rejection expires the
// session; transient probe failures leave it unchanged.
func (m *SessionManager) Validate(ctx context.Context) error {
	creds, gen, err := m.Credentials()
	if err != nil {
		return err
	}
	if m.prober == nil {
		return nil
	}

	if err := m.prober.Probe(ctx, creds); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			m.ReportUnauthorized(gen, "session rejected by the platform")
		}
		return fmt.Errorf("validate session: %w", err)
	}

	m.logger.Debug("session validated")
	return nil
}

// ReportUnauthorized expires the session of the given generation. Only the
// first report for a generation transitions; later ones return false.
func (m *SessionManager) ReportUnauthorized(generation uint64, cause string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.AuthStateAuthenticated || generation != m.generation {
		return false
	}
	m.logger.Warn("session expired", "cause", cause, "generation", generation)
	m.expireLocked(cause)
	return true
}

// Logout discards the session. The in-memory state is cleared even when
// the store cannot be.
func (m *SessionManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelLoginLocked()
	m.creds = nil
	m.state = domain.AuthStateLoggedOut
	m.reauth = false
	m.lastError = ""
	m.persisted = false

	err := m.store.Clear(ctx)
	if err != nil {
		m.logger.Warn("clear stored session", "error", err)
		m.lastError = "stored session could not be removed"
	}
	m.publishLocked("logged out")
	m.logger.Info("logged out")
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// CurrentCredentials returns a copy of the active credential set.
func (m *SessionManager) CurrentCredentials() (*domain.CredentialSet, error) {
	creds, _, err := m.Credentials()
	return creds, err
}

// Credentials returns a copy of the active credential set and its session
// generation, for use with ReportUnauthorized.
func (m *SessionManager) Credentials() (*domain.CredentialSet, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == domain.AuthStateAuthenticated && m.creds.Expired(m.now()) {
		m.expireLocked("session cookies have expired")
	}
	if m.state != domain.AuthStateAuthenticated {
		return nil, 0, domain.ErrNotAuthenticated
	}
	return m.creds.Clone(), m.generation, nil
}

// State returns the current session state.
func (m *SessionManager) State() domain.AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a presentation view of the session.
func (m *SessionManager) Status() domain.AuthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *SessionManager) statusLocked() domain.AuthStatus {
	st := domain.AuthStatus{
		State:          m.state,
		ReauthRequired: m.reauth,
		LastError:      m.lastError,
		Persisted:      m.persisted,
	}
	if m.creds != nil {
		st.Source = m.creds.Source
		st.Label = m.creds.Label
		st.CookieCount = len(m.creds.Cookies)
		st.CapturedAt = m.creds.CapturedAt
		st.ExpiresAt = m.creds.ExpiresAt
	}
	return st
}

func (m *SessionManager) authenticateLocked(set *domain.CredentialSet) {
	m.creds = set.Clone()
	m.generation++
	m.state = domain.AuthStateAuthenticated
	m.reauth = false
	m.lastError = ""
}

func (m *SessionManager) expireLocked(cause string) {
	m.creds = nil
	m.state = domain.AuthStateExpired
	m.reauth = true
	m.lastError = cause
	m.persisted = false
	if err := m.store.Clear(context.Background()); err != nil {
		m.logger.Warn("clear stored session", "error", err)
	}
	m.publishLocked(cause)
}

func (m *SessionManager) persistLocked(ctx context.Context) {
	if err := m.store.Save(ctx, m.creds); err != nil {
		m.logger.Error("persist session", "error", err)
		m.persisted = false
		m.lastError = "session could not be saved; it will not survive a restart"
		return
	}
	m.persisted = true
}

func (m *SessionManager) cancelLoginLocked() {
	if m.loginCancel != nil {
		m.loginCancel()
		m.loginCancel = nil
		m.loginSeq++
	}
}

func (m *SessionManager) publishLocked(message string) {
	if m.events == nil {
		return
	}
	st := m.statusLocked()
	severity := domain.EventSeverityInfo
	switch {
	case st.State == domain.AuthStateExpired:
		severity = domain.EventSeverityWarning
	case st.State == domain.AuthStateAuthenticated:
		severity = domain.EventSeveritySuccess
	case st.LastError != "":
		severity = domain.EventSeverityError
	}
	m.events.Publish(domain.Event{
		Kind:     domain.EventAuthStateChanged,
		Severity: severity,
		Message:  message,
		Auth:     &st,
	})
}
