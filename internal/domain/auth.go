package domain

import "time"

// AuthState is the state of the authenticated session.
type AuthState string

const (
	AuthStateLoggedOut      AuthState = "logged_out"
	AuthStateAuthenticating AuthState = "authenticating"
	AuthStateAuthenticated  AuthState = "authenticated"
	AuthStateExpired        AuthState = "expired"
)

// AuthStatus is a read-only view of the session for presentation.
type AuthStatus struct {
	State          AuthState `json:"state"`
	Source         string    `json:"source,omitempty"`
	Label          string    `json:"label,omitempty"`
	CookieCount    int       `json:"cookie_count"`
	CapturedAt     time.Time `json:"captured_at,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	ReauthRequired bool      `json:"reauth_required,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	Persisted      bool      `json:"persisted"`
}
