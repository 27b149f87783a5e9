// Package session manages the authenticated broker session: restoring a
// persisted token, explicit login with a one-time code, and guarded access
// to the position, price, and order capabilities the hedger depends on.
package session

import (
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/avilpage/autohedger/internal/broker"
)

// ErrNotLoggedIn is returned when an action that requires an authenticated
// session is attempted while logged out.
var ErrNotLoggedIn = errors.New("not logged in")

// Manager owns the single broker session. It is safe for concurrent use:
// the dashboard serves actions on its own goroutine while the terminal
// loop logs in and out.
type Manager struct {
	broker     broker.Broker
	store      TokenStore
	logger     *log.Logger
	totpSecret string

	mu      sync.RWMutex
	profile *broker.Profile // non-nil while authenticated
}

// TokenStore persists the opaque session token between runs.
type TokenStore interface {
	Token() string
	SetToken(token string) error
	ClearToken() error
}

// NewManager creates a session manager. totpSecret is optional; when set,
// logins with an empty one-time code generate one from the secret.
func NewManager(b broker.Broker, store TokenStore, logger *log.Logger, totpSecret string) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "session: ", log.LstdFlags)
	}
	return &Manager{
		broker:     b,
		store:      store,
		logger:     logger,
		totpSecret: totpSecret,
	}
}

// Restore tries to resume the previous session from the persisted token.
// An absent, expired, or invalid token leaves the manager logged out; that
// is a normal state, not an error. Only transport failures are returned.
func (m *Manager) Restore() (*broker.Profile, error) {
	token := m.store.Token()
	if token == "" {
		return nil, nil
	}

	ok, err := m.broker.CheckToken(token)
	if err != nil {
		return nil, err
	}
	if !ok {
		m.logger.Printf("persisted session token is no longer valid")
		if err := m.store.ClearToken(); err != nil {
			m.logger.Printf("clearing stale token: %v", err)
		}
		return nil, nil
	}

	profile, err := m.broker.Profile()
	if err != nil {
		return nil, err
	}
	m.setProfile(profile)
	return profile, nil
}

// Login establishes a new session and persists the resulting token. The
// user id is upper-cased before submission. When the one-time code is empty
// and a TOTP secret is configured, the current code is generated locally.
func (m *Manager) Login(userID, password, totpCode string) (*broker.Profile, error) {
	userID = strings.ToUpper(strings.TrimSpace(userID))

	if totpCode == "" && m.totpSecret != "" {
		code, err := totp.GenerateCode(m.totpSecret, time.Now())
		if err != nil {
			return nil, &broker.AuthError{Message: "generating TOTP: " + err.Error()}
		}
		totpCode = code
	}

	token, err := m.broker.Login(userID, password, totpCode)
	if err != nil {
		return nil, err
	}

	if err := m.store.SetToken(token); err != nil {
		m.logger.Printf("persisting session token: %v", err)
	}

	profile, err := m.broker.Profile()
	if err != nil {
		return nil, err
	}
	m.setProfile(profile)
	return profile, nil
}

func (m *Manager) setProfile(p *broker.Profile) {
	m.mu.Lock()
	m.profile = p
	m.mu.Unlock()
}

// LoggedIn reports whether an authenticated session is active.
func (m *Manager) LoggedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile != nil
}

// Profile returns the authenticated user's profile, nil when logged out.
func (m *Manager) Profile() *broker.Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

// Positions returns the account's raw open positions.
func (m *Manager) Positions() ([]broker.PositionRecord, error) {
	if !m.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	return m.broker.Positions()
}

// LastTradedPrice returns the spot price for an underlying symbol.
func (m *Manager) LastTradedPrice(symbol string) (float64, error) {
	if !m.LoggedIn() {
		return 0, ErrNotLoggedIn
	}
	return m.broker.LastTradedPrice(symbol)
}

// PlaceOrder submits one order through the active session.
func (m *Manager) PlaceOrder(req broker.OrderRequest) (string, error) {
	if !m.LoggedIn() {
		return "", ErrNotLoggedIn
	}
	return m.broker.PlaceOrder(req)
}
