package ui

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/evfleet/ocppsim/internal/config"
)

// Authenticator verifies Basic-Auth credentials for both HTTP and
// protocol-Basic-Auth (WebSocket subprotocol) transports (spec §4.8
// "Authentication"). Passwords are bcrypt-hashed at configuration time;
// grounded on the teacher's internal/multitenancy/tenant_manager.go
// GenerateFromPassword/CompareHashAndPassword pattern.
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
}

// NewAuthenticator builds an Authenticator from the UI auth config,
// hashing the configured plaintext password once at startup.
func NewAuthenticator(cfg config.UIAuthConfig) (*Authenticator, error) {
	a := &Authenticator{enabled: cfg.Enabled, username: cfg.Username}
	if !cfg.Enabled {
		return a, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	a.passwordHash = hash
	return a, nil
}

// CheckHTTP verifies the request's Basic-Auth header, constant-time
// comparing the username first and then bcrypt-verifying the password.
func (a *Authenticator) CheckHTTP(r *http.Request) bool {
	if !a.enabled {
		return true
	}
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return a.Check(username, password)
}

// Check verifies a username/password pair directly, for the WebSocket
// protocol-Basic-Auth transport where credentials arrive via subprotocol
// negotiation rather than an HTTP header.
func (a *Authenticator) Check(username, password string) bool {
	if !a.enabled {
		return true
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
}
