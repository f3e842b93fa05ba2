package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

const tokenBytes = 32

// Authenticator validates the shared secret on every inbound command. An
// empty secret means explicit insecure mode: everything passes.
type Authenticator struct {
	secret string

	nonceTTL time.Duration
	now      func() time.Time
	mu       sync.Mutex
	nonces   map[string]time.Time
}

func New(secret string, nonceTTL time.Duration) *Authenticator {
	return &Authenticator{
		secret:   secret,
		nonceTTL: nonceTTL,
		now:      time.Now,
		nonces:   map[string]time.Time{},
	}
}

// Insecure reports whether the authenticator accepts everything.
func (a *Authenticator) Insecure() bool {
	return a.secret == ""
}

// Validate checks the provided token against the configured secret using a
// constant-time comparison. Timestamp and nonce are optional metadata: the
// nonce is tracked in a TTL-bounded set, but reuse does not currently fail
// validation (advisory only).
func (a *Authenticator) Validate(token string, timestamp int64, nonce string) bool {
	if a.secret == "" {
		return true
	}
	if token == "" {
		return false
	}
	if nonce != "" {
		a.trackNonce(nonce)
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) == 1
}

// SeenNonce reports whether a nonce is currently tracked. Exposed for audit
// logging, not consulted in the pass/fail decision.
func (a *Authenticator) SeenNonce(nonce string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	seen, ok := a.nonces[nonce]
	return ok && a.now().Sub(seen) <= a.nonceTTL
}

func (a *Authenticator) trackNonce(nonce string) {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for n, seen := range a.nonces {
		if now.Sub(seen) > a.nonceTTL {
			delete(a.nonces, n)
		}
	}
	if _, ok := a.nonces[nonce]; !ok {
		a.nonces[nonce] = now
	}
}

// NewNonce returns a random per-request nonce for clients.
func NewNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// LoadOrCreateToken returns the shared secret from the token file, generating
// and persisting a new one when the file is missing or its permissions allow
// access beyond the owning user.
func LoadOrCreateToken(path string) (string, error) {
	if st, err := os.Stat(path); err == nil {
		if st.Mode().Perm()&0o077 != 0 {
			// Loose permissions: treat the secret as burned.
			if err := os.Remove(path); err != nil {
				return "", fmt.Errorf("remove insecure token file: %w", err)
			}
		} else {
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("read token file: %w", err)
			}
			if token := strings.TrimSpace(string(data)); token != "" {
				return token, nil
			}
		}
	}

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write token file: %w", err)
	}
	return token, nil
}
