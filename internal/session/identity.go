// Package session issues the anonymous identity that owns seat locks.
// Buyers do not need an account to hold a soft lock; the session token is
// an opaque bearer value generated locally, persisted across restarts and
// treated by the server as an untrusted claim — good enough for lock
// attribution, never for authorizing payment.
package session

import (
    "fmt"
    "math/rand"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
)

// Provider hands out the device-wide session identifier.  The first call
// generates a random UUID and persists it to a small file; later calls
// return the same value until Clear is invoked.  GetOrCreate never fails:
// without a session id every lock operation would be meaningless, so both
// random generation and persistence degrade instead of erroring.
type Provider struct {
    mu     sync.Mutex
    path   string
    cached string
}

// NewProvider builds a Provider storing the token at path.  An empty path
// selects a default location under the user config directory; if even that
// cannot be resolved the token simply lives in memory for the process.
func NewProvider(path string) *Provider {
    if path == "" {
        if dir, err := os.UserConfigDir(); err == nil {
            path = filepath.Join(dir, "teatro", "session_id")
        }
    }
    return &Provider{path: path}
}

// GetOrCreate returns the session identifier, creating and persisting one
// on first use.
func (p *Provider) GetOrCreate() string {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.cached != "" {
        return p.cached
    }
    if p.path != "" {
        if b, err := os.ReadFile(p.path); err == nil {
            if id := strings.TrimSpace(string(b)); id != "" {
                p.cached = id
                return id
            }
        }
    }
    p.cached = newToken()
    p.persist()
    return p.cached
}

// Clear forgets the current session identifier.  The next GetOrCreate
// returns a fresh token, abandoning any locks the old session held; the
// server releases them through expiry.
func (p *Provider) Clear() {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.cached = ""
    if p.path != "" {
        _ = os.Remove(p.path)
    }
}

// persist writes the cached token best-effort.  A read-only disk must not
// break lock ownership, so write failures are ignored; the token just
// won't survive a restart.
func (p *Provider) persist() {
    if p.path == "" {
        return
    }
    if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
        return
    }
    _ = os.WriteFile(p.path, []byte(p.cached), 0o600)
}

// newToken returns a random session token.  When the platform's secure
// random source is unavailable it falls back to a time+random composite
// rather than failing.
func newToken() string {
    if id, err := uuid.NewRandom(); err == nil {
        return id.String()
    }
    return fmt.Sprintf("s-%d-%08x", time.Now().UnixNano(), rand.Uint32())
}
