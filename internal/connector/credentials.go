package connector

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// CredentialSource resolves an account's credentials reference into the
// API identity to sign venue calls with. Secrets live outside the
// ledger; the mirror only ever stores the reference.
type CredentialSource interface {
	Resolve(ref string) (Credentials, error)
}

// EnvCredentialSource resolves references from the process environment:
// a reference "binance-main" reads BINANCE_MAIN_API_KEY and
// BINANCE_MAIN_API_SECRET.
type EnvCredentialSource struct{}

func (EnvCredentialSource) Resolve(ref string) (Credentials, error) {
	if ref == "" {
		return Credentials{}, fmt.Errorf("empty credentials reference")
	}
	prefix := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(ref))
	key := os.Getenv(prefix + "_API_KEY")
	secret := os.Getenv(prefix + "_API_SECRET")
	if key == "" || secret == "" {
		return Credentials{}, fmt.Errorf("credentials %q not present in environment", ref)
	}
	return Credentials{APIKey: key, APISecret: secret}, nil
}

// StaticCredentialSource serves a fixed map of references. Used by the
// simulation binary and in tests.
type StaticCredentialSource struct {
	mu    sync.RWMutex
	creds map[string]Credentials
}

func NewStaticCredentialSource() *StaticCredentialSource {
	return &StaticCredentialSource{creds: make(map[string]Credentials)}
}

func (s *StaticCredentialSource) Set(ref string, creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[ref] = creds
}

func (s *StaticCredentialSource) Resolve(ref string) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds, ok := s.creds[ref]
	if !ok {
		return Credentials{}, fmt.Errorf("unknown credentials reference %q", ref)
	}
	return creds, nil
}
