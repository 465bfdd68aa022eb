// Package credentials implements the Credential Broker (spec.md §4.3): it
// defines the allow-listed set of credential names and resolves the
// plaintext value from a configured SecretStore (worker authentication by
// token hash is done by the registry package in the HTTP handler) — grounded on
// original_source/backend/src/api/status.py's get_api_key (vault lookup,
// falling through to the process environment) and
// original_source/backend/src/api/workers.py's allow-list and Bearer
// token handling.
package credentials

import (
	"context"
	"errors"
	"os"
)

// allowedKeys is the closed set of credential names a worker may request.
var allowedKeys = map[string]bool{
	"ANTHROPIC_API_KEY": true,
	"OPENAI_API_KEY":    true,
	"GOOGLE_API_KEY":    true,
	"GEMINI_API_KEY":    true,
}

// IsAllowed reports whether keyName is in the credential allow-list.
func IsAllowed(keyName string) bool {
	return allowedKeys[keyName]
}

// ErrNotAllowed names the allow-list failure; the control-plane error
// mapping turns it into 400. Resolve does not check the allow-list itself:
// callers check IsAllowed before calling it.
var ErrNotAllowed = errors.New("credentials: key not in allow-list")

// ErrKeyNotFound is returned when the secret store and the environment
// both miss the requested key.
var ErrKeyNotFound = errors.New("credentials: key not found")

// SecretStore resolves a credential name to its plaintext value. The
// out-of-core vault (secret-vault cryptography is an explicit Non-goal)
// is one possible implementation; EnvSecretStore is the default fallback.
type SecretStore interface {
	Get(ctx context.Context, name string) (string, bool, error)
}

// EnvSecretStore resolves names directly from process environment
// variables — the fallback path original_source's get_api_key always
// reaches when the vault is locked or has no entry.
type EnvSecretStore struct{}

func (EnvSecretStore) Get(_ context.Context, name string) (string, bool, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// ChainSecretStore tries each store in order and returns the first hit,
// matching get_api_key's "vault first, then environment" precedence.
type ChainSecretStore struct {
	Stores []SecretStore
}

func (c ChainSecretStore) Get(ctx context.Context, name string) (string, bool, error) {
	for _, s := range c.Stores {
		v, ok, err := s.Get(ctx, name)
		if err != nil {
			continue // fall through to the next store, matching original_source's bare except
		}
		if ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

// Resolve looks up keyName in the store, returning ErrKeyNotFound if no
// store has it.
func Resolve(ctx context.Context, store SecretStore, keyName string) (string, error) {
	v, ok, err := store.Get(ctx, keyName)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}
