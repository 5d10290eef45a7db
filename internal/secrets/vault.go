// Package secrets provides a thread-safe secret vault with hot reload support.
// External system credentials and webhook secrets are stored by reference and
// resolved here.
package secrets

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrSecretNotFound is returned by Resolve for unknown references.
var ErrSecretNotFound = errors.New("secret not found")

// minRedactLen is the shortest secret RedactString masks; shorter values
// would match ordinary text.
const minRedactLen = 4

// Loader retrieves secrets from a source (env vars, file, remote vault, etc.).
type Loader func() (map[string]string, error)

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{
		values: vals,
		loader: loader,
	}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Resolve returns the secret named by a credential reference. References are
// normalized the way PrefixEnvLoader stores keys ("ledger-prod" → "LEDGER_PROD").
func (v *Vault) Resolve(ref string) (string, error) {
	key := NormalizeKey(ref)
	if s := v.Get(key); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("credential %q: %w", ref, ErrSecretNotFound)
}

// Keys returns the names of all loaded secrets.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Redacted returns a masked form of the secret for key: the first two
// characters followed by "****", or "****" for short secrets. Missing keys
// yield "".
func (v *Vault) Redacted(key string) string {
	s := v.Get(key)
	if s == "" {
		return ""
	}
	return mask(s)
}

// RedactString replaces every occurrence of a loaded secret in s with its
// masked form. Used before error messages from vendor calls are persisted.
func (v *Vault) RedactString(s string) string {
	v.mu.RLock()
	secrets := make([]string, 0, len(v.values))
	for _, val := range v.values {
		if len(val) >= minRedactLen {
			secrets = append(secrets, val)
		}
	}
	v.mu.RUnlock()

	// longest first so a secret containing another is masked whole
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })
	for _, secret := range secrets {
		s = strings.ReplaceAll(s, secret, mask(secret))
	}
	return s
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	v.mu.Unlock()
	return nil
}

func mask(s string) string {
	if len(s) <= minRedactLen {
		return "****"
	}
	return s[:2] + "****"
}

// NormalizeKey upper-cases ref and replaces every character outside
// [A-Z0-9_] with an underscore.
func NormalizeKey(ref string) string {
	var b strings.Builder
	b.Grow(len(ref))
	for _, r := range strings.ToUpper(ref) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
