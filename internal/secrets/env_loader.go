package secrets

import (
	"os"
	"strings"
)

// EnvLoader returns a Loader that reads the specified environment variables.
// Missing variables are silently omitted from the result map.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// PrefixEnvLoader returns a Loader that reads every environment variable
// starting with prefix and stores it under the remainder of its name, so
// SYNCBRIDGE_CRED_LEDGER_PROD is resolved by the reference "ledger-prod".
func PrefixEnvLoader(prefix string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string)
		for _, kv := range os.Environ() {
			name, value, ok := strings.Cut(kv, "=")
			if !ok || value == "" || !strings.HasPrefix(name, prefix) {
				continue
			}
			if key := strings.TrimPrefix(name, prefix); key != "" {
				vals[key] = value
			}
		}
		return vals, nil
	}
}
