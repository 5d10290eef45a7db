package config

import (
	"fmt"
	"sync"
)

// Holder keeps the current configuration and reloads it from disk on demand.
// Readers get a copy; a failed reload keeps the previous value.
type Holder struct {
	mu   sync.RWMutex
	cfg  Config
	path string
}

// NewHolder wraps cfg loaded from path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: *cfg, path: path}
}

// Get returns the current configuration.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Reload re-reads the YAML file and environment.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return fmt.Errorf("reload %s: %w", h.path, err)
	}
	h.mu.Lock()
	h.cfg = *cfg
	h.mu.Unlock()
	return nil
}
