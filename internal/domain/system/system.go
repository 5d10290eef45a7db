// Package system defines the configuration of external accounting systems.
package system

import (
	"fmt"
	"net/url"
	"time"

	"github.com/Strob0t/syncbridge/internal/domain"
)

// Config keys read outside the vendor adapter.
const (
	ConfigWebhookMode   = "webhook_mode"   // "hmac" (default) or "token"
	ConfigWebhookHeader = "webhook_header" // overrides the default signature header
)

// ExternalSystem configures one adapter instance.
type ExternalSystem struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"` // vendor discriminator, e.g. "rest"
	BaseURL string `json:"base_url"`
	// CredentialRef names a secret in the vault; the secret itself is never stored.
	CredentialRef    string            `json:"credential_ref,omitempty"`
	IsActive         bool              `json:"is_active"`
	Config           map[string]string `json:"config,omitempty"`
	WebhookSecretRef string            `json:"webhook_secret_ref,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// CreateRequest is the input for registering an external system.
type CreateRequest struct {
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	BaseURL          string            `json:"base_url"`
	CredentialRef    string            `json:"credential_ref,omitempty"`
	IsActive         *bool             `json:"is_active,omitempty"`
	Config           map[string]string `json:"config,omitempty"`
	WebhookSecretRef string            `json:"webhook_secret_ref,omitempty"`
}

// UpdateRequest carries partial updates; nil fields are left unchanged.
type UpdateRequest struct {
	Name             *string           `json:"name,omitempty"`
	Type             *string           `json:"type,omitempty"`
	BaseURL          *string           `json:"base_url,omitempty"`
	CredentialRef    *string           `json:"credential_ref,omitempty"`
	IsActive         *bool             `json:"is_active,omitempty"`
	Config           map[string]string `json:"config,omitempty"`
	WebhookSecretRef *string           `json:"webhook_secret_ref,omitempty"`
}

// New builds a system from a create request. Systems are active unless the
// request says otherwise.
func (r *CreateRequest) New() ExternalSystem {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return ExternalSystem{
		Name:             r.Name,
		Type:             r.Type,
		BaseURL:          r.BaseURL,
		CredentialRef:    r.CredentialRef,
		IsActive:         active,
		Config:           r.Config,
		WebhookSecretRef: r.WebhookSecretRef,
	}
}

// Apply merges the update into s.
func (r *UpdateRequest) Apply(s *ExternalSystem) {
	if r.Name != nil {
		s.Name = *r.Name
	}
	if r.Type != nil {
		s.Type = *r.Type
	}
	if r.BaseURL != nil {
		s.BaseURL = *r.BaseURL
	}
	if r.CredentialRef != nil {
		s.CredentialRef = *r.CredentialRef
	}
	if r.IsActive != nil {
		s.IsActive = *r.IsActive
	}
	if r.Config != nil {
		s.Config = r.Config
	}
	if r.WebhookSecretRef != nil {
		s.WebhookSecretRef = *r.WebhookSecretRef
	}
}

// Validate checks the structural fields. Whether Type names a registered
// vendor is checked by the adapter catalog.
func (s *ExternalSystem) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if s.Type == "" {
		return fmt.Errorf("%w: type is required", domain.ErrValidation)
	}
	if s.BaseURL == "" {
		return fmt.Errorf("%w: base_url is required", domain.ErrValidation)
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: base_url must be an absolute http(s) URL", domain.ErrValidation)
	}
	return nil
}
