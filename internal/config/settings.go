// Package config holds the immutable runtime settings and the declarative
// table registry for sync runs.
//
// Settings come from the environment exactly once, at startup, and are passed
// by value to the components that need them. There is no settings singleton:
// tests construct Settings literals directly.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings is the full environment-driven configuration surface.
//
// Synapse authentication is either SQL (username+password) or managed
// identity; Validate enforces that exactly one usable method is present.
type Settings struct {
	// Azure Synapse source.
	SynapseServer   string `env:"SYNAPSE_SERVER"`
	SynapseDatabase string `env:"SYNAPSE_DATABASE"`
	SynapseUsername string `env:"SYNAPSE_USERNAME"`
	SynapsePassword string `env:"SYNAPSE_PASSWORD"`

	// UseManagedIdentity switches the Synapse backend to Azure AD managed
	// identity auth instead of SQL auth.
	UseManagedIdentity bool `env:"USE_MANAGED_IDENTITY" envDefault:"false"`

	// SourceKind selects the source backend ("synapse", "postgres", "sqlite").
	// Non-synapse backends exist for dev mirrors and fixtures; they read
	// SOURCE_DSN directly.
	SourceKind string `env:"SOURCE_KIND" envDefault:"synapse"`
	SourceDSN  string `env:"SOURCE_DSN"`

	// SharePoint destination.
	SiteURL  string `env:"SHAREPOINT_SITE_URL"`
	TenantID string `env:"TENANT_ID"`
	ClientID string `env:"CLIENT_ID"`
	// ClientSecret is the app registration secret for the client-credentials
	// grant.
	ClientSecret string `env:"CLIENT_SECRET"`

	// BatchSize is the default rows-per-batch; tables may override it.
	BatchSize int `env:"BATCH_SIZE" envDefault:"100"`

	// HTTPTimeout bounds every single network call (source connect/query and
	// each Graph request). Never unbounded.
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	// RetryBackoff is the fixed delay before the single retry of a transient
	// batch-level transport failure.
	RetryBackoff time.Duration `env:"RETRY_BACKOFF" envDefault:"5s"`

	// RequestsPerSecond paces Graph API calls. Graph throttles aggressively;
	// the default stays well under the per-app item-write budget.
	RequestsPerSecond float64 `env:"REQUESTS_PER_SECOND" envDefault:"8"`

	Verbose bool `env:"SYNC_VERBOSE" envDefault:"false"`
}

// LoadSettings parses Settings from the process environment and validates
// them. It fails before any I/O happens.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the settings that every run needs regardless of the table
// registry. Errors here are ConfigurationErrors in the run taxonomy: the run
// must not start.
func (s Settings) Validate() error {
	switch s.SourceKind {
	case "synapse":
		if s.SynapseServer == "" {
			return fmt.Errorf("config: SYNAPSE_SERVER is required")
		}
		if s.SynapseDatabase == "" {
			return fmt.Errorf("config: SYNAPSE_DATABASE is required")
		}
		if !s.UseManagedIdentity && (s.SynapseUsername == "" || s.SynapsePassword == "") {
			return fmt.Errorf("config: SYNAPSE_USERNAME/SYNAPSE_PASSWORD are required unless USE_MANAGED_IDENTITY=true")
		}
	case "postgres", "sqlite":
		if s.SourceDSN == "" {
			return fmt.Errorf("config: SOURCE_DSN is required for SOURCE_KIND=%s", s.SourceKind)
		}
	default:
		return fmt.Errorf("config: unknown SOURCE_KIND %q", s.SourceKind)
	}

	if s.SiteURL == "" {
		return fmt.Errorf("config: SHAREPOINT_SITE_URL is required")
	}
	if s.TenantID == "" || s.ClientID == "" || s.ClientSecret == "" {
		return fmt.Errorf("config: TENANT_ID, CLIENT_ID and CLIENT_SECRET are required")
	}
	if s.BatchSize < 1 || s.BatchSize > 1000 {
		return fmt.Errorf("config: BATCH_SIZE must be between 1 and 1000 (got %d)", s.BatchSize)
	}
	if s.HTTPTimeout <= 0 {
		return fmt.Errorf("config: HTTP_TIMEOUT must be positive")
	}
	if s.RequestsPerSecond <= 0 {
		return fmt.Errorf("config: REQUESTS_PER_SECOND must be positive")
	}
	return nil
}
