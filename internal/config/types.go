// Package config loads the immutable Configuration consumed at boot from a
// directory of YAML files.
package config

import (
	"time"

	"go.feedmesh.dev/internal/secret"
)

// Modifier is a {type, options} pair resolving to a C1 handler that maps
// []Post -> []Post.
type Modifier struct {
	Type    string
	Options map[string]any
}

// Stream is a single output binding of one source.
type Stream struct {
	ReceiverType      string
	ReceiverOptions   map[string]any
	MessageTemplate   string
	MessageTemplateID string
	Modifiers         []Modifier
	Squash            bool
	Intervals         []string
}

// Source is the immutable configuration of one input feed.
type Source struct {
	ID             string
	FetcherType    string
	FetcherOptions map[string]any
	ParserType     string
	ParserOptions  map[string]any
	Tags           []string
	Streams        []Stream

	// MinSpacing is the minimum wall-clock interval the rate limiter
	// enforces between two fetch leases against this source's host.
	MinSpacing time.Duration
}

// SubhandlerDef binds a configuration-local alias to an underlying
// registered handler type plus its constructor options; distinct aliases
// for the same underlying type get distinct instances.
type SubhandlerDef struct {
	Alias          string
	UnderlyingType string
	InitOptions    map[string]any
}

// SecretsSettings configures the optional, non-ENV secret providers that
// back the VAULT:/AWS-SM:/GCP-SM: config interpolation prefixes.
type SecretsSettings struct {
	Vault *secret.VaultConfig
	AWSSM *secret.AWSConfig
	GCPSM *secret.GCPConfig
}

// AppSettings is the app_settings block of the loaded configuration.
type AppSettings struct {
	LogLevel      string
	SentryDSN     string
	PostStorage   string // "memory" | "sqlite"
	OutboxStorage string // "memory" | "sqlite"
	SQLDBPath     string
	MetricsFile   string
	Secrets       SecretsSettings
}

// Configuration is the immutable object produced by Load.
type Configuration struct {
	AppSettings      AppSettings
	Sources          []Source
	MessageTemplates map[string]string
	Subhandlers      []SubhandlerDef
	Raw              map[string]any
}
