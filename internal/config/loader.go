package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"go.feedmesh.dev/internal/secret"
)

// defaultMinSpacing is the per-host fetch pacing applied to a source that
// sets no explicit min_spacing_seconds.
const defaultMinSpacing = 1 * time.Second

// Error is a configuration error: invalid schema, unknown handler name,
// type mismatch, unresolved template id. Always fatal at boot.
type Error struct {
	Path string // source id / stream index / modifier index, dotted
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("config: %s: %v", e.Path, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func configErr(path string, format string, args ...any) error {
	return &Error{Path: path, Err: fmt.Errorf(format, args...)}
}

type rawSecrets struct {
	Vault *secret.VaultConfig `mapstructure:"vault"`
	AWSSM *secret.AWSConfig   `mapstructure:"aws_sm"`
	GCPSM *secret.GCPConfig   `mapstructure:"gcp_sm"`
}

type rawSettings struct {
	LogLevel      string     `mapstructure:"log_level"`
	SentryDSN     string     `mapstructure:"sentry_dsn"`
	PostStorage   string     `mapstructure:"post_storage"`
	OutboxStorage string     `mapstructure:"outbox_storage"`
	SQLDBPath     string     `mapstructure:"sql_db_path"`
	MetricsFile   string     `mapstructure:"metrics_file"`
	Secrets       rawSecrets `mapstructure:"secrets"`
}

type rawHandlerDef struct {
	Type        string         `mapstructure:"type"`
	InitOptions map[string]any `mapstructure:"init_options"`
}

type rawMessageTemplate struct {
	Template string `mapstructure:"template"`
}

type rawModifier struct {
	Type    string         `mapstructure:"type"`
	Options map[string]any `mapstructure:"options"`
}

type rawStream struct {
	ReceiverType      string         `mapstructure:"receiver_type"`
	ReceiverOptions   map[string]any `mapstructure:"receiver_options"`
	MessageTemplate   string         `mapstructure:"message_template"`
	MessageTemplateID string         `mapstructure:"message_template_id"`
	Modifiers         []rawModifier  `mapstructure:"modifiers"`
	Squash            bool           `mapstructure:"squash"`
	Intervals         []string       `mapstructure:"intervals"`
}

type rawSource struct {
	FetcherType        string         `mapstructure:"fetcher_type"`
	FetcherOptions     map[string]any `mapstructure:"fetcher_options"`
	ParserType         string         `mapstructure:"parser_type"`
	ParserOptions      map[string]any `mapstructure:"parser_options"`
	Tags               []string       `mapstructure:"tags"`
	Streams            []rawStream    `mapstructure:"streams"`
	MinSpacingSeconds  float64        `mapstructure:"min_spacing_seconds"`
}

type rawRoot struct {
	Settings         rawSettings                   `mapstructure:"settings"`
	Handlers         map[string]rawHandlerDef      `mapstructure:"handlers"`
	MessageTemplates map[string]rawMessageTemplate `mapstructure:"message_templates"`
	Sources          map[string]rawSource          `mapstructure:"sources"`
}

// Load reads every *.yaml/*.yml file directly under dir, in lexical
// filename order, merging top-level keys (a later file's top-level key
// wholly replaces an earlier one of the same name — this mirrors the
// source system's `dict |= dict` merge exactly; it is NOT a deep merge).
func Load(ctx context.Context, dir string) (*Configuration, error) {
	merged, err := loadAndMergeFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		return nil, configErr("<root>", "no configuration files found under %s", dir)
	}

	// Phase 1: resolve ENV: scalars under settings.secrets only, so that
	// the provider settings (which may themselves be ENV:-interpolated,
	// e.g. a vault token) are usable to build the remaining providers.
	envOnly := secret.NewResolver(nil)
	if settings, ok := merged["settings"].(map[string]any); ok {
		if secrets, ok := settings["secrets"]; ok {
			resolved, err := resolveValue(ctx, envOnly, secrets)
			if err != nil {
				return nil, configErr("settings.secrets", "resolving ENV: scalars: %w", err)
			}
			settings["secrets"] = resolved
		}
	}

	var root rawRoot
	if err := decodeRoot(merged, &root); err != nil {
		return nil, configErr("<root>", "decoding configuration: %w", err)
	}

	extraProviders, err := buildExtraProviders(ctx, root.Settings.Secrets)
	if err != nil {
		return nil, configErr("settings.secrets", "%w", err)
	}

	// Phase 2: resolve every ENV:/VAULT:/AWS-SM:/GCP-SM: scalar in the tree
	// now that the configured providers exist. Values already resolved in
	// phase 1 no longer match any prefix and pass through unchanged.
	full := secret.NewResolver(extraProviders)
	if err := resolveInPlace(ctx, full, merged); err != nil {
		return nil, configErr("<root>", "resolving secret-provider scalars: %w", err)
	}
	if err := decodeRoot(merged, &root); err != nil {
		return nil, configErr("<root>", "decoding configuration: %w", err)
	}

	return buildConfiguration(root, merged)
}

func loadAndMergeFiles(dir string) (map[string]any, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, configErr("<root>", "globbing %s: %w", pattern, err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	merged := map[string]any{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, configErr(path, "reading file: %w", err)
		}
		var part map[string]any
		if err := yaml.Unmarshal(data, &part); err != nil {
			return nil, configErr(path, "parsing yaml: %w", err)
		}
		for k, v := range part {
			merged[k] = v
		}
	}
	return merged, nil
}

// resolveInPlace walks every string scalar reachable from v and replaces it
// with its resolver.Resolve result, mutating maps/slices in place.
func resolveInPlace(ctx context.Context, r *secret.Resolver, v any) error {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			resolved, err := resolveValue(ctx, r, child)
			if err != nil {
				return err
			}
			t[k] = resolved
		}
	case []any:
		for i, child := range t {
			resolved, err := resolveValue(ctx, r, child)
			if err != nil {
				return err
			}
			t[i] = resolved
		}
	}
	return nil
}

func resolveValue(ctx context.Context, r *secret.Resolver, v any) (any, error) {
	switch t := v.(type) {
	case string:
		return r.Resolve(ctx, t)
	case map[string]any, []any:
		if err := resolveInPlace(ctx, r, t); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return v, nil
	}
}

func decodeRoot(merged map[string]any, root *rawRoot) error {
	*root = rawRoot{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           root,
		WeaklyTypedInput: false,
		ErrorUnused:      false,
	})
	if err != nil {
		return err
	}
	return dec.Decode(merged)
}

func buildExtraProviders(ctx context.Context, s rawSecrets) (map[secret.Prefix]secret.Provider, error) {
	providers := map[secret.Prefix]secret.Provider{}
	if s.Vault != nil {
		p, err := secret.NewVaultProvider(*s.Vault)
		if err != nil {
			return nil, fmt.Errorf("vault provider: %w", err)
		}
		providers[secret.PrefixVault] = p
	}
	if s.AWSSM != nil {
		p, err := secret.NewAWSSecretsManagerProvider(ctx, *s.AWSSM)
		if err != nil {
			return nil, fmt.Errorf("aws-sm provider: %w", err)
		}
		providers[secret.PrefixAWSSM] = p
	}
	if s.GCPSM != nil {
		p, err := secret.NewGCPSecretManagerProvider(ctx, *s.GCPSM)
		if err != nil {
			return nil, fmt.Errorf("gcp-sm provider: %w", err)
		}
		providers[secret.PrefixGCPSM] = p
	}
	return providers, nil
}

func buildConfiguration(root rawRoot, raw map[string]any) (*Configuration, error) {
	cfg := &Configuration{
		AppSettings: AppSettings{
			LogLevel:      defaultString(root.Settings.LogLevel, "info"),
			SentryDSN:     root.Settings.SentryDSN,
			PostStorage:   defaultString(root.Settings.PostStorage, "memory"),
			OutboxStorage: defaultString(root.Settings.OutboxStorage, "memory"),
			SQLDBPath:     root.Settings.SQLDBPath,
			MetricsFile:   root.Settings.MetricsFile,
			Secrets: SecretsSettings{
				Vault: root.Settings.Secrets.Vault,
				AWSSM: root.Settings.Secrets.AWSSM,
				GCPSM: root.Settings.Secrets.GCPSM,
			},
		},
		MessageTemplates: make(map[string]string, len(root.MessageTemplates)),
		Raw:              raw,
	}

	for id, tmpl := range root.MessageTemplates {
		cfg.MessageTemplates[id] = tmpl.Template
	}

	for _, alias := range sortedKeys(root.Handlers) {
		def := root.Handlers[alias]
		if def.Type == "" {
			return nil, configErr("handlers."+alias, "missing required field \"type\"")
		}
		cfg.Subhandlers = append(cfg.Subhandlers, SubhandlerDef{
			Alias:          alias,
			UnderlyingType: def.Type,
			InitOptions:    def.InitOptions,
		})
	}

	sourceIDs := sortedKeys(root.Sources)
	for _, id := range sourceIDs {
		rs := root.Sources[id]
		minSpacing := defaultMinSpacing
		if rs.MinSpacingSeconds > 0 {
			minSpacing = time.Duration(rs.MinSpacingSeconds * float64(time.Second))
		}
		src := Source{
			ID:             id,
			FetcherType:    rs.FetcherType,
			FetcherOptions: rs.FetcherOptions,
			ParserType:     rs.ParserType,
			ParserOptions:  rs.ParserOptions,
			Tags:           rs.Tags,
			MinSpacing:     minSpacing,
		}
		if src.FetcherType == "" {
			return nil, configErr("sources."+id, "missing required field \"fetcher_type\"")
		}
		if src.ParserType == "" {
			return nil, configErr("sources."+id, "missing required field \"parser_type\"")
		}

		for i, rstream := range rs.Streams {
			path := fmt.Sprintf("sources.%s.streams[%d]", id, i)
			stream := Stream{
				ReceiverType:    rstream.ReceiverType,
				ReceiverOptions: rstream.ReceiverOptions,
				Squash:          rstream.Squash,
				Intervals:       rstream.Intervals,
			}
			if stream.ReceiverType == "" {
				return nil, configErr(path, "missing required field \"receiver_type\"")
			}

			hasInline := rstream.MessageTemplate != ""
			hasID := rstream.MessageTemplateID != ""
			switch {
			case hasInline && hasID:
				return nil, configErr(path, "only one of message_template or message_template_id may be set")
			case hasID:
				tmpl, ok := cfg.MessageTemplates[rstream.MessageTemplateID]
				if !ok {
					return nil, configErr(path, "message_template_id %q not found", rstream.MessageTemplateID)
				}
				stream.MessageTemplate = tmpl
			case hasInline:
				stream.MessageTemplate = rstream.MessageTemplate
			default:
				return nil, configErr(path, "exactly one of message_template or message_template_id must be set")
			}

			for mi, rm := range rstream.Modifiers {
				if rm.Type == "" {
					return nil, configErr(fmt.Sprintf("%s.modifiers[%d]", path, mi), "missing required field \"type\"")
				}
				stream.Modifiers = append(stream.Modifiers, Modifier{Type: rm.Type, Options: rm.Options})
			}

			src.Streams = append(src.Streams, stream)
		}

		cfg.Sources = append(cfg.Sources, src)
	}

	if len(cfg.Sources) == 0 {
		return nil, configErr("sources", "at least one source must be configured")
	}

	return cfg, nil
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DumpYAML renders cfg.Raw back to YAML, the normalized form printed by the
// dump-config CLI subcommand.
func DumpYAML(cfg *Configuration) ([]byte, error) {
	return yaml.Marshal(cfg.Raw)
}
