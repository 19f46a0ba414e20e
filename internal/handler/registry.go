// Package handler implements the static catalogue of fetcher, parser,
// modifier, and receiver units (C1), and the init-time binding of
// configured symbolic names to those units.
package handler

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"go.feedmesh.dev/internal/config"
)

// Kind is one of the four polymorphic handler capabilities.
type Kind int

const (
	KindFetcher Kind = iota
	KindParser
	KindModifier
	KindReceiver
)

func (k Kind) String() string {
	switch k {
	case KindFetcher:
		return "fetcher"
	case KindParser:
		return "parser"
	case KindModifier:
		return "modifier"
	case KindReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// Options is implemented by every typed init/call-options struct. Types
// that have nothing to validate may embed NoOptions.
type Options interface {
	Validate() error
}

// NoOptions is embedded by handlers that declare no init or call options.
type NoOptions struct{}

func (NoOptions) Validate() error { return nil }

// Handler is the bound, constructed instance created once per distinct
// (kind, name) reference in the configuration — once per alias when the
// reference is a subhandler alias, so distinct aliases of the same
// underlying type get distinct instances and distinct constructor state.
type Handler interface {
	// Call invokes the handler. callOptions is decoded+validated once per
	// Resolve call; payload is kind-specific: ignored for fetchers, a
	// fetched text string for parsers, a []*post.Post for modifiers, a
	// []message.Message for receivers.
	Call(ctx context.Context, callOptions Options, payload any) (any, error)
}

// Registration is supplied to Register by each handler package's init().
type Registration struct {
	Kind Kind
	Name string

	// NewInitOptions returns a fresh zero value to decode constructor
	// options into. Nil if the handler takes no init options.
	NewInitOptions func() Options

	// Construct builds a Handler from decoded+validated init options.
	// Required unless NewFunc is set (mutually exclusive).
	Construct func(ctx context.Context, init Options) (Handler, error)

	// NewFunc builds a stateless Handler with no constructor options.
	// Required unless Construct is set (mutually exclusive).
	NewFunc func() Handler

	// NewCallOptions returns a fresh zero value to decode per-invocation
	// options into. Nil if the handler takes no call options.
	NewCallOptions func() Options

	// ReturnsPosts must be true for every KindParser registration,
	// declaring that Call returns a []*post.Post. Enforced at Register
	// time since the pipeline's materializer assumes every resolved
	// parser produces post-shaped output.
	ReturnsPosts bool
}

// InitHandlersError identifies the configuration path (source id / stream
// index / modifier index) at which handler binding failed.
type InitHandlersError struct {
	Path string
	Err  error
}

func (e *InitHandlersError) Error() string {
	return fmt.Sprintf("init handlers: %s: %v", e.Path, e.Err)
}
func (e *InitHandlersError) Unwrap() error { return e.Err }

// Registry is the static catalogue of runnable units discovered at program
// start. It is a value, not global mutable state (SPEC_FULL §9); a
// package-level DefaultRegistry exists only so handler packages can
// Register themselves from init(), and Init binds to whichever Registry it
// is called on (the returned Bound keeps a reference to it, not a copy),
// so tests can build their own with only the fakes they need.
type Registry struct {
	entries map[Kind]map[string]Registration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[Kind]map[string]Registration{
		KindFetcher:  {},
		KindParser:   {},
		KindModifier: {},
		KindReceiver: {},
	}}
}

// DefaultRegistry is populated by handler packages' init() functions via
// the package-level Register helper below.
var DefaultRegistry = NewRegistry()

// Register records reg under (reg.Kind, reg.Name). Called from handler
// package init() functions; a malformed Registration is a programmer
// error, not a runtime error, so this panics — matching the source
// system's module-discovery-time decorator failures.
func Register(reg Registration) {
	DefaultRegistry.Register(reg)
}

// Register is the instance-method form used directly by tests.
func (r *Registry) Register(reg Registration) {
	if reg.Name == "" {
		panic("handler: Register called with empty Name")
	}
	if (reg.Construct == nil) == (reg.NewFunc == nil) {
		panic(fmt.Sprintf("handler: %s/%s must set exactly one of Construct or NewFunc", reg.Kind, reg.Name))
	}
	if reg.NewFunc != nil && reg.NewInitOptions != nil {
		panic(fmt.Sprintf("handler: %s/%s: NewInitOptions set for a plain (NewFunc) handler", reg.Kind, reg.Name))
	}
	if reg.Kind == KindParser && !reg.ReturnsPosts {
		panic(fmt.Sprintf("handler: %s/%s: parser registrations must set ReturnsPosts", reg.Kind, reg.Name))
	}
	if _, exists := r.entries[reg.Kind][reg.Name]; exists {
		panic(fmt.Sprintf("handler: duplicate registration for %s/%s", reg.Kind, reg.Name))
	}
	r.entries[reg.Kind][reg.Name] = reg
}

func (r *Registry) lookup(kind Kind, name string) (Registration, bool) {
	reg, ok := r.entries[kind][name]
	return reg, ok
}

// decodeOptions decodes raw into a fresh Options value (or NoOptions{} if
// newFn is nil) and runs its Validate().
func decodeOptions(raw map[string]any, newFn func() Options) (Options, error) {
	if newFn == nil {
		if len(raw) != 0 {
			return nil, fmt.Errorf("handler does not accept options, got %d keys", len(raw))
		}
		return NoOptions{}, nil
	}
	opts := newFn()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           opts,
		WeaklyTypedInput: false,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("validating options: %w", err)
	}
	return opts, nil
}

// Bound is the result of Init: a registry with every configured handler
// instance already constructed.
type Bound struct {
	registry  *Registry
	instances map[instanceKey]Handler
	aliases   map[string]config.SubhandlerDef
}

type instanceKey struct {
	Kind Kind
	Name string // the alias-or-bare name as it appears in configuration
}

// Init walks every source, stream, and modifier in cfg, resolving each
// referenced (kind, name) — directly against the registry, or indirectly
// through a subhandler alias — and constructing exactly one Handler
// instance per distinct reference.
func (r *Registry) Init(ctx context.Context, cfg *config.Configuration) (*Bound, error) {
	aliases := make(map[string]config.SubhandlerDef, len(cfg.Subhandlers))
	for _, sub := range cfg.Subhandlers {
		aliases[sub.Alias] = sub
	}

	b := &Bound{registry: r, instances: map[instanceKey]Handler{}, aliases: aliases}

	for _, src := range cfg.Sources {
		if err := b.ensure(ctx, KindFetcher, src.FetcherType); err != nil {
			return nil, &InitHandlersError{Path: "sources." + src.ID, Err: err}
		}
		if err := b.ensure(ctx, KindParser, src.ParserType); err != nil {
			return nil, &InitHandlersError{Path: "sources." + src.ID, Err: err}
		}
		if _, err := b.resolveCallOptions(KindFetcher, src.FetcherType, src.FetcherOptions); err != nil {
			return nil, &InitHandlersError{Path: "sources." + src.ID + ".fetcher_options", Err: err}
		}
		if _, err := b.resolveCallOptions(KindParser, src.ParserType, src.ParserOptions); err != nil {
			return nil, &InitHandlersError{Path: "sources." + src.ID + ".parser_options", Err: err}
		}

		for si, stream := range src.Streams {
			path := fmt.Sprintf("sources.%s.streams[%d]", src.ID, si)
			if err := b.ensure(ctx, KindReceiver, stream.ReceiverType); err != nil {
				return nil, &InitHandlersError{Path: path, Err: err}
			}
			if _, err := b.resolveCallOptions(KindReceiver, stream.ReceiverType, stream.ReceiverOptions); err != nil {
				return nil, &InitHandlersError{Path: path + ".receiver_options", Err: err}
			}
			for mi, mod := range stream.Modifiers {
				mpath := fmt.Sprintf("%s.modifiers[%d]", path, mi)
				if err := b.ensure(ctx, KindModifier, mod.Type); err != nil {
					return nil, &InitHandlersError{Path: mpath, Err: err}
				}
				if _, err := b.resolveCallOptions(KindModifier, mod.Type, mod.Options); err != nil {
					return nil, &InitHandlersError{Path: mpath + ".options", Err: err}
				}
			}
		}
	}

	return b, nil
}

// underlying resolves a configuration-local name to the registration it
// is ultimately bound to, following one subhandler-alias indirection.
func (b *Bound) underlying(kind Kind, name string) (Registration, map[string]any, error) {
	if sub, ok := b.aliases[name]; ok {
		reg, ok := b.registry.lookup(kind, sub.UnderlyingType)
		if !ok {
			return Registration{}, nil, fmt.Errorf("alias %q: unknown %s handler %q", name, kind, sub.UnderlyingType)
		}
		return reg, sub.InitOptions, nil
	}
	reg, ok := b.registry.lookup(kind, name)
	if !ok {
		return Registration{}, nil, fmt.Errorf("unknown %s handler %q", kind, name)
	}
	return reg, nil, nil
}

func (b *Bound) ensure(ctx context.Context, kind Kind, name string) error {
	key := instanceKey{Kind: kind, Name: name}
	if _, ok := b.instances[key]; ok {
		return nil
	}
	reg, initOptionsRaw, err := b.underlying(kind, name)
	if err != nil {
		return err
	}

	var h Handler
	if reg.Construct != nil {
		initOpts, err := decodeOptions(initOptionsRaw, reg.NewInitOptions)
		if err != nil {
			return fmt.Errorf("init_options: %w", err)
		}
		h, err = reg.Construct(ctx, initOpts)
		if err != nil {
			return fmt.Errorf("constructing handler: %w", err)
		}
	} else {
		if len(initOptionsRaw) != 0 {
			return fmt.Errorf("handler %q takes no init_options but alias supplied some", name)
		}
		h = reg.NewFunc()
	}
	b.instances[key] = h
	return nil
}

func (b *Bound) resolveCallOptions(kind Kind, name string, raw map[string]any) (Options, error) {
	reg, _, err := b.underlying(kind, name)
	if err != nil {
		return nil, err
	}
	return decodeOptions(raw, reg.NewCallOptions)
}

// Invocation is a callable bound to validated, decoded options; pipeline
// stages call it with no knowledge of the concrete handler behind it.
type Invocation struct {
	handler     Handler
	callOptions Options
}

func (inv Invocation) Call(ctx context.Context, payload any) (any, error) {
	return inv.handler.Call(ctx, inv.callOptions, payload)
}

// Resolve returns a callable bound to decoded, validated options. It
// re-validates callOptions every call (cheap: a small map decode) so
// per-source option payloads that differ between sources sharing the same
// handler name each get their own Invocation.
func (b *Bound) Resolve(kind Kind, name string, callOptions map[string]any) (Invocation, error) {
	key := instanceKey{Kind: kind, Name: name}
	h, ok := b.instances[key]
	if !ok {
		return Invocation{}, fmt.Errorf("handler: %s %q was not initialized (not referenced during Init)", kind, name)
	}
	opts, err := b.resolveCallOptions(kind, name, callOptions)
	if err != nil {
		return Invocation{}, err
	}
	return Invocation{handler: h, callOptions: opts}, nil
}
