// Package secret resolves ENV:/VAULT:/AWS-SM:/GCP-SM: prefixed scalars found
// in configuration files into their real values.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotFound is returned by a Provider when the requested key has no value.
var ErrNotFound = errors.New("secret: not found")

// Provider resolves a single key to its secret value.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Name() string
}

// Prefix identifies which Provider a config scalar should be dispatched to.
type Prefix string

const (
	PrefixEnv   Prefix = "ENV"
	PrefixVault Prefix = "VAULT"
	PrefixAWSSM Prefix = "AWS-SM"
	PrefixGCPSM Prefix = "GCP-SM"
)

// Resolver dispatches a "PREFIX:key" scalar to the matching Provider.
type Resolver struct {
	providers map[Prefix]Provider
}

// NewResolver builds a Resolver with ENV: always wired (it needs no
// configuration) and any additionally configured providers layered in.
func NewResolver(extra map[Prefix]Provider) *Resolver {
	providers := map[Prefix]Provider{PrefixEnv: EnvProvider{}}
	for prefix, p := range extra {
		providers[prefix] = p
	}
	return &Resolver{providers: providers}
}

// Resolve recognizes a "^(ENV|VAULT|AWS-SM|GCP-SM):(.+)$" scalar and returns
// its resolved value. A scalar with no matching prefix is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, scalar string) (string, error) {
	prefix, key, ok := splitPrefix(scalar)
	if !ok {
		return scalar, nil
	}
	p, ok := r.providers[prefix]
	if !ok {
		return "", fmt.Errorf("secret: no provider configured for prefix %q (referenced by %q)", prefix, scalar)
	}
	val, err := p.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("secret: resolving %q via provider %s: %w", scalar, p.Name(), err)
	}
	return val, nil
}

func splitPrefix(scalar string) (prefix Prefix, key string, ok bool) {
	for _, candidate := range []Prefix{PrefixEnv, PrefixVault, PrefixAWSSM, PrefixGCPSM} {
		marker := string(candidate) + ":"
		if strings.HasPrefix(scalar, marker) {
			return candidate, strings.TrimPrefix(scalar, marker), true
		}
	}
	return "", "", false
}

// EnvProvider reads the trimmed value of a process environment variable,
// matching the distilled spec's baseline ENV: interpolation exactly.
type EnvProvider struct{}

func (EnvProvider) Get(_ context.Context, key string) (string, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return "", ErrNotFound
	}
	return strings.TrimSpace(val), nil
}

func (EnvProvider) Name() string { return "env" }
