// Package provider models external payment providers. The set of variants is
// closed: callers pick one by key through a Registry.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrNoProvider      = errors.New("payment provider not set")
	ErrUnknownProvider = errors.New("unknown payment provider")
)

// Response is what a provider reports back for a single call.
type Response struct {
	Success   bool
	NetAmount decimal.Decimal
}

type Provider interface {
	Name() string
	MinTopUpAmount() decimal.Decimal
	MinWithdrawalAmount() decimal.Decimal
	// Commission returns the fee charged on a gross amount.
	Commission(amount decimal.Decimal) decimal.Decimal
	TopUp(ctx context.Context, amount decimal.Decimal) (Response, error)
	Withdraw(ctx context.Context, amount decimal.Decimal) (Response, error)
}

const (
	KeyGood = "good"
	KeyBad  = "bad"
)

var profiles = map[string]Profile{
	KeyGood: GoodCheap,
	KeyBad:  BadSlowExpensive,
}

// Keys lists every provider key the service knows about, sorted.
func Keys() []string {
	keys := make([]string, 0, len(profiles))
	for k := range profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func Known(key string) bool {
	_, ok := profiles[key]
	return ok
}

// New builds the provider registered under key.
func New(key string, opts ...Option) (Provider, error) {
	p, ok := profiles[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, key)
	}
	return NewSimulated(key, p, opts...), nil
}

type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// NewRegistryFromKeys builds a registry holding the named variants.
func NewRegistryFromKeys(keys []string, opts ...Option) (*Registry, error) {
	providers := make([]Provider, 0, len(keys))
	for _, k := range keys {
		p, err := New(k, opts...)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return NewRegistry(providers...), nil
}

// Select returns the provider for key. An empty key yields ErrNoProvider and
// a key outside the registry yields ErrUnknownProvider.
func (r *Registry) Select(key string) (Provider, error) {
	if r == nil || key == "" {
		return nil, ErrNoProvider
	}
	p, ok := r.providers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, key)
	}
	return p, nil
}
