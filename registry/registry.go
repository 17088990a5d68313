// Package registry is the static catalog of supported chains and their tokens.
package registry

import (
	"fmt"

	"gobridgetracker/types"
)

// Registry is immutable after New and safe for concurrent use.
type Registry struct {
	chains []types.ChainDescriptor
	byID   map[int]types.ChainDescriptor
}

// New builds a registry keeping the order of chains.
func New(chains []types.ChainDescriptor) (*Registry, error) {
	r := &Registry{
		chains: make([]types.ChainDescriptor, 0, len(chains)),
		byID:   make(map[int]types.ChainDescriptor, len(chains)),
	}
	for _, c := range chains {
		if _, ok := r.byID[c.ID]; ok {
			return nil, fmt.Errorf("duplicate chain id %d", c.ID)
		}
		c.Tokens = append([]string(nil), c.Tokens...)
		c.RPCList = append([]string(nil), c.RPCList...)
		r.chains = append(r.chains, c)
		r.byID[c.ID] = c
	}
	return r, nil
}

// Chains returns the supported chains in catalog order.
func (r *Registry) Chains() []types.ChainDescriptor {
	out := make([]types.ChainDescriptor, len(r.chains))
	for i, c := range r.chains {
		c.Tokens = append([]string(nil), c.Tokens...)
		c.RPCList = append([]string(nil), c.RPCList...)
		out[i] = c
	}
	return out
}

func (r *Registry) Chain(id int) (types.ChainDescriptor, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// ValidateRoute fails with types.ErrUnsupportedRoute unless both chains exist,
// differ, and support token.
func (r *Registry) ValidateRoute(source, destination int, token string) error {
	src, ok := r.byID[source]
	if !ok {
		return fmt.Errorf("%w: unknown source chain %d", types.ErrUnsupportedRoute, source)
	}
	dst, ok := r.byID[destination]
	if !ok {
		return fmt.Errorf("%w: unknown destination chain %d", types.ErrUnsupportedRoute, destination)
	}
	if source == destination {
		return fmt.Errorf("%w: source and destination are both %s", types.ErrUnsupportedRoute, src.Name)
	}
	if !src.SupportsToken(token) {
		return fmt.Errorf("%w: %s not supported on %s", types.ErrUnsupportedRoute, token, src.Name)
	}
	if !dst.SupportsToken(token) {
		return fmt.Errorf("%w: %s not supported on %s", types.ErrUnsupportedRoute, token, dst.Name)
	}
	return nil
}

// IsSlow reports whether either endpoint is the slow reference network.
func (r *Registry) IsSlow(source, destination int) bool {
	return r.byID[source].Slow || r.byID[destination].Slow
}
