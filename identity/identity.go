// Package identity supplies the owner address bridge operations act for.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"gobridgetracker/types"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
)

const (
	HEADER_OWNER = "X-Owner-Address"
	QUERY_OWNER  = "owner"
)

// NormalizeAddress returns the checksummed form of an EVM address.
// Mixed case input must already carry a valid checksum.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidAddress, address)
	}
	addr := common.HexToAddress(address)
	if addr == (common.Address{}) {
		return "", fmt.Errorf("%w: zero address", types.ErrInvalidAddress)
	}
	checksummed := addr.Hex()

	raw := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	mixed := raw != strings.ToLower(raw) && raw != strings.ToUpper(raw)
	if mixed && "0x"+raw != checksummed {
		return "", fmt.Errorf("%w: bad checksum %s", types.ErrInvalidAddress, address)
	}
	if err := ethav.Validate(checksummed); err != nil {
		return "", fmt.Errorf("%w: %s", types.ErrInvalidAddress, err.Error())
	}
	return checksummed, nil
}

type Provider interface {
	CurrentOwner(ctx context.Context) (string, error)
}

// Static always answers with the configured address. Empty means no owner.
type Static string

func (s Static) CurrentOwner(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: no owner configured", types.ErrInvalidAddress)
	}
	return NormalizeAddress(string(s))
}

type ctxKey struct{}

func WithOwner(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, ctxKey{}, address)
}

// Request answers with the owner carried by the request context and falls back
// to Fallback when there is none.
type Request struct {
	Fallback Provider
}

func (p Request) CurrentOwner(ctx context.Context) (string, error) {
	if address, ok := ctx.Value(ctxKey{}).(string); ok && address != "" {
		return NormalizeAddress(address)
	}
	if p.Fallback == nil {
		return "", fmt.Errorf("%w: no owner in request", types.ErrInvalidAddress)
	}
	return p.Fallback.CurrentOwner(ctx)
}

// Middleware copies the owner from the X-Owner-Address header, or the owner
// query parameter, into the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(HEADER_OWNER)
		if owner == "" {
			owner = r.URL.Query().Get(QUERY_OWNER)
		}
		if owner != "" {
			r = r.WithContext(WithOwner(r.Context(), owner))
		}
		next.ServeHTTP(w, r)
	})
}
