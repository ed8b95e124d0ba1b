// Package registry defines the external asset registry contract consumed
// by the trade lifecycle, plus the implementations bundled with the
// service. A registry is the system of record for ownership and transfer
// authorization of one class of assets; miniswap never holds assets in
// custody and only acts through the operations below.
package registry

import (
	"context"
	"fmt"

	"github.com/efreitasn/miniswap/internal/domain"
)

// Registry is the per-asset-class collaborator contract.
type Registry interface {
	// OwnerOf resolves the current owner of the referenced asset.
	// Returns domain.ErrAssetNotFound for unresolvable references.
	OwnerOf(ctx context.Context, ref domain.AssetRef) (domain.Party, error)

	// IsTransferAuthorized reports whether operator may transfer the
	// referenced asset on behalf of owner.
	IsTransferAuthorized(ctx context.Context, ref domain.AssetRef, owner, operator domain.Party) (bool, error)

	// Transfer moves the referenced asset from one party to another.
	Transfer(ctx context.Context, ref domain.AssetRef, from, to domain.Party) error
}

// Set routes asset references to the registry named in the reference.
type Set map[string]Registry

// Resolve returns the registry responsible for ref. An unknown registry
// name makes the reference unresolvable, reported as asset_not_found.
func (s Set) Resolve(ref domain.AssetRef) (Registry, error) {
	r, ok := s[ref.Registry]
	if !ok {
		return nil, fmt.Errorf("%w: unknown registry %q", domain.ErrAssetNotFound, ref.Registry)
	}
	return r, nil
}
