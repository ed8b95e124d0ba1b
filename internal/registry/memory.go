package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/efreitasn/miniswap/internal/domain"
)

// Memory is a mutex-guarded in-memory asset registry. It backs the
// service's dev mode and the test suites. Approvals are per-asset: the
// owner grants a single operator at a time, and a completed transfer
// clears the grant.
type Memory struct {
	mu        sync.RWMutex
	owners    map[string]domain.Party // asset_id → owner
	approvals map[string]domain.Party // asset_id → approved operator

	// transferHook, when set, runs before a transfer is applied and can
	// veto it. Used to simulate registry-side transfer failures.
	transferHook func(ref domain.AssetRef, from, to domain.Party) error
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		owners:    make(map[string]domain.Party),
		approvals: make(map[string]domain.Party),
	}
}

// Mint records a new asset owned by owner. Re-minting an existing asset
// id overwrites its owner; approvals on it are cleared.
func (m *Memory) Mint(assetID string, owner domain.Party) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.owners[assetID] = owner
	delete(m.approvals, assetID)
}

// Approve grants operator the right to transfer the asset.
func (m *Memory) Approve(assetID string, operator domain.Party) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.approvals[assetID] = operator
}

// Revoke removes any transfer approval on the asset.
func (m *Memory) Revoke(assetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.approvals, assetID)
}

// SetOwner forcibly reassigns ownership, bypassing approvals. This models
// an out-of-band ownership change happening directly on the registry.
func (m *Memory) SetOwner(assetID string, owner domain.Party) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.owners[assetID] = owner
	delete(m.approvals, assetID)
}

// SetTransferHook installs a hook consulted before every transfer.
// A nil hook restores normal behavior.
func (m *Memory) SetTransferHook(hook func(ref domain.AssetRef, from, to domain.Party) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transferHook = hook
}

// OwnerOf resolves the current owner of the asset.
func (m *Memory) OwnerOf(_ context.Context, ref domain.AssetRef) (domain.Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owner, ok := m.owners[ref.AssetID]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrAssetNotFound, ref)
	}
	return owner, nil
}

// IsTransferAuthorized reports whether operator holds a transfer grant
// from the asset's current owner.
func (m *Memory) IsTransferAuthorized(_ context.Context, ref domain.AssetRef, owner, operator domain.Party) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current, ok := m.owners[ref.AssetID]
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, ref)
	}
	if current != owner {
		return false, nil
	}
	return m.approvals[ref.AssetID] == operator, nil
}

// Transfer moves the asset from one party to another. The asset must be
// currently owned by from. A completed transfer clears the approval, as
// a real registry would.
func (m *Memory) Transfer(_ context.Context, ref domain.AssetRef, from, to domain.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.owners[ref.AssetID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAssetNotFound, ref)
	}
	if current != from {
		return fmt.Errorf("transfer of %s: %s is not the owner", ref, from)
	}
	if m.transferHook != nil {
		if err := m.transferHook(ref, from, to); err != nil {
			return err
		}
	}

	m.owners[ref.AssetID] = to
	delete(m.approvals, ref.AssetID)
	return nil
}
