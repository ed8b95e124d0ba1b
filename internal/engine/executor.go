package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/efreitasn/miniswap/internal/domain"
	"github.com/efreitasn/miniswap/internal/metrics"
)

// execute performs the two-sided transfer for a fully confirmed trade.
// The two assets live in independent registries, so the swap cannot be
// a single atomic step: leg 1 moves the from-side asset, leg 2 moves
// the to-side asset, and a leg-2 failure is compensated by reversing
// leg 1. A failed reversal leaves the registries inconsistent with the
// ledger and is surfaced as ErrSwapInconsistent, never absorbed.
func (l *Lifecycle) execute(ctx context.Context, t *domain.Trade) error {
	start := time.Now()
	defer func() {
		metrics.SwapDuration.Observe(time.Since(start).Seconds())
	}()

	fromReg, err := l.registries.Resolve(t.FromAsset)
	if err != nil {
		return err
	}
	toReg, err := l.registries.Resolve(t.ToAsset)
	if err != nil {
		return err
	}

	// Re-verify ownership and approval for both sides. Confirm checked
	// these already, but each confirmation only checked its own side's
	// approval, and registry state can move between sub-calls.
	for _, side := range []struct {
		ref   domain.AssetRef
		owner domain.Party
	}{
		{t.FromAsset, t.FromParty},
		{t.ToAsset, t.ToParty},
	} {
		if err := l.verifyOwner(ctx, side.ref, side.owner); err != nil {
			return fmt.Errorf("executing trade %d: %w", t.ID, err)
		}
		authorized, err := l.isAuthorized(ctx, side.ref, side.owner)
		if err != nil {
			return fmt.Errorf("executing trade %d: %w", t.ID, err)
		}
		if !authorized {
			return fmt.Errorf("%w: executing trade %d: %s has not approved transfer of %s",
				domain.ErrApprovalMissing, t.ID, side.owner, side.ref)
		}
	}

	// Leg 1. A failure here aborts cleanly: nothing has moved yet.
	if err := fromReg.Transfer(ctx, t.FromAsset, t.FromParty, t.ToParty); err != nil {
		return fmt.Errorf("trade %d: transfer of %s failed: %w", t.ID, t.FromAsset, err)
	}

	// Leg 2. A failure here requires reversing leg 1.
	if err := toReg.Transfer(ctx, t.ToAsset, t.ToParty, t.FromParty); err != nil {
		if revErr := fromReg.Transfer(ctx, t.FromAsset, t.ToParty, t.FromParty); revErr != nil {
			metrics.SwapInconsistencies.Inc()
			l.log.Error("swap reversal failed, registries inconsistent with ledger",
				zap.Uint64("trade_id", t.ID),
				zap.String("stranded_asset", t.FromAsset.String()),
				zap.NamedError("transfer_err", err),
				zap.NamedError("reversal_err", revErr),
			)
			return fmt.Errorf("%w: trade %d: transfer of %s failed (%v) and reversal of %s failed (%v)",
				domain.ErrSwapInconsistent, t.ID, t.ToAsset, err, t.FromAsset, revErr)
		}
		metrics.SwapCompensations.Inc()
		l.log.Warn("second transfer failed, first leg reversed",
			zap.Uint64("trade_id", t.ID),
			zap.String("asset", t.ToAsset.String()),
			zap.Error(err),
		)
		return fmt.Errorf("trade %d: transfer of %s failed, %s returned to %s: %w",
			t.ID, t.ToAsset, t.FromAsset, t.FromParty, err)
	}

	return nil
}
