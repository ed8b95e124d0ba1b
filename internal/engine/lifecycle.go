// Package engine implements the trade lifecycle state machine and the
// atomic exchange executor. Operations run to completion one at a time
// over copies of ledger records: a failed operation never writes its
// copy back, so every failure is a full rollback — except the two
// auto-cancellation paths (expiration, ownership change at confirm
// time), which deliberately persist the cancelled marker alongside the
// failure.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/efreitasn/miniswap/internal/domain"
	"github.com/efreitasn/miniswap/internal/metrics"
	"github.com/efreitasn/miniswap/internal/registry"
	"github.com/efreitasn/miniswap/internal/store"
)

// EventSink receives outward trade notifications. Implementations must
// not block; delivery is fire-and-forget.
type EventSink interface {
	Publish(ev domain.Event)
}

// Lifecycle orchestrates propose/agree/confirm/cancel transitions over
// the trade ledger, consulting the asset registries for ownership and
// transfer authorization.
//
// mu serializes the mutating operations end to end: each one is a
// read-modify-write over a ledger copy, and two interleaved callers
// would otherwise commit over each other's flags. Reads (Get, ListOpen)
// go straight to the ledger.
type Lifecycle struct {
	mu         sync.Mutex
	ledger     *store.Ledger
	registries registry.Set
	operator   domain.Party
	timeout    time.Duration
	events     EventSink
	log        *zap.Logger
	clock      func() time.Time
}

// NewLifecycle creates a lifecycle over the given ledger and registries.
// operator is the principal that transfer approvals must be granted to.
// events may be nil to disable notifications (tests).
func NewLifecycle(
	ledger *store.Ledger,
	registries registry.Set,
	operator domain.Party,
	timeout time.Duration,
	events EventSink,
	log *zap.Logger,
) *Lifecycle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lifecycle{
		ledger:     ledger,
		registries: registries,
		operator:   operator,
		timeout:    timeout,
		events:     events,
		log:        log,
		clock:      time.Now,
	}
}

// WithClock overrides the lifecycle clock for deterministic tests.
func (l *Lifecycle) WithClock(clock func() time.Time) {
	if clock != nil {
		l.clock = clock
	}
}

// Propose creates a new trade between caller and to, with caller as the
// proposing (from) side. Assets remain unbound until both parties agree.
func (l *Lifecycle) Propose(caller, to domain.Party) (domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller == to {
		return domain.Trade{}, fmt.Errorf("%w: %s cannot trade with itself", domain.ErrSelfTrade, caller)
	}

	id, err := l.ledger.Create(domain.Trade{
		FromParty: caller,
		ToParty:   to,
		Status:    domain.TradeStatusProposed,
		CreatedAt: l.clock().UTC(),
	})
	if err != nil {
		return domain.Trade{}, err
	}

	metrics.TradesProposed.Inc()
	l.emit(domain.EventTradeProposed, id, "")
	l.log.Info("trade proposed",
		zap.Uint64("trade_id", id),
		zap.String("from_party", string(caller)),
		zap.String("to_party", string(to)),
	)
	return l.ledger.Get(id)
}

// Agree records caller's agreement to trade id. Both asset references
// name the trade's sides positionally (from-side asset, to-side asset);
// each caller verifies ownership of both, but only the caller's own
// side is recorded from its submission. When the second agreement lands
// the pair is bound atomically and the trade transitions to agreed.
func (l *Lifecycle) Agree(ctx context.Context, id uint64, caller domain.Party, fromRef, toRef domain.AssetRef) (domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.ledger.Get(id)
	if err != nil {
		return domain.Trade{}, err
	}
	if !t.IsParty(caller) {
		return domain.Trade{}, fmt.Errorf("%w: %s is not a party to trade %d", domain.ErrUnauthorized, caller, id)
	}
	if err := l.expirationGuard(t); err != nil {
		return domain.Trade{}, err
	}
	if t.Status != domain.TradeStatusProposed {
		return domain.Trade{}, fmt.Errorf("%w: trade %d is %s, agreement requires %s",
			domain.ErrInvalidState, id, t.Status, domain.TradeStatusProposed)
	}
	if t.Agreed(caller) {
		return domain.Trade{}, fmt.Errorf("%w: %s already agreed to trade %d", domain.ErrAlreadyDone, caller, id)
	}

	if err := l.verifyOwner(ctx, fromRef, t.FromParty); err != nil {
		return domain.Trade{}, err
	}
	if err := l.verifyOwner(ctx, toRef, t.ToParty); err != nil {
		return domain.Trade{}, err
	}

	if caller == t.FromParty {
		t.FromAgreed = true
		t.PendingFromAsset = fromRef
	} else {
		t.ToAgreed = true
		t.PendingToAsset = toRef
	}
	if t.FromAgreed && t.ToAgreed {
		t.FromAsset = t.PendingFromAsset
		t.ToAsset = t.PendingToAsset
		t.Status = domain.TradeStatusAgreed
	}
	if err := l.ledger.Update(t); err != nil {
		return domain.Trade{}, err
	}

	if t.Status == domain.TradeStatusAgreed {
		metrics.TradesAgreed.Inc()
	}
	l.emit(domain.EventTradeAgreed, id, caller)
	l.log.Info("trade agreement recorded",
		zap.Uint64("trade_id", id),
		zap.String("party", string(caller)),
		zap.String("status", string(t.Status)),
	)
	return t, nil
}

// Confirm records caller's confirmation of trade id after re-verifying
// that both bound assets are still owned by the parties they were bound
// to and that the caller's asset carries a transfer approval for the
// operator. The second confirmation triggers the atomic exchange inside
// the same operation; an executor failure rolls the confirmation back,
// leaving the trade agreed.
func (l *Lifecycle) Confirm(ctx context.Context, id uint64, caller domain.Party) (domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.ledger.Get(id)
	if err != nil {
		return domain.Trade{}, err
	}
	if !t.IsParty(caller) {
		return domain.Trade{}, fmt.Errorf("%w: %s is not a party to trade %d", domain.ErrUnauthorized, caller, id)
	}
	if err := l.expirationGuard(t); err != nil {
		return domain.Trade{}, err
	}
	if t.Status != domain.TradeStatusAgreed {
		return domain.Trade{}, fmt.Errorf("%w: trade %d is %s, confirmation requires %s",
			domain.ErrInvalidState, id, t.Status, domain.TradeStatusAgreed)
	}

	// Ownership may have changed on the registries since agreement.
	// A change poisons the trade: the cancelled marker persists even
	// though this call fails.
	for _, side := range []struct {
		ref   domain.AssetRef
		owner domain.Party
	}{
		{t.FromAsset, t.FromParty},
		{t.ToAsset, t.ToParty},
	} {
		current, err := l.ownerOf(ctx, side.ref)
		if err != nil {
			return domain.Trade{}, err
		}
		if current != side.owner {
			return domain.Trade{}, l.cancelForOwnershipChange(t, side.ref, side.owner, current)
		}
	}

	callerAsset := t.BoundAsset(caller)
	authorized, err := l.isAuthorized(ctx, callerAsset, caller)
	if err != nil {
		return domain.Trade{}, err
	}
	if !authorized {
		return domain.Trade{}, fmt.Errorf("%w: %s has not approved transfer of %s to %s",
			domain.ErrApprovalMissing, caller, callerAsset, l.operator)
	}
	if t.Confirmed(caller) {
		return domain.Trade{}, fmt.Errorf("%w: %s already confirmed trade %d", domain.ErrAlreadyDone, caller, id)
	}

	if caller == t.FromParty {
		t.FromConfirmed = true
	} else {
		t.ToConfirmed = true
	}

	if !(t.FromConfirmed && t.ToConfirmed) {
		if err := l.ledger.Update(t); err != nil {
			return domain.Trade{}, err
		}
		l.emit(domain.EventTradeConfirmed, id, caller)
		l.log.Info("trade confirmation recorded",
			zap.Uint64("trade_id", id),
			zap.String("party", string(caller)),
			zap.String("awaiting", string(t.Counterpart(caller))),
		)
		return t, nil
	}

	// Both sides confirmed: transition and execute as one unit. The
	// status change is only committed once the swap has completed.
	t.Status = domain.TradeStatusConfirmed
	if err := l.execute(ctx, &t); err != nil {
		return domain.Trade{}, err
	}
	if err := l.ledger.Update(t); err != nil {
		return domain.Trade{}, err
	}

	metrics.TradesCompleted.Inc()
	l.emit(domain.EventTradeConfirmed, id, caller)
	l.emit(domain.EventTradeCompleted, id, "")
	l.log.Info("trade completed",
		zap.Uint64("trade_id", id),
		zap.String("from_asset", t.FromAsset.String()),
		zap.String("to_asset", t.ToAsset.String()),
	)
	return t, nil
}

// Cancel terminates trade id at the request of either party. Allowed
// from proposed and agreed only; no expiration guard runs since
// expiration would force the same terminal status anyway.
func (l *Lifecycle) Cancel(id uint64, caller domain.Party) (domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.ledger.Get(id)
	if err != nil {
		return domain.Trade{}, err
	}
	if !t.IsParty(caller) {
		return domain.Trade{}, fmt.Errorf("%w: %s is not a party to trade %d", domain.ErrUnauthorized, caller, id)
	}
	if t.Status != domain.TradeStatusProposed && t.Status != domain.TradeStatusAgreed {
		return domain.Trade{}, fmt.Errorf("%w: trade %d is %s, cancellation requires %s or %s",
			domain.ErrInvalidState, id, t.Status, domain.TradeStatusProposed, domain.TradeStatusAgreed)
	}

	t.Status = domain.TradeStatusCancelled
	if err := l.ledger.Update(t); err != nil {
		return domain.Trade{}, err
	}

	metrics.TradesCancelled.WithLabelValues(metrics.ReasonParty).Inc()
	l.emit(domain.EventTradeCancelled, id, caller)
	l.log.Info("trade cancelled",
		zap.Uint64("trade_id", id),
		zap.String("party", string(caller)),
	)
	return t, nil
}

// Get returns the trade without any state change.
func (l *Lifecycle) Get(id uint64) (domain.Trade, error) {
	return l.ledger.Get(id)
}

// ListOpen returns non-terminal trades ordered by expiration deadline.
func (l *Lifecycle) ListOpen() []domain.Trade {
	return l.ledger.ListOpen()
}

// Timeout returns the configured trade timeout.
func (l *Lifecycle) Timeout() time.Duration {
	return l.timeout
}

// expirationGuard force-cancels the trade and fails the enclosing
// operation when its deadline has passed. Expiration is evaluated only
// here, on access — there is no background timer.
func (l *Lifecycle) expirationGuard(t domain.Trade) error {
	if t.Status != domain.TradeStatusProposed && t.Status != domain.TradeStatusAgreed {
		return nil
	}
	if !l.clock().After(t.Deadline(l.timeout)) {
		return nil
	}

	t.Status = domain.TradeStatusCancelled
	if err := l.ledger.Update(t); err != nil {
		return err
	}
	metrics.TradesCancelled.WithLabelValues(metrics.ReasonExpired).Inc()
	l.emit(domain.EventTradeCancelled, t.ID, "")
	l.log.Info("trade expired",
		zap.Uint64("trade_id", t.ID),
		zap.Time("deadline", t.Deadline(l.timeout)),
	)
	return fmt.Errorf("%w: trade %d passed its deadline", domain.ErrExpired, t.ID)
}

// cancelForOwnershipChange persists the cancelled marker after the
// registry reports an owner other than the one bound at agreement time,
// and returns the failure for the enclosing confirm call.
func (l *Lifecycle) cancelForOwnershipChange(t domain.Trade, ref domain.AssetRef, bound, current domain.Party) error {
	t.Status = domain.TradeStatusCancelled
	if err := l.ledger.Update(t); err != nil {
		return err
	}
	metrics.TradesCancelled.WithLabelValues(metrics.ReasonOwnership).Inc()
	l.emit(domain.EventTradeCancelled, t.ID, "")
	l.log.Warn("trade cancelled: bound asset changed hands",
		zap.Uint64("trade_id", t.ID),
		zap.String("asset", ref.String()),
		zap.String("bound_owner", string(bound)),
		zap.String("current_owner", string(current)),
	)
	return fmt.Errorf("%w: %s is now owned by %s, was bound to %s (trade %d cancelled)",
		domain.ErrOwnershipMismatch, ref, current, bound, t.ID)
}

// verifyOwner fails unless the registry reports want as the current
// owner of ref.
func (l *Lifecycle) verifyOwner(ctx context.Context, ref domain.AssetRef, want domain.Party) error {
	owner, err := l.ownerOf(ctx, ref)
	if err != nil {
		return err
	}
	if owner != want {
		return fmt.Errorf("%w: %s is owned by %s, expected %s", domain.ErrOwnershipMismatch, ref, owner, want)
	}
	return nil
}

func (l *Lifecycle) ownerOf(ctx context.Context, ref domain.AssetRef) (domain.Party, error) {
	reg, err := l.registries.Resolve(ref)
	if err != nil {
		return "", err
	}
	return reg.OwnerOf(ctx, ref)
}

func (l *Lifecycle) isAuthorized(ctx context.Context, ref domain.AssetRef, owner domain.Party) (bool, error) {
	reg, err := l.registries.Resolve(ref)
	if err != nil {
		return false, err
	}
	return reg.IsTransferAuthorized(ctx, ref, owner, l.operator)
}

func (l *Lifecycle) emit(typ domain.EventType, id uint64, party domain.Party) {
	if l.events == nil {
		return
	}
	l.events.Publish(domain.Event{
		Type:    typ,
		TradeID: id,
		Party:   party,
		At:      l.clock().UTC(),
	})
}
