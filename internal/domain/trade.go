package domain

import "time"

// Party identifies one of the two principals bound to a trade.
// The format is registry-dependent: an opaque account name for the
// in-memory registry, a hex address for on-chain registries.
type Party string

// AssetRef names a specific asset as a (registry, identifier) pair.
// The zero value means "not bound yet".
type AssetRef struct {
	Registry string
	AssetID  string
}

// IsZero reports whether the reference is unset.
func (r AssetRef) IsZero() bool {
	return r.Registry == "" && r.AssetID == ""
}

func (r AssetRef) String() string {
	return r.Registry + "/" + r.AssetID
}

// TradeStatus represents the lifecycle state of a trade.
type TradeStatus string

const (
	TradeStatusProposed  TradeStatus = "proposed"
	TradeStatusAgreed    TradeStatus = "agreed"
	TradeStatusConfirmed TradeStatus = "confirmed"
	TradeStatusCancelled TradeStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
// Confirmed is terminal: execution happens inside the confirming
// operation and the status is kept as the completion marker.
func (s TradeStatus) Terminal() bool {
	return s == TradeStatusConfirmed || s == TradeStatusCancelled
}

// Trade is a two-party asset exchange record. Asset fields stay unbound
// until both parties have agreed: each side submits its own asset at
// agreement time and the pair is bound atomically when the second
// agreement lands.
type Trade struct {
	ID        uint64
	FromParty Party
	ToParty   Party

	// Bound only once Status reaches agreed.
	FromAsset AssetRef
	ToAsset   AssetRef

	// Self-declared asset per side, held until both have agreed.
	PendingFromAsset AssetRef
	PendingToAsset   AssetRef

	// Monotonic false→true, never reset.
	FromAgreed    bool
	ToAgreed      bool
	FromConfirmed bool
	ToConfirmed   bool

	CreatedAt time.Time
	Status    TradeStatus
}

// IsParty reports whether p is one of the trade's two declared parties.
func (t *Trade) IsParty(p Party) bool {
	return p == t.FromParty || p == t.ToParty
}

// Counterpart returns the other declared party. The caller must already
// have checked IsParty.
func (t *Trade) Counterpart(p Party) Party {
	if p == t.FromParty {
		return t.ToParty
	}
	return t.FromParty
}

// Agreed reports whether party p has already agreed.
func (t *Trade) Agreed(p Party) bool {
	if p == t.FromParty {
		return t.FromAgreed
	}
	return t.ToAgreed
}

// Confirmed reports whether party p has already confirmed.
func (t *Trade) Confirmed(p Party) bool {
	if p == t.FromParty {
		return t.FromConfirmed
	}
	return t.ToConfirmed
}

// BoundAsset returns the bound asset belonging to party p.
func (t *Trade) BoundAsset(p Party) AssetRef {
	if p == t.FromParty {
		return t.FromAsset
	}
	return t.ToAsset
}

// Deadline returns the instant after which the trade is eligible for
// forced cancellation by the expiration guard.
func (t *Trade) Deadline(timeout time.Duration) time.Time {
	return t.CreatedAt.Add(timeout)
}
