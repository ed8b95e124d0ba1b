package domain

import "time"

// EventType identifies an outward trade notification.
type EventType string

const (
	EventTradeProposed  EventType = "trade.proposed"
	EventTradeAgreed    EventType = "trade.agreed"
	EventTradeConfirmed EventType = "trade.confirmed"
	EventTradeCompleted EventType = "trade.completed"
	EventTradeCancelled EventType = "trade.cancelled"
)

// Event is an outward-only trade notification. Events are fire-and-forget
// and are never read back by the lifecycle.
type Event struct {
	Type    EventType `json:"event"`
	TradeID uint64    `json:"trade_id"`
	Party   Party     `json:"party,omitempty"` // acting party for agreed/confirmed
	At      time.Time `json:"at"`
}
