package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventBootstrap       EventKind = "bootstrap"
	EventOpen            EventKind = "open"
	EventMint            EventKind = "mint"
	EventBurn            EventKind = "burn"
	EventCollateralize   EventKind = "collateralize"
	EventUncollateralize EventKind = "uncollateralize"
	EventLiquidate       EventKind = "liquidate"
	EventWoke            EventKind = "woke"
	EventChoke           EventKind = "choke"
	EventFlashStart      EventKind = "flash_start"
	EventFlashEnd        EventKind = "flash_end"
	EventOracle          EventKind = "oracle"
	EventInject          EventKind = "inject"
	EventHalt            EventKind = "halt"
	EventParam           EventKind = "param"
)

// Event is one journal entry of a committed operation.
// Position is uuid.Nil for ledger-wide events.
type Event struct {
	ID       uuid.UUID       `json:"id"`
	TxnID    uuid.UUID       `json:"txn_id"`
	Kind     EventKind       `json:"kind"`
	Position uuid.UUID       `json:"position"`
	Asset    Asset           `json:"asset,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Shares   decimal.Decimal `json:"shares"`
	Detail   string          `json:"detail,omitempty"`
	At       time.Time       `json:"at"`
}
