package domain

import "time"

// TradeSide is the leg of a binary market a trade holds.
type TradeSide string

const (
	SideYes TradeSide = "yes"
	SideNo  TradeSide = "no"
)

// TradeStatus tracks the lifecycle of a position.
//
// A trade is created open by the executor and reaches exactly one terminal
// state: won or lost via the resolver, stopped via the stop-loss engine, or
// cancelled via the order-reconciliation sweep. PnL is set if and only if the
// status is terminal.
type TradeStatus string

const (
	TradeStatusOpen      TradeStatus = "open"
	TradeStatusWon       TradeStatus = "won"
	TradeStatusLost      TradeStatus = "lost"
	TradeStatusStopped   TradeStatus = "stopped"
	TradeStatusCancelled TradeStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s TradeStatus) Terminal() bool {
	return s != TradeStatusOpen
}

// Trade is an open or settled position on a single contract.
type Trade struct {
	ID                 string
	Ticker             string
	Side               TradeSide
	EntryOdds          float64 // probability paid per contract at entry
	PositionSize       float64 // dollars committed
	ContractsPurchased int64
	Status             TradeStatus
	OrderID            string // exchange order ID, empty in dry-run
	NeedsReconcile     bool   // fill poll timed out; contracts estimated
	Confidence         float64
	Reasoning          string // oracle audit trail
	ExitOdds           *float64
	PnL                *float64
	ResolvedAt         *time.Time
	CreatedAt          time.Time
}

// HoldTime returns how long the position has been held as of now.
func (t Trade) HoldTime(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// TradeResult is the per-selection outcome of an executor run. A failed
// selection carries the error message and the contract it was for; it never
// aborts the remaining selections.
type TradeResult struct {
	Ticker  string
	Side    TradeSide
	Trade   *Trade // nil on failure
	Skipped bool   // forced mode satisfied by an earlier selection
	Err     string // empty on success
}
