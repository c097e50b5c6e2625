package domain

import "time"

// StopLossEvent records a forced liquidation. Rows are append-only and are
// written only by the stop-loss engine; each trade owns at most one.
type StopLossEvent struct {
	ID           string
	TradeID      string
	Ticker       string
	TriggerOdds  float64 // odds that breached the threshold
	ExitOdds     float64 // odds actually realized on liquidation
	RealizedLoss float64 // proceeds minus position size, normally negative
	Reason       string
	CreatedAt    time.Time
}

// StopLossConfig is the mutable singleton controlling the risk engine. The
// circuit breaker is the only code path that writes Enabled=false; re-enabling
// is an operator action. It is read fresh at the start of every sweep and
// never cached across invocations.
type StopLossConfig struct {
	Enabled          bool
	TriggerThreshold float64 // liquidate when current odds fall below this
	MinHoldTimeHours float64 // never trigger before this much hold time
	MaxSlippagePct   float64 // abort liquidation when slippage exceeds this
	UpdatedAt        time.Time
}
