package domain

import "context"

// Selection is one trade the decision oracle wants placed. Allocation is in
// dollars within the configured band; Confidence is in [0,1].
type Selection struct {
	Ticker      string
	Allocation  float64
	Confidence  float64
	Reasoning   string
	RiskFactors []string
}

// Rejection explains why the oracle passed on a candidate.
type Rejection struct {
	Ticker string
	Reason string
}

// OracleInput is everything the decision oracle sees for one trading cycle.
type OracleInput struct {
	Candidates  []Contract
	History     []Trade // most recent trades, newest first
	Bankroll    float64
	DailyBudget float64
}

// OracleDecision is the oracle's answer. Zero selections is a valid,
// non-error outcome meaning "nothing worth trading today".
type OracleDecision struct {
	Selections []Selection // at most MaxSelections
	Rejections []Rejection
}

// MaxSelections caps how many trades one oracle decision may request.
const MaxSelections = 3

// DecisionOracle is the external reasoning collaborator. The pipeline treats
// it as an opaque function from candidates and history to sized selections.
type DecisionOracle interface {
	Decide(ctx context.Context, input OracleInput) (OracleDecision, error)
}
