package domain

// OrderState is the exchange-side lifecycle of a submitted order.
type OrderState string

const (
	OrderResting  OrderState = "resting"
	OrderExecuted OrderState = "executed"
	OrderCanceled OrderState = "canceled"
)

// ExchangeOrder is the normalized view of an order on the exchange.
type ExchangeOrder struct {
	ID        string
	Ticker    string
	Side      TradeSide
	State     OrderState
	Requested int64
	Filled    int64
	FillOdds  float64 // average price on the traded side, as probability
}

// Done reports whether the order has fully filled.
func (o ExchangeOrder) Done() bool {
	return o.State == OrderExecuted || (o.Requested > 0 && o.Filled >= o.Requested)
}
