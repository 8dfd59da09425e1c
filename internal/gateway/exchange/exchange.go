// Package exchange defines the venue contract the engine trades through. One
// Gateway is bound to one identity's account.
package exchange

import "context"

type Gateway interface {
	// PlaceOrder submits a single order. A venue rejection is returned as
	// *RejectionError.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	CancelOrder(ctx context.Context, symbol string, orderID int64) error

	// CloseAtMarket flattens the position on symbol. ErrNoPosition is returned
	// when there is nothing to close.
	CloseAtMarket(ctx context.Context, symbol string) (CloseResult, error)

	AccountState(ctx context.Context) (AccountState, error)

	OpenOrders(ctx context.Context) ([]OpenOrder, error)

	// Fills returns the account's recent fills, oldest first.
	Fills(ctx context.Context) ([]Fill, error)

	// InstrumentMetadata maps coin to size decimals.
	InstrumentMetadata(ctx context.Context) (map[string]int, error)
}
