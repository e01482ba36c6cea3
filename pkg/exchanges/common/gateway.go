package common

import "context"

// Gateway abstracts the signed futures venue the executor trades on.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelAllOpenOrders(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SymbolPrecision(ctx context.Context, symbol string) (SymbolPrecision, error)
}
