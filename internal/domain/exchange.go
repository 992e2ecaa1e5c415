package domain

import "context"

// Exchange is the futures exchange collaborator for one set of credentials.
// Every method is a blocking network call; callers bound them with a
// context deadline.
type Exchange interface {
	GetBalance(ctx context.Context) (availableMargin float64, err error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetPosition(ctx context.Context, symbol string, side Side) (PositionSnapshot, error)
	SetLeverage(ctx context.Context, symbol string, side Side, leverage int) error
	PlaceMarketOrder(ctx context.Context, intent OrderIntent) (OrderAck, error)
	PlaceLimitOrder(ctx context.Context, intent OrderIntent) (OrderAck, error)
	PlaceStopOrder(ctx context.Context, intent OrderIntent) (OrderAck, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// ExchangeFactory builds an Exchange bound to the credentials carried by a
// webhook event.
type ExchangeFactory interface {
	ForCredentials(creds Credentials) (Exchange, error)
}

// ExchangeFactoryFunc adapts a function to ExchangeFactory.
type ExchangeFactoryFunc func(creds Credentials) (Exchange, error)

// ForCredentials calls f.
func (f ExchangeFactoryFunc) ForCredentials(creds Credentials) (Exchange, error) {
	return f(creds)
}
