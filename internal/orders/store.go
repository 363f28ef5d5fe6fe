package orders

import "context"

// Store is the persistence contract of the order workflow.
//
// PlaceOrder must commit the order, its items and the stock decrements as one
// unit and must re-check stock against locked rows; a shortfall found there is
// reported as an OUT_OF_STOCK *Error and nothing is written.
//
// UpdateStatus must load the order under a row lock, hand it to decide and
// persist the returned status in the same transaction. An error from decide
// aborts the transaction unchanged.
type Store interface {
	ProductsByIDs(ctx context.Context, ids []string) ([]Product, error)
	PlaceOrder(ctx context.Context, order Order, lines []ItemInput) (Order, error)
	UpdateStatus(ctx context.Context, orderID string, decide func(Order) (Status, error)) (Order, error)
	OrderByID(ctx context.Context, orderID string) (Order, error)
	OrdersByCustomer(ctx context.Context, customerID string) ([]Order, error)
	OrdersByCompany(ctx context.Context, companyID string) ([]Order, error)
	CompanyByOwner(ctx context.Context, userID string) (Company, error)
}

// EventSink receives order events after their transaction committed.
type EventSink interface {
	Emit(ctx context.Context, topic string, env Envelope) error
}
