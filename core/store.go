package core

import "context"

// Store groups the record stores a lending operation commits together.
type Store interface {
	LendingMarketStore
	ReserveStore
	ObligationStore
	OperationStore

	// Transaction runs fn against a store whose writes commit only if fn
	// returns nil.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}
