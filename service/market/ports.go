package market

import (
	"context"
)

// PendingWrite is a submitted ledger write whose outcome is not yet known.
type PendingWrite interface {
	// TxHash identifies the submitted write on the ledger.
	TxHash() string

	// AwaitConfirmation blocks until the write is accepted or rejected.
	AwaitConfirmation(ctx context.Context) error
}

// TokenRegistry is the read/write surface of the token registry contract.
type TokenRegistry interface {
	TotalSupply(ctx context.Context) (uint64, error)
	TokenByIndex(ctx context.Context, index uint64) (TokenID, error)
	OwnerOf(ctx context.Context, id TokenID) (Account, error)
	TokenURI(ctx context.Context, id TokenID) (string, error)
	Mint(ctx context.Context, to Account, cid string) (PendingWrite, error)
}

// Marketplace is the read/write surface of the marketplace registry contract.
type Marketplace interface {
	GetPrice(ctx context.Context, id TokenID) (Price, error)
	IsForSale(ctx context.Context, id TokenID) (bool, error)
	ListForSale(ctx context.Context, id TokenID, price Price) (PendingWrite, error)
	Delist(ctx context.Context, id TokenID) (PendingWrite, error)
	Buy(ctx context.Context, id TokenID, payment Price) (PendingWrite, error)
}

// AccountProvider hands out the account that signs writes.
type AccountProvider interface {
	RequestAccounts(ctx context.Context) (Account, error)
}

// MetadataResolver fetches the descriptor a token URI points at.
type MetadataResolver interface {
	Fetch(ctx context.Context, uri string) (*Metadata, error)
}

// Journal persists operation records. Save is an upsert keyed by record ID.
type Journal interface {
	Save(ctx context.Context, rec OperationRecord) error
}

// Notifier is told about operation lifecycle changes and published views.
// Implementations must not block for long; delivery failures are theirs to log.
type Notifier interface {
	OperationUpdated(ctx context.Context, rec OperationRecord)
	ViewPublished(ctx context.Context, update ViewUpdate)
}
