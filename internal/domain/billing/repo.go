package billing

import "context"

// TransactionStore is the persistence surface the orchestrator and the
// pricing engines share. Lookups return nil, nil for an absent row.
type TransactionStore interface {
	// ByVisit loads the visit's transactions with details, tax rows and
	// package purchase records, including soft-deleted ones.
	ByVisit(ctx context.Context, visitID int64) ([]*Transaction, error)

	// ByIDNotDeleted loads one live transaction with its detail.
	ByIDNotDeleted(ctx context.Context, id int64) (*Transaction, error)

	// ByIDWithDetail loads one transaction with detail and tax rows
	// regardless of deletion state.
	ByIDWithDetail(ctx context.Context, id int64) (*Transaction, error)

	// ByServiceRefs loads the live transactions matching the given visit
	// service ids, with details.
	ByServiceRefs(ctx context.Context, refs []int64) ([]*Transaction, error)

	// Insert writes a new transaction, assigning its identity and, when
	// unset, its visit service ref.
	Insert(ctx context.Context, tx *Transaction) error

	// SaveAll writes back the given transactions and their details.
	SaveAll(ctx context.Context, txs []*Transaction) error

	// ReplaceTaxLines soft-deletes the transaction's tax rows and inserts
	// the given ones.
	ReplaceTaxLines(ctx context.Context, transactionID int64, taxes []*TaxLine) error

	// ReplaceMasterTaxLines does the same for the visit-level rows.
	ReplaceMasterTaxLines(ctx context.Context, visitID int64, taxes []*TaxLine) error

	// SoftDelete marks the given transactions deleted.
	SoftDelete(ctx context.Context, ids []int64) error
}
