package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CacheSeed is the identifier set a pricing engine preloads before any line
// is priced. IDs are collected from the request lines and the visit's
// existing transactions so a single round of lookups covers the whole call.
type CacheSeed struct {
	VisitID          int64
	ContractIDs      []int64
	InsuranceCardIDs []int64
	CoverLetterIDs   []int64
	ContractorIDs    []int64
	EpisodeType      int
}

// PriceOptions tunes a single PriceLine call.
type PriceOptions struct {
	// Persist records the priced line into the working set as a pending
	// entity rather than a throwaway.
	Persist bool
	// ForReInquiry prices against the already-loaded visit state instead
	// of treating the line as brand new.
	ForReInquiry bool
	// FullSplit forces a complete covered/not-covered split even when the
	// line would otherwise be priced as fully covered.
	FullSplit bool
}

// PricedLine is the outcome of pricing one request line.
type PricedLine struct {
	Valid       bool
	StatusCode  StatusCode
	Message     string
	Transaction *Transaction
}

// CashEquivalent is the self-pay price of a service, used when an exceeded
// coverage limit converts an insured line to patient liability.
type CashEquivalent struct {
	Price                 decimal.Decimal
	PriceListID           *int64
	PricePlanID           *int64
	PricePlanRangeSetID   *int64
	PricePlanRangeSetRank *int
	// TreatPatient is true when a usable self-pay price exists; false
	// keeps the line at its contracted pre-discount price.
	TreatPatient bool
}

// LinePricingEngine prices lines for one financial status and owns the
// visit working set for the duration of a call.
type LinePricingEngine interface {
	// Initialize binds the engine to the visit's working set and warms its
	// lookup caches. Must be called exactly once before any other method.
	// Engines of one call share the working set, so lines priced by one
	// engine are visible to the other.
	Initialize(ctx context.Context, seed CacheSeed, ws *WorkingSet) error

	// PriceLine prices one request line against the working set.
	PriceLine(ctx context.Context, line *RequestLine, opts PriceOptions) (*PricedLine, error)

	// WorkingSet exposes the engine's current transaction set.
	WorkingSet() *WorkingSet

	// RedistributeShares reprices the company/patient split of the given
	// transactions against the remaining coverage limit. Returns true when
	// the limit was exceeded while distributing.
	RedistributeShares(ctx context.Context, txs []*Transaction) (bool, error)

	// AddTransaction and UpdateTransaction stage an entity for the bulk
	// flush at commit time.
	AddTransaction(tx *Transaction)
	UpdateTransaction(tx *Transaction)

	// SaveTransaction assigns identity to a staged transient transaction.
	SaveTransaction(ctx context.Context, tx *Transaction) error

	// Flush writes every staged add and update in one batch.
	Flush(ctx context.Context) error

	// CancelTransactions soft-deletes the given transactions and reprices
	// whatever their removal frees up.
	CancelTransactions(ctx context.Context, ids []int64, visitID int64) ([]LineResult, error)

	// PackageStartDate and PackageExpiryDate expose the dates of the
	// package purchase validated during the last PriceLine call.
	PackageStartDate() *time.Time
	PackageExpiryDate() *time.Time

	// ContractType reports the contract-type identity for the visit, or a
	// zero value for engines without contracts.
	ContractType() ContractTypeInfo

	// LogFinalResponse emits the per-line response trace.
	LogFinalResponse(res LineResult)
}

// InsuredPricingEngine extends the line engine with insured-only lookups.
type InsuredPricingEngine interface {
	LinePricingEngine

	// CashEquivalentPrice resolves the self-pay price for the service so
	// an over-limit line can be shifted to the patient.
	CashEquivalentPrice(ctx context.Context, ref ServiceRef) (CashEquivalent, error)

	// ValidatePackagePurchase confirms a package purchase record exists
	// and is usable for the visit.
	ValidatePackagePurchase(ctx context.Context, packageID int64, visitID int64) (*PackagePurchase, error)
}

// EngineFactory builds a fresh line pricing engine per call. Engines carry
// the visit working set and caches, so they are never shared across calls.
type EngineFactory interface {
	Cash() LinePricingEngine
	Insured() InsuredPricingEngine
}

// TaxEngine computes tax rows for transactions.
type TaxEngine interface {
	// ComputeTaxes builds the tax rows for one transaction from its
	// pre-rounding amounts.
	ComputeTaxes(ctx context.Context, tx *Transaction) ([]*TaxLine, error)

	// ComputeMasterTaxes builds the visit-level tax rows.
	ComputeMasterTaxes(ctx context.Context, visitID int64) ([]*TaxLine, error)
}

// ConfigurationProvider resolves the active billing configuration.
type ConfigurationProvider interface {
	LatestActive(ctx context.Context) (*Configuration, error)
}

// PackageCatalog answers product classification questions.
type PackageCatalog interface {
	IsPackageProduct(ctx context.Context, productID int64) (bool, error)
}

// UnitOfWork runs a function inside one database transaction with the
// configured timeout. The inner error aborts the transaction and is
// returned as-is.
type UnitOfWork interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}
