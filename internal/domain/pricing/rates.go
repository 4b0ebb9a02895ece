// Package pricing implements the line pricing engines behind the billing
// orchestrator: a self-pay engine, an insurance engine with contract
// coverage and visit-limit redistribution, and a rate-table tax engine.
package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/hmis/billing-engine/internal/domain/billing"
)

// PriceQuote is a resolved unit price with its price-list identity.
type PriceQuote struct {
	Found                 bool
	UnitPrice             decimal.Decimal
	PriceListID           *int64
	PricePlanID           *int64
	PricePlanRangeSetID   *int64
	PricePlanRangeSetRank *int
	ProductType           string
}

// ContractTerms is the coverage profile of one insurance contract.
type ContractTerms struct {
	ContractID      int64
	CoveragePercent decimal.Decimal
	DiscountPercent decimal.Decimal
	// VisitLimit caps the company share across the whole visit; nil means
	// unlimited.
	VisitLimit *decimal.Decimal
	// ApprovalOverLimit requires payer approval for amounts past the
	// limit instead of rejecting them outright.
	ApprovalOverLimit bool
	ContractType      billing.ContractTypeInfo
}

// TaxRate is one applicable tax with its percentage.
type TaxRate struct {
	TaxID   int64
	TaxName string
	Percent decimal.Decimal
}

// RateSource resolves prices, contract terms and tax rates. Implementations
// are expected to cache per call; the engines issue repeated lookups.
type RateSource interface {
	// CashPrice resolves the self-pay unit price of a product.
	CashPrice(ctx context.Context, productID int64) (PriceQuote, error)

	// InsuredPrice resolves the contracted unit price of a product.
	InsuredPrice(ctx context.Context, contractID, productID int64) (PriceQuote, error)

	// ContractTerms resolves the coverage profile of a contract.
	ContractTerms(ctx context.Context, contractID int64) (*ContractTerms, error)

	// TaxRates lists the taxes applicable to a product.
	TaxRates(ctx context.Context, productID int64) ([]TaxRate, error)

	// PackageTerms resolves duration and balance of a package product.
	PackageTerms(ctx context.Context, productID int64) (*PackageTerms, error)
}

// PackageTerms describes a purchasable package product.
type PackageTerms struct {
	ProductID    int64
	DurationDays int
	Balance      decimal.Decimal
}
