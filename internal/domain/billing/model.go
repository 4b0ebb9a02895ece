package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// FinancialStatus selects which line pricing engine prices a line.
type FinancialStatus int

const (
	FinancialStatusCash    FinancialStatus = 1
	FinancialStatusInsured FinancialStatus = 2
)

func (f FinancialStatus) Valid() bool {
	return f == FinancialStatusCash || f == FinancialStatusInsured
}

// ApprovalStatus is the payer's decision on a line that needed approval.
// A nil ApprovalStatus means undecided.
type ApprovalStatus int

const (
	ApprovalApproved ApprovalStatus = 1
	ApprovalRejected ApprovalStatus = 2
)

// MarkExceedPolicy controls which lines get marked when a coverage limit is
// exceeded within a visit.
type MarkExceedPolicy int

const (
	// MarkAllServices converts every undecided, unclaimed line of the visit
	// to full patient liability.
	MarkAllServices MarkExceedPolicy = 1
	// MarkExceedingOnly leaves lines other than the exceeding one alone.
	MarkExceedingOnly MarkExceedPolicy = 2
)

// NeedApproval flag values on the transaction detail.
const (
	NeedApprovalNone     = 0
	NeedApprovalRequired = 1
)

// Transaction is one priced billable line of a visit. A non-positive ID
// marks a transient line that exists only for the duration of a dry-run
// inquiry and is never flushed.
type Transaction struct {
	ID              int64           `json:"id"`
	VisitID         int64           `json:"visit_id"`
	ServiceRef      ServiceRef      `json:"-"`
	ProductID       int64           `json:"product_id"`
	ProductType     string          `json:"product_type,omitempty"`
	FinancialStatus FinancialStatus `json:"financial_status"`

	Price           decimal.Decimal  `json:"price"`
	PatientShare    decimal.Decimal  `json:"patient_share"`
	CompanyShare    decimal.Decimal  `json:"company_share"`
	PackageShare    *decimal.Decimal `json:"package_share,omitempty"`
	ProductQuantity decimal.Decimal  `json:"product_quantity"`
	InQuantity      decimal.Decimal  `json:"in_quantity"`

	CoveredQuantity           *decimal.Decimal `json:"covered_quantity,omitempty"`
	NotCoveredQuantity        *decimal.Decimal `json:"not_covered_quantity,omitempty"`
	CoveredPrice              *decimal.Decimal `json:"covered_price,omitempty"`
	NotCoveredPrice           *decimal.Decimal `json:"not_covered_price,omitempty"`
	CoveredPatientShare       *decimal.Decimal `json:"covered_patient_share,omitempty"`
	NotCoveredPatientShare    *decimal.Decimal `json:"not_covered_patient_share,omitempty"`
	CoveredCompanyShare       *decimal.Decimal `json:"covered_company_share,omitempty"`
	NotCoveredCompanyShare    *decimal.Decimal `json:"not_covered_company_share,omitempty"`
	CoveredCompanyDiscount    *decimal.Decimal `json:"covered_company_discount,omitempty"`
	NotCoveredCompanyDiscount *decimal.Decimal `json:"not_covered_company_discount,omitempty"`

	CompanyDiscount       *decimal.Decimal `json:"company_discount,omitempty"`
	PatientDiscount       *decimal.Decimal `json:"patient_discount,omitempty"`
	PackageDiscount       *decimal.Decimal `json:"package_discount,omitempty"`
	CompanyDiscountAmount *decimal.Decimal `json:"company_discount_amount,omitempty"`
	ActualCompanyDiscount *decimal.Decimal `json:"actual_company_discount,omitempty"`

	InsuredPriceBeforeDiscount *decimal.Decimal `json:"insured_price_before_discount,omitempty"`
	ContractVisitLimit         *decimal.Decimal `json:"contract_visit_limit,omitempty"`

	ContractID      *int64 `json:"contract_id,omitempty"`
	InsuranceCardID *int64 `json:"insurance_card_id,omitempty"`
	CoverLetterID   *int64 `json:"cover_letter_id,omitempty"`
	ContractorID    *int64 `json:"contractor_id,omitempty"`

	PatientPackageID *int64 `json:"patient_package_id,omitempty"`

	PriceListID           *int64 `json:"price_list_id,omitempty"`
	PricePlanID           *int64 `json:"price_plan_id,omitempty"`
	PricePlanRangeSetID   *int64 `json:"price_plan_range_set_id,omitempty"`
	PricePlanRangeSetRank *int   `json:"price_plan_range_set_rank,omitempty"`

	EpisodeType             int              `json:"episode_type,omitempty"`
	NationalityID           *int64           `json:"nationality_id,omitempty"`
	SalesUnitConversionRate *decimal.Decimal `json:"sales_unit_conversion_rate,omitempty"`

	Invalid    bool       `json:"invalid"`
	StatusCode StatusCode `json:"status_code"`
	Message    string     `json:"message,omitempty"`
	Deleted    bool       `json:"deleted"`

	Detail  *TransactionDetail `json:"detail,omitempty"`
	Taxes   []*TaxLine         `json:"taxes,omitempty"`
	Package *PackagePurchase   `json:"package,omitempty"`
}

// IsPersisted reports whether the transaction has a database identity.
func (t *Transaction) IsPersisted() bool { return t.ID > 0 }

// IsClaimed reports whether the line was already submitted in an insurance
// claim; claimed lines are permanently excluded from recomputation.
func (t *Transaction) IsClaimed() bool {
	return t.Detail != nil && t.Detail.IsClaim
}

// IsUndecided reports whether the line still awaits an approval decision.
func (t *Transaction) IsUndecided() bool {
	return t.Detail == nil || t.Detail.ApprovalStatus == nil
}

// TransactionDetail is the extended pricing detail attached to a transaction.
type TransactionDetail struct {
	ApprovalStatus                 *ApprovalStatus `json:"approval_status,omitempty"`
	IsClaim                        bool            `json:"is_claim"`
	NeedApproval                   int             `json:"need_approval"`
	IsExceedLimit                  bool            `json:"is_exceed_limit"`
	ShowInAuthorization            *bool           `json:"show_in_authorization,omitempty"`
	ApplyAccommodationClassPricing bool            `json:"apply_accommodation_class_pricing"`

	PriceBeforeDiscount        *decimal.Decimal `json:"price_before_discount,omitempty"`
	ActualPriceBeforeDiscount  *decimal.Decimal `json:"actual_price_before_discount,omitempty"`
	UnitPriceBeforeDiscount    *decimal.Decimal `json:"unit_price_before_discount,omitempty"`
	CoveredPriceBeforeDiscount *decimal.Decimal `json:"covered_price_before_discount,omitempty"`
}

// TaxLine is one tax row attached to a transaction. Deleted is tri-state:
// nil means the row was computed in-memory and never persisted.
type TaxLine struct {
	ID                      int64            `json:"id,omitempty"`
	TaxID                   int64            `json:"tax_id"`
	TaxName                 string           `json:"tax_name,omitempty"`
	PatientAmount           decimal.Decimal  `json:"patient_amount"`
	PatientAmountDue        decimal.Decimal  `json:"patient_amount_due"`
	CompanyAmount           decimal.Decimal  `json:"company_amount"`
	PackageAmount           *decimal.Decimal `json:"package_amount,omitempty"`
	CoveredPatientAmount    *decimal.Decimal `json:"covered_patient_amount,omitempty"`
	CoveredPatientAmountDue *decimal.Decimal `json:"covered_patient_amount_due,omitempty"`
	Deleted                 *bool            `json:"deleted,omitempty"`
}

// PackagePurchase is the package record carried by a package-purchasing
// transaction; dependent lines draw against it.
type PackagePurchase struct {
	ID         int64      `json:"id"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

// RequestLine is one line of a price inquiry or edit request.
type RequestLine struct {
	VisitID         int64            `json:"visit_id"`
	FinancialStatus FinancialStatus  `json:"financial_status"`
	ServiceRef      *ServiceRef      `json:"-"`
	VisitServiceID  *int64           `json:"visit_service_id,omitempty"`
	TransactionID   *int64           `json:"transaction_id,omitempty"`
	ProductID       int64            `json:"product_id"`
	Quantity        decimal.Decimal  `json:"quantity"`
	Discount        *decimal.Decimal `json:"discount,omitempty"`

	ContractID       *int64 `json:"contract_id,omitempty"`
	InsuranceCardID  *int64 `json:"insurance_card_id,omitempty"`
	CoverLetterID    *int64 `json:"cover_letter_id,omitempty"`
	ContractorID     *int64 `json:"contractor_id,omitempty"`
	PatientPackageID *int64 `json:"patient_package_id,omitempty"`

	EpisodeType   int    `json:"episode_type,omitempty"`
	NationalityID *int64 `json:"nationality_id,omitempty"`
	EntityID      *int64 `json:"entity_id,omitempty"`
}

// Ref returns the line's service ref, resolving the wire-level
// VisitServiceID when the tagged form is unset.
func (l *RequestLine) Ref() *ServiceRef {
	if l.ServiceRef != nil {
		return l.ServiceRef
	}
	if l.VisitServiceID != nil && *l.VisitServiceID != 0 {
		r := RefFromInt64(*l.VisitServiceID)
		return &r
	}
	return nil
}

// SetRef stores the ref on both representations.
func (l *RequestLine) SetRef(r ServiceRef) {
	l.ServiceRef = &r
	v := r.Int64()
	l.VisitServiceID = &v
}

// Configuration is the latest active billing configuration, read-only per
// request.
type Configuration struct {
	ID                         int64            `json:"id"`
	IsApprovalExceedingCoLimit bool             `json:"is_approval_exceeding_co_limit"`
	MarkServiceExceedLimit     MarkExceedPolicy `json:"mark_service_exceed_limit"`
}

// ContractTypeInfo is the contract-type identity surfaced by the insured
// engine, stamped uniformly on every response entry of one call.
type ContractTypeInfo struct {
	ID     *int64 `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	ArName string `json:"ar_name,omitempty"`
}

// TaxResultLine is the rounded, caller-facing projection of one tax row.
type TaxResultLine struct {
	TaxID                   int64            `json:"tax_id"`
	TaxName                 string           `json:"tax_name,omitempty"`
	PatientAmount           decimal.Decimal  `json:"patient_amount"`
	PatientAmountDue        decimal.Decimal  `json:"patient_amount_due"`
	CompanyAmount           decimal.Decimal  `json:"company_amount"`
	PackageAmount           *decimal.Decimal `json:"package_amount,omitempty"`
	CoveredPatientAmount    *decimal.Decimal `json:"covered_patient_amount,omitempty"`
	CoveredPatientAmountDue *decimal.Decimal `json:"covered_patient_amount_due,omitempty"`
}

// LineResult is the per-transaction response model. When Valid is false all
// monetary fields are nil regardless of what the underlying record holds.
type LineResult struct {
	StatusCode     StatusCode `json:"status_code"`
	Valid          bool       `json:"valid"`
	Message        string     `json:"message,omitempty"`
	TransactionID  *int64     `json:"transaction_id,omitempty"`
	VisitServiceID *int64     `json:"visit_service_id,omitempty"`
	ProductID      *int64     `json:"product_id,omitempty"`

	PatientShare *decimal.Decimal `json:"patient_share,omitempty"`
	CompanyShare *decimal.Decimal `json:"company_share,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	PackageShare *decimal.Decimal `json:"package_share,omitempty"`
	InQuantity   *decimal.Decimal `json:"in_quantity,omitempty"`

	PackageDiscount            *decimal.Decimal `json:"package_discount,omitempty"`
	CompanyDiscount            *decimal.Decimal `json:"company_discount,omitempty"`
	PriceBeforeDiscount        *decimal.Decimal `json:"price_before_discount,omitempty"`
	CoveredPriceBeforeDiscount *decimal.Decimal `json:"covered_price_before_discount,omitempty"`
	CoveredPatientShare        *decimal.Decimal `json:"covered_patient_share,omitempty"`
	CoveredCompanyDiscount     *decimal.Decimal `json:"covered_company_discount,omitempty"`
	NotCoveredCompanyDiscount  *decimal.Decimal `json:"not_covered_company_discount,omitempty"`
	CompanyDiscountAmount      *decimal.Decimal `json:"company_discount_amount,omitempty"`
	InsuredPriceBeforeDiscount *decimal.Decimal `json:"insured_price_before_discount,omitempty"`
	CoveredQuantity            *decimal.Decimal `json:"covered_quantity,omitempty"`
	ContractVisitLimit         *decimal.Decimal `json:"contract_visit_limit,omitempty"`

	NeedApproval        int   `json:"need_approval"`
	ShowInAuthorization *bool `json:"show_in_authorization,omitempty"`

	ContractType ContractTypeInfo `json:"contract_type,omitempty"`

	ApplyAccommodationClassPricing bool             `json:"apply_accommodation_class_pricing,omitempty"`
	ActualCompanyDiscount          *decimal.Decimal `json:"actual_company_discount,omitempty"`

	Taxes []TaxResultLine `json:"taxes"`
}

func failureResult(code StatusCode, message string) LineResult {
	return LineResult{StatusCode: code, Valid: false, Message: message, Taxes: []TaxResultLine{}}
}

// DiscountLine is one AddDiscount request entry.
type DiscountLine struct {
	TransactionID      int64           `json:"transaction_id"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
}

// TaxResult pairs a transaction with its recomputed tax rows.
type TaxResult struct {
	TransactionID int64           `json:"transaction_id"`
	Taxes         []TaxResultLine `json:"taxes"`
}

// ClaimStatus is the claim-submission state sent by the claims system.
type ClaimStatus int

const (
	ClaimStatusNotClaimed ClaimStatus = 1
	ClaimStatusClaimed    ClaimStatus = 2
)

// ServiceStatusUpdate is one entry of a bulk approval/claim status change.
type ServiceStatusUpdate struct {
	VisitServiceID int64           `json:"visit_service_id"`
	ApprovalStatus *ApprovalStatus `json:"approval_status,omitempty"`
	ClaimStatus    *ClaimStatus    `json:"claim_status,omitempty"`
}

// OpResult is the explicit success/failure code returned by the two bulk
// status operations, which never raise to the caller.
type OpResult int

const (
	OpFailed  OpResult = 0
	OpSuccess OpResult = 1
)
