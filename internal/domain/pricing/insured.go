package pricing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hmis/billing-engine/internal/domain/billing"
)

var hundred = decimal.NewFromInt(100)

// InsuredEngine prices lines under an insurance contract: contracted price,
// company discount, percentage coverage and a visit-level limit on the
// company share. Crossing the limit flags the line for payer approval.
type InsuredEngine struct {
	engineBase
	terms *ContractTerms
}

func NewInsuredEngine(store billing.TransactionStore, rates RateSource, log zerolog.Logger) *InsuredEngine {
	return &InsuredEngine{engineBase: newEngineBase(store, rates, log.With().Str("engine", "insured").Logger())}
}

func (e *InsuredEngine) Initialize(ctx context.Context, seed billing.CacheSeed, ws *billing.WorkingSet) error {
	if err := e.initialize(ctx, seed, ws); err != nil {
		return err
	}
	contractID := int64(0)
	if len(seed.ContractIDs) > 0 {
		contractID = seed.ContractIDs[0]
	} else {
		for _, tx := range e.ws.All() {
			if !tx.Deleted && tx.ContractID != nil {
				contractID = *tx.ContractID
				break
			}
		}
	}
	if contractID == 0 {
		return nil
	}
	terms, err := e.rates.ContractTerms(ctx, contractID)
	if err != nil {
		return err
	}
	e.terms = terms
	return nil
}

func (e *InsuredEngine) ContractType() billing.ContractTypeInfo {
	if e.terms == nil {
		return billing.ContractTypeInfo{}
	}
	return e.terms.ContractType
}

func (e *InsuredEngine) PriceLine(ctx context.Context, line *billing.RequestLine, opts billing.PriceOptions) (*billing.PricedLine, error) {
	if e.terms == nil {
		return &billing.PricedLine{
			Valid:      false,
			StatusCode: billing.StatusInvalidFinancialStatus,
			Message:    fmt.Sprintf("no insurance contract for visit %d", line.VisitID),
		}, nil
	}
	quote, err := e.rates.InsuredPrice(ctx, e.terms.ContractID, line.ProductID)
	if err != nil {
		return nil, err
	}
	if !quote.Found {
		return &billing.PricedLine{
			Valid:      false,
			StatusCode: billing.StatusUnexpectedError,
			Message:    fmt.Sprintf("no contracted price for product %d", line.ProductID),
		}, nil
	}

	var tx *billing.Transaction
	if ref := line.Ref(); ref != nil {
		tx = e.ws.ByServiceRef(*ref)
	}
	isNew := tx == nil
	if isNew {
		tx = &billing.Transaction{
			VisitID:         line.VisitID,
			FinancialStatus: billing.FinancialStatusInsured,
		}
		if ref := line.Ref(); ref != nil {
			tx.ServiceRef = *ref
		}
	}

	pbd := quote.UnitPrice.Mul(line.Quantity)
	tx.ProductID = line.ProductID
	tx.ProductType = quote.ProductType
	tx.ProductQuantity = line.Quantity
	tx.PriceListID = quote.PriceListID
	tx.PricePlanID = quote.PricePlanID
	tx.PricePlanRangeSetID = quote.PricePlanRangeSetID
	tx.PricePlanRangeSetRank = quote.PricePlanRangeSetRank
	tx.EpisodeType = line.EpisodeType
	tx.NationalityID = line.NationalityID
	tx.ContractID = line.ContractID
	tx.InsuranceCardID = line.InsuranceCardID
	tx.CoverLetterID = line.CoverLetterID
	tx.ContractorID = line.ContractorID
	tx.PatientPackageID = line.PatientPackageID
	tx.PatientDiscount = line.Discount
	tx.Invalid = false
	tx.StatusCode = billing.StatusValid
	tx.Message = ""
	if tx.Detail == nil {
		tx.Detail = &billing.TransactionDetail{}
	}
	tx.Detail.PriceBeforeDiscount = decPtr(pbd)
	tx.Detail.ActualPriceBeforeDiscount = decPtr(pbd)
	if !line.Quantity.IsZero() {
		tx.Detail.UnitPriceBeforeDiscount = decPtr(quote.UnitPrice)
	}
	tx.InsuredPriceBeforeDiscount = decPtr(pbd)
	tx.ContractVisitLimit = e.terms.VisitLimit
	tx.CompanyDiscount = decPtr(e.terms.DiscountPercent)

	e.splitShares(tx, opts.FullSplit)
	if err := e.computeTaxRows(ctx, tx); err != nil {
		return nil, err
	}

	if opts.Persist {
		if isNew {
			e.AddTransaction(tx)
		} else {
			e.UpdateTransaction(tx)
		}
	} else if isNew {
		e.ws.Add(tx)
	}

	return &billing.PricedLine{Valid: true, StatusCode: billing.StatusValid, Transaction: tx}, nil
}

// netPrice is the contracted price after the company discount.
func (e *InsuredEngine) netPrice(tx *billing.Transaction) (pbd, net decimal.Decimal) {
	if tx.Detail != nil && tx.Detail.PriceBeforeDiscount != nil {
		pbd = *tx.Detail.PriceBeforeDiscount
	} else {
		pbd = tx.Price
	}
	net = pbd.Mul(hundred.Sub(e.terms.DiscountPercent)).Div(hundred)
	return pbd, net
}

// remainingLimit is what is left of the visit limit after every other live,
// unclaimed line's company share.
func (e *InsuredEngine) remainingLimit(exclude *billing.Transaction) *decimal.Decimal {
	if e.terms.VisitLimit == nil {
		return nil
	}
	remaining := *e.terms.VisitLimit
	for _, other := range e.ws.NonClaimed() {
		if other == exclude {
			continue
		}
		remaining = remaining.Sub(other.CompanyShare)
	}
	return &remaining
}

// splitShares computes the company/patient split of one line against the
// remaining visit limit.
func (e *InsuredEngine) splitShares(tx *billing.Transaction, fullSplit bool) {
	pbd, net := e.netPrice(tx)
	company := net.Mul(e.terms.CoveragePercent).Div(hundred)

	tx.Detail.IsExceedLimit = false
	if remaining := e.remainingLimit(tx); remaining != nil && company.GreaterThan(*remaining) {
		tx.Detail.IsExceedLimit = true
		if e.terms.ApprovalOverLimit {
			tx.Detail.NeedApproval = billing.NeedApprovalRequired
		}
		grant := *remaining
		if grant.IsNegative() {
			grant = decimal.Zero
		}
		company = grant
	}
	patient := net.Sub(company)

	tx.Price = net
	tx.CompanyShare = company
	tx.PatientShare = patient
	tx.CompanyDiscountAmount = decPtr(pbd.Sub(net))

	if fullSplit {
		e.coveredSplit(tx, pbd, net, company, patient)
	}
}

// coveredSplit fills the covered/not-covered breakdown proportionally to
// the company's share of the net price.
func (e *InsuredEngine) coveredSplit(tx *billing.Transaction, pbd, net, company, patient decimal.Decimal) {
	ratio := decimal.Zero
	if full := net.Mul(e.terms.CoveragePercent).Div(hundred); full.IsPositive() {
		ratio = company.Div(full)
		if ratio.GreaterThan(decimal.NewFromInt(1)) {
			ratio = decimal.NewFromInt(1)
		}
	}
	discount := pbd.Sub(net)
	tx.CoveredQuantity = decPtr(tx.ProductQuantity.Mul(ratio))
	tx.NotCoveredQuantity = decPtr(tx.ProductQuantity.Sub(*tx.CoveredQuantity))
	tx.CoveredPrice = decPtr(net.Mul(ratio))
	tx.NotCoveredPrice = decPtr(net.Sub(*tx.CoveredPrice))
	tx.CoveredCompanyShare = decPtr(company)
	tx.NotCoveredCompanyShare = decPtr(decimal.Zero)
	tx.CoveredPatientShare = decPtr(tx.CoveredPrice.Sub(company))
	if tx.CoveredPatientShare.IsNegative() {
		tx.CoveredPatientShare = decPtr(decimal.Zero)
	}
	tx.NotCoveredPatientShare = decPtr(patient.Sub(*tx.CoveredPatientShare))
	tx.CoveredCompanyDiscount = decPtr(discount.Mul(ratio))
	tx.NotCoveredCompanyDiscount = decPtr(discount.Sub(*tx.CoveredCompanyDiscount))
	tx.Detail.CoveredPriceBeforeDiscount = decPtr(pbd.Mul(ratio))
}

// computeTaxRows rebuilds the line's in-memory tax rows from the current
// share split.
func (e *InsuredEngine) computeTaxRows(ctx context.Context, tx *billing.Transaction) error {
	rates, err := e.rates.TaxRates(ctx, tx.ProductID)
	if err != nil {
		return err
	}
	var rows []*billing.TaxLine
	for _, rate := range rates {
		pct := rate.Percent.Div(hundred)
		rows = append(rows, &billing.TaxLine{
			TaxID:            rate.TaxID,
			TaxName:          rate.TaxName,
			PatientAmount:    tx.PatientShare.Mul(pct),
			PatientAmountDue: tx.PatientShare.Mul(pct),
			CompanyAmount:    tx.CompanyShare.Mul(pct),
		})
	}
	tx.Taxes = rows
	return nil
}

// RedistributeShares replays the company/patient split over the given lines
// in order, consuming the visit limit as it goes. Returns true when any line
// crossed the limit.
func (e *InsuredEngine) RedistributeShares(ctx context.Context, txs []*billing.Transaction) (bool, error) {
	if e.terms == nil {
		return false, nil
	}
	var remaining *decimal.Decimal
	if e.terms.VisitLimit != nil {
		r := *e.terms.VisitLimit
		for _, other := range e.ws.NonClaimed() {
			if containsTx(txs, other) {
				continue
			}
			r = r.Sub(other.CompanyShare)
		}
		remaining = &r
	}

	exceeded := false
	for _, tx := range txs {
		pbd, net := e.netPrice(tx)
		company := net.Mul(e.terms.CoveragePercent).Div(hundred)
		if tx.Detail == nil {
			tx.Detail = &billing.TransactionDetail{}
		}
		tx.Detail.IsExceedLimit = false
		if remaining != nil && company.GreaterThan(*remaining) {
			exceeded = true
			tx.Detail.IsExceedLimit = true
			if e.terms.ApprovalOverLimit {
				tx.Detail.NeedApproval = billing.NeedApprovalRequired
			}
			grant := *remaining
			if grant.IsNegative() {
				grant = decimal.Zero
			}
			company = grant
		}
		patient := net.Sub(company)
		tx.Price = net
		tx.CompanyShare = company
		tx.PatientShare = patient
		tx.CompanyDiscountAmount = decPtr(pbd.Sub(net))
		e.coveredSplit(tx, pbd, net, company, patient)
		if err := e.computeTaxRows(ctx, tx); err != nil {
			return false, err
		}
		if remaining != nil {
			r := remaining.Sub(company)
			remaining = &r
		}
		e.UpdateTransaction(tx)
	}
	return exceeded, nil
}

func (e *InsuredEngine) CashEquivalentPrice(ctx context.Context, ref billing.ServiceRef) (billing.CashEquivalent, error) {
	tx := e.ws.ByServiceRef(ref)
	if tx == nil {
		return billing.CashEquivalent{}, nil
	}
	quote, err := e.rates.CashPrice(ctx, tx.ProductID)
	if err != nil {
		return billing.CashEquivalent{}, err
	}
	if !quote.Found {
		return billing.CashEquivalent{}, nil
	}
	return billing.CashEquivalent{
		Price:                 quote.UnitPrice.Mul(tx.ProductQuantity),
		PriceListID:           quote.PriceListID,
		PricePlanID:           quote.PricePlanID,
		PricePlanRangeSetID:   quote.PricePlanRangeSetID,
		PricePlanRangeSetRank: quote.PricePlanRangeSetRank,
		TreatPatient:          true,
	}, nil
}

func (e *InsuredEngine) ValidatePackagePurchase(ctx context.Context, packageID int64, visitID int64) (*billing.PackagePurchase, error) {
	purchase := e.ws.PackagePurchase(packageID)
	if purchase == nil {
		return nil, nil
	}
	return purchase.Package, nil
}

// CancelTransactions soft-deletes the given lines and redistributes the
// freed coverage across what remains.
func (e *InsuredEngine) CancelTransactions(ctx context.Context, ids []int64, visitID int64) ([]billing.LineResult, error) {
	canceled := map[int64]bool{}
	for _, id := range ids {
		canceled[id] = true
	}
	for _, tx := range e.ws.All() {
		if canceled[tx.ID] {
			tx.Deleted = true
		}
	}
	if err := e.store.SoftDelete(ctx, ids); err != nil {
		return nil, err
	}

	var set []*billing.Transaction
	for _, tx := range e.ws.NonClaimed() {
		if tx.FinancialStatus == billing.FinancialStatusInsured {
			set = append(set, tx)
		}
	}
	if _, err := e.RedistributeShares(ctx, set); err != nil {
		return nil, err
	}
	if err := e.Flush(ctx); err != nil {
		return nil, err
	}

	results := []billing.LineResult{}
	for _, tx := range set {
		res := billing.NewLineResult(tx, e.ContractType())
		e.LogFinalResponse(res)
		results = append(results, res)
	}
	return results, nil
}

func containsTx(txs []*billing.Transaction, tx *billing.Transaction) bool {
	for _, t := range txs {
		if t == tx {
			return true
		}
	}
	return false
}
