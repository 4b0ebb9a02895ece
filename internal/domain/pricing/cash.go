package pricing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hmis/billing-engine/internal/domain/billing"
)

// CashEngine prices self-pay lines. The patient carries the full price
// unless a package purchase absorbs part of it.
type CashEngine struct {
	engineBase
}

func NewCashEngine(store billing.TransactionStore, rates RateSource, log zerolog.Logger) *CashEngine {
	return &CashEngine{engineBase: newEngineBase(store, rates, log.With().Str("engine", "cash").Logger())}
}

func (e *CashEngine) Initialize(ctx context.Context, seed billing.CacheSeed, ws *billing.WorkingSet) error {
	return e.initialize(ctx, seed, ws)
}

func (e *CashEngine) ContractType() billing.ContractTypeInfo {
	return billing.ContractTypeInfo{}
}

func (e *CashEngine) PriceLine(ctx context.Context, line *billing.RequestLine, opts billing.PriceOptions) (*billing.PricedLine, error) {
	quote, err := e.rates.CashPrice(ctx, line.ProductID)
	if err != nil {
		return nil, err
	}
	if !quote.Found {
		return &billing.PricedLine{
			Valid:      false,
			StatusCode: billing.StatusUnexpectedError,
			Message:    fmt.Sprintf("no cash price for product %d", line.ProductID),
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
			FinancialStatus: billing.FinancialStatusCash,
		}
		if ref := line.Ref(); ref != nil {
			tx.ServiceRef = *ref
		}
	}

	price := quote.UnitPrice.Mul(line.Quantity)
	tx.ProductID = line.ProductID
	tx.ProductType = quote.ProductType
	tx.ProductQuantity = line.Quantity
	tx.Price = price
	tx.PriceListID = quote.PriceListID
	tx.PricePlanID = quote.PricePlanID
	tx.PricePlanRangeSetID = quote.PricePlanRangeSetID
	tx.PricePlanRangeSetRank = quote.PricePlanRangeSetRank
	tx.EpisodeType = line.EpisodeType
	tx.NationalityID = line.NationalityID
	tx.PatientPackageID = line.PatientPackageID
	tx.Invalid = false
	tx.StatusCode = billing.StatusValid
	tx.Message = ""
	if tx.Detail == nil {
		tx.Detail = &billing.TransactionDetail{}
	}
	tx.Detail.PriceBeforeDiscount = decPtr(price)
	tx.Detail.ActualPriceBeforeDiscount = decPtr(price)
	if !line.Quantity.IsZero() {
		tx.Detail.UnitPriceBeforeDiscount = decPtr(quote.UnitPrice)
	}
	tx.PatientDiscount = line.Discount

	patient := price
	if line.Discount != nil {
		patient = price.Mul(decimal.NewFromInt(100).Sub(*line.Discount)).Div(decimal.NewFromInt(100))
	}

	switch {
	case line.PatientPackageID != nil:
		purchase := e.ws.PackagePurchase(*line.PatientPackageID)
		if purchase == nil {
			return &billing.PricedLine{
				Valid:      false,
				StatusCode: billing.StatusTransactionIDNotExist,
				Message:    fmt.Sprintf("package %d has no purchase record in visit %d", *line.PatientPackageID, line.VisitID),
			}, nil
		}
		tx.PackageShare = decPtr(patient)
		tx.PatientShare = decimal.Zero
	case quote.ProductType == productTypePackage:
		if err := e.resolvePackageDates(ctx, line.ProductID); err != nil {
			return nil, err
		}
		tx.PatientShare = patient
		if isNew {
			tx.Package = &billing.PackagePurchase{StartDate: e.pkgStart, ExpiryDate: e.pkgExpiry}
		}
	default:
		tx.PatientShare = patient
	}
	tx.CompanyShare = decimal.Zero

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

// RedistributeShares replays every package draw in service order against the
// package balance. Lines past an exhausted balance fall back to the patient.
func (e *CashEngine) RedistributeShares(ctx context.Context, txs []*billing.Transaction) (bool, error) {
	balances := map[int64]decimal.Decimal{}
	for _, tx := range txs {
		if tx.PatientPackageID == nil {
			if tx.PatientShare.IsZero() && tx.PackageShare == nil {
				tx.PatientShare = tx.Price
			}
			continue
		}
		pkgID := *tx.PatientPackageID
		bal, ok := balances[pkgID]
		if !ok {
			purchase := e.ws.PackagePurchase(pkgID)
			if purchase == nil {
				tx.PatientShare = tx.Price
				tx.PackageShare = nil
				e.UpdateTransaction(tx)
				continue
			}
			terms, err := e.rates.PackageTerms(ctx, purchase.ProductID)
			if err != nil {
				return false, err
			}
			if terms != nil {
				bal = terms.Balance
			}
			balances[pkgID] = bal
		}
		draw := decimal.Min(bal, tx.Price)
		tx.PackageShare = decPtr(draw)
		tx.PatientShare = tx.Price.Sub(draw)
		balances[pkgID] = bal.Sub(draw)
		e.UpdateTransaction(tx)
	}
	return false, nil
}

// CancelTransactions soft-deletes the given lines and replays the package
// draws their removal frees up.
func (e *CashEngine) CancelTransactions(ctx context.Context, ids []int64, visitID int64) ([]billing.LineResult, error) {
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

	linked := e.ws.PackageLinked()
	if _, err := e.RedistributeShares(ctx, linked); err != nil {
		return nil, err
	}
	if err := e.Flush(ctx); err != nil {
		return nil, err
	}

	results := []billing.LineResult{}
	for _, tx := range linked {
		res := billing.NewLineResult(tx, e.ContractType())
		e.LogFinalResponse(res)
		results = append(results, res)
	}
	return results, nil
}

const productTypePackage = "package"

func decPtr(d decimal.Decimal) *decimal.Decimal { return &d }
