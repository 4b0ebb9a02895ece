package pricing

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/hmis/billing-engine/internal/domain/billing"
)

// RateTaxEngine computes tax rows from the product's rate table. Patient
// amounts are taken after the patient discount; company amounts are not
// discounted.
type RateTaxEngine struct {
	store billing.TransactionStore
	rates RateSource
}

func NewRateTaxEngine(store billing.TransactionStore, rates RateSource) *RateTaxEngine {
	return &RateTaxEngine{store: store, rates: rates}
}

func (e *RateTaxEngine) ComputeTaxes(ctx context.Context, tx *billing.Transaction) ([]*billing.TaxLine, error) {
	rates, err := e.rates.TaxRates(ctx, tx.ProductID)
	if err != nil {
		return nil, err
	}
	patient := tx.PatientShare
	if tx.PatientDiscount != nil {
		patient = patient.Mul(hundred.Sub(*tx.PatientDiscount)).Div(hundred)
	}
	var rows []*billing.TaxLine
	for _, rate := range rates {
		pct := rate.Percent.Div(hundred)
		row := &billing.TaxLine{
			TaxID:            rate.TaxID,
			TaxName:          rate.TaxName,
			PatientAmount:    patient.Mul(pct),
			PatientAmountDue: patient.Mul(pct),
			CompanyAmount:    tx.CompanyShare.Mul(pct),
		}
		if tx.PackageShare != nil {
			row.PackageAmount = decPtr(tx.PackageShare.Mul(pct))
		}
		if tx.CoveredPatientShare != nil {
			row.CoveredPatientAmount = decPtr(tx.CoveredPatientShare.Mul(pct))
			row.CoveredPatientAmountDue = decPtr(tx.CoveredPatientShare.Mul(pct))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ComputeMasterTaxes aggregates the visit's live lines into one row per
// tax.
func (e *RateTaxEngine) ComputeMasterTaxes(ctx context.Context, visitID int64) ([]*billing.TaxLine, error) {
	txs, err := e.store.ByVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	totals := map[int64]*billing.TaxLine{}
	for _, tx := range txs {
		if tx.Deleted || tx.Invalid {
			continue
		}
		rows, err := e.ComputeTaxes(ctx, tx)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			agg, ok := totals[row.TaxID]
			if !ok {
				agg = &billing.TaxLine{TaxID: row.TaxID, TaxName: row.TaxName,
					PatientAmount: decimal.Zero, PatientAmountDue: decimal.Zero, CompanyAmount: decimal.Zero}
				totals[row.TaxID] = agg
			}
			agg.PatientAmount = agg.PatientAmount.Add(row.PatientAmount)
			agg.PatientAmountDue = agg.PatientAmountDue.Add(row.PatientAmountDue)
			agg.CompanyAmount = agg.CompanyAmount.Add(row.CompanyAmount)
		}
	}
	out := make([]*billing.TaxLine, 0, len(totals))
	for _, row := range totals {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaxID < out[j].TaxID })
	return out, nil
}
