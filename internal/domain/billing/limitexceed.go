package billing

import "github.com/shopspring/decimal"

// applyLimitExceed converts an insured transaction to full patient liability
// after the coverage limit was exceeded. When the cash equivalent carries a
// usable self-pay price the line is repriced at it and adopts the self-pay
// price list identity; otherwise the contracted pre-discount price becomes
// the patient share. shiftTaxes moves the company portion of each live tax
// row onto the patient exactly once per flow.
func applyLimitExceed(tx *Transaction, eq CashEquivalent, shiftTaxes bool) {
	if tx.Detail == nil {
		tx.Detail = &TransactionDetail{}
	}
	det := tx.Detail

	if eq.TreatPatient {
		tx.PatientShare = eq.Price
		det.PriceBeforeDiscount = dec(eq.Price)
		det.ActualPriceBeforeDiscount = dec(eq.Price)
		if !tx.ProductQuantity.IsZero() {
			det.UnitPriceBeforeDiscount = dec(eq.Price.Div(tx.ProductQuantity))
		}
		tx.PriceListID = eq.PriceListID
		tx.PricePlanID = eq.PricePlanID
		tx.PricePlanRangeSetID = eq.PricePlanRangeSetID
		tx.PricePlanRangeSetRank = eq.PricePlanRangeSetRank
	} else if det.PriceBeforeDiscount != nil {
		tx.PatientShare = *det.PriceBeforeDiscount
	}

	tx.Price = tx.PatientShare
	tx.CoveredCompanyDiscount = dec(decimal.Zero)
	tx.CoveredCompanyShare = dec(decimal.Zero)
	det.CoveredPriceBeforeDiscount = dec(decimal.Zero)
	tx.CoveredPatientShare = dec(decimal.Zero)

	pbd := decimal.Zero
	if det.PriceBeforeDiscount != nil {
		pbd = *det.PriceBeforeDiscount
	}
	discountAmount := pbd.Sub(tx.Price)
	tx.CompanyDiscountAmount = dec(discountAmount)
	tx.CoveredQuantity = dec(decimal.Zero)
	tx.NotCoveredQuantity = dec(tx.ProductQuantity.Sub(tx.InQuantity))
	tx.NotCoveredCompanyDiscount = dec(discountAmount)
	tx.CompanyDiscount = dec(decimal.Zero)
	tx.CoveredPrice = dec(decimal.Zero)
	tx.CompanyShare = decimal.Zero
	det.NeedApproval = NeedApprovalRequired

	if shiftTaxes {
		shiftTaxesToPatient(tx.Taxes)
	}
}

// shiftTaxesToPatient moves the company portion of each live tax row onto
// the patient. Idempotent once the company amounts are zero.
func shiftTaxesToPatient(taxes []*TaxLine) {
	for _, t := range taxes {
		if t.Deleted != nil && *t.Deleted {
			continue
		}
		t.PatientAmount = t.PatientAmount.Add(t.CompanyAmount)
		t.PatientAmountDue = t.PatientAmountDue.Add(t.CompanyAmount)
		t.CompanyAmount = decimal.Zero
	}
}

// dec returns a pointer to a copy of d.
func dec(d decimal.Decimal) *decimal.Decimal { return &d }
