package billing

import "github.com/shopspring/decimal"

// NewLineResult is the exported projection used by the pricing engines when
// they build results outside the orchestrator's assembly, e.g. after a
// cancellation.
func NewLineResult(tx *Transaction, cti ContractTypeInfo) LineResult {
	return projectTransaction(tx, cti, projectOptions{})
}

type projectOptions struct {
	// pureInquiry loosens the tax filter to include never-persisted rows
	// and defaults their package amount to zero.
	pureInquiry bool
	// limitShift presents the line as full patient liability without
	// touching the underlying record.
	limitShift bool
}

func round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

func round2p(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	r := d.Round(2)
	return &r
}

// projectTransaction builds the caller-facing result for one transaction.
// Invalid lines surface only their status and message; every monetary field
// stays nil so a failed line can never be mistaken for a zero-priced one.
func projectTransaction(tx *Transaction, cti ContractTypeInfo, opts projectOptions) LineResult {
	res := LineResult{
		StatusCode: tx.StatusCode,
		Message:    tx.Message,
		Taxes:      []TaxResultLine{},
	}
	if tx.ID > 0 {
		id := tx.ID
		res.TransactionID = &id
	}
	ref := tx.ServiceRef.Int64()
	res.VisitServiceID = &ref
	pid := tx.ProductID
	res.ProductID = &pid

	if tx.Invalid {
		res.Valid = false
		if res.StatusCode == StatusValid {
			res.StatusCode = StatusUnexpectedError
		}
		return res
	}
	res.Valid = true
	res.StatusCode = StatusValid

	price := round2(tx.Price)
	companyShare := round2(tx.CompanyShare)
	var patientShare decimal.Decimal
	if tx.InQuantity.IsPositive() {
		patientShare = round2(tx.PatientShare)
	} else {
		patientShare = price.Sub(companyShare)
	}

	if opts.limitShift {
		patientShare = round2(patientShare.Add(companyShare))
		companyShare = decimal.Zero
	}

	res.Price = &price
	res.CompanyShare = &companyShare
	res.PatientShare = &patientShare
	res.PackageShare = round2p(tx.PackageShare)
	iq := tx.InQuantity
	res.InQuantity = &iq

	res.PackageDiscount = round2p(tx.PackageDiscount)
	res.CompanyDiscount = round2p(tx.CompanyDiscount)
	res.CoveredPatientShare = round2p(tx.CoveredPatientShare)
	res.CoveredCompanyDiscount = round2p(tx.CoveredCompanyDiscount)
	res.NotCoveredCompanyDiscount = round2p(tx.NotCoveredCompanyDiscount)
	res.CompanyDiscountAmount = round2p(tx.CompanyDiscountAmount)
	res.InsuredPriceBeforeDiscount = round2p(tx.InsuredPriceBeforeDiscount)
	res.CoveredQuantity = round2p(tx.CoveredQuantity)
	res.ContractVisitLimit = round2p(tx.ContractVisitLimit)
	res.ContractType = cti

	if det := tx.Detail; det != nil {
		if tx.FinancialStatus == FinancialStatusInsured {
			res.NeedApproval = det.NeedApproval
		}
		res.ShowInAuthorization = det.ShowInAuthorization
		res.ApplyAccommodationClassPricing = det.ApplyAccommodationClassPricing
		res.CoveredPriceBeforeDiscount = round2p(det.CoveredPriceBeforeDiscount)
		if det.ApplyAccommodationClassPricing {
			res.CompanyDiscount = round2p(tx.ActualCompanyDiscount)
			res.ActualCompanyDiscount = round2p(tx.ActualCompanyDiscount)
			res.PriceBeforeDiscount = round2p(det.ActualPriceBeforeDiscount)
		} else {
			res.PriceBeforeDiscount = round2p(det.PriceBeforeDiscount)
		}
	}

	for _, t := range tx.Taxes {
		keep := t.Deleted != nil && !*t.Deleted
		if opts.pureInquiry {
			keep = t.Deleted == nil || !*t.Deleted
		}
		if !keep {
			continue
		}
		res.Taxes = append(res.Taxes, projectTaxLine(t, opts))
	}
	return res
}

func projectTaxLine(t *TaxLine, opts projectOptions) TaxResultLine {
	out := TaxResultLine{
		TaxID:                   t.TaxID,
		TaxName:                 t.TaxName,
		PatientAmount:           round2(t.PatientAmount),
		PatientAmountDue:        round2(t.PatientAmountDue),
		CompanyAmount:           round2(t.CompanyAmount),
		PackageAmount:           round2p(t.PackageAmount),
		CoveredPatientAmount:    round2p(t.CoveredPatientAmount),
		CoveredPatientAmountDue: round2p(t.CoveredPatientAmountDue),
	}
	if opts.limitShift {
		out.PatientAmount = round2(out.PatientAmount.Add(out.CompanyAmount))
		out.PatientAmountDue = round2(out.PatientAmountDue.Add(out.CompanyAmount))
		out.CompanyAmount = decimal.Zero
	}
	if opts.pureInquiry && out.PackageAmount == nil {
		out.PackageAmount = dec(decimal.Zero)
	}
	return out
}
