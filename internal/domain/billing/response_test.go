package billing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestProjectInvalidTransactionHidesMoney(t *testing.T) {
	tx := &Transaction{
		ID:         5,
		ServiceRef: PersistedRef(5),
		ProductID:  9,
		Price:      d("50"),
		Invalid:    true,
		StatusCode: StatusInvalidFinancialStatus,
		Message:    msgInvalidFinancialStatus,
	}
	res := projectTransaction(tx, ContractTypeInfo{}, projectOptions{})

	if res.Valid {
		t.Fatal("invalid transaction must project as invalid")
	}
	if res.StatusCode != StatusInvalidFinancialStatus {
		t.Errorf("status = %v", res.StatusCode)
	}
	if res.Price != nil || res.PatientShare != nil || res.CompanyShare != nil {
		t.Error("monetary fields must be nil on an invalid line")
	}
	if res.NeedApproval != 0 {
		t.Error("invalid line must not request approval")
	}
	if len(res.Taxes) != 0 {
		t.Error("invalid line must carry no taxes")
	}
	if res.VisitServiceID == nil || *res.VisitServiceID != 5 {
		t.Error("identity fields survive invalidation")
	}
}

func TestProjectRoundsToTwoDecimals(t *testing.T) {
	tx := &Transaction{
		ID:              7,
		ServiceRef:      PersistedRef(7),
		ProductID:       3,
		FinancialStatus: FinancialStatusInsured,
		Price:           d("33.335"),
		CompanyShare:    d("11.114"),
		PatientShare:    d("22.221"),
		InQuantity:      d("1"),
		PackageShare:    dec(d("5.555")),
		Detail:          &TransactionDetail{NeedApproval: NeedApprovalRequired},
	}
	res := projectTransaction(tx, ContractTypeInfo{}, projectOptions{})

	if !res.Price.Equal(d("33.34")) {
		t.Errorf("price = %s", res.Price)
	}
	if !res.CompanyShare.Equal(d("11.11")) {
		t.Errorf("company share = %s", res.CompanyShare)
	}
	if !res.PatientShare.Equal(d("22.22")) {
		t.Errorf("patient share = %s", res.PatientShare)
	}
	if !res.PackageShare.Equal(d("5.56")) {
		t.Errorf("package share = %s", res.PackageShare)
	}
	if res.NeedApproval != NeedApprovalRequired {
		t.Error("insured line keeps its approval flag")
	}
}

func TestProjectDerivesPatientShareWhenNotPerformed(t *testing.T) {
	// With no performed quantity the patient share is derived from the
	// rounded price and company share instead of the stored value.
	tx := &Transaction{
		ID:              8,
		ServiceRef:      PersistedRef(8),
		FinancialStatus: FinancialStatusInsured,
		Price:           d("100.006"),
		CompanyShare:    d("60.004"),
		PatientShare:    d("41"),
		InQuantity:      decimal.Zero,
	}
	res := projectTransaction(tx, ContractTypeInfo{}, projectOptions{})

	if !res.PatientShare.Equal(d("100.01").Sub(d("60"))) {
		t.Errorf("patient share = %s, want 40.01", res.PatientShare)
	}
}

func TestProjectCashLineIgnoresNeedApproval(t *testing.T) {
	tx := &Transaction{
		ID:              9,
		ServiceRef:      PersistedRef(9),
		FinancialStatus: FinancialStatusCash,
		Price:           d("10"),
		PatientShare:    d("10"),
		InQuantity:      d("1"),
		Detail:          &TransactionDetail{NeedApproval: NeedApprovalRequired},
	}
	res := projectTransaction(tx, ContractTypeInfo{}, projectOptions{})
	if res.NeedApproval != 0 {
		t.Error("cash lines never surface the approval flag")
	}
}

func TestProjectAccommodationClassOverrides(t *testing.T) {
	tx := &Transaction{
		ID:                    11,
		ServiceRef:            PersistedRef(11),
		FinancialStatus:       FinancialStatusInsured,
		Price:                 d("200"),
		PatientShare:          d("50"),
		CompanyShare:          d("150"),
		InQuantity:            d("1"),
		CompanyDiscount:       dec(d("10")),
		ActualCompanyDiscount: dec(d("15")),
		Detail: &TransactionDetail{
			ApplyAccommodationClassPricing: true,
			PriceBeforeDiscount:            dec(d("220")),
			ActualPriceBeforeDiscount:      dec(d("230.005")),
		},
	}
	res := projectTransaction(tx, ContractTypeInfo{}, projectOptions{})

	if !res.CompanyDiscount.Equal(d("15")) {
		t.Errorf("company discount = %s, want the accommodation value", res.CompanyDiscount)
	}
	if !res.PriceBeforeDiscount.Equal(d("230.01")) {
		t.Errorf("price before discount = %s, want 230.01", res.PriceBeforeDiscount)
	}
}

func TestProjectTaxFiltering(t *testing.T) {
	live := false
	gone := true
	tx := &Transaction{
		ID:              12,
		ServiceRef:      PersistedRef(12),
		FinancialStatus: FinancialStatusInsured,
		Price:           d("10"),
		PatientShare:    d("10"),
		InQuantity:      d("1"),
		Taxes: []*TaxLine{
			{TaxID: 1, PatientAmount: d("1.005"), PatientAmountDue: d("1"), CompanyAmount: d("0"), Deleted: &live},
			{TaxID: 2, PatientAmount: d("2"), PatientAmountDue: d("2"), CompanyAmount: d("0"), Deleted: &gone},
			{TaxID: 3, PatientAmount: d("3"), PatientAmountDue: d("3"), CompanyAmount: d("0")},
		},
	}

	res := projectTransaction(tx, ContractTypeInfo{}, projectOptions{})
	if len(res.Taxes) != 1 || res.Taxes[0].TaxID != 1 {
		t.Fatalf("persisted projection keeps only stored live rows, got %d", len(res.Taxes))
	}
	if !res.Taxes[0].PatientAmount.Equal(d("1.01")) {
		t.Errorf("tax amount = %s, want rounded 1.01", res.Taxes[0].PatientAmount)
	}

	// A dry run also includes rows never written, with a zero package
	// amount instead of a null.
	res = projectTransaction(tx, ContractTypeInfo{}, projectOptions{pureInquiry: true})
	if len(res.Taxes) != 2 {
		t.Fatalf("dry-run projection includes in-memory rows, got %d", len(res.Taxes))
	}
	for _, tl := range res.Taxes {
		if tl.PackageAmount == nil || !tl.PackageAmount.IsZero() {
			t.Error("dry-run package amount should default to zero")
		}
	}
}

func TestProjectLimitShiftDisplay(t *testing.T) {
	tx := &Transaction{
		ID:              13,
		ServiceRef:      PersistedRef(13),
		FinancialStatus: FinancialStatusInsured,
		Price:           d("100"),
		PatientShare:    d("20"),
		CompanyShare:    d("80"),
		InQuantity:      d("1"),
	}
	res := projectTransaction(tx, ContractTypeInfo{}, projectOptions{limitShift: true})

	if !res.PatientShare.Equal(d("100")) {
		t.Errorf("patient share = %s, want 100", res.PatientShare)
	}
	if !res.CompanyShare.IsZero() {
		t.Errorf("company share = %s, want 0", res.CompanyShare)
	}
}
