package pricing

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hmis/billing-engine/internal/domain/billing"
)

func newTestInsuredEngine(t *testing.T, store *fakeStore, rates *fakeRates, contractIDs ...int64) *InsuredEngine {
	t.Helper()
	eng := NewInsuredEngine(store, rates, zerolog.Nop())
	txs, err := store.ByVisit(context.Background(), 7)
	if err != nil {
		t.Fatalf("load visit: %v", err)
	}
	seed := billing.CacheSeed{VisitID: 7, ContractIDs: contractIDs}
	if err := eng.Initialize(context.Background(), seed, billing.NewWorkingSet(txs)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return eng
}

func TestInsuredPriceLineSplitsShares(t *testing.T) {
	store := &fakeStore{}
	rates := &fakeRates{
		insured: map[int64]decimal.Decimal{1: d("100")},
		terms: &ContractTerms{
			ContractID:      1,
			CoveragePercent: d("80"),
			DiscountPercent: d("10"),
		},
	}
	eng := newTestInsuredEngine(t, store, rates, 1)

	line := &billing.RequestLine{
		VisitID: 7, FinancialStatus: billing.FinancialStatusInsured,
		ProductID: 1, Quantity: d("1"), ContractID: i64(1),
	}
	priced, err := eng.PriceLine(context.Background(), line, billing.PriceOptions{FullSplit: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !priced.Valid {
		t.Fatalf("got %+v", priced)
	}
	tx := priced.Transaction

	// 100 less 10% company discount is 90; the company covers 80% of it.
	if !tx.Price.Equal(d("90")) {
		t.Errorf("price = %s, want 90", tx.Price)
	}
	if !tx.CompanyShare.Equal(d("72")) {
		t.Errorf("company share = %s, want 72", tx.CompanyShare)
	}
	if !tx.PatientShare.Equal(d("18")) {
		t.Errorf("patient share = %s, want 18", tx.PatientShare)
	}
	if tx.CompanyDiscountAmount == nil || !tx.CompanyDiscountAmount.Equal(d("10")) {
		t.Errorf("company discount amount = %v, want 10", tx.CompanyDiscountAmount)
	}

	// Fully within coverage, so the whole line is covered.
	if tx.CoveredQuantity == nil || !tx.CoveredQuantity.Equal(d("1")) {
		t.Errorf("covered quantity = %v, want 1", tx.CoveredQuantity)
	}
	if tx.CoveredPrice == nil || !tx.CoveredPrice.Equal(d("90")) {
		t.Errorf("covered price = %v, want 90", tx.CoveredPrice)
	}
	if tx.CoveredPatientShare == nil || !tx.CoveredPatientShare.Equal(d("18")) {
		t.Errorf("covered patient share = %v, want 18", tx.CoveredPatientShare)
	}
	if tx.CoveredCompanyDiscount == nil || !tx.CoveredCompanyDiscount.Equal(d("10")) {
		t.Errorf("covered company discount = %v, want 10", tx.CoveredCompanyDiscount)
	}
}

func TestInsuredPriceLineFlagsLimitExceed(t *testing.T) {
	store := &fakeStore{}
	limit := d("50")
	rates := &fakeRates{
		insured: map[int64]decimal.Decimal{1: d("40"), 2: d("30")},
		terms: &ContractTerms{
			ContractID:        1,
			CoveragePercent:   d("100"),
			VisitLimit:        &limit,
			ApprovalOverLimit: true,
		},
	}
	eng := newTestInsuredEngine(t, store, rates, 1)

	first := &billing.RequestLine{
		VisitID: 7, FinancialStatus: billing.FinancialStatusInsured,
		ProductID: 1, Quantity: d("1"), ContractID: i64(1),
	}
	priced, err := eng.PriceLine(context.Background(), first, billing.PriceOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if priced.Transaction.Detail.IsExceedLimit {
		t.Error("first line fits the limit")
	}
	if !priced.Transaction.CompanyShare.Equal(d("40")) {
		t.Errorf("first company share = %s, want 40", priced.Transaction.CompanyShare)
	}

	second := &billing.RequestLine{
		VisitID: 7, FinancialStatus: billing.FinancialStatusInsured,
		ProductID: 2, Quantity: d("1"), ContractID: i64(1),
	}
	priced, err = eng.PriceLine(context.Background(), second, billing.PriceOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tx := priced.Transaction
	if !tx.Detail.IsExceedLimit {
		t.Error("second line must cross the limit")
	}
	if tx.Detail.NeedApproval != billing.NeedApprovalRequired {
		t.Error("crossing the limit requires approval")
	}
	// Only the remaining 10 of the limit is granted.
	if !tx.CompanyShare.Equal(d("10")) {
		t.Errorf("second company share = %s, want 10", tx.CompanyShare)
	}
	if !tx.PatientShare.Equal(d("20")) {
		t.Errorf("second patient share = %s, want 20", tx.PatientShare)
	}
}

func TestInsuredRedistributeConsumesLimitInOrder(t *testing.T) {
	mk := func(id int64, price string) *billing.Transaction {
		return &billing.Transaction{
			ID: id, VisitID: 7, ServiceRef: billing.PersistedRef(id),
			ProductID: 1, FinancialStatus: billing.FinancialStatusInsured,
			Price: d(price), ProductQuantity: d("1"), ContractID: i64(1),
			Detail: &billing.TransactionDetail{PriceBeforeDiscount: decPtr(d(price))},
		}
	}
	tx1, tx2, tx3 := mk(1, "60"), mk(2, "50"), mk(3, "40")
	store := &fakeStore{txs: []*billing.Transaction{tx1, tx2, tx3}}
	limit := d("100")
	rates := &fakeRates{
		terms: &ContractTerms{ContractID: 1, CoveragePercent: d("100"), VisitLimit: &limit},
	}
	eng := newTestInsuredEngine(t, store, rates, 1)

	exceeded, err := eng.RedistributeShares(context.Background(), []*billing.Transaction{tx1, tx2, tx3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exceeded {
		t.Fatal("expected the limit to be exceeded")
	}
	if !tx1.CompanyShare.Equal(d("60")) || !tx1.PatientShare.Equal(d("0")) {
		t.Errorf("tx1 split = %s/%s, want 60/0", tx1.CompanyShare, tx1.PatientShare)
	}
	if !tx2.CompanyShare.Equal(d("40")) || !tx2.PatientShare.Equal(d("10")) {
		t.Errorf("tx2 split = %s/%s, want 40/10", tx2.CompanyShare, tx2.PatientShare)
	}
	if !tx3.CompanyShare.Equal(d("0")) || !tx3.PatientShare.Equal(d("40")) {
		t.Errorf("tx3 split = %s/%s, want 0/40", tx3.CompanyShare, tx3.PatientShare)
	}
}

func TestInsuredPriceLineWithoutContract(t *testing.T) {
	eng := newTestInsuredEngine(t, &fakeStore{}, &fakeRates{})

	line := &billing.RequestLine{
		VisitID: 7, FinancialStatus: billing.FinancialStatusInsured,
		ProductID: 1, Quantity: d("1"),
	}
	priced, err := eng.PriceLine(context.Background(), line, billing.PriceOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if priced.Valid || priced.StatusCode != billing.StatusInvalidFinancialStatus {
		t.Errorf("got %+v", priced)
	}
}

func TestInsuredCashEquivalentPrice(t *testing.T) {
	tx := &billing.Transaction{
		ID: 1, VisitID: 7, ServiceRef: billing.PersistedRef(1),
		ProductID: 1, FinancialStatus: billing.FinancialStatusInsured,
		ProductQuantity: d("2"),
	}
	store := &fakeStore{txs: []*billing.Transaction{tx}}
	rates := &fakeRates{
		cash:  map[int64]decimal.Decimal{1: d("30")},
		terms: &ContractTerms{ContractID: 1, CoveragePercent: d("100")},
	}
	eng := newTestInsuredEngine(t, store, rates, 1)

	eq, err := eng.CashEquivalentPrice(context.Background(), billing.PersistedRef(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eq.TreatPatient {
		t.Error("cash fallback must treat the patient")
	}
	if !eq.Price.Equal(d("60")) {
		t.Errorf("price = %s, want 60", eq.Price)
	}

	eq, err = eng.CashEquivalentPrice(context.Background(), billing.PersistedRef(99))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eq.TreatPatient || !eq.Price.IsZero() {
		t.Errorf("unknown ref must yield a zero equivalent, got %+v", eq)
	}
}

func TestInsuredCancelRedistributesRemainder(t *testing.T) {
	mk := func(id int64, price string) *billing.Transaction {
		return &billing.Transaction{
			ID: id, VisitID: 7, ServiceRef: billing.PersistedRef(id),
			ProductID: 1, FinancialStatus: billing.FinancialStatusInsured,
			Price: d(price), ProductQuantity: d("1"), ContractID: i64(1),
			Detail: &billing.TransactionDetail{PriceBeforeDiscount: decPtr(d(price))},
		}
	}
	tx1, tx2 := mk(1, "80"), mk(2, "60")
	tx1.CompanyShare = d("80")
	tx2.CompanyShare = d("20")
	store := &fakeStore{txs: []*billing.Transaction{tx1, tx2}}
	limit := d("100")
	rates := &fakeRates{
		terms: &ContractTerms{ContractID: 1, CoveragePercent: d("100"), VisitLimit: &limit},
	}
	eng := newTestInsuredEngine(t, store, rates, 1)

	results, err := eng.CancelTransactions(context.Background(), []int64{1}, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tx1.Deleted {
		t.Error("canceled line must be soft deleted")
	}
	if store.softDeletes != 1 {
		t.Errorf("soft deletes = %d, want 1", store.softDeletes)
	}
	// The freed limit now covers the remaining line in full.
	if !tx2.CompanyShare.Equal(d("60")) {
		t.Errorf("tx2 company share = %s, want 60", tx2.CompanyShare)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}
