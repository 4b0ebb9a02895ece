package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hmis/billing-engine/internal/domain/billing"
	"github.com/hmis/billing-engine/internal/domain/pricing"
)

func insuredTx(id int64, productID int64, price decimal.Decimal) *billing.Transaction {
	return &billing.Transaction{
		ID: id, VisitID: 7, ServiceRef: billing.PersistedRef(id),
		ProductID: productID, FinancialStatus: billing.FinancialStatusInsured,
		Price: price, ProductQuantity: d("1"),
		ContractID: i64(1),
		Detail:     &billing.TransactionDetail{PriceBeforeDiscount: decp(price.String())},
	}
}

func TestEditNilLine(t *testing.T) {
	f := newFixture(newMemStore(), &memRates{}, billing.Configuration{})

	results, err := f.orch.EditPatientTransaction(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].StatusCode != billing.StatusInvalidRequest {
		t.Errorf("got %+v", results)
	}
}

func TestEditMissingTransactionID(t *testing.T) {
	f := newFixture(newMemStore(), &memRates{}, billing.Configuration{})

	line := &billing.RequestLine{VisitID: 7, FinancialStatus: billing.FinancialStatusCash, ProductID: 1, Quantity: d("1")}
	results, err := f.orch.EditPatientTransaction(context.Background(), line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].StatusCode != billing.StatusInvalidTransactionID {
		t.Errorf("got %+v", results)
	}
}

func TestEditUnknownTransaction(t *testing.T) {
	f := newFixture(newMemStore(), &memRates{cash: map[int64]decimal.Decimal{1: d("10")}}, billing.Configuration{})

	line := &billing.RequestLine{
		VisitID: 7, FinancialStatus: billing.FinancialStatusCash,
		ProductID: 1, Quantity: d("1"),
		VisitServiceID: i64(99), TransactionID: i64(99),
	}
	_, err := f.orch.EditPatientTransaction(context.Background(), line)
	ee, ok := billing.AsEngineError(err)
	if !ok || ee.Code != billing.StatusTransactionIDNotExist {
		t.Fatalf("got %v", err)
	}
}

func TestEditRepricesSurroundingLines(t *testing.T) {
	tx1 := insuredTx(1, 1, d("100"))
	tx1.CompanyShare = d("50")
	tx1.PatientShare = d("50")
	tx2 := insuredTx(2, 1, d("100"))
	tx3 := insuredTx(3, 2, d("40"))
	store := newMemStore(tx1, tx2, tx3)
	rates := &memRates{
		insured: map[int64]decimal.Decimal{1: d("100"), 2: d("40")},
		cash:    map[int64]decimal.Decimal{1: d("100"), 2: d("40")},
		terms:   &pricing.ContractTerms{ContractID: 1, CoveragePercent: d("50")},
	}
	f := newFixture(store, rates, billing.Configuration{})

	line := &billing.RequestLine{
		VisitID: 7, FinancialStatus: billing.FinancialStatusInsured,
		ProductID: 1, Quantity: d("2"),
		VisitServiceID: i64(2), TransactionID: i64(2),
		ContractID: i64(1),
	}
	results, err := f.orch.EditPatientTransaction(context.Background(), line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	// Lines before the edited one keep their decided split.
	if !results[0].CompanyShare.Equal(d("50")) {
		t.Errorf("prior line company share = %s, want 50", results[0].CompanyShare)
	}

	edited := results[1]
	if edited.Message != "transaction 2 of visit 7" {
		t.Errorf("edited message = %q", edited.Message)
	}
	// Quantity doubled: 200 net, half covered.
	if !edited.CompanyShare.Equal(d("100")) {
		t.Errorf("edited company share = %s, want 100", edited.CompanyShare)
	}
	if !edited.PatientShare.Equal(d("100")) {
		t.Errorf("edited patient share = %s, want 100", edited.PatientShare)
	}

	// Lines after the edited one are redistributed.
	if !results[2].CompanyShare.Equal(d("20")) {
		t.Errorf("later line company share = %s, want 20", results[2].CompanyShare)
	}
	if store.saves == 0 {
		t.Error("edit must flush its changes")
	}
}

func TestEditExceedConvertsUndecidedLines(t *testing.T) {
	tx1 := insuredTx(1, 1, d("100"))
	tx2 := insuredTx(2, 2, d("120"))
	tx2.CompanyShare = d("120")
	store := newMemStore(tx1, tx2)
	limit := d("150")
	rates := &memRates{
		insured: map[int64]decimal.Decimal{1: d("100"), 2: d("120")},
		cash:    map[int64]decimal.Decimal{1: d("100"), 2: d("120")},
		terms: &pricing.ContractTerms{
			ContractID:        1,
			CoveragePercent:   d("100"),
			VisitLimit:        &limit,
			ApprovalOverLimit: true,
		},
	}
	cfg := billing.Configuration{
		IsApprovalExceedingCoLimit: true,
		MarkServiceExceedLimit:     billing.MarkAllServices,
	}
	f := newFixture(store, rates, cfg)

	line := &billing.RequestLine{
		VisitID: 7, FinancialStatus: billing.FinancialStatusInsured,
		ProductID: 1, Quantity: d("1"),
		VisitServiceID: i64(1), TransactionID: i64(1),
		ContractID: i64(1),
	}
	results, err := f.orch.EditPatientTransaction(context.Background(), line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	wantPatient := []decimal.Decimal{d("100"), d("120")}
	for i, res := range results {
		if !res.Valid {
			t.Fatalf("result %d invalid: %+v", i, res)
		}
		if !res.CompanyShare.IsZero() {
			t.Errorf("result %d company share = %s, want 0", i, res.CompanyShare)
		}
		if !res.PatientShare.Equal(wantPatient[i]) {
			t.Errorf("result %d patient share = %s, want %s", i, res.PatientShare, wantPatient[i])
		}
		if res.NeedApproval != billing.NeedApprovalRequired {
			t.Errorf("result %d should need approval", i)
		}
	}
}

// shareRecorder is a pricing engine stub that captures the company shares
// of every transaction handed to RedistributeShares, so tests can observe
// the state the orchestrator passes across that boundary.
type shareRecorder struct {
	ws    *billing.WorkingSet
	price decimal.Decimal

	handedShares []decimal.Decimal
}

func (e *shareRecorder) Initialize(ctx context.Context, seed billing.CacheSeed, ws *billing.WorkingSet) error {
	e.ws = ws
	return nil
}

func (e *shareRecorder) PriceLine(ctx context.Context, line *billing.RequestLine, opts billing.PriceOptions) (*billing.PricedLine, error) {
	tx := e.ws.ByServiceRef(*line.Ref())
	tx.Price = e.price
	tx.PatientShare = e.price
	tx.Invalid = false
	tx.StatusCode = billing.StatusValid
	return &billing.PricedLine{Valid: true, StatusCode: billing.StatusValid, Transaction: tx}, nil
}

func (e *shareRecorder) WorkingSet() *billing.WorkingSet { return e.ws }

func (e *shareRecorder) RedistributeShares(ctx context.Context, txs []*billing.Transaction) (bool, error) {
	for _, tx := range txs {
		e.handedShares = append(e.handedShares, tx.CompanyShare)
	}
	return false, nil
}

func (e *shareRecorder) AddTransaction(tx *billing.Transaction)    {}
func (e *shareRecorder) UpdateTransaction(tx *billing.Transaction) {}

func (e *shareRecorder) SaveTransaction(ctx context.Context, tx *billing.Transaction) error {
	return nil
}

func (e *shareRecorder) Flush(ctx context.Context) error { return nil }

func (e *shareRecorder) CancelTransactions(ctx context.Context, ids []int64, visitID int64) ([]billing.LineResult, error) {
	return []billing.LineResult{}, nil
}

func (e *shareRecorder) PackageStartDate() *time.Time  { return nil }
func (e *shareRecorder) PackageExpiryDate() *time.Time { return nil }

func (e *shareRecorder) ContractType() billing.ContractTypeInfo { return billing.ContractTypeInfo{} }

func (e *shareRecorder) LogFinalResponse(res billing.LineResult) {}

func (e *shareRecorder) CashEquivalentPrice(ctx context.Context, ref billing.ServiceRef) (billing.CashEquivalent, error) {
	return billing.CashEquivalent{}, nil
}

func (e *shareRecorder) ValidatePackagePurchase(ctx context.Context, packageID int64, visitID int64) (*billing.PackagePurchase, error) {
	return nil, nil
}

type recorderFactory struct{ eng *shareRecorder }

func (f recorderFactory) Cash() billing.LinePricingEngine       { return f.eng }
func (f recorderFactory) Insured() billing.InsuredPricingEngine { return f.eng }

func TestEditResetsLaterInsuredSharesBeforeRedistribution(t *testing.T) {
	edited := insuredTx(1, 1, d("100"))
	later := insuredTx(2, 1, d("70"))
	later.CompanyShare = d("70")
	store := newMemStore(edited, later)

	eng := &shareRecorder{price: d("100")}
	orch := billing.NewOrchestrator(
		passUoW{}, store, recorderFactory{eng}, &memConfigs{},
		pricing.NewRateTaxEngine(store, &memRates{}), &memCatalog{packages: map[int64]bool{}},
		zerolog.Nop(),
	)

	line := &billing.RequestLine{
		VisitID: 7, FinancialStatus: billing.FinancialStatusInsured,
		ProductID: 1, Quantity: d("1"),
		VisitServiceID: i64(1), TransactionID: i64(1),
		ContractID: i64(1),
	}
	if _, err := orch.EditPatientTransaction(context.Background(), line); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The later line's split must be cleared before the engine redraws it,
	// or a stale company share survives the edit.
	if len(eng.handedShares) != 1 {
		t.Fatalf("redistributed %d lines, want 1", len(eng.handedShares))
	}
	if !eng.handedShares[0].IsZero() {
		t.Errorf("later line handed over with company share %s, want 0", eng.handedShares[0])
	}
}

func TestEditPackageProductLocksProductAndQuantity(t *testing.T) {
	pkgTx := &billing.Transaction{
		ID: 5, VisitID: 7, ServiceRef: billing.PersistedRef(5),
		ProductID: 9, ProductType: "package",
		FinancialStatus: billing.FinancialStatusCash,
		Price:           d("500"), PatientShare: d("500"), ProductQuantity: d("1"),
		Detail: &billing.TransactionDetail{},
	}
	store := newMemStore(pkgTx)
	rates := &memRates{cash: map[int64]decimal.Decimal{9: d("500"), 10: d("30")}}
	f := newFixture(store, rates, billing.Configuration{}, 9)

	line := &billing.RequestLine{
		VisitID: 7, FinancialStatus: billing.FinancialStatusCash,
		ProductID: 10, Quantity: d("1"),
		VisitServiceID: i64(5), TransactionID: i64(5),
	}
	results, err := f.orch.EditPatientTransaction(context.Background(), line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].StatusCode != billing.StatusCantEditProductOrQuantity {
		t.Fatalf("got %+v", results)
	}
	if store.writes() != 0 {
		t.Errorf("rejected edit must not write, saw %d writes", store.writes())
	}
	if pkgTx.ProductID != 9 {
		t.Error("package product must stay unchanged")
	}
}
