package billing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// WorkingSet is the visit's transaction set as loaded and mutated by a
// pricing engine over the lifetime of one engine call. Lookups by ID skip
// soft-deleted rows unless asked otherwise.
type WorkingSet struct {
	txs []*Transaction
}

func NewWorkingSet(txs []*Transaction) *WorkingSet {
	return &WorkingSet{txs: txs}
}

// All returns the underlying slice. Callers must not reorder it.
func (w *WorkingSet) All() []*Transaction { return w.txs }

// Add appends a transaction to the set.
func (w *WorkingSet) Add(tx *Transaction) { w.txs = append(w.txs, tx) }

// ByID finds a transaction by database identity.
func (w *WorkingSet) ByID(id int64, includeDeleted bool) *Transaction {
	for _, tx := range w.txs {
		if tx.ID == id && (includeDeleted || !tx.Deleted) {
			return tx
		}
	}
	return nil
}

// ByServiceRef finds a live transaction by its visit-service ref.
func (w *WorkingSet) ByServiceRef(ref ServiceRef) *Transaction {
	for _, tx := range w.txs {
		if tx.ServiceRef == ref && !tx.Deleted {
			return tx
		}
	}
	return nil
}

// PackagePurchase finds the live purchase transaction of the given patient
// package, i.e. the line that carries the package record itself.
func (w *WorkingSet) PackagePurchase(packageID int64) *Transaction {
	for _, tx := range w.txs {
		if tx.Deleted || tx.Package == nil {
			continue
		}
		if tx.Package.ID == packageID {
			return tx
		}
	}
	return nil
}

// PackageLinked returns the live transactions drawing against any package.
func (w *WorkingSet) PackageLinked() []*Transaction {
	var out []*Transaction
	for _, tx := range w.txs {
		if !tx.Deleted && tx.PatientPackageID != nil {
			out = append(out, tx)
		}
	}
	return out
}

// FirstPerformingUnderPackage reports whether id is the lowest-ID line with
// performed quantity drawing against the package. Unassigning a package from
// that line invalidates the purchase usage.
func (w *WorkingSet) FirstPerformingUnderPackage(packageID int64, id int64) bool {
	first := int64(0)
	for _, tx := range w.txs {
		if tx.Deleted || tx.PatientPackageID == nil || *tx.PatientPackageID != packageID {
			continue
		}
		if !tx.InQuantity.IsPositive() {
			continue
		}
		if first == 0 || tx.ID < first {
			first = tx.ID
		}
	}
	return first != 0 && first == id
}

// NonClaimed returns the live, valid, unclaimed transactions of the set.
func (w *WorkingSet) NonClaimed() []*Transaction {
	var out []*Transaction
	for _, tx := range w.txs {
		if tx.Deleted || tx.Invalid || tx.IsClaimed() {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// NonClaimedUndecided returns the live, valid, unclaimed transactions that
// still await an approval decision.
func (w *WorkingSet) NonClaimedUndecided() []*Transaction {
	var out []*Transaction
	for _, tx := range w.NonClaimed() {
		if tx.IsUndecided() {
			out = append(out, tx)
		}
	}
	return out
}

// NonClaimedPersisted returns the live, valid, unclaimed transactions that
// already hold a database identity.
func (w *WorkingSet) NonClaimedPersisted() []*Transaction {
	var out []*Transaction
	for _, tx := range w.NonClaimed() {
		if tx.IsPersisted() {
			out = append(out, tx)
		}
	}
	return out
}

// Partition splits the live set around the transaction with the given ID:
// strictly older lines first, strictly newer lines second. The pivot itself
// belongs to neither half.
func (w *WorkingSet) Partition(id int64) (before, after []*Transaction) {
	for _, tx := range w.txs {
		if tx.Deleted {
			continue
		}
		switch {
		case tx.ID < id:
			before = append(before, tx)
		case tx.ID > id:
			after = append(after, tx)
		}
	}
	return before, after
}

func sortByRefAsc(txs []*Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].ServiceRef.Less(txs[j].ServiceRef)
	})
}

// resetShares clears every derived share field so a redistribution pass
// starts from the raw priced amounts.
func resetShares(txs []*Transaction) {
	for _, tx := range txs {
		tx.CompanyShare = decimal.Zero
		tx.PatientShare = decimal.Zero
		tx.CoveredQuantity = nil
		tx.NotCoveredQuantity = nil
		tx.CoveredPrice = nil
		tx.NotCoveredPrice = nil
		tx.CoveredPatientShare = nil
		tx.NotCoveredPatientShare = nil
		tx.CoveredCompanyShare = nil
		tx.NotCoveredCompanyShare = nil
		tx.CoveredCompanyDiscount = nil
		tx.NotCoveredCompanyDiscount = nil
		if tx.Detail != nil {
			tx.Detail.CoveredPriceBeforeDiscount = nil
		}
	}
}
