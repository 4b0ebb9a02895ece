package billing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hmis/billing-engine/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type txStorePG struct{ pool *pgxpool.Pool }

func NewTransactionStorePG(pool *pgxpool.Pool) TransactionStore {
	return &txStorePG{pool: pool}
}

func (s *txStorePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const txCols = `t.id, t.visit_id, t.visit_service_id, t.product_id, t.product_type, t.financial_status,
	t.price, t.patient_share, t.company_share, t.package_share, t.product_quantity, t.in_quantity,
	t.covered_quantity, t.not_covered_quantity, t.covered_price, t.not_covered_price,
	t.covered_patient_share, t.not_covered_patient_share, t.covered_company_share, t.not_covered_company_share,
	t.covered_company_discount, t.not_covered_company_discount,
	t.company_discount, t.patient_discount, t.package_discount, t.company_discount_amount, t.actual_company_discount,
	t.insured_price_before_discount, t.contract_visit_limit,
	t.contract_id, t.insurance_card_id, t.cover_letter_id, t.contractor_id, t.patient_package_id,
	t.price_list_id, t.price_plan_id, t.price_plan_range_set_id, t.price_plan_range_set_rank,
	t.episode_type, t.nationality_id, t.invalid, t.status_code, t.message, t.deleted,
	d.approval_status, d.is_claim, d.need_approval, d.is_exceed_limit, d.show_in_authorization,
	d.apply_accommodation_class_pricing, d.price_before_discount, d.actual_price_before_discount,
	d.unit_price_before_discount, d.covered_price_before_discount`

const txFrom = ` FROM patient_transaction t
	LEFT JOIN patient_transaction_detail d ON d.transaction_id = t.id`

func (s *txStorePG) scanRow(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var ref int64
	var statusCode int
	det := struct {
		approvalStatus *int
		isClaim        *bool
		needApproval   *int
		isExceedLimit  *bool
		showInAuth     *bool
		applyAccom     *bool
	}{}
	d := TransactionDetail{}
	err := row.Scan(&t.ID, &t.VisitID, &ref, &t.ProductID, &t.ProductType, &t.FinancialStatus,
		&t.Price, &t.PatientShare, &t.CompanyShare, &t.PackageShare, &t.ProductQuantity, &t.InQuantity,
		&t.CoveredQuantity, &t.NotCoveredQuantity, &t.CoveredPrice, &t.NotCoveredPrice,
		&t.CoveredPatientShare, &t.NotCoveredPatientShare, &t.CoveredCompanyShare, &t.NotCoveredCompanyShare,
		&t.CoveredCompanyDiscount, &t.NotCoveredCompanyDiscount,
		&t.CompanyDiscount, &t.PatientDiscount, &t.PackageDiscount, &t.CompanyDiscountAmount, &t.ActualCompanyDiscount,
		&t.InsuredPriceBeforeDiscount, &t.ContractVisitLimit,
		&t.ContractID, &t.InsuranceCardID, &t.CoverLetterID, &t.ContractorID, &t.PatientPackageID,
		&t.PriceListID, &t.PricePlanID, &t.PricePlanRangeSetID, &t.PricePlanRangeSetRank,
		&t.EpisodeType, &t.NationalityID, &t.Invalid, &statusCode, &t.Message, &t.Deleted,
		&det.approvalStatus, &det.isClaim, &det.needApproval, &det.isExceedLimit, &det.showInAuth,
		&det.applyAccom, &d.PriceBeforeDiscount, &d.ActualPriceBeforeDiscount,
		&d.UnitPriceBeforeDiscount, &d.CoveredPriceBeforeDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.ServiceRef = RefFromInt64(ref)
	t.StatusCode = StatusCode(statusCode)
	if det.isClaim != nil || det.needApproval != nil || det.approvalStatus != nil ||
		d.PriceBeforeDiscount != nil || det.applyAccom != nil {
		if det.approvalStatus != nil {
			as := ApprovalStatus(*det.approvalStatus)
			d.ApprovalStatus = &as
		}
		if det.isClaim != nil {
			d.IsClaim = *det.isClaim
		}
		if det.needApproval != nil {
			d.NeedApproval = *det.needApproval
		}
		if det.isExceedLimit != nil {
			d.IsExceedLimit = *det.isExceedLimit
		}
		d.ShowInAuthorization = det.showInAuth
		if det.applyAccom != nil {
			d.ApplyAccommodationClassPricing = *det.applyAccom
		}
		t.Detail = &d
	}
	return &t, nil
}

func (s *txStorePG) queryMany(ctx context.Context, sql string, args ...interface{}) ([]*Transaction, error) {
	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Transaction
	for rows.Next() {
		t, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *txStorePG) ByVisit(ctx context.Context, visitID int64) ([]*Transaction, error) {
	txs, err := s.queryMany(ctx, `SELECT `+txCols+txFrom+` WHERE t.visit_id = $1 ORDER BY t.id`, visitID)
	if err != nil {
		return nil, err
	}
	if err := s.attachTaxLines(ctx, txs); err != nil {
		return nil, err
	}
	if err := s.attachPackages(ctx, txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *txStorePG) ByIDNotDeleted(ctx context.Context, id int64) (*Transaction, error) {
	return s.scanRow(s.conn(ctx).QueryRow(ctx,
		`SELECT `+txCols+txFrom+` WHERE t.id = $1 AND NOT t.deleted`, id))
}

func (s *txStorePG) ByIDWithDetail(ctx context.Context, id int64) (*Transaction, error) {
	t, err := s.scanRow(s.conn(ctx).QueryRow(ctx,
		`SELECT `+txCols+txFrom+` WHERE t.id = $1`, id))
	if err != nil || t == nil {
		return t, err
	}
	if err := s.attachTaxLines(ctx, []*Transaction{t}); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *txStorePG) ByServiceRefs(ctx context.Context, refs []int64) ([]*Transaction, error) {
	return s.queryMany(ctx,
		`SELECT `+txCols+txFrom+` WHERE t.visit_service_id = ANY($1) AND NOT t.deleted ORDER BY t.id`, refs)
}

func (s *txStorePG) attachTaxLines(ctx context.Context, txs []*Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	byID := make(map[int64]*Transaction, len(txs))
	ids := make([]int64, 0, len(txs))
	for _, t := range txs {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, transaction_id, tax_id, tax_name, patient_amount, patient_amount_due, company_amount,
			package_amount, covered_patient_amount, covered_patient_amount_due, deleted
		FROM patient_transaction_tax WHERE transaction_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var tl TaxLine
		var txID int64
		var deleted bool
		if err := rows.Scan(&tl.ID, &txID, &tl.TaxID, &tl.TaxName, &tl.PatientAmount, &tl.PatientAmountDue,
			&tl.CompanyAmount, &tl.PackageAmount, &tl.CoveredPatientAmount, &tl.CoveredPatientAmountDue,
			&deleted); err != nil {
			return err
		}
		tl.Deleted = &deleted
		if t := byID[txID]; t != nil {
			t.Taxes = append(t.Taxes, &tl)
		}
	}
	return rows.Err()
}

func (s *txStorePG) attachPackages(ctx context.Context, txs []*Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	byID := make(map[int64]*Transaction, len(txs))
	ids := make([]int64, 0, len(txs))
	for _, t := range txs {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, purchase_transaction_id, start_date, expiry_date
		FROM patient_package WHERE purchase_transaction_id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var p PackagePurchase
		var txID int64
		if err := rows.Scan(&p.ID, &txID, &p.StartDate, &p.ExpiryDate); err != nil {
			return err
		}
		if t := byID[txID]; t != nil {
			t.Package = &p
		}
	}
	return rows.Err()
}

func (s *txStorePG) Insert(ctx context.Context, t *Transaction) error {
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_transaction (visit_id, visit_service_id, product_id, product_type, financial_status,
			price, patient_share, company_share, package_share, product_quantity, in_quantity,
			covered_quantity, not_covered_quantity, covered_price, not_covered_price,
			covered_patient_share, not_covered_patient_share, covered_company_share, not_covered_company_share,
			covered_company_discount, not_covered_company_discount,
			company_discount, patient_discount, package_discount, company_discount_amount, actual_company_discount,
			insured_price_before_discount, contract_visit_limit,
			contract_id, insurance_card_id, cover_letter_id, contractor_id, patient_package_id,
			price_list_id, price_plan_id, price_plan_range_set_id, price_plan_range_set_rank,
			episode_type, nationality_id, invalid, status_code, message, deleted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,
			$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37,$38,$39,$40,$41,$42,$43)
		RETURNING id`,
		t.VisitID, t.ServiceRef.Clamped(), t.ProductID, t.ProductType, t.FinancialStatus,
		t.Price, t.PatientShare, t.CompanyShare, t.PackageShare, t.ProductQuantity, t.InQuantity,
		t.CoveredQuantity, t.NotCoveredQuantity, t.CoveredPrice, t.NotCoveredPrice,
		t.CoveredPatientShare, t.NotCoveredPatientShare, t.CoveredCompanyShare, t.NotCoveredCompanyShare,
		t.CoveredCompanyDiscount, t.NotCoveredCompanyDiscount,
		t.CompanyDiscount, t.PatientDiscount, t.PackageDiscount, t.CompanyDiscountAmount, t.ActualCompanyDiscount,
		t.InsuredPriceBeforeDiscount, t.ContractVisitLimit,
		t.ContractID, t.InsuranceCardID, t.CoverLetterID, t.ContractorID, t.PatientPackageID,
		t.PriceListID, t.PricePlanID, t.PricePlanRangeSetID, t.PricePlanRangeSetRank,
		t.EpisodeType, t.NationalityID, t.Invalid, int(t.StatusCode), t.Message, t.Deleted).Scan(&t.ID)
	if err != nil {
		return err
	}
	if !t.ServiceRef.IsPersisted() {
		t.ServiceRef = PersistedRef(t.ID)
		if _, err := s.conn(ctx).Exec(ctx,
			`UPDATE patient_transaction SET visit_service_id = id WHERE id = $1`, t.ID); err != nil {
			return err
		}
	}
	if t.Detail != nil {
		if err := s.upsertDetail(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *txStorePG) upsertDetail(ctx context.Context, t *Transaction) error {
	d := t.Detail
	var approval *int
	if d.ApprovalStatus != nil {
		v := int(*d.ApprovalStatus)
		approval = &v
	}
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO patient_transaction_detail (transaction_id, approval_status, is_claim, need_approval,
			is_exceed_limit, show_in_authorization, apply_accommodation_class_pricing,
			price_before_discount, actual_price_before_discount, unit_price_before_discount,
			covered_price_before_discount)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (transaction_id) DO UPDATE SET
			approval_status = EXCLUDED.approval_status,
			is_claim = EXCLUDED.is_claim,
			need_approval = EXCLUDED.need_approval,
			is_exceed_limit = EXCLUDED.is_exceed_limit,
			show_in_authorization = EXCLUDED.show_in_authorization,
			apply_accommodation_class_pricing = EXCLUDED.apply_accommodation_class_pricing,
			price_before_discount = EXCLUDED.price_before_discount,
			actual_price_before_discount = EXCLUDED.actual_price_before_discount,
			unit_price_before_discount = EXCLUDED.unit_price_before_discount,
			covered_price_before_discount = EXCLUDED.covered_price_before_discount`,
		t.ID, approval, d.IsClaim, d.NeedApproval, d.IsExceedLimit, d.ShowInAuthorization,
		d.ApplyAccommodationClassPricing, d.PriceBeforeDiscount, d.ActualPriceBeforeDiscount,
		d.UnitPriceBeforeDiscount, d.CoveredPriceBeforeDiscount)
	return err
}

func (s *txStorePG) SaveAll(ctx context.Context, txs []*Transaction) error {
	for _, t := range txs {
		if t.ID <= 0 {
			if err := s.Insert(ctx, t); err != nil {
				return err
			}
			continue
		}
		_, err := s.conn(ctx).Exec(ctx, `
			UPDATE patient_transaction SET
				visit_service_id=$2, product_id=$3, product_type=$4, financial_status=$5,
				price=$6, patient_share=$7, company_share=$8, package_share=$9,
				product_quantity=$10, in_quantity=$11,
				covered_quantity=$12, not_covered_quantity=$13, covered_price=$14, not_covered_price=$15,
				covered_patient_share=$16, not_covered_patient_share=$17,
				covered_company_share=$18, not_covered_company_share=$19,
				covered_company_discount=$20, not_covered_company_discount=$21,
				company_discount=$22, patient_discount=$23, package_discount=$24,
				company_discount_amount=$25, actual_company_discount=$26,
				insured_price_before_discount=$27, contract_visit_limit=$28,
				contract_id=$29, insurance_card_id=$30, cover_letter_id=$31, contractor_id=$32,
				patient_package_id=$33, price_list_id=$34, price_plan_id=$35,
				price_plan_range_set_id=$36, price_plan_range_set_rank=$37,
				episode_type=$38, nationality_id=$39, invalid=$40, status_code=$41, message=$42,
				deleted=$43, updated_at=NOW()
			WHERE id = $1`,
			t.ID, t.ServiceRef.Int64(), t.ProductID, t.ProductType, t.FinancialStatus,
			t.Price, t.PatientShare, t.CompanyShare, t.PackageShare,
			t.ProductQuantity, t.InQuantity,
			t.CoveredQuantity, t.NotCoveredQuantity, t.CoveredPrice, t.NotCoveredPrice,
			t.CoveredPatientShare, t.NotCoveredPatientShare,
			t.CoveredCompanyShare, t.NotCoveredCompanyShare,
			t.CoveredCompanyDiscount, t.NotCoveredCompanyDiscount,
			t.CompanyDiscount, t.PatientDiscount, t.PackageDiscount,
			t.CompanyDiscountAmount, t.ActualCompanyDiscount,
			t.InsuredPriceBeforeDiscount, t.ContractVisitLimit,
			t.ContractID, t.InsuranceCardID, t.CoverLetterID, t.ContractorID,
			t.PatientPackageID, t.PriceListID, t.PricePlanID,
			t.PricePlanRangeSetID, t.PricePlanRangeSetRank,
			t.EpisodeType, t.NationalityID, t.Invalid, int(t.StatusCode), t.Message, t.Deleted)
		if err != nil {
			return err
		}
		if t.Detail != nil {
			if err := s.upsertDetail(ctx, t); err != nil {
				return err
			}
		}
		if t.Package != nil {
			if _, err := s.conn(ctx).Exec(ctx, `
				UPDATE patient_package SET start_date=$2, expiry_date=$3 WHERE id = $1`,
				t.Package.ID, t.Package.StartDate, t.Package.ExpiryDate); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *txStorePG) ReplaceTaxLines(ctx context.Context, transactionID int64, taxes []*TaxLine) error {
	if _, err := s.conn(ctx).Exec(ctx,
		`UPDATE patient_transaction_tax SET deleted = TRUE WHERE transaction_id = $1`, transactionID); err != nil {
		return err
	}
	for _, tl := range taxes {
		if err := s.conn(ctx).QueryRow(ctx, `
			INSERT INTO patient_transaction_tax (transaction_id, tax_id, tax_name, patient_amount,
				patient_amount_due, company_amount, package_amount, covered_patient_amount,
				covered_patient_amount_due, deleted)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,FALSE)
			RETURNING id`,
			transactionID, tl.TaxID, tl.TaxName, tl.PatientAmount, tl.PatientAmountDue,
			tl.CompanyAmount, tl.PackageAmount, tl.CoveredPatientAmount,
			tl.CoveredPatientAmountDue).Scan(&tl.ID); err != nil {
			return err
		}
		f := false
		tl.Deleted = &f
	}
	return nil
}

func (s *txStorePG) ReplaceMasterTaxLines(ctx context.Context, visitID int64, taxes []*TaxLine) error {
	if _, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM visit_master_tax WHERE visit_id = $1`, visitID); err != nil {
		return err
	}
	for _, tl := range taxes {
		if err := s.conn(ctx).QueryRow(ctx, `
			INSERT INTO visit_master_tax (visit_id, tax_id, tax_name, patient_amount,
				patient_amount_due, company_amount)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id`,
			visitID, tl.TaxID, tl.TaxName, tl.PatientAmount, tl.PatientAmountDue,
			tl.CompanyAmount).Scan(&tl.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *txStorePG) SoftDelete(ctx context.Context, ids []int64) error {
	_, err := s.conn(ctx).Exec(ctx,
		`UPDATE patient_transaction SET deleted = TRUE, updated_at = NOW() WHERE id = ANY($1)`, ids)
	return err
}
