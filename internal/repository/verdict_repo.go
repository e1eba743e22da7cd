package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paywall/verifier/internal/domain"
)

// Fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// VerdictRecord is one returned verdict together with the doc it was
// checked against.
type VerdictRecord struct {
	ID               string               `json:"id"`
	TransactionID    string               `json:"txid"`
	Valid            bool                 `json:"valid"`
	Currency         string               `json:"currency"`
	Payouts          string               `json:"payouts"`
	DiscrepancyCount int                  `json:"discrepancy_count"`
	Discrepancies    []domain.Discrepancy `json:"discrepancies,omitempty"`
	VerifiedAt       time.Time            `json:"verified_at"`
}

// NewVerdictRecord captures verdict for storage.
func NewVerdictRecord(doc domain.PaywallDoc, v *domain.Verdict, at time.Time) *VerdictRecord {
	return &VerdictRecord{
		ID:               uuid.NewString(),
		TransactionID:    v.TransactionID,
		Valid:            v.Valid,
		Currency:         doc.Currency,
		Payouts:          doc.Payouts,
		DiscrepancyCount: len(v.Discrepancies),
		Discrepancies:    v.Discrepancies,
		VerifiedAt:       at.UTC(),
	}
}

// VerdictRepo is an append-only log of returned verdicts. Verification
// never reads from it.
type VerdictRepo struct {
	db *sql.DB
}

func NewVerdictRepo(db *sql.DB) *VerdictRepo {
	return &VerdictRepo{db: db}
}

// Insert stores rec and its discrepancies in one transaction.
func (r *VerdictRepo) Insert(rec *VerdictRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO verdicts
		(id, txid, valid, currency, payouts, discrepancy_count, verified_at)
		VALUES (?,?,?,?,?,?,?)`,
		rec.ID, rec.TransactionID, rec.Valid, rec.Currency, rec.Payouts,
		len(rec.Discrepancies), rec.VerifiedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO discrepancies
		(verdict_id, position, txid, destination, reason, expected,
		 observed_destination, observed_amount, description)
		VALUES (?,?,?,?,?,?,?,?,?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := range rec.Discrepancies {
		d := &rec.Discrepancies[i]
		var obsDest, obsAmount any
		if d.Observed != nil {
			obsDest = d.Observed.Destination
			obsAmount = nullableAmount(d.Observed.Amount)
		}
		_, err := stmt.Exec(
			rec.ID, i, rec.TransactionID, d.Destination, string(d.Reason),
			nullableAmount(d.Expected), obsDest, obsAmount, d.Description,
		)
		if err != nil {
			return fmt.Errorf("insert discrepancy %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByTransactionID returns every verdict recorded for txid, newest first,
// with discrepancies loaded.
func (r *VerdictRepo) GetByTransactionID(txid string) ([]VerdictRecord, error) {
	rows, err := r.db.Query(
		"SELECT * FROM verdicts WHERE txid = ? ORDER BY verified_at DESC", txid,
	)
	if err != nil {
		return nil, err
	}
	recs, err := scanVerdicts(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}

	for i := range recs {
		discs, err := r.discrepancies(recs[i].ID)
		if err != nil {
			return nil, err
		}
		recs[i].Discrepancies = discs
	}
	return recs, nil
}

type VerdictFilter struct {
	Valid *bool
	From  *time.Time
	To    *time.Time
	Page  int
	Limit int
}

// List returns a page of verdicts without their discrepancies, plus the
// total number matching f.
func (r *VerdictRepo) List(f VerdictFilter) ([]VerdictRecord, int, error) {
	where, args := buildVerdictWhere(f)

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM verdicts"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	q := "SELECT * FROM verdicts" + where + " ORDER BY verified_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	recs, err := scanVerdicts(rows)
	return recs, total, err
}

type DiscrepancySummary struct {
	Verdicts      int            `json:"verdicts"`
	ValidVerdicts int            `json:"valid_verdicts"`
	TotalCount    int            `json:"total_discrepancies"`
	ByReason      map[string]int `json:"by_reason"`
}

func (r *VerdictRepo) GetSummary() (*DiscrepancySummary, error) {
	s := &DiscrepancySummary{ByReason: make(map[string]int)}

	if err := r.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(valid),0) FROM verdicts",
	).Scan(&s.Verdicts, &s.ValidVerdicts); err != nil {
		return nil, err
	}

	rows, err := r.db.Query("SELECT reason, COUNT(*) FROM discrepancies GROUP BY reason")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		s.ByReason[reason] = n
		s.TotalCount += n
	}

	return s, rows.Err()
}

// --- helpers ---

func (r *VerdictRepo) discrepancies(verdictID string) ([]domain.Discrepancy, error) {
	rows, err := r.db.Query(
		`SELECT destination, reason, expected, observed_destination, observed_amount, description
		FROM discrepancies WHERE verdict_id = ? ORDER BY position`, verdictID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	discs := []domain.Discrepancy{}
	for rows.Next() {
		var d domain.Discrepancy
		var reason string
		var expected, obsDest, obsAmount sql.NullString
		if err := rows.Scan(&d.Destination, &reason, &expected, &obsDest, &obsAmount, &d.Description); err != nil {
			return nil, err
		}
		d.Reason = domain.ReasonCode(reason)
		d.Expected = amountFromNull(expected)
		if obsDest.Valid {
			d.Observed = &domain.ObservedPayment{
				Destination: obsDest.String,
				Amount:      amountFromNull(obsAmount),
			}
		}
		discs = append(discs, d)
	}
	return discs, rows.Err()
}

func buildVerdictWhere(f VerdictFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Valid != nil {
		clauses = append(clauses, "valid = ?")
		args = append(args, *f.Valid)
	}
	if f.From != nil {
		clauses = append(clauses, "verified_at >= ?")
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if f.To != nil {
		clauses = append(clauses, "verified_at <= ?")
		args = append(args, f.To.UTC().Format(timeLayout))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanVerdicts(rows *sql.Rows) ([]VerdictRecord, error) {
	var recs []VerdictRecord
	for rows.Next() {
		var rec VerdictRecord
		var verifiedAt string

		err := rows.Scan(
			&rec.ID, &rec.TransactionID, &rec.Valid, &rec.Currency,
			&rec.Payouts, &rec.DiscrepancyCount, &verifiedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.VerifiedAt, _ = time.Parse(time.RFC3339Nano, verifiedAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func nullableAmount(a domain.Amount) any {
	if !a.Valid() {
		return nil
	}
	return a.String()
}

func amountFromNull(s sql.NullString) domain.Amount {
	if !s.Valid {
		return domain.InvalidAmount()
	}
	return domain.ParseAmount(s.String)
}
