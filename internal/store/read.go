package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by Get* methods when no row exists. Callers branch
// with errors.Is; absence is a normal condition offline.
var ErrNotFound = errors.New("store: not found")

const transactionColumns = `id, account_id, amount, subtotal, tax_rate, item_ids,
	sum_item_purchase_prices, needs_review, version, project_id, category_id,
	status, date, updated_at`

// GetTransaction returns a cached transaction, resolving the ID through the
// remap table first so reads issued with an optimistic ID keep working after
// the executor confirms the create.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	id, err := s.ResolveID(ctx, id)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE id = ?
	`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return t, err
}

// ListTransactions returns all cached transactions for an account, ordered
// by ID for determinism.
func (s *Store) ListTransactions(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = ? ORDER BY id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListCanonicalTransactions returns the account's system-generated (INV_*)
// transactions, optionally scoped to one project.
func (s *Store) ListCanonicalTransactions(ctx context.Context, accountID, projectID string) ([]*domain.Transaction, error) {
	all, err := s.ListTransactions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var out []*domain.Transaction
	for _, t := range all {
		if !domain.IsCanonicalTransactionID(t.ID) {
			continue
		}
		if projectID != "" && domain.CanonicalProjectID(t.ID) != projectID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(r scanner) (*domain.Transaction, error) {
	var (
		t                           domain.Transaction
		amount, sum, dateS, updS    string
		subtotal                    sql.NullString
		itemIDs, status             string
		needsReview                 int
	)
	err := r.Scan(&t.ID, &t.AccountID, &amount, &subtotal, &t.TaxRate, &itemIDs,
		&sum, &needsReview, &t.Version, &t.ProjectID, &t.CategoryID,
		&status, &dateS, &updS)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = decDecimal(amount); err != nil {
		return nil, err
	}
	if subtotal.Valid {
		d, err := decDecimal(subtotal.String)
		if err != nil {
			return nil, err
		}
		t.Subtotal = &d
	}
	if t.SumItemPurchasePrices, err = decDecimal(sum); err != nil {
		return nil, err
	}
	if t.ItemIDs, err = decStrings(itemIDs); err != nil {
		return nil, err
	}
	t.NeedsReview = needsReview == 1
	t.Status = domain.TransactionStatus(status)
	if t.Date, err = decTime(dateS); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = decTime(updS); err != nil {
		return nil, err
	}
	return &t, nil
}

const itemColumns = `id, account_id, name, purchase_price, project_price,
	market_value, transaction_id, project_id, category_id, disposition,
	prev_project_transaction_id, prev_project_id, version, acquisition_date,
	updated_at`

// GetItem returns a cached item, resolving the ID through the remap table.
func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	id, err := s.ResolveID(ctx, id)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE id = ?
	`, id)
	i, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return i, err
}

// GetItems returns the cached items for the given IDs. Missing IDs are an
// error: the caller needs every price to produce a trustworthy total.
func (s *Store) GetItems(ctx context.Context, ids []string) ([]*domain.Item, error) {
	items := make([]*domain.Item, 0, len(ids))
	for _, id := range ids {
		i, err := s.GetItem(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, nil
}

// ListItems returns all cached items for an account.
func (s *Store) ListItems(ctx context.Context, accountID string) ([]*domain.Item, error) {
	return s.queryItems(ctx, `WHERE account_id = ?`, accountID)
}

// ItemsByTransaction returns items whose current link is the transaction.
func (s *Store) ItemsByTransaction(ctx context.Context, transactionID string) ([]*domain.Item, error) {
	return s.queryItems(ctx, `WHERE transaction_id = ?`, transactionID)
}

func (s *Store) queryItems(ctx context.Context, where string, args ...any) ([]*domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items `+where+` ORDER BY id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []*domain.Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func scanItem(r scanner) (*domain.Item, error) {
	var (
		i                      domain.Item
		purchase, project, mkt string
		disp, acqS, updS       string
	)
	err := r.Scan(&i.ID, &i.AccountID, &i.Name, &purchase, &project, &mkt,
		&i.TransactionID, &i.ProjectID, &i.CategoryID, &disp,
		&i.PreviousProjectTransactionID, &i.PreviousProjectID, &i.Version,
		&acqS, &updS)
	if err != nil {
		return nil, err
	}
	if i.PurchasePrice, err = decDecimal(purchase); err != nil {
		return nil, err
	}
	if i.ProjectPrice, err = decDecimal(project); err != nil {
		return nil, err
	}
	if i.MarketValue, err = decDecimal(mkt); err != nil {
		return nil, err
	}
	i.Disposition = domain.Disposition(disp)
	if i.AcquisitionDate, err = decTime(acqS); err != nil {
		return nil, err
	}
	if i.UpdatedAt, err = decTime(updS); err != nil {
		return nil, err
	}
	return &i, nil
}

// GetProject returns a cached project.
func (s *Store) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	var (
		p    domain.Project
		updS string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, status, updated_at FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.AccountID, &p.Name, &p.Status, &updS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	if p.UpdatedAt, err = decTime(updS); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetCategory returns a cached budget category.
func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var (
		c    domain.Category
		disabled int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, itemization_disabled FROM categories WHERE id = ?
	`, id).Scan(&c.ID, &c.AccountID, &c.Name, &disabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get category %s: %w", id, err)
	}
	c.ItemizationDisabled = disabled == 1
	return &c, nil
}

// GetTaxPreset resolves a named tax rate.
func (s *Store) GetTaxPreset(ctx context.Context, name string) (*domain.TaxPreset, error) {
	var (
		p    domain.TaxPreset
		rate string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, rate_percent FROM tax_presets WHERE name = ?
	`, name).Scan(&p.Name, &rate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tax preset %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tax preset %s: %w", name, err)
	}
	if p.RatePercent, err = decDecimal(rate); err != nil {
		return nil, err
	}
	return &p, nil
}

// ResolveTaxRate turns a transaction's TaxRate field (a percentage literal
// or a preset name) into a rate. Unknown presets fail with ErrNotFound.
func (s *Store) ResolveTaxRate(ctx context.Context, taxRate string) (decimal.Decimal, error) {
	if taxRate == "" {
		return decimal.Zero, nil
	}
	if strings.IndexFunc(taxRate, func(r rune) bool { return (r < '0' || r > '9') && r != '.' && r != '-' }) == -1 {
		return decDecimal(taxRate)
	}
	p, err := s.GetTaxPreset(ctx, taxRate)
	if err != nil {
		return decimal.Zero, err
	}
	return p.RatePercent, nil
}
