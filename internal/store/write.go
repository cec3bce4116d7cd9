package store

import (
	"context"
	"fmt"

	"github.com/keeperhq/keeper/internal/domain"
)

// PutTransaction inserts or replaces a transaction in the local cache.
func (s *Store) PutTransaction(ctx context.Context, t *domain.Transaction) error {
	itemIDs, err := encStrings(t.ItemIDs)
	if err != nil {
		return fmt.Errorf("put transaction %s: %w", t.ID, err)
	}
	var subtotal any
	if t.Subtotal != nil {
		subtotal = encDecimal(*t.Subtotal)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO transactions
		(id, account_id, amount, subtotal, tax_rate, item_ids,
		 sum_item_purchase_prices, needs_review, version, project_id,
		 category_id, status, date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.AccountID, encDecimal(t.Amount), subtotal, t.TaxRate, itemIDs,
		encDecimal(t.SumItemPurchasePrices), encBool(t.NeedsReview), t.Version,
		t.ProjectID, t.CategoryID, string(t.Status), encTime(t.Date), encTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put transaction %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTransaction removes a transaction from the local cache.
func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	return nil
}

// PutItem inserts or replaces an item in the local cache.
func (s *Store) PutItem(ctx context.Context, i *domain.Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO items
		(id, account_id, name, purchase_price, project_price, market_value,
		 transaction_id, project_id, category_id, disposition,
		 prev_project_transaction_id, prev_project_id, version,
		 acquisition_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		i.ID, i.AccountID, i.Name, encDecimal(i.PurchasePrice),
		encDecimal(i.ProjectPrice), encDecimal(i.MarketValue),
		i.TransactionID, i.ProjectID, i.CategoryID, string(i.Disposition),
		i.PreviousProjectTransactionID, i.PreviousProjectID, i.Version,
		encTime(i.AcquisitionDate), encTime(i.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put item %s: %w", i.ID, err)
	}
	return nil
}

// DeleteItem removes an item from the local cache.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	return nil
}

// PutProject inserts or replaces a project.
func (s *Store) PutProject(ctx context.Context, p *domain.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO projects (id, account_id, name, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.AccountID, p.Name, p.Status, encTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put project %s: %w", p.ID, err)
	}
	return nil
}

// PutCategory inserts or replaces a budget category.
func (s *Store) PutCategory(ctx context.Context, c *domain.Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO categories (id, account_id, name, itemization_disabled)
		VALUES (?, ?, ?, ?)
	`, c.ID, c.AccountID, c.Name, encBool(c.ItemizationDisabled))
	if err != nil {
		return fmt.Errorf("put category %s: %w", c.ID, err)
	}
	return nil
}

// PutTaxPreset inserts or replaces a named tax preset.
func (s *Store) PutTaxPreset(ctx context.Context, p *domain.TaxPreset) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tax_presets (name, rate_percent)
		VALUES (?, ?)
	`, p.Name, encDecimal(p.RatePercent))
	if err != nil {
		return fmt.Errorf("put tax preset %s: %w", p.Name, err)
	}
	return nil
}
