package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/keeperhq/keeper/internal/domain"
	"github.com/keeperhq/keeper/internal/remote"
)

// Conversions between domain entities and the backend's row representation.
// Rows cross a JSON boundary, so decoding tolerates the usual erosion:
// numbers arrive as float64 or string, booleans as bool or 0/1, string sets
// as []any.

func transactionRow(t *domain.Transaction) remote.Row {
	itemIDs := make([]any, len(t.ItemIDs))
	for i, id := range t.ItemIDs {
		itemIDs[i] = id
	}
	row := remote.Row{
		"id":                       t.ID,
		"account_id":               t.AccountID,
		"amount":                   t.Amount.String(),
		"tax_rate":                 t.TaxRate,
		"item_ids":                 itemIDs,
		"sum_item_purchase_prices": t.SumItemPurchasePrices.String(),
		"needs_review":             t.NeedsReview,
		"version":                  t.Version,
		"project_id":               t.ProjectID,
		"category_id":              t.CategoryID,
		"status":                   string(t.Status),
		"date":                     encRowTime(t.Date),
	}
	if t.Subtotal != nil {
		row["subtotal"] = t.Subtotal.String()
	}
	return row
}

func transactionFromRow(row remote.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{
		ID:         rowString(row, "id"),
		AccountID:  rowString(row, "account_id"),
		TaxRate:    rowString(row, "tax_rate"),
		ProjectID:  rowString(row, "project_id"),
		CategoryID: rowString(row, "category_id"),
		Status:     domain.TransactionStatus(rowString(row, "status")),
	}
	var err error
	if t.Amount, err = rowDecimal(row, "amount"); err != nil {
		return nil, err
	}
	if _, ok := row["subtotal"]; ok {
		d, err := rowDecimal(row, "subtotal")
		if err != nil {
			return nil, err
		}
		t.Subtotal = &d
	}
	if t.SumItemPurchasePrices, err = rowDecimal(row, "sum_item_purchase_prices"); err != nil {
		return nil, err
	}
	t.ItemIDs = rowStrings(row, "item_ids")
	t.NeedsReview = rowBool(row, "needs_review")
	t.Version = rowInt(row, "version")
	if t.Date, err = rowTime(row, "date"); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = rowTime(row, "updated_at"); err != nil {
		return nil, err
	}
	return t, nil
}

func itemRow(i *domain.Item) remote.Row {
	return remote.Row{
		"id":                          i.ID,
		"account_id":                  i.AccountID,
		"name":                        i.Name,
		"purchase_price":              i.PurchasePrice.String(),
		"project_price":               i.ProjectPrice.String(),
		"market_value":                i.MarketValue.String(),
		"transaction_id":              i.TransactionID,
		"project_id":                  i.ProjectID,
		"category_id":                 i.CategoryID,
		"disposition":                 string(i.Disposition),
		"prev_project_transaction_id": i.PreviousProjectTransactionID,
		"prev_project_id":             i.PreviousProjectID,
		"version":                     i.Version,
		"acquisition_date":            encRowTime(i.AcquisitionDate),
	}
}

func itemFromRow(row remote.Row) (*domain.Item, error) {
	i := &domain.Item{
		ID:                           rowString(row, "id"),
		AccountID:                    rowString(row, "account_id"),
		Name:                         rowString(row, "name"),
		TransactionID:                rowString(row, "transaction_id"),
		ProjectID:                    rowString(row, "project_id"),
		CategoryID:                   rowString(row, "category_id"),
		Disposition:                  domain.Disposition(rowString(row, "disposition")),
		PreviousProjectTransactionID: rowString(row, "prev_project_transaction_id"),
		PreviousProjectID:            rowString(row, "prev_project_id"),
	}
	var err error
	if i.PurchasePrice, err = rowDecimal(row, "purchase_price"); err != nil {
		return nil, err
	}
	if i.ProjectPrice, err = rowDecimal(row, "project_price"); err != nil {
		return nil, err
	}
	if i.MarketValue, err = rowDecimal(row, "market_value"); err != nil {
		return nil, err
	}
	i.Version = rowInt(row, "version")
	if i.AcquisitionDate, err = rowTime(row, "acquisition_date"); err != nil {
		return nil, err
	}
	if i.UpdatedAt, err = rowTime(row, "updated_at"); err != nil {
		return nil, err
	}
	return i, nil
}

func rowString(row remote.Row, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func rowDecimal(row remote.Row, key string) (decimal.Decimal, error) {
	v, ok := row[key]
	if !ok || v == nil {
		return decimal.Zero, nil
	}
	switch x := v.(type) {
	case string:
		if x == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.Zero, fmt.Errorf("row field %s: %w", key, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	default:
		return decimal.Zero, fmt.Errorf("row field %s: unexpected type %T", key, v)
	}
}

func rowInt(row remote.Row, key string) int64 {
	switch x := row[key].(type) {
	case float64:
		return int64(x)
	case int64:
		return x
	case int:
		return int64(x)
	default:
		return 0
	}
}

func rowBool(row remote.Row, key string) bool {
	switch x := row[key].(type) {
	case bool:
		return x
	case float64:
		return x != 0
	default:
		return false
	}
}

func rowStrings(row remote.Row, key string) []string {
	out := []string{}
	switch x := row[key].(type) {
	case []any:
		for _, v := range x {
			out = append(out, fmt.Sprint(v))
		}
	case []string:
		out = append(out, x...)
	}
	return out
}

func rowTime(row remote.Row, key string) (time.Time, error) {
	s := rowString(row, key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("row field %s: %w", key, err)
	}
	return t, nil
}

func encRowTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
