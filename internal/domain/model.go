package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies which local-store table an entity lives in.
type EntityType string

const (
	EntityTransaction EntityType = "transaction"
	EntityItem        EntityType = "item"
	EntityProject     EntityType = "project"
	EntityCategory    EntityType = "category"
	EntityTaxPreset   EntityType = "tax_preset"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionActive TransactionStatus = "active"
	TransactionVoid   TransactionStatus = "void"
)

// Transaction is a financial record. Its ID is backend-assigned,
// client-optimistic ("T-...") or canonical ("INV_PURCHASE_<projectID>" etc.).
//
// Canonical transactions are system-generated: their Amount is always a
// function of their linked items' prices (plus items moved out via lineage)
// and is healed by the reconciler when it drifts. Non-canonical amounts are
// user-authored and must never be rewritten by item mutations.
type Transaction struct {
	ID        string
	AccountID string

	Amount   decimal.Decimal
	Subtotal *decimal.Decimal // optional, user-entered
	TaxRate  string           // percentage ("8.25") or named preset ("standard")

	// ItemIDs is the ordered set of currently linked items. Historical
	// associations live in the lineage ledger, never here.
	ItemIDs []string

	// SumItemPurchasePrices is derived; excluded from conflict detection.
	SumItemPurchasePrices decimal.Decimal

	// NeedsReview is derived by the review-flag coalescer.
	NeedsReview bool

	// Version is the optimistic-concurrency counter, incremented by the
	// backend on every accepted write.
	Version int64

	// ProjectID is empty for business inventory.
	ProjectID string

	CategoryID string
	Status     TransactionStatus
	Date       time.Time
	UpdatedAt  time.Time
}

// Clone returns a deep copy. The engine hands copies across component
// boundaries so an optimistic write can be rolled back byte-for-byte.
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.ItemIDs = append([]string(nil), t.ItemIDs...)
	if t.Subtotal != nil {
		s := *t.Subtotal
		c.Subtotal = &s
	}
	return &c
}

// LinksItem reports whether itemID is currently linked.
func (t *Transaction) LinksItem(itemID string) bool {
	for _, id := range t.ItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// Disposition describes where an item currently sits in its lifecycle.
type Disposition string

const (
	DispositionPurchased Disposition = "purchased"
	DispositionInventory Disposition = "inventory"
	DispositionReturned  Disposition = "returned"
	DispositionSold      Disposition = "sold"
	DispositionUsed      Disposition = "used"
)

// Item is a tracked inventory item. An item has at most one current
// transaction link; prior links are recoverable only through lineage edges.
type Item struct {
	ID        string
	AccountID string
	Name      string

	PurchasePrice decimal.Decimal
	ProjectPrice  decimal.Decimal
	MarketValue   decimal.Decimal

	// TransactionID is the single current link, empty when unlinked.
	TransactionID string
	ProjectID     string
	CategoryID    string

	Disposition Disposition

	// PreviousProjectTransactionID / PreviousProjectID restore the item's
	// prior purchase context when a sale is reversed. Legacy-compat fields;
	// the lineage ledger is the authoritative history.
	PreviousProjectTransactionID string
	PreviousProjectID            string

	Version         int64
	AcquisitionDate time.Time
	UpdatedAt       time.Time
}

// Clone returns a copy of the item.
func (i *Item) Clone() *Item {
	c := *i
	return &c
}

// EffectivePrice returns the price used for canonical totals: project price,
// then purchase price, then market value, defaulting to zero.
func (i *Item) EffectivePrice() decimal.Decimal {
	switch {
	case i.ProjectPrice.IsPositive():
		return i.ProjectPrice
	case i.PurchasePrice.IsPositive():
		return i.PurchasePrice
	case i.MarketValue.IsPositive():
		return i.MarketValue
	default:
		return decimal.Zero
	}
}

// Project groups items and transactions. An empty project reference on an
// entity means business inventory.
type Project struct {
	ID        string
	AccountID string
	Name      string
	Status    string
	UpdatedAt time.Time
}

// Category is a budget category. Commands referencing a category that is not
// cached locally are rejected offline (MissingOfflinePrerequisiteError).
type Category struct {
	ID        string
	AccountID string
	Name      string

	// ItemizationDisabled forces needsReview=false without computing
	// completeness.
	ItemizationDisabled bool
}

// TaxPreset is a named tax rate ("standard" -> 8.25).
type TaxPreset struct {
	Name        string
	RatePercent decimal.Decimal
}
