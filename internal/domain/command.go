package domain

import "github.com/shopspring/decimal"

// Command is the closed union of user actions the engine applies. The
// original system dispatched on string type tags; here each variant is a
// struct and the engine's dispatcher switches exhaustively over the sealed
// set, so adding a variant without handling it fails compilation at the
// dispatch site (a default-case panic names the unhandled variant).
type Command interface {
	// CommandName is the stable name used in logs and queue payloads.
	CommandName() string

	isCommand()
}

// TransactionPatch is a partial update; nil fields are untouched.
type TransactionPatch struct {
	Amount     *decimal.Decimal
	Subtotal   *decimal.Decimal
	TaxRate    *string
	CategoryID *string
	ProjectID  *string
	Status     *TransactionStatus
}

// ItemPatch is a partial update; nil fields are untouched.
type ItemPatch struct {
	Name          *string
	PurchasePrice *decimal.Decimal
	ProjectPrice  *decimal.Decimal
	MarketValue   *decimal.Decimal
	CategoryID    *string
	Disposition   *Disposition
}

// CreateTransaction creates a transaction and, optionally, N child items
// linked to it. The parent is written and queued first, then each child;
// a failed child rolls the parent's queue entry back.
type CreateTransaction struct {
	Transaction *Transaction
	Items       []*Item
}

// UpdateTransaction applies a patch to an existing transaction.
type UpdateTransaction struct {
	TransactionID string
	Patch         TransactionPatch
}

// DeleteTransaction removes a transaction.
type DeleteTransaction struct {
	TransactionID string
}

// CreateItem creates a standalone item, optionally linked to a transaction.
type CreateItem struct {
	Item *Item
}

// UpdateItem applies a patch to an existing item.
type UpdateItem struct {
	ItemID string
	Patch  ItemPatch
}

// DeleteItem removes an item and unlinks it from its transaction.
type DeleteItem struct {
	ItemID string
}

// AllocateItem moves an inventory item into a project's canonical purchase
// transaction (INV_PURCHASE_<projectID>), creating it on first use.
type AllocateItem struct {
	ItemID    string
	ProjectID string
}

// SellItem moves an item into the project's canonical sale transaction,
// recording the prior purchase context so the sale can be reversed.
type SellItem struct {
	ItemID    string
	ProjectID string
}

// ReturnItem reverses a sale: the item is restored to its previous purchase
// context (PreviousProjectTransactionID / PreviousProjectID).
type ReturnItem struct {
	ItemID string
}

// MoveItem transfers an item between a project and business inventory (or
// between projects) via the canonical transfer transaction.
//
// KeepEmptyCanonical preserves a canonical transaction the move emptied
// instead of deleting it, retaining the row for lineage history.
type MoveItem struct {
	ItemID             string
	ToProjectID        string // empty = business inventory
	KeepEmptyCanonical bool
}

func (CreateTransaction) CommandName() string { return "create_transaction" }
func (UpdateTransaction) CommandName() string { return "update_transaction" }
func (DeleteTransaction) CommandName() string { return "delete_transaction" }
func (CreateItem) CommandName() string        { return "create_item" }
func (UpdateItem) CommandName() string        { return "update_item" }
func (DeleteItem) CommandName() string        { return "delete_item" }
func (AllocateItem) CommandName() string      { return "allocate_item" }
func (SellItem) CommandName() string          { return "sell_item" }
func (ReturnItem) CommandName() string        { return "return_item" }
func (MoveItem) CommandName() string          { return "move_item" }

func (CreateTransaction) isCommand() {}
func (UpdateTransaction) isCommand() {}
func (DeleteTransaction) isCommand() {}
func (CreateItem) isCommand()        {}
func (UpdateItem) isCommand()        {}
func (DeleteItem) isCommand()        {}
func (AllocateItem) isCommand()      {}
func (SellItem) isCommand()          {}
func (ReturnItem) isCommand()        {}
func (MoveItem) isCommand()          {}
