package journal

import "time"

// CycleRecord captures one completed trading cycle for bookkeeping.
// Records are append-only; the bot never reads them back to resume a cycle.
type CycleRecord struct {
	CycleNumber   int       `json:"cycle_number"`
	Symbol        string    `json:"symbol"`
	ProfitUSDT    float64   `json:"profit_usdt"`
	UnsoldAsset   float64   `json:"unsold_asset"`
	FixingOrderID int64     `json:"fixing_order_id"`
	SellPrice     float64   `json:"sell_price"`
	NetQuantity   float64   `json:"net_quantity"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Journal defines the interface for the completed-cycle ledger.
// It abstracts the underlying storage mechanism (BadgerDB, in-memory)
// from the rest of the application.
type Journal interface {
	// Append durably stores one completed cycle record.
	Append(rec CycleRecord) error

	// List returns all stored records ordered by completion time.
	List() ([]CycleRecord, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
