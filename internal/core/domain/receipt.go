package domain

import "time"

// SourceReceipt is the provenance tag for transactions created by this
// pipeline. Duplicate search is scoped to this provenance only, so records
// from unrelated import paths are never matched against.
const SourceReceipt = "receipt"

type LineItem struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
}

// PurchaseRecord is the structured output of receipt extraction.
type PurchaseRecord struct {
	Merchant    string     `json:"merchant"`
	Location    string     `json:"location,omitempty"`
	Items       []LineItem `json:"items"`
	Subtotal    float64    `json:"subtotal"`
	Tax         float64    `json:"tax"`
	Tip         float64    `json:"tip"`
	Total       float64    `json:"total"`
	PurchasedAt time.Time  `json:"purchased_at"`
}

// Transaction is the persisted form of a purchase record.
type Transaction struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Merchant    string     `json:"merchant"`
	Location    string     `json:"location,omitempty"`
	Subtotal    float64    `json:"subtotal"`
	Tax         float64    `json:"tax"`
	Tip         float64    `json:"tip"`
	Total       float64    `json:"total"`
	PurchasedAt time.Time  `json:"purchased_at"`
	Source      string     `json:"source"`
	RawKey      string     `json:"raw_key,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Items       []LineItem `json:"items,omitempty"`
}

// ItemsTotal recomputes the transaction total from persisted line items plus
// tax and tip. Duplicate detection compares against this instead of the
// stored total column so rounding drift in the column cannot mask a match.
func (t Transaction) ItemsTotal() float64 {
	sum := 0.0
	for _, item := range t.Items {
		sum += item.LineTotal
	}
	return sum + t.Tax + t.Tip
}
