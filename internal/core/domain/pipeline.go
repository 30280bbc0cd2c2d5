package domain

import "time"

// AttachmentJob is one unit of batcher work: an eligible image attachment plus
// the sender it came from, for feedback replies and user scoping.
type AttachmentJob struct {
	Attachment Attachment
	Sender     string
}

// BatchResult aggregates job outcomes across all batches of one drain.
type BatchResult struct {
	Succeeded int
	Failed    int
	Skipped   int
}

// Merge folds another result into this one.
func (r *BatchResult) Merge(other BatchResult) {
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
	r.Skipped += other.Skipped
}

// ReceiptIngestedEvent is published for downstream consumers (dashboard,
// notifiers) after a transaction is inserted.
type ReceiptIngestedEvent struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Merchant      string    `json:"merchant"`
	Total         float64   `json:"total"`
	PurchasedAt   time.Time `json:"purchased_at"`
}
