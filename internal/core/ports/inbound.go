package ports

import (
	"context"
	"time"

	"github.com/kirillkom/receipt-pipeline/internal/core/domain"
)

// AttachmentBatcher is the inbound contract for batched attachment
// processing. Run never fails as a whole; per-job outcomes are aggregated.
type AttachmentBatcher interface {
	Run(ctx context.Context, jobs []domain.AttachmentJob) domain.BatchResult
}

// DuplicateFinder decides whether an equivalent purchase already exists.
// Returns the existing transaction ID, or "" when the caller should insert.
type DuplicateFinder interface {
	FindDuplicate(ctx context.Context, userID, merchant string, purchasedAt time.Time, total float64) string
}

// ReceiptWatcher is the top-level driver loop.
type ReceiptWatcher interface {
	Run(ctx context.Context) error
}
