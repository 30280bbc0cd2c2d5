package usecase

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/kirillkom/receipt-pipeline/internal/core/ports"
)

const (
	defaultDuplicateWindow = time.Hour
	defaultAmountTolerance = 0.50
)

// DuplicateDetector decides whether a freshly extracted purchase already
// exists in the store, so the same real-world purchase is not counted twice.
// A re-sent image lands with a slightly different extraction timestamp and
// rounding drift in totals, so an exact key would systematically miss; the
// detector widens to a time window plus an amount tolerance instead.
type DuplicateDetector struct {
	store     ports.TransactionStore
	log       *slog.Logger
	window    time.Duration
	tolerance float64
}

func NewDuplicateDetector(store ports.TransactionStore, log *slog.Logger) *DuplicateDetector {
	return &DuplicateDetector{
		store:     store,
		log:       log,
		window:    defaultDuplicateWindow,
		tolerance: defaultAmountTolerance,
	}
}

// FindDuplicate returns the ID of an existing receipt transaction that looks
// like the same purchase, or "" when the caller should insert. Store failures
// degrade to "no duplicate": inserting a possible double counts less than
// blocking ingestion on a transient store error.
func (d *DuplicateDetector) FindDuplicate(ctx context.Context, userID, merchant string, purchasedAt time.Time, total float64) string {
	from := purchasedAt.Add(-d.window)
	to := purchasedAt.Add(d.window)

	existing, err := d.store.FindReceiptTransactions(ctx, userID, from, to)
	if err != nil {
		d.log.Warn("duplicate check failed, treating as no duplicate",
			"user_id", userID,
			"merchant", merchant,
			"error", err,
		)
		return ""
	}

	want := strings.TrimSpace(merchant)
	for _, tx := range existing {
		if !strings.EqualFold(strings.TrimSpace(tx.Merchant), want) {
			continue
		}
		if math.Abs(tx.ItemsTotal()-total) <= d.tolerance {
			return tx.ID
		}
	}
	return ""
}
