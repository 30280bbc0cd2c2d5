package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/receipt-pipeline/internal/core/domain"
)

// MessageFilter narrows what the message source returns.
type MessageFilter struct {
	Sender string
	Since  time.Time
}

// MessageBatch is one page of messages from the source.
type MessageBatch struct {
	Messages    []domain.Message
	Total       int
	UnreadCount int
}

// MessageSource is the opaque connector that yields inbound messages and
// delivers outbound replies.
type MessageSource interface {
	GetMessages(ctx context.Context, filter MessageFilter) (MessageBatch, error)
	Send(ctx context.Context, recipient, text string) error
}

// ReceiptClassifier asks the vision collaborator whether an image is a
// legible, extractable receipt. Transport and parse failures surface as
// errors; mapping signals onto a verdict is domain logic.
type ReceiptClassifier interface {
	Classify(ctx context.Context, imagePath string) (domain.ReceiptSignals, error)
}

// ReceiptExtractor pulls a structured purchase record out of a valid receipt
// image.
type ReceiptExtractor interface {
	Extract(ctx context.Context, imagePath string) (*domain.PurchaseRecord, error)
}

// TransactionStore persists and reads transactions with their line items.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error
	FindReceiptTransactions(ctx context.Context, userID string, from, to time.Time) ([]domain.Transaction, error)
}

// ArtifactStorage keeps raw accepted receipt images.
type ArtifactStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// ProcessedLedger is the durable fingerprint set plus the coarser
// last-processed watermark.
type ProcessedLedger interface {
	IsKnown(fingerprint string) bool
	MarkKnown(fingerprint string, at time.Time) error
	LastProcessed() time.Time
	SetLastProcessed(t time.Time) error
	Flush() error
}

// EventPublisher emits pipeline events for downstream consumers.
type EventPublisher interface {
	PublishReceiptIngested(ctx context.Context, event domain.ReceiptIngestedEvent) error
}

// TextHandler receives message text bodies. Text processing is outside the
// pipeline; the default implementation only logs.
type TextHandler interface {
	HandleText(ctx context.Context, msg domain.Message) error
}
