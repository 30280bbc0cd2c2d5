package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/receipt-pipeline/internal/core/domain"
	"github.com/kirillkom/receipt-pipeline/internal/core/ports"
	"github.com/kirillkom/receipt-pipeline/internal/fingerprint"
)

// BatchMetrics is implemented by the observability layer. A nil metrics
// dependency is replaced with a no-op.
type BatchMetrics interface {
	JobStarted()
	JobFinished(verdict string, duration time.Duration)
	BatchObserved(jobs int, duration time.Duration)
	DuplicateDetected()
}

type IngestBatchConfig struct {
	// MaxInFlight caps how many attachment jobs run concurrently within one
	// batch. Defaults to 5.
	MaxInFlight int
	// AutoExtract controls whether valid receipts proceed to extraction and
	// persistence, or stop after the raw artifact is stored.
	AutoExtract bool
}

// IngestBatchUseCase drains attachment jobs in consecutive batches no larger
// than the concurrency cap. Every job of a batch settles before the next
// batch starts, and one job's failure never blocks its siblings.
type IngestBatchUseCase struct {
	ledger     ports.ProcessedLedger
	classifier ports.ReceiptClassifier
	extractor  ports.ReceiptExtractor
	artifacts  ports.ArtifactStorage
	store      ports.TransactionStore
	dupes      ports.DuplicateFinder
	source     ports.MessageSource
	events     ports.EventPublisher
	metrics    BatchMetrics
	log        *slog.Logger
	cfg        IngestBatchConfig
}

func NewIngestBatchUseCase(
	ledger ports.ProcessedLedger,
	classifier ports.ReceiptClassifier,
	extractor ports.ReceiptExtractor,
	artifacts ports.ArtifactStorage,
	store ports.TransactionStore,
	dupes ports.DuplicateFinder,
	source ports.MessageSource,
	events ports.EventPublisher,
	metrics BatchMetrics,
	log *slog.Logger,
	cfg IngestBatchConfig,
) *IngestBatchUseCase {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 5
	}
	if metrics == nil {
		metrics = nopBatchMetrics{}
	}
	return &IngestBatchUseCase{
		ledger:     ledger,
		classifier: classifier,
		extractor:  extractor,
		artifacts:  artifacts,
		store:      store,
		dupes:      dupes,
		source:     source,
		events:     events,
		metrics:    metrics,
		log:        log,
		cfg:        cfg,
	}
}

// Run processes the job list in consecutive batches of at most MaxInFlight.
// Cancellation stops new batches from starting; jobs already in flight finish
// so no partial write is left behind.
func (u *IngestBatchUseCase) Run(ctx context.Context, jobs []domain.AttachmentJob) domain.BatchResult {
	var result domain.BatchResult

	for start := 0; start < len(jobs); start += u.cfg.MaxInFlight {
		if ctx.Err() != nil {
			u.log.Info("batch run interrupted, remaining jobs deferred to next drain",
				"remaining", len(jobs)-start)
			break
		}

		end := start + u.cfg.MaxInFlight
		if end > len(jobs) {
			end = len(jobs)
		}
		result.Merge(u.runBatch(ctx, jobs[start:end]))
	}

	return result
}

func (u *IngestBatchUseCase) runBatch(ctx context.Context, batch []domain.AttachmentJob) domain.BatchResult {
	started := time.Now()
	outcomes := make([]error, len(batch))

	// In-flight jobs are allowed to finish even when ctx is cancelled, to
	// avoid partial writes mid-job.
	jobCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u.metrics.JobStarted()
			jobStarted := time.Now()
			verdict, err := u.processOne(jobCtx, batch[i])
			u.metrics.JobFinished(string(verdict), time.Since(jobStarted))
			outcomes[i] = err
		}(i)
	}
	wg.Wait()

	var result domain.BatchResult
	for i, err := range outcomes {
		switch {
		case err == nil:
			result.Succeeded++
		case domain.IsKind(err, domain.ErrSkipped):
			result.Skipped++
		default:
			result.Failed++
			u.log.Warn("attachment job failed",
				"path", batch[i].Attachment.Path,
				"sender", batch[i].Sender,
				"error", err,
			)
		}
	}
	u.metrics.BatchObserved(len(batch), time.Since(started))
	return result
}

// processOne runs the fixed per-job sequence: dedup skip, classify, persist
// raw artifact, mark processed, extract, duplicate-check, insert, notify.
// Marking happens before extraction so a crash mid-extraction cannot cause
// the attachment to be reprocessed on restart; at most that one extraction is
// lost.
func (u *IngestBatchUseCase) processOne(ctx context.Context, job domain.AttachmentJob) (domain.Verdict, error) {
	att := job.Attachment

	fp := fingerprint.Attachment(att, att.MessageID)
	if u.ledger.IsKnown(fp) {
		return "", domain.WrapError(domain.ErrSkipped, "attachment", errors.New("fingerprint already in ledger"))
	}

	key := artifactKey(att)
	if exists, err := u.artifacts.Exists(ctx, key); err == nil && exists {
		return "", domain.WrapError(domain.ErrSkipped, "attachment", errors.New("artifact already stored"))
	}

	verdict, reason := u.classify(ctx, att.Path)
	if verdict != domain.VerdictValid {
		u.notify(ctx, job.Sender, feedbackFor(verdict, reason))
		u.markProcessed(fp)
		return verdict, domain.WrapError(domain.ErrRejected, "validate attachment",
			fmt.Errorf("verdict %s: %s", verdict, reason))
	}

	if err := u.persistRaw(ctx, att, key); err != nil {
		return verdict, fmt.Errorf("persist raw artifact: %w", err)
	}
	u.markProcessed(fp)

	if !u.cfg.AutoExtract {
		u.notify(ctx, job.Sender, "Got your receipt! It's saved and ready whenever you want to review it.")
		return verdict, nil
	}

	record, err := u.extractor.Extract(ctx, att.Path)
	if err != nil {
		u.notify(ctx, job.Sender, feedbackFor(domain.VerdictUnreadable, ""))
		return verdict, fmt.Errorf("extract receipt: %w", err)
	}

	userID := job.Sender
	if dupID := u.dupes.FindDuplicate(ctx, userID, record.Merchant, record.PurchasedAt, record.Total); dupID != "" {
		u.metrics.DuplicateDetected()
		u.log.Info("duplicate purchase detected, skipping insert",
			"user_id", userID,
			"merchant", record.Merchant,
			"existing_id", dupID,
		)
		u.notify(ctx, job.Sender,
			fmt.Sprintf("Looks like the %s receipt is already recorded, so I skipped it.", record.Merchant))
		return verdict, nil
	}

	tx := transactionFrom(userID, key, record)
	if err := u.store.InsertTransaction(ctx, tx); err != nil {
		return verdict, fmt.Errorf("insert transaction: %w", err)
	}

	u.publish(ctx, tx)
	u.notify(ctx, job.Sender,
		fmt.Sprintf("Recorded your %s receipt: $%.2f.", record.Merchant, record.Total))
	return verdict, nil
}

// classify wraps the vision call and folds transport or parse failures into
// the error verdict.
func (u *IngestBatchUseCase) classify(ctx context.Context, imagePath string) (domain.Verdict, string) {
	signals, err := u.classifier.Classify(ctx, imagePath)
	if err != nil {
		u.log.Warn("classifier call failed", "path", imagePath, "error", err)
		return domain.VerdictError, ""
	}
	return domain.VerdictFor(signals), signals.Reason
}

func (u *IngestBatchUseCase) persistRaw(ctx context.Context, att domain.Attachment, key string) error {
	src, err := os.Open(att.Path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer src.Close()
	return u.artifacts.Save(ctx, key, src)
}

// markProcessed records the fingerprint; a persist failure degrades restart
// safety but never fails the job, since in-memory state stays authoritative.
func (u *IngestBatchUseCase) markProcessed(fp string) {
	if err := u.ledger.MarkKnown(fp, time.Now().UTC()); err != nil {
		u.log.Warn("ledger mark failed", "fingerprint", fp, "error", err)
	}
}

// notify sends feedback to the origin sender. Best effort: a delivery failure
// never changes the job's outcome.
func (u *IngestBatchUseCase) notify(ctx context.Context, recipient, text string) {
	if recipient == "" {
		return
	}
	if err := u.source.Send(ctx, recipient, text); err != nil {
		u.log.Warn("sender notification failed", "recipient", recipient, "error", err)
	}
}

// publish emits the ingestion event. Best effort, same as notify.
func (u *IngestBatchUseCase) publish(ctx context.Context, tx *domain.Transaction) {
	if u.events == nil {
		return
	}
	event := domain.ReceiptIngestedEvent{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Merchant:      tx.Merchant,
		Total:         tx.Total,
		PurchasedAt:   tx.PurchasedAt,
	}
	if err := u.events.PublishReceiptIngested(ctx, event); err != nil {
		u.log.Warn("ingestion event publish failed", "transaction_id", tx.ID, "error", err)
	}
}

func transactionFrom(userID, rawKey string, record *domain.PurchaseRecord) *domain.Transaction {
	return &domain.Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Merchant:    record.Merchant,
		Location:    record.Location,
		Subtotal:    record.Subtotal,
		Tax:         record.Tax,
		Tip:         record.Tip,
		Total:       record.Total,
		PurchasedAt: record.PurchasedAt,
		Source:      domain.SourceReceipt,
		RawKey:      rawKey,
		CreatedAt:   time.Now().UTC(),
		Items:       record.Items,
	}
}

func artifactKey(att domain.Attachment) string {
	base := filepath.Base(att.Path)
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		base = "attachment.bin"
	}
	return fmt.Sprintf("%s_%s", att.MessageID, base)
}

func feedbackFor(verdict domain.Verdict, reason string) string {
	switch verdict {
	case domain.VerdictNotReceipt:
		return "That image doesn't look like a receipt, so I didn't record it."
	case domain.VerdictBlurry:
		return "That receipt photo is too blurry to read. Could you retake it and send it again?"
	case domain.VerdictUnreadable:
		if reason != "" {
			return fmt.Sprintf("I couldn't pull the details off that receipt (%s). A clearer photo would help.", reason)
		}
		return "I couldn't pull the details off that receipt. A clearer photo would help."
	default:
		return "I couldn't read that receipt. Please try sending it again."
	}
}

type nopBatchMetrics struct{}

func (nopBatchMetrics) JobStarted()                       {}
func (nopBatchMetrics) JobFinished(string, time.Duration) {}
func (nopBatchMetrics) BatchObserved(int, time.Duration)  {}
func (nopBatchMetrics) DuplicateDetected()                {}
