package usecase

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/receipt-pipeline/internal/core/domain"
	"github.com/kirillkom/receipt-pipeline/internal/core/ports"
	"github.com/kirillkom/receipt-pipeline/internal/fingerprint"
)

// WatchState is the loop's current phase.
type WatchState string

const (
	StateIdle     WatchState = "idle"
	StatePolling  WatchState = "polling"
	StateDraining WatchState = "draining"
	StateStopped  WatchState = "stopped"
)

// WatchMetrics is implemented by the observability layer.
type WatchMetrics interface {
	PollObserved(outcome string)
	MessageObserved(outcome string)
}

type WatchConfig struct {
	// SenderFilter, when non-empty, restricts polling to one sender.
	SenderFilter string
	// PollInterval is the wait between ticks. Defaults to 2 seconds.
	PollInterval time.Duration
	// Continuous keeps polling until cancelled; false runs a single tick.
	Continuous bool
}

// WatchLoopUseCase drives the pipeline: poll the message source, filter
// already-seen messages, hand image attachments to the batcher, advance the
// ledger. The timer is re-armed only after a drain completes, so ticks never
// overlap and never queue.
type WatchLoopUseCase struct {
	source  ports.MessageSource
	ledger  ports.ProcessedLedger
	batcher ports.AttachmentBatcher
	text    ports.TextHandler
	metrics WatchMetrics
	log     *slog.Logger
	cfg     WatchConfig

	mu    sync.Mutex
	state WatchState
}

func NewWatchLoopUseCase(
	source ports.MessageSource,
	ledger ports.ProcessedLedger,
	batcher ports.AttachmentBatcher,
	text ports.TextHandler,
	metrics WatchMetrics,
	log *slog.Logger,
	cfg WatchConfig,
) *WatchLoopUseCase {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if metrics == nil {
		metrics = nopWatchMetrics{}
	}
	return &WatchLoopUseCase{
		source:  source,
		ledger:  ledger,
		batcher: batcher,
		text:    text,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
		state:   StateIdle,
	}
}

// Run blocks until ctx is cancelled (continuous mode) or one tick completes
// (one-shot mode). The ledger is flushed before returning so restart safety
// does not depend on the last synchronous save having succeeded.
func (w *WatchLoopUseCase) Run(ctx context.Context) error {
	defer func() {
		w.setState(StateStopped)
		if err := w.ledger.Flush(); err != nil {
			w.log.Error("ledger flush on shutdown failed", "error", err)
		}
	}()

	if !w.cfg.Continuous {
		w.tick(ctx)
		return nil
	}

	w.log.Info("watch loop started", "poll_interval", w.cfg.PollInterval, "sender_filter", w.cfg.SenderFilter)
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watch loop stopping")
			return nil
		case <-timer.C:
			w.tick(ctx)
			// Re-arm only after the drain settles: a slow drain delays the
			// next tick instead of stacking up behind it.
			timer.Reset(w.cfg.PollInterval)
		}
	}
}

// State reports the loop's current phase.
func (w *WatchLoopUseCase) State() WatchState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *WatchLoopUseCase) setState(s WatchState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *WatchLoopUseCase) tick(ctx context.Context) {
	w.setState(StatePolling)
	defer w.setState(StateIdle)

	batch, err := w.source.GetMessages(ctx, ports.MessageFilter{
		Sender: w.cfg.SenderFilter,
		Since:  w.ledger.LastProcessed(),
	})
	if err != nil {
		// Transient by assumption; the next tick retries naturally.
		w.metrics.PollObserved("error")
		w.log.Warn("poll failed, retrying next tick", "error", err)
		return
	}
	w.metrics.PollObserved("ok")

	if len(batch.Messages) == 0 {
		return
	}

	w.setState(StateDraining)
	messages := append([]domain.Message(nil), batch.Messages...)
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})

	for _, msg := range messages {
		if ctx.Err() != nil {
			return
		}
		w.drainMessage(ctx, msg)
	}
}

func (w *WatchLoopUseCase) drainMessage(ctx context.Context, msg domain.Message) {
	if msg.FromSelf {
		w.metrics.MessageObserved("from_self")
		return
	}
	if !msg.Timestamp.After(w.ledger.LastProcessed()) {
		w.metrics.MessageObserved("stale")
		return
	}

	fp := fingerprint.Message(msg)
	if w.ledger.IsKnown(fp) {
		w.metrics.MessageObserved("known")
		return
	}

	if strings.TrimSpace(msg.Text) != "" {
		if err := w.text.HandleText(ctx, msg); err != nil {
			w.log.Warn("text handler failed", "message_id", msg.ID, "error", err)
		}
	}

	if jobs := imageJobs(msg); len(jobs) > 0 {
		result := w.batcher.Run(ctx, jobs)
		w.log.Info("message attachments drained",
			"message_id", msg.ID,
			"sender", msg.Sender,
			"succeeded", result.Succeeded,
			"failed", result.Failed,
			"skipped", result.Skipped,
		)
	}

	if err := w.ledger.MarkKnown(fp, time.Now().UTC()); err != nil {
		w.log.Warn("message mark failed", "message_id", msg.ID, "error", err)
	}
	if err := w.ledger.SetLastProcessed(msg.Timestamp); err != nil {
		w.log.Warn("last-processed advance failed", "message_id", msg.ID, "error", err)
	}
	w.metrics.MessageObserved("processed")
}

func imageJobs(msg domain.Message) []domain.AttachmentJob {
	var jobs []domain.AttachmentJob
	for _, att := range msg.Attachments {
		if !att.IsImage() {
			continue
		}
		if att.MessageID == "" {
			att.MessageID = msg.ID
		}
		jobs = append(jobs, domain.AttachmentJob{Attachment: att, Sender: msg.Sender})
	}
	return jobs
}

type nopWatchMetrics struct{}

func (nopWatchMetrics) PollObserved(string)    {}
func (nopWatchMetrics) MessageObserved(string) {}
