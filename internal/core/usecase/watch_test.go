package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/receipt-pipeline/internal/core/domain"
	"github.com/kirillkom/receipt-pipeline/internal/core/ports"
	"github.com/kirillkom/receipt-pipeline/internal/fingerprint"
)

func newWatchFixture() (*fakeSource, *fakeLedger, *fakeBatcher, *fakeText) {
	return &fakeSource{}, newFakeLedger(), &fakeBatcher{}, &fakeText{}
}

func buildWatcher(t *testing.T, source *fakeSource, ledger *fakeLedger, batcher *fakeBatcher, text *fakeText, cfg WatchConfig) *WatchLoopUseCase {
	t.Helper()
	return NewWatchLoopUseCase(source, ledger, batcher, text, nil, testLogger(t), cfg)
}

func messageWithImage(id, sender string, ts time.Time) domain.Message {
	return domain.Message{
		ID:        id,
		Sender:    sender,
		Timestamp: ts,
		Attachments: []domain.Attachment{
			{Path: "/library/attachments/" + id + ".jpg", MimeType: "image/jpeg"},
		},
	}
}

func TestOneShotTickDrainsNewMessages(t *testing.T) {
	source, ledger, batcher, text := newWatchFixture()
	now := time.Now().UTC()
	msg := messageWithImage("msg-1", "+15550001111", now)
	source.batches = []ports.MessageBatch{{Messages: []domain.Message{msg}, Total: 1}}

	w := buildWatcher(t, source, ledger, batcher, text, WatchConfig{Continuous: false})
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if batcher.runCount() != 1 {
		t.Fatalf("batcher runs = %d, want 1", batcher.runCount())
	}
	if !ledger.IsKnown(fingerprint.Message(msg)) {
		t.Fatalf("message fingerprint not recorded")
	}
	if got := ledger.LastProcessed(); !got.Equal(now) {
		t.Fatalf("last processed = %v, want %v", got, now)
	}
	if w.State() != StateStopped {
		t.Fatalf("state = %q, want stopped", w.State())
	}
	if ledger.flushCount != 1 {
		t.Fatalf("ledger flushed %d times, want 1", ledger.flushCount)
	}
}

func TestTickSkipsSelfStaleAndKnownMessages(t *testing.T) {
	source, ledger, batcher, text := newWatchFixture()
	now := time.Now().UTC()

	self := messageWithImage("msg-self", "+15550001111", now)
	self.FromSelf = true

	stale := messageWithImage("msg-stale", "+15550001111", now.Add(-time.Hour))
	if err := ledger.SetLastProcessed(now.Add(-30 * time.Minute)); err != nil {
		t.Fatalf("seed last processed: %v", err)
	}

	known := messageWithImage("msg-known", "+15550001111", now)
	if err := ledger.MarkKnown(fingerprint.Message(known), now); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	source.batches = []ports.MessageBatch{{Messages: []domain.Message{self, stale, known}}}

	w := buildWatcher(t, source, ledger, batcher, text, WatchConfig{Continuous: false})
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if batcher.runCount() != 0 {
		t.Fatalf("batcher should not run for skipped messages, ran %d times", batcher.runCount())
	}
}

func TestTickForwardsTextBodies(t *testing.T) {
	source, ledger, batcher, text := newWatchFixture()
	now := time.Now().UTC()
	msg := domain.Message{ID: "msg-1", Sender: "+15550001111", Timestamp: now, Text: "what did I spend last week?"}
	source.batches = []ports.MessageBatch{{Messages: []domain.Message{msg}}}

	w := buildWatcher(t, source, ledger, batcher, text, WatchConfig{Continuous: false})
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if text.callCount() != 1 {
		t.Fatalf("text handler calls = %d, want 1", text.callCount())
	}
	if batcher.runCount() != 0 {
		t.Fatalf("no attachments, batcher should be idle")
	}
}

func TestTickIgnoresNonImageAttachments(t *testing.T) {
	source, ledger, batcher, text := newWatchFixture()
	now := time.Now().UTC()
	msg := domain.Message{
		ID: "msg-1", Sender: "+15550001111", Timestamp: now,
		Attachments: []domain.Attachment{{Path: "/tmp/statement.pdf", MimeType: "application/pdf"}},
	}
	source.batches = []ports.MessageBatch{{Messages: []domain.Message{msg}}}

	w := buildWatcher(t, source, ledger, batcher, text, WatchConfig{Continuous: false})
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if batcher.runCount() != 0 {
		t.Fatalf("pdf attachment must not reach the batcher")
	}
	if !ledger.IsKnown(fingerprint.Message(msg)) {
		t.Fatalf("message should still be marked processed")
	}
}

func TestPollFailureIsNotFatal(t *testing.T) {
	source, ledger, batcher, text := newWatchFixture()
	source.getErr = errors.New("connector down")

	w := buildWatcher(t, source, ledger, batcher, text, WatchConfig{Continuous: false})
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("poll failure must not escape Run: %v", err)
	}
}

func TestContinuousRunStopsOnCancel(t *testing.T) {
	source, ledger, batcher, text := newWatchFixture()
	w := buildWatcher(t, source, ledger, batcher, text, WatchConfig{Continuous: true, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watch loop did not stop after cancellation")
	}
	if w.State() != StateStopped {
		t.Fatalf("state = %q, want stopped", w.State())
	}
	if ledger.flushCount != 1 {
		t.Fatalf("ledger flushed %d times on shutdown, want 1", ledger.flushCount)
	}
}

func TestDrainAdvancesWatermarkPerMessage(t *testing.T) {
	source, ledger, batcher, text := newWatchFixture()
	base := time.Now().UTC()
	older := messageWithImage("msg-1", "+15550001111", base.Add(-2*time.Minute))
	newer := messageWithImage("msg-2", "+15550001111", base)
	// Delivered out of order; drain must process oldest first so the
	// watermark never skips a message.
	source.batches = []ports.MessageBatch{{Messages: []domain.Message{newer, older}}}

	w := buildWatcher(t, source, ledger, batcher, text, WatchConfig{Continuous: false})
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if batcher.runCount() != 2 {
		t.Fatalf("batcher runs = %d, want 2", batcher.runCount())
	}
	if got := ledger.LastProcessed(); !got.Equal(base) {
		t.Fatalf("last processed = %v, want %v", got, base)
	}
}
