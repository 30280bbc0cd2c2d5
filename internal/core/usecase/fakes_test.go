package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/receipt-pipeline/internal/core/domain"
	"github.com/kirillkom/receipt-pipeline/internal/core/ports"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.Default()
}

type fakeLedger struct {
	mu         sync.Mutex
	known      map[string]time.Time
	last       time.Time
	markErr    error
	flushCount int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{known: make(map[string]time.Time)}
}

func (l *fakeLedger) IsKnown(fp string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.known[fp]
	return ok
}

func (l *fakeLedger) MarkKnown(fp string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.markErr != nil {
		return l.markErr
	}
	l.known[fp] = at
	return nil
}

func (l *fakeLedger) LastProcessed() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func (l *fakeLedger) SetLastProcessed(t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.After(l.last) {
		l.last = t
	}
	return nil
}

func (l *fakeLedger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushCount++
	return nil
}

func (l *fakeLedger) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.known)
}

type fakeClassifier struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	delay       time.Duration
	classify    func(path string) (domain.ReceiptSignals, error)
}

func (c *fakeClassifier) Classify(_ context.Context, path string) (domain.ReceiptSignals, error) {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	c.mu.Unlock()

	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	if c.classify != nil {
		return c.classify(path)
	}
	return domain.ReceiptSignals{IsReceipt: true, IsLegible: true, IsExtractable: true}, nil
}

func (c *fakeClassifier) peakInFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInFlight
}

type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	extract func(path string) (*domain.PurchaseRecord, error)
}

func (e *fakeExtractor) Extract(_ context.Context, path string) (*domain.PurchaseRecord, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.extract != nil {
		return e.extract(path)
	}
	return &domain.PurchaseRecord{
		Merchant:    "Corner Deli",
		Total:       12.40,
		PurchasedAt: time.Now().UTC(),
	}, nil
}

func (e *fakeExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeStorage struct {
	mu       sync.Mutex
	saved    map[string]bool
	existing map[string]bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{saved: make(map[string]bool), existing: make(map[string]bool)}
}

func (s *fakeStorage) Save(_ context.Context, key string, _ io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[key] = true
	return nil
}

func (s *fakeStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return nil, domain.ErrNotFound
}

func (s *fakeStorage) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existing[key] || s.saved[key], nil
}

type fakeStore struct {
	mu        sync.Mutex
	inserted  []*domain.Transaction
	existing  []domain.Transaction
	findErr   error
	insertErr error
}

func (s *fakeStore) InsertTransaction(_ context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, tx)
	return nil
}

func (s *fakeStore) FindReceiptTransactions(_ context.Context, userID string, from, to time.Time) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []domain.Transaction
	for _, tx := range s.existing {
		if tx.UserID != userID || tx.Source != domain.SourceReceipt {
			continue
		}
		if tx.PurchasedAt.Before(from) || tx.PurchasedAt.After(to) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *fakeStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

type sentReply struct {
	recipient string
	text      string
}

type fakeSource struct {
	mu      sync.Mutex
	batches []ports.MessageBatch
	getErr  error
	sendErr error
	sent    []sentReply
}

func (f *fakeSource) GetMessages(_ context.Context, _ ports.MessageFilter) (ports.MessageBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return ports.MessageBatch{}, f.getErr
	}
	if len(f.batches) == 0 {
		return ports.MessageBatch{}, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeSource) Send(_ context.Context, recipient, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentReply{recipient: recipient, text: text})
	return nil
}

func (f *fakeSource) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.ReceiptIngestedEvent
	err    error
}

func (f *fakeEvents) PublishReceiptIngested(_ context.Context, ev domain.ReceiptIngestedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

type fakeDupes struct {
	id string
}

func (f *fakeDupes) FindDuplicate(_ context.Context, _, _ string, _ time.Time, _ float64) string {
	return f.id
}

type fakeBatcher struct {
	mu     sync.Mutex
	runs   [][]domain.AttachmentJob
	result domain.BatchResult
}

func (f *fakeBatcher) Run(_ context.Context, jobs []domain.AttachmentJob) domain.BatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, jobs)
	return f.result
}

func (f *fakeBatcher) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

type fakeText struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeText) HandleText(_ context.Context, _ domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeText) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingBatchMetrics struct {
	mu           sync.Mutex
	batches      []int
	jobsFinished int
	duplicates   int
}

func (m *recordingBatchMetrics) JobStarted() {}

func (m *recordingBatchMetrics) JobFinished(string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsFinished++
}

func (m *recordingBatchMetrics) BatchObserved(jobs int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, jobs)
}

func (m *recordingBatchMetrics) DuplicateDetected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates++
}

func (m *recordingBatchMetrics) batchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batches...)
}
