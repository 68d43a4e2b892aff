package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulseops/ai-gateway/internal/gateway/metrics"
	"github.com/pulseops/ai-gateway/internal/shared/models"
)

// Store is the slice of the store the writer needs.
type Store interface {
	InsertCostEvent(ctx context.Context, ev *models.CostEvent) (bool, error)
	InsertRequestLog(ctx context.Context, rl *models.AiRequestLog) error
}

// Entry is one unit of bookkeeping: a request log, optionally paired with a
// billable cost event. Policy rejections and upstream failures carry no event.
type Entry struct {
	Event *models.CostEvent
	Log   *models.AiRequestLog
}

// Writer persists ledger entries off the request path. Bookkeeping failure
// must never degrade a user-facing call: enqueueing never blocks, writes are
// retried with backoff, and entries that exhaust retries are dumped to the
// dead-letter log.
type Writer struct {
	store      Store
	queue      chan Entry
	maxRetries int
	backoff    time.Duration
	wg         sync.WaitGroup
}

// NewWriter builds a writer with a bounded queue. backoff is the first retry
// delay; it doubles per attempt.
func NewWriter(store Store, queueSize, maxRetries int, backoff time.Duration) *Writer {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &Writer{
		store:      store,
		queue:      make(chan Entry, queueSize),
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Start launches the worker goroutines.
func (w *Writer) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.run()
	}
}

// Close stops accepting entries and drains the queue.
func (w *Writer) Close() {
	close(w.queue)
	w.wg.Wait()
}

// Enqueue hands an entry to the background workers. When the queue is full
// the entry is dropped and dumped to the dead-letter log instead of blocking
// the caller.
func (w *Writer) Enqueue(e Entry) {
	select {
	case w.queue <- e:
	default:
		metrics.LedgerDropped.Inc()
		w.deadLetter(e, fmt.Errorf("ledger queue full"))
	}
}

func (w *Writer) run() {
	defer w.wg.Done()
	for e := range w.queue {
		w.persist(e)
	}
}

func (w *Writer) persist(e Entry) {
	delay := w.backoff
	var lastErr error

	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}

		lastErr = w.writeOnce(&e)
		if lastErr == nil {
			return
		}
	}

	w.deadLetter(e, lastErr)
}

func (w *Writer) writeOnce(e *Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if e.Event != nil {
		inserted, err := w.store.InsertCostEvent(ctx, e.Event)
		if err != nil {
			return fmt.Errorf("cost event write: %w", err)
		}
		if !inserted {
			// Duplicate unique_hash: an earlier attempt already settled this
			// charge. Not an error.
			log.Debug().Str("unique_hash", e.Event.UniqueHash).Msg("duplicate cost event skipped")
		}
		// The event is settled either way; don't re-insert it if the log
		// write below fails and the entry is retried.
		e.Event = nil
	}

	if e.Log != nil {
		if err := w.store.InsertRequestLog(ctx, e.Log); err != nil {
			return fmt.Errorf("request log write: %w", err)
		}
	}

	return nil
}

func (w *Writer) deadLetter(e Entry, err error) {
	ev := log.Error().Err(err)
	if e.Event != nil {
		ev = ev.Str("unique_hash", e.Event.UniqueHash).
			Str("org_id", e.Event.OrgID).
			Float64("amount_eur", e.Event.AmountEUR)
	}
	if e.Log != nil {
		ev = ev.Str("log_id", e.Log.ID).Int("status_code", e.Log.StatusCode)
	}
	ev.Msg("ledger entry dead-lettered")
}

// UniqueHash derives the deterministic dedup key for a cost event:
// at most one logical charge per (org, request, amount, ordinal).
func UniqueHash(orgID, requestID string, amountEUR float64, ordinal int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%.6f|%d", orgID, requestID, amountEUR, ordinal)))
	return hex.EncodeToString(sum[:])
}
