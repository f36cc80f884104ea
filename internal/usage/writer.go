package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wisbric/keystone/internal/telemetry"
)

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
	writeTimeout  = 5 * time.Second
)

// Writer is an async, buffered usage-event writer. The gateway's
// usage-logging middleware enqueues one Event per request on its way out —
// including rejected requests — and returns immediately; Writer persists
// them on its own schedule, using a context detached from the request that
// produced them so a client disconnect or handler timeout can never lose an
// event that was already captured.
type Writer struct {
	store   *Store
	logger  *slog.Logger
	entries chan Event
	wg      sync.WaitGroup
}

// NewWriter creates a usage event Writer. Call Start to begin processing.
func NewWriter(store *Store, logger *slog.Logger) *Writer {
	return &Writer{
		store:   store,
		logger:  logger,
		entries: make(chan Event, bufferSize),
	}
}

// Start begins the background flush loop in its own goroutine and returns
// immediately. The loop stops when ctx is cancelled, after flushing what is
// buffered at that moment, or when Close is called.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close stops accepting new entries and waits for the background loop to
// drain and flush whatever remains buffered.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()

	// The loop may already have returned on ctx cancellation; flush anything
	// enqueued after that.
	var rest []Event
	for e := range w.entries {
		rest = append(rest, e)
	}
	if len(rest) > 0 {
		w.flush(rest)
	}
}

// Enqueue submits a usage event for async persistence. It never blocks the
// request path: if the buffer is full the event is dropped and counted,
// rather than risk slowing down the response the event describes.
func (w *Writer) Enqueue(e Event) {
	select {
	case w.entries <- e:
	default:
		telemetry.UsageEventsDroppedTotal.Inc()
		w.logger.Warn("usage event buffer full, dropping event", "path", e.Path, "request_id", e.RequestID)
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush persists a batch on a fresh background context: each call is its
// own store session, independent of whatever context produced the events.
func (w *Writer) flush(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	for _, e := range batch {
		if err := w.store.Record(ctx, e); err != nil {
			telemetry.UsageEventsFailedTotal.Inc()
			w.logger.Error("writing usage event", "error", err, "path", e.Path, "request_id", e.RequestID)
			continue
		}
		telemetry.UsageEventsWrittenTotal.Inc()
	}
}
