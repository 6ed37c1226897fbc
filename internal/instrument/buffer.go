package instrument

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chaos-orm/internal/dialect"
	"chaos-orm/internal/store"
)

// EventBuffer collects events in memory and periodically flushes them
// to the events table in a batch insert.
type EventBuffer struct {
	mu      sync.Mutex
	events  []Event
	db      *sql.DB
	d       *dialect.Dialect
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewEventBuffer creates a buffer that flushes on a timer or when full.
func NewEventBuffer(db *sql.DB, d *dialect.Dialect, maxSize int, flushInterval time.Duration) *EventBuffer {
	if maxSize <= 0 {
		maxSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 100 * time.Millisecond
	}
	eb := &EventBuffer{
		db:      db,
		d:       d,
		maxSize: maxSize,
		done:    make(chan struct{}),
		ticker:  time.NewTicker(flushInterval),
	}
	eb.wg.Add(1)
	go eb.run()
	return eb
}

func (eb *EventBuffer) run() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.done:
			return
		case <-eb.ticker.C:
			eb.Flush(context.Background())
		}
	}
}

// Enqueue adds an event to the buffer. A full buffer is flushed
// asynchronously.
func (eb *EventBuffer) Enqueue(event Event) {
	eb.mu.Lock()
	eb.events = append(eb.events, event)
	shouldFlush := len(eb.events) >= eb.maxSize
	eb.mu.Unlock()
	if shouldFlush {
		go eb.Flush(context.Background())
	}
}

// Len returns the number of events waiting for the next flush.
func (eb *EventBuffer) Len() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.events)
}

// Flush writes all buffered events in a single batch insert. Failed
// batches are logged and dropped.
func (eb *EventBuffer) Flush(ctx context.Context) {
	eb.mu.Lock()
	batch := eb.events
	eb.events = nil
	eb.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if err := eb.write(ctx, batch); err != nil {
		slog.ErrorContext(ctx, "event buffer flush failed", "events", len(batch), "error", err)
	}
}

func (eb *EventBuffer) write(ctx context.Context, batch []Event) error {
	ins := eb.d.Insert().Into(EventsTable)
	for _, e := range batch {
		ins.Values(eventRow(e))
	}

	tx, err := eb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if eb.d.Name() == dialect.Postgres {
		if _, err := tx.ExecContext(ctx, "SET LOCAL synchronous_commit = off"); err != nil {
			return fmt.Errorf("set synchronous_commit: %w", err)
		}
	}
	if _, err := store.ExecStatement(ctx, tx, ins); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return tx.Commit()
}

func eventRow(e Event) dialect.Map {
	var meta any
	if e.Metadata != nil {
		if b, err := json.Marshal(e.Metadata); err == nil {
			meta = string(b)
		}
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	var duration any
	if e.DurationMs != nil {
		duration = *e.DurationMs
	}
	return dialect.Map{
		{Key: "trace_id", Value: e.TraceID},
		{Key: "span_id", Value: e.SpanID},
		{Key: "parent_span_id", Value: deref(e.ParentSpanID)},
		{Key: "event_type", Value: e.EventType},
		{Key: "source", Value: e.Source},
		{Key: "component", Value: e.Component},
		{Key: "action", Value: e.Action},
		{Key: "entity", Value: deref(e.Entity)},
		{Key: "record_id", Value: deref(e.RecordID)},
		{Key: "user_id", Value: deref(e.UserID)},
		{Key: "duration_ms", Value: duration},
		{Key: "status", Value: deref(e.Status)},
		{Key: "metadata", Value: meta},
		{Key: "created_at", Value: created},
	}
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// Stop halts the background ticker and flushes remaining events.
func (eb *EventBuffer) Stop() {
	eb.ticker.Stop()
	close(eb.done)
	eb.wg.Wait()
	eb.Flush(context.Background())
}
