package instrument

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaos-orm/internal/config"
	"chaos-orm/internal/dialect"
	"chaos-orm/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Enqueue(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func openEvents(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	d, err := dialect.New(dialect.SQLite)
	require.NoError(t, err)
	s := store.NewWithDB(db, d)
	require.NoError(t, store.NewMigrator(s).Migrate(context.Background(), EventsEntity()))
	return s
}

func TestSpans(t *testing.T) {
	rec := &recorder{}
	inst := NewInstrumenter(rec)
	ctx := WithUserID(WithTraceID(context.Background(), "trace-1"), "u1")

	ctx, root := inst.StartSpan(ctx, "http", "handler", "request")
	_, child := inst.StartSpan(ctx, "engine", "writer", "save")
	child.SetEntity("image", "4")
	child.SetStatus("ok")
	child.End()
	child.End()
	root.End()
	inst.EmitBusinessEvent(ctx, "image.tagged", "image", "4", map[string]any{"tags": 2})

	require.Len(t, rec.events, 3)
	c, r, b := rec.events[0], rec.events[1], rec.events[2]

	assert.Equal(t, "trace-1", c.TraceID)
	assert.Equal(t, root.SpanID(), *c.ParentSpanID)
	assert.Nil(t, r.ParentSpanID)
	assert.Equal(t, "image", *c.Entity)
	assert.Equal(t, "4", *c.RecordID)
	assert.Equal(t, "u1", *c.UserID)
	assert.NotNil(t, c.DurationMs)
	assert.Nil(t, c.Metadata)

	assert.Equal(t, "business", b.EventType)
	assert.Equal(t, root.SpanID(), *b.ParentSpanID)
	assert.Nil(t, b.DurationMs)
}

func TestGetInstrumenterDefaultsToNoop(t *testing.T) {
	ctx, span := GetInstrumenter(context.Background()).StartSpan(context.Background(), "a", "b", "c")
	assert.IsType(t, &NoopSpan{}, span)
	assert.Empty(t, GetTraceID(ctx))
	span.End()
}

func TestBufferFlushPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	d, err := dialect.New(dialect.Postgres)
	require.NoError(t, err)

	eb := NewEventBuffer(db, d, 100, time.Hour)
	status := "ok"
	eb.Enqueue(Event{TraceID: "t", SpanID: "s1", EventType: "system", Source: "http", Component: "handler", Action: "request", Status: &status})
	eb.Enqueue(Event{TraceID: "t", SpanID: "s2", EventType: "business", Source: "business", Component: "api", Action: "emit", Metadata: map[string]any{"k": 1}})
	assert.Equal(t, 2, eb.Len())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL synchronous_commit = off")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "_events" ("trace_id", "span_id", "parent_span_id", "event_type", "source", "component", "action", "entity", "record_id", "user_id", "duration_ms", "status", "metadata", "created_at") VALUES ($1, $2, NULL,`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	eb.Stop()
	assert.Zero(t, eb.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBufferAndHandlers(t *testing.T) {
	s := openEvents(t)
	eb := NewEventBuffer(s.DB, s.Dialect, 100, time.Hour)

	app := fiber.New()
	app.Use(Middleware(config.InstrumentationConfig{Enabled: true, SamplingRate: 1}, eb))
	app.Get("/work", func(c *fiber.Ctx) error {
		_, span := GetInstrumenter(c.UserContext()).StartSpan(c.UserContext(), "engine", "loader", "embed")
		span.SetEntity("image", "")
		span.End()
		return c.SendString("done")
	})
	NewEventHandler(s.DB, s.Dialect).Register(app)

	req := httptest.NewRequest("GET", "/work", nil)
	req.Header.Set("X-Trace-ID", "trace-42")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "trace-42", resp.Header.Get("X-Trace-ID"))
	require.Equal(t, 2, eb.Len())
	eb.Flush(context.Background())

	var list struct {
		Data       []map[string]any `json:"data"`
		Pagination map[string]any   `json:"pagination"`
	}
	get(t, app, "/_events?trace_id=trace-42&source=engine", &list)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "embed", list.Data[0]["action"])
	assert.EqualValues(t, 1, list.Pagination["total"])

	var trace struct {
		Data struct {
			RootSpan map[string]any   `json:"root_span"`
			Spans    []map[string]any `json:"spans"`
		} `json:"data"`
	}
	get(t, app, "/_events/trace/trace-42", &trace)
	assert.Len(t, trace.Data.Spans, 2)
	assert.Equal(t, "request", trace.Data.RootSpan["action"])
	children, _ := trace.Data.RootSpan["children"].([]any)
	require.Len(t, children, 1)
	assert.Equal(t, "embed", children[0].(map[string]any)["action"])

	resp, err = app.Test(httptest.NewRequest("GET", "/_events/trace/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	var stats struct {
		Data struct {
			Total    float64          `json:"total_events"`
			BySource []map[string]any `json:"by_source"`
		} `json:"data"`
	}
	get(t, app, "/_events/stats", &stats)
	assert.Equal(t, 2.0, stats.Data.Total)
	assert.Len(t, stats.Data.BySource, 2)

	eb.Stop()
}

func TestEmit(t *testing.T) {
	rec := &recorder{}
	app := fiber.New()
	app.Use(Middleware(config.InstrumentationConfig{Enabled: true, SamplingRate: 1}, rec))
	app.Post("/_events", NewEventHandler(nil, nil).Emit)

	req := httptest.NewRequest("POST", "/_events", strings.NewReader(`{"action":"export","entity":"gallery"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	req = httptest.NewRequest("POST", "/_events", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 422, resp.StatusCode)

	require.Len(t, rec.events, 3)
	assert.Equal(t, "business", rec.events[0].EventType)
	assert.Equal(t, "gallery", *rec.events[0].Entity)
	assert.Equal(t, "ok", *rec.events[1].Status)
	assert.Equal(t, "error", *rec.events[2].Status)
}

func TestCleanupOldEvents(t *testing.T) {
	ctx := context.Background()
	s := openEvents(t)
	eb := NewEventBuffer(s.DB, s.Dialect, 100, time.Hour)
	now := time.Now().UTC()
	eb.Enqueue(Event{TraceID: "t", SpanID: "old", EventType: "system", Source: "http", Component: "handler", Action: "request", CreatedAt: now.AddDate(0, 0, -10)})
	eb.Enqueue(Event{TraceID: "t", SpanID: "new", EventType: "system", Source: "http", Component: "handler", Action: "request", CreatedAt: now})
	eb.Stop()

	n, err := CleanupOldEvents(ctx, s.DB, s.Dialect, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rows, err := store.QueryRows(ctx, s.DB, `SELECT span_id FROM "_events"`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0]["span_id"])
}

func get(t *testing.T, app *fiber.App, path string, out any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, out))
}
