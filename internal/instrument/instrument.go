package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chaos-orm/internal/metadata"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	parentSpanIDKey
	instrumenterKey
	userIDKey
)

// EventsTable is the table spans and business events are flushed to.
const EventsTable = "_events"

// Instrumenter starts spans and emits one-shot business events.
type Instrumenter interface {
	StartSpan(ctx context.Context, source, component, action string) (context.Context, Span)
	EmitBusinessEvent(ctx context.Context, action, entity, recordID string, metadata map[string]any)
}

// Span is a timed operation. End enqueues it exactly once.
type Span interface {
	End()
	SetStatus(status string)
	SetMetadata(key string, value any)
	SetEntity(entity, recordID string)
	TraceID() string
	SpanID() string
}

// Event is one row of the events table.
type Event struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID *string        `json:"parent_span_id"`
	EventType    string         `json:"event_type"`
	Source       string         `json:"source"`
	Component    string         `json:"component"`
	Action       string         `json:"action"`
	Entity       *string        `json:"entity"`
	RecordID     *string        `json:"record_id"`
	UserID       *string        `json:"user_id"`
	DurationMs   *float64       `json:"duration_ms"`
	Status       *string        `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// EventsEntity describes the events table so it is created and read like
// any other entity.
func EventsEntity() *metadata.Entity {
	return &metadata.Entity{
		Name:       EventsTable,
		Table:      EventsTable,
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "serial", Generated: true},
		Fields: []metadata.Field{
			{Name: "trace_id", Type: "string", Length: 36, Required: true},
			{Name: "span_id", Type: "string", Length: 36, Required: true},
			{Name: "parent_span_id", Type: "string", Length: 36, Nullable: true},
			{Name: "event_type", Type: "string", Length: 20, Required: true},
			{Name: "source", Type: "string", Length: 50, Required: true},
			{Name: "component", Type: "string", Length: 50, Required: true},
			{Name: "action", Type: "string", Length: 100, Required: true},
			{Name: "entity", Type: "string", Length: 255, Nullable: true},
			{Name: "record_id", Type: "string", Length: 255, Nullable: true},
			{Name: "user_id", Type: "string", Length: 255, Nullable: true},
			{Name: "duration_ms", Type: "float", Nullable: true},
			{Name: "status", Type: "string", Length: 20, Nullable: true},
			{Name: "metadata", Type: "json", Nullable: true},
			{Name: "created_at", Type: "timestamp", Auto: "create"},
		},
	}
}

func newUUID() string {
	return uuid.New().String()
}

// WithTraceID sets the trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithParentSpanID sets the parent span ID in the context.
func WithParentSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, parentSpanIDKey, spanID)
}

func getParentSpanID(ctx context.Context) string {
	if v, ok := ctx.Value(parentSpanIDKey).(string); ok {
		return v
	}
	return ""
}

// WithInstrumenter sets the instrumenter in the context.
func WithInstrumenter(ctx context.Context, inst Instrumenter) context.Context {
	return context.WithValue(ctx, instrumenterKey, inst)
}

// GetInstrumenter returns the instrumenter from the context,
// or a NoopInstrumenter if none is set.
func GetInstrumenter(ctx context.Context) Instrumenter {
	if v, ok := ctx.Value(instrumenterKey).(Instrumenter); ok {
		return v
	}
	return &NoopInstrumenter{}
}

// WithUserID sets the user ID recorded on spans started from ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func getUserID(ctx context.Context) *string {
	if v, ok := ctx.Value(userIDKey).(string); ok && v != "" {
		return &v
	}
	return nil
}

// Sink receives finished events.
type Sink interface {
	Enqueue(event Event)
}

// InstrumenterImpl enqueues spans and business events to a Sink.
type InstrumenterImpl struct {
	sink Sink
}

func NewInstrumenter(sink Sink) *InstrumenterImpl {
	return &InstrumenterImpl{sink: sink}
}

// StartSpan creates a new span; child spans started from the returned
// context reference it as their parent.
func (i *InstrumenterImpl) StartSpan(ctx context.Context, source, component, action string) (context.Context, Span) {
	spanID := newUUID()
	span := &SpanImpl{
		traceID:      GetTraceID(ctx),
		spanID:       spanID,
		parentSpanID: getParentSpanID(ctx),
		source:       source,
		component:    component,
		action:       action,
		startTime:    time.Now(),
		metadata:     make(map[string]any),
		sink:         i.sink,
		userID:       getUserID(ctx),
	}
	return WithParentSpanID(ctx, spanID), span
}

// EmitBusinessEvent emits an event without duration.
func (i *InstrumenterImpl) EmitBusinessEvent(ctx context.Context, action, entity, recordID string, metadata map[string]any) {
	event := Event{
		TraceID:   GetTraceID(ctx),
		SpanID:    newUUID(),
		EventType: "business",
		Source:    "business",
		Component: "api",
		Action:    action,
		UserID:    getUserID(ctx),
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if parent := getParentSpanID(ctx); parent != "" {
		event.ParentSpanID = &parent
	}
	if entity != "" {
		event.Entity = &entity
	}
	if recordID != "" {
		event.RecordID = &recordID
	}
	i.sink.Enqueue(event)
}

// SpanImpl implements Span with timing and metadata.
type SpanImpl struct {
	traceID      string
	spanID       string
	parentSpanID string
	source       string
	component    string
	action       string
	entity       *string
	recordID     *string
	userID       *string
	status       *string
	startTime    time.Time
	metadata     map[string]any
	sink         Sink
	mu           sync.Mutex
	ended        bool
}

func (s *SpanImpl) TraceID() string { return s.traceID }
func (s *SpanImpl) SpanID() string  { return s.spanID }

func (s *SpanImpl) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = &status
}

func (s *SpanImpl) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

func (s *SpanImpl) SetEntity(entity, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entity = &entity
	if recordID != "" {
		s.recordID = &recordID
	}
}

func (s *SpanImpl) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true

	durationMs := float64(time.Since(s.startTime).Microseconds()) / 1000.0
	event := Event{
		TraceID:    s.traceID,
		SpanID:     s.spanID,
		EventType:  "system",
		Source:     s.source,
		Component:  s.component,
		Action:     s.action,
		Entity:     s.entity,
		RecordID:   s.recordID,
		UserID:     s.userID,
		DurationMs: &durationMs,
		Status:     s.status,
		Metadata:   s.metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if len(event.Metadata) == 0 {
		event.Metadata = nil
	}
	if s.parentSpanID != "" {
		event.ParentSpanID = &s.parentSpanID
	}
	s.sink.Enqueue(event)
}
