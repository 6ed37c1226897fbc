package instrument

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"chaos-orm/internal/dialect"
	"chaos-orm/internal/record"
	"chaos-orm/internal/store"
)

// eventFilters are the query parameters List matches exactly.
var eventFilters = []string{"source", "component", "action", "entity", "event_type", "trace_id", "user_id", "status"}

// EventHandler exposes REST endpoints for querying and emitting events.
type EventHandler struct {
	q     store.Querier
	d     *dialect.Dialect
	table *store.Table
}

func NewEventHandler(q store.Querier, d *dialect.Dialect) *EventHandler {
	return &EventHandler{q: q, d: d, table: store.NewTable(q, d, EventsEntity())}
}

// Register mounts the event routes under /_events. guard runs before
// every route.
func (h *EventHandler) Register(app *fiber.App, guard ...fiber.Handler) {
	g := app.Group("/_events", guard...)
	g.Post("/", h.Emit)
	g.Get("/", h.List)
	g.Get("/stats", h.GetStats)
	g.Get("/trace/:traceId", h.GetTrace)
}

// Emit handles POST /_events.
func (h *EventHandler) Emit(c *fiber.Ctx) error {
	var body struct {
		Action   string         `json:"action"`
		Entity   string         `json:"entity"`
		RecordID string         `json:"record_id"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fail(c, 400, "INVALID_PAYLOAD", "Invalid JSON body")
	}
	if body.Action == "" {
		return fail(c, 422, "VALIDATION_FAILED", "action is required")
	}

	GetInstrumenter(c.UserContext()).EmitBusinessEvent(c.UserContext(), body.Action, body.Entity, body.RecordID, body.Metadata)
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "ok"}})
}

// List handles GET /_events.
func (h *EventHandler) List(c *fiber.Ctx) error {
	ctx := c.UserContext()

	conditions := h.window(c)
	for _, key := range eventFilters {
		if v := c.Query(key); v != "" {
			conditions = append(conditions, dialect.Pair{Key: key, Value: v})
		}
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if perPage < 1 {
		perPage = 50
	}
	perPage = min(perPage, 100)

	order := dialect.M("created_at", "DESC")
	if c.Query("sort") == "created_at" {
		order = dialect.M("created_at", "ASC")
	}

	var where any
	if len(conditions) > 0 {
		where = conditions
	}
	total, err := h.table.Count(ctx, where)
	if err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	events, err := h.table.Fetch(ctx, store.Query{
		Conditions: where,
		Order:      order,
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	})
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	return c.JSON(fiber.Map{
		"data": events,
		"pagination": fiber.Map{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetTrace handles GET /_events/trace/:traceId and returns the spans of
// one trace with their children nested.
func (h *EventHandler) GetTrace(c *fiber.Ctx) error {
	traceID := c.Params("traceId")
	spans, err := h.table.Fetch(c.UserContext(), store.Query{
		Conditions: dialect.M("trace_id", traceID),
		Order:      dialect.M("created_at", "ASC"),
	})
	if err != nil {
		return fmt.Errorf("get trace: %w", err)
	}
	if len(spans) == 0 {
		return fail(c, 404, "NOT_FOUND", "Trace not found: "+traceID)
	}

	root := Tree(spans)
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"trace_id":          traceID,
			"root_span":         root,
			"spans":             spans,
			"total_duration_ms": root.Get("duration_ms"),
		},
	})
}

// Tree attaches every span to its parent under "children" and returns the
// root: the span without a parent, or the first span when none is found.
func Tree(spans record.Collection) *record.Record {
	byID := make(map[string]*record.Record, len(spans))
	for _, s := range spans {
		id, _ := s.Get("span_id").(string)
		byID[id] = s
		s.Set("children", record.Collection{})
	}
	var root *record.Record
	for _, s := range spans {
		parent, _ := s.Get("parent_span_id").(string)
		if parent == "" {
			if root == nil {
				root = s
			}
			continue
		}
		if p, ok := byID[parent]; ok {
			p.Set("children", append(p.Related("children"), s))
		}
	}
	if root == nil && len(spans) > 0 {
		root = spans[0]
	}
	return root
}

// GetStats handles GET /_events/stats with per-source latency and error
// counts.
func (h *EventHandler) GetStats(c *fiber.Ctx) error {
	conditions := append(h.window(c), dialect.Pair{Key: "duration_ms", Value: dialect.M("<>", nil)})
	sel := h.d.Select().
		From(EventsTable).
		Fields(
			"source",
			dialect.Plain("COUNT(*) AS total"),
			dialect.Plain("AVG(duration_ms) AS avg_duration_ms"),
			dialect.Plain("SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END) AS errors"),
		).
		Where(conditions).
		Group("source").
		Order("source")

	rows, err := store.QueryStatement(c.UserContext(), h.q, sel)
	if err != nil {
		return fmt.Errorf("event stats: %w", err)
	}

	var total, errs float64
	for _, row := range rows {
		total += toFloat(row["total"])
		errs += toFloat(row["errors"])
	}
	rate := 0.0
	if total > 0 {
		rate = errs / total
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"total_events": int64(total),
			"error_rate":   rate,
			"by_source":    rows,
		},
	})
}

// window returns the created_at bounds given by the from and to parameters.
func (h *EventHandler) window(c *fiber.Ctx) dialect.Map {
	var out dialect.Map
	if v := c.Query("from"); v != "" {
		out = append(out, dialect.Pair{Key: "created_at", Value: dialect.M(">=", v)})
	}
	if v := c.Query("to"); v != "" {
		out = append(out, dialect.Pair{Key: "created_at", Value: dialect.M("<=", v)})
	}
	return out
}

func fail(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": fiber.Map{"code": code, "message": msg}})
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case []byte:
		f, _ := strconv.ParseFloat(string(val), 64)
		return f
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}
