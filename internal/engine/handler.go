package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"chaos-orm/internal/instrument"
	"chaos-orm/internal/metadata"
	"chaos-orm/internal/record"
	"chaos-orm/internal/store"
)

type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	loader   *Loader
}

func NewHandler(s *store.Store, reg *metadata.Registry) *Handler {
	return &Handler{
		store:    s,
		registry: reg,
		loader:   NewLoader(reg, TableSources(s.DB, s.Dialect, reg)),
	}
}

// List handles GET /api/:entity
func (h *Handler) List(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	plan, err := ParseQueryParams(c, entity, h.registry)
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	table := store.NewTable(h.store.DB, h.store.Dialect, entity)
	q := plan.Query()
	coll, err := table.Fetch(ctx, q)
	if err != nil {
		return fmt.Errorf("list %s: %w", entity.Name, err)
	}
	total, err := table.Count(ctx, q.Conditions)
	if err != nil {
		return fmt.Errorf("count %s: %w", entity.Name, err)
	}

	if err := h.loader.With(ctx, coll, entity.Name, plan.Includes...); err != nil {
		return fmt.Errorf("load includes: %w", err)
	}

	return c.JSON(fiber.Map{
		"data": coll,
		"meta": fiber.Map{
			"page":     plan.Page,
			"per_page": plan.PerPage,
			"total":    total,
		},
	})
}

// GetByID handles GET /api/:entity/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	includes, err := parseIncludes(c, entity, h.registry)
	if err != nil {
		return err
	}

	rec, err := h.fetchRecord(c.UserContext(), entity, c.Params("id"))
	if err != nil {
		return err
	}

	if err := h.loader.With(c.UserContext(), record.Collection{rec}, entity.Name, includes...); err != nil {
		return fmt.Errorf("load includes: %w", err)
	}

	return c.JSON(fiber.Map{"data": rec})
}

// Create handles POST /api/:entity
func (h *Handler) Create(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}

	rec, err := record.FromMap(h.registry, entity.Name, body)
	if err != nil {
		return respondError(c, FromError(err))
	}
	rec.MarkExists(false)

	if err := h.persist(c.UserContext(), rec); err != nil {
		return handleWriteError(c, err)
	}

	emit(c, "created", entity, rec)
	return c.Status(201).JSON(fiber.Map{"data": rec})
}

// Update handles PUT /api/:entity/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	id := c.Params("id")
	current, err := h.fetchRecord(c.UserContext(), entity, id)
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}
	delete(body, entity.PrimaryKey.Field)

	rec, err := record.FromMap(h.registry, entity.Name, body)
	if err != nil {
		return respondError(c, FromError(err))
	}
	rec.Set(entity.PrimaryKey.Field, current.Get(entity.PrimaryKey.Field))
	rec.MarkExists(true)

	if err := h.persist(c.UserContext(), rec); err != nil {
		return handleWriteError(c, err)
	}

	current.Merge(rec.Data())
	emit(c, "updated", entity, current)
	return c.JSON(fiber.Map{"data": current})
}

// Delete handles DELETE /api/:entity/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	id := c.Params("id")
	rec, err := h.fetchRecord(c.UserContext(), entity, id)
	if err != nil {
		return err
	}

	table := store.NewTable(h.store.DB, h.store.Dialect, entity)
	if err := table.Delete(c.UserContext(), rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return respondError(c, NotFoundError(entity.Name, id))
		}
		return fmt.Errorf("delete %s/%s: %w", entity.Name, id, err)
	}

	emit(c, "deleted", entity, rec)
	return c.JSON(fiber.Map{"data": fiber.Map{entity.PrimaryKey.Field: rec.Get(entity.PrimaryKey.Field)}})
}

// persist saves rec and its attached records in one transaction. The
// transaction is rolled back when any write of the graph failed.
func (h *Handler) persist(ctx context.Context, rec *record.Record) error {
	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	writer := NewWriter(h.registry, TableSources(tx, h.store.Dialect, h.registry))
	res, err := writer.Persist(ctx, rec)
	if err != nil {
		return err
	}
	if !res.OK() {
		return &WriteError{Result: res}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (h *Handler) fetchRecord(ctx context.Context, entity *metadata.Entity, id string) (*record.Record, error) {
	key, err := parseID(entity, id)
	if err != nil {
		return nil, NotFoundError(entity.Name, id)
	}
	table := store.NewTable(h.store.DB, h.store.Dialect, entity)
	coll, err := table.Fetch(ctx, Query{Conditions: map[string]any{entity.PrimaryKey.Field: key}})
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", entity.Name, id, err)
	}
	if len(coll) == 0 {
		return nil, NotFoundError(entity.Name, id)
	}
	return coll[0], nil
}

func (h *Handler) resolveEntity(c *fiber.Ctx) (*metadata.Entity, error) {
	name := c.Params("entity")
	entity := h.registry.GetEntity(name)
	if entity == nil {
		return nil, respondError(c, UnknownEntityError(name))
	}
	return entity, nil
}

// parseID converts a path id to the primary key type.
func parseID(entity *metadata.Entity, id string) (any, error) {
	switch entity.PrimaryKey.Type {
	case "", "serial", "int", "integer", "bigint":
		return strconv.ParseInt(id, 10, 64)
	}
	return id, nil
}

// emit records a business event such as "image.created".
func emit(c *fiber.Ctx, action string, entity *metadata.Entity, rec *record.Record) {
	ctx := c.UserContext()
	id := fmt.Sprint(rec.Get(entity.PrimaryKey.Field))
	instrument.GetInstrumenter(ctx).EmitBusinessEvent(ctx, entity.Name+"."+action, entity.Name, id, nil)
}

func respondError(c *fiber.Ctx, appErr *AppError) error {
	return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
}

func handleWriteError(c *fiber.Ctx, err error) error {
	appErr := FromError(err)
	if appErr.Status >= 500 {
		slog.ErrorContext(c.UserContext(), "write failed", "path", c.Path(), "error", err)
	}
	return respondError(c, appErr)
}

// ErrorHandler is the Fiber error handler: AppErrors keep their status,
// Fiber errors keep their code and everything else is mapped by FromError.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return respondError(c, NewAppError("HTTP_ERROR", fiberErr.Code, fiberErr.Message))
	}

	appErr := FromError(err)
	if appErr.Status >= 500 {
		slog.ErrorContext(c.UserContext(), "request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return respondError(c, appErr)
}
