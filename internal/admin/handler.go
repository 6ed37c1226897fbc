package admin

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"chaos-orm/internal/metadata"
	"chaos-orm/internal/store"
)

// Handler exposes the loaded schema: entities, their resolved relations
// and the DDL the migrator would run.
type Handler struct {
	registry *metadata.Registry
	migrator *store.Migrator
}

func NewHandler(reg *metadata.Registry, mig *store.Migrator) *Handler {
	return &Handler{registry: reg, migrator: mig}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/entities", h.ListEntities)
	admin.Get("/entities/:name", h.GetEntity)
	admin.Get("/entities/:name/ddl", h.GetDDL)
	admin.Get("/relations", h.ListRelations)
	admin.Get("/relations/:entity/:name", h.GetRelation)
	admin.Post("/migrate", h.Migrate)
}

// relationView is the JSON shape of a resolved relation.
type relationView struct {
	Name      string        `json:"name"`
	Kind      metadata.Kind `json:"kind"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Keys      metadata.Keys `json:"keys"`
	Link      metadata.Link `json:"link,omitempty"`
	Through   string        `json:"through,omitempty"`
	Using     string        `json:"using,omitempty"`
	Mode      metadata.Mode `json:"mode,omitempty"`
	Junction  bool          `json:"junction,omitempty"`
	Correlate string        `json:"correlate,omitempty"`
}

func view(r *metadata.Relation) relationView {
	return relationView{
		Name:      r.Name(),
		Kind:      r.Kind(),
		From:      r.From(),
		To:        r.To(),
		Keys:      r.Keys(),
		Link:      r.LinkType(),
		Through:   r.Through(),
		Using:     r.Using(),
		Mode:      r.Mode(),
		Junction:  r.Junction(),
		Correlate: r.Correlate(),
	}
}

// --- Entity Endpoints ---

func (h *Handler) ListEntities(c *fiber.Ctx) error {
	entities := h.registry.AllEntities()
	out := make([]fiber.Map, 0, len(entities))
	for _, e := range entities {
		out = append(out, fiber.Map{
			"name":        e.Name,
			"table":       e.Table,
			"primary_key": e.PrimaryKey,
			"soft_delete": e.SoftDelete,
			"relations":   len(h.registry.Relations(e.Name)),
		})
	}
	return c.JSON(fiber.Map{"data": out})
}

func (h *Handler) GetEntity(c *fiber.Ctx) error {
	entity, err := h.entity(c)
	if err != nil {
		return err
	}
	relations := h.registry.Relations(entity.Name)
	views := make([]relationView, len(relations))
	for i, r := range relations {
		views[i] = view(r)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"name":        entity.Name,
		"table":       entity.Table,
		"primary_key": entity.PrimaryKey,
		"soft_delete": entity.SoftDelete,
		"columns":     entity.Columns(),
		"relations":   views,
	}})
}

// GetDDL returns the CREATE TABLE statement of the entity.
func (h *Handler) GetDDL(c *fiber.Ctx) error {
	entity, err := h.entity(c)
	if err != nil {
		return err
	}
	ddl, err := h.migrator.CreateStatement(entity).SQL()
	if err != nil {
		return fmt.Errorf("render ddl for %s: %w", entity.Name, err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"entity": entity.Name, "sql": ddl}})
}

// --- Relation Endpoints ---

func (h *Handler) ListRelations(c *fiber.Ctx) error {
	var out []relationView
	for _, e := range h.registry.AllEntities() {
		for _, r := range h.registry.Relations(e.Name) {
			out = append(out, view(r))
		}
	}
	if out == nil {
		out = []relationView{}
	}
	return c.JSON(fiber.Map{"data": out})
}

func (h *Handler) GetRelation(c *fiber.Ctx) error {
	rel, err := h.registry.Relation(c.Params("entity"), c.Params("name"))
	if err != nil {
		return notFound(c, "Relation not found: "+c.Params("entity")+"."+c.Params("name"))
	}
	return c.JSON(fiber.Map{"data": view(rel)})
}

// Migrate creates missing tables and columns for every entity.
func (h *Handler) Migrate(c *fiber.Ctx) error {
	if err := h.migrator.MigrateAll(c.UserContext(), h.registry); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"migrated": len(h.registry.AllEntities())}})
}

func (h *Handler) entity(c *fiber.Ctx) (*metadata.Entity, error) {
	name := c.Params("name")
	entity := h.registry.GetEntity(name)
	if entity == nil {
		return nil, notFound(c, "Entity not found: "+name)
	}
	return entity, nil
}

func notFound(c *fiber.Ctx, msg string) error {
	return c.Status(404).JSON(fiber.Map{"error": fiber.Map{"code": "NOT_FOUND", "message": msg}})
}
