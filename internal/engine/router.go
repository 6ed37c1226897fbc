package engine

import "github.com/gofiber/fiber/v2"

// RegisterDynamicRoutes mounts the entity routes. guard runs before the
// mutating routes only.
func RegisterDynamicRoutes(app *fiber.App, h *Handler, guard ...fiber.Handler) {
	api := app.Group("/api")

	write := func(handler fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, guard...), handler)
	}

	api.Get("/:entity", h.List)
	api.Get("/:entity/:id", h.GetByID)
	api.Post("/:entity", write(h.Create)...)
	api.Put("/:entity/:id", write(h.Update)...)
	api.Delete("/:entity/:id", write(h.Delete)...)
}
