package instrument

import (
	"errors"
	"math/rand/v2"

	"github.com/gofiber/fiber/v2"

	"chaos-orm/internal/config"
)

// Middleware opens a root HTTP span for every sampled request. The trace
// ID is taken from X-Trace-ID or generated, and the instrumenter is put
// on the user context for the handlers below.
func Middleware(cfg config.InstrumentationConfig, sink Sink) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Enabled || sink == nil {
			return c.Next()
		}
		if cfg.SamplingRate < 1.0 && rand.Float64() > cfg.SamplingRate {
			return c.Next()
		}

		traceID := c.Get("X-Trace-ID")
		if traceID == "" {
			traceID = newUUID()
		}

		inst := NewInstrumenter(sink)
		ctx := WithInstrumenter(WithTraceID(c.UserContext(), traceID), inst)
		ctx, span := inst.StartSpan(ctx, "http", "handler", "request")
		span.SetMetadata("method", c.Method())
		span.SetMetadata("path", c.Path())
		c.SetUserContext(ctx)
		c.Set("X-Trace-ID", traceID)

		err := c.Next()

		// auth sets user_id after this span started
		if userID, ok := c.Locals("user_id").(string); ok && userID != "" {
			span.SetMetadata("user_id", userID)
		}

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else if status < 400 {
				status = fiber.StatusInternalServerError
			}
		}
		span.SetMetadata("status_code", status)
		if status >= 400 {
			span.SetStatus("error")
		} else {
			span.SetStatus("ok")
		}
		span.End()
		return err
	}
}
