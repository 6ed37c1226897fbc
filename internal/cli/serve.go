package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"chaos-orm/internal/admin"
	"chaos-orm/internal/auth"
	"chaos-orm/internal/config"
	"chaos-orm/internal/engine"
	"chaos-orm/internal/instrument"
	"chaos-orm/internal/metadata"
	"chaos-orm/internal/store"
)

func newServeCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the entity REST API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "listen port")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, reg, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Schema.Migrate {
		if err := migrate(ctx, s, reg, cfg.Instrumentation.Enabled); err != nil {
			return err
		}
	}

	app := newApp()
	if cfg.Instrumentation.Enabled {
		buffer := instrument.NewEventBuffer(s.DB, s.Dialect, cfg.Instrumentation.BufferSize,
			time.Duration(cfg.Instrumentation.FlushIntervalMs)*time.Millisecond)
		defer buffer.Stop()
		app.Use(instrument.Middleware(cfg.Instrumentation, buffer))
		go instrument.RunCleanup(ctx, s.DB, s.Dialect, cfg.Instrumentation.RetentionDays, time.Hour)
	}
	mount(app, cfg, s, reg)

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdown); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	slog.Info("starting server", "addr", addr)
	return app.Listen(addr)
}

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          engine.ErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	return app
}

// mount registers the routes. With an auth secret configured, mutating
// entity routes need a token and the admin and events APIs the admin role.
func mount(app *fiber.App, cfg *config.Config, s *store.Store, reg *metadata.Registry) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	var guard, adminOnly []fiber.Handler
	if cfg.Auth.Secret != "" {
		guard = []fiber.Handler{auth.Middleware(cfg.Auth)}
		adminOnly = append(guard, auth.RequireRole("admin"))
	} else {
		slog.Warn("auth secret not set, write routes are open")
	}

	if cfg.Instrumentation.Enabled {
		instrument.NewEventHandler(s.DB, s.Dialect).Register(app, adminOnly...)
	}
	admin.RegisterAdminRoutes(app, admin.NewHandler(reg, store.NewMigrator(s)), adminOnly...)
	engine.RegisterDynamicRoutes(app, engine.NewHandler(s, reg), guard...)
}
