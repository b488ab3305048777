package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/logx"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/spf13/cobra"
)

var (
	serveMigrate bool
	serveSeed    bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API together with the session cleanup worker, the API
token expiry sweep and, when MAIL_DELIVERY=queue, the mail job workers.`,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "apply pending database migrations before starting")
	serveCmd.Flags().BoolVar(&serveSeed, "seed", true, "ensure baseline rights and roles exist before starting")
}

func runServe(cmd *cobra.Command, args []string) error {
	logx.Infof("🚀 Starting %s %s...", cfg.Server.AppName, cfg.Server.Version)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	container, err := NewContainer(ctx, cfg, containerOptions{redis: true, migrate: serveMigrate})
	if err != nil {
		return err
	}
	defer container.Cleanup()

	if serveSeed {
		res, err := container.IAM.Seed(ctx, "", "")
		if err != nil {
			return err
		}
		logx.Infof("  ✅ Baseline ensured (%d rights, %d roles created)", res.Rights, res.Roles)
	}

	app := newApp(container)
	container.StartBackgroundServices(ctx)

	return startServer(app, cfg.Server.Port)
}

func newApp(container *Container) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               cfg.Server.AppName,
		DisableStartupMessage: true,
		ErrorHandler:          globalErrorHandler,
		BodyLimit:             cfg.Server.BodyLimit,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: cfg.Server.Debug,
	}))

	app.Use(requestid.New(requestid.Config{
		Header:    fiber.HeaderXRequestID,
		Generator: kernel.NewRequestID,
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.CORSOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:  "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS",
		ExposeHeaders: "X-Request-ID",
	}))

	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip} | ${respHeader:X-Request-ID}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
	}))

	if cfg.Metrics.Enabled {
		app.Use(container.Metrics.Instrument())
		app.Get("/metrics", container.Metrics.Handler())
	}

	app.Get("/health", healthCheckHandler(container))

	container.IAM.Handlers.RegisterRoutes(app)
	logx.Info("✓ Auth routes registered: /auth/*")
	logx.Info("✓ Admin routes registered: /v1/users, /v1/roles, /v1/rights, /v1/api-tokens")

	app.Use(notFoundHandler)
	return app
}

// ============================================================================
// Handler Functions
// ============================================================================

func healthCheckHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := fiber.Map{
			"status":  "healthy",
			"service": cfg.Server.AppName,
			"version": cfg.Server.Version,
		}

		if err := container.DB.PingContext(c.UserContext()); err != nil {
			health["db"] = "unhealthy"
			health["status"] = "degraded"
		} else {
			health["db"] = "healthy"
		}

		if container.Redis != nil {
			if err := container.Redis.Ping(c.UserContext()).Err(); err != nil {
				health["redis"] = "unhealthy"
				health["status"] = "degraded"
			} else {
				health["redis"] = "healthy"
			}
		}

		status := fiber.StatusOK
		if health["status"] == "degraded" {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(health)
	}
}

func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"code":       "NOT_FOUND",
		"message":    "The requested endpoint does not exist",
		"path":       c.Path(),
		"method":     c.Method(),
		"request_id": c.GetRespHeader(fiber.HeaderXRequestID),
	})
}

// globalErrorHandler logs server side failures and renders every error in the
// errx response shape.
func globalErrorHandler(c *fiber.Ctx, err error) error {
	e := errx.FromError(err)
	if e.HTTPStatus >= fiber.StatusInternalServerError {
		logx.WithFields(logx.Fields{
			"path":       c.Path(),
			"method":     c.Method(),
			"ip":         c.IP(),
			"request_id": c.GetRespHeader(fiber.HeaderXRequestID),
		}).WithError(err).Error("request failed")
	}
	return errx.FiberErrorHandler(c, e)
}

// ============================================================================
// Lifecycle
// ============================================================================

func startServer(app *fiber.App, port string) error {
	errCh := make(chan error, 1)
	go func() {
		logx.Infof("🚀 Server listening on port %s", port)
		logx.Infof("💚 Health Check: http://localhost:%s/health", port)
		errCh <- app.Listen(":" + port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigChan:
		logx.Infof("🛑 Received signal: %v", sig)
	}

	logx.Info("Shutting down gracefully...")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		logx.Errorf("Server forced to shutdown: %v", err)
	}
	logx.Info("✅ Server exited successfully")
	return nil
}
