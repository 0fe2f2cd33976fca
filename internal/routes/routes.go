package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/exchange_ledger/internal/account"
	"github.com/congo-pay/exchange_ledger/internal/config"
	"github.com/congo-pay/exchange_ledger/internal/deposit"
	"github.com/congo-pay/exchange_ledger/internal/middleware"
	"github.com/congo-pay/exchange_ledger/internal/transfer"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Metrics())
	if d.Cfg.LogFormat == "text" {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	svc, err := BuildServices(d)
	if err != nil {
		return err
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	passthrough := func(c *fiber.Ctx) error { return c.Next() }
	idempotent, creditIdempotent := fiber.Handler(passthrough), fiber.Handler(passthrough)
	if d.Cache != nil {
		idempotent = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
		// A replayed chain event carries the same tx_hash even when the
		// operator's tooling forgets the header.
		creditIdempotent = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger, middleware.KeyFromBody("tx_hash"))
	}

	// Auth is attached per route: a middleware group on the shared prefix
	// would also guard the public endpoints.
	auth := middleware.JWTAuth([]byte(d.Cfg.JWTSecret))
	RegisterAccountRoutes(api, account.NewHandler(svc.Accounts), auth, middleware.RegisterRateLimit(d.Cache, d.Cfg.RegisterRateLimit))
	RegisterBalanceRoutes(api, svc.Ledger, auth)
	RegisterDepositRoutes(api, deposit.NewHandler(svc.Deposits), auth, middleware.AdminKey(d.Cfg.AdminAPIKey), creditIdempotent)
	RegisterTransferRoutes(api, transfer.NewHandler(svc.Transfers), auth, idempotent)
	RegisterNotificationRoutes(api, svc.Notifications, auth)

	return nil
}
