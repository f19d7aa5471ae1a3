package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stocktransfer/cmd/stocktransfer/cli"
	"github.com/odyssey-erp/stocktransfer/internal/app"
	"github.com/odyssey-erp/stocktransfer/internal/auth"
	"github.com/odyssey-erp/stocktransfer/internal/identity"
	"github.com/odyssey-erp/stocktransfer/internal/inventory"
	"github.com/odyssey-erp/stocktransfer/internal/observability"
	"github.com/odyssey-erp/stocktransfer/internal/platform/cache"
	"github.com/odyssey-erp/stocktransfer/internal/platform/lock"
	"github.com/odyssey-erp/stocktransfer/internal/transfer"
	"github.com/odyssey-erp/stocktransfer/jobs"
)

const usage = `usage: stocktransfer [command]

commands:
  serve                                  run the HTTP API (default)
  jobs trigger ledger:reconcile [-batch] enqueue a ledger reconciliation
  jobs stats                             print default queue counters
  token -company ID -user ID [-ttl 12h]  print a signed bearer token
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		if err := serve(ctx, cfg); err != nil {
			slog.Default().Error("stocktransfer", slog.Any("error", err))
			os.Exit(1)
		}
	case "jobs":
		os.Exit(runJobs(ctx, cfg, args))
	case "token":
		os.Exit(runToken(cfg, args))
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func serve(ctx context.Context, cfg *app.Config) error {
	logger := app.NewLogger(cfg)
	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close()

	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		if cfg.LockBackend == app.LockRedis {
			return err
		}
		logger.Warn("redis unavailable, identity cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	directory := identity.NewCachedDirectory(backend.Directory, redisClient, cfg.IdentityCacheTTL)
	locker := newLocker(cfg, redisClient)

	publisher := jobs.NewClient(redisOpts.AsynqOpt())
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts.AsynqOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	engine := transfer.NewEngine(backend.Transfers, directory, locker, publisher, logger,
		transfer.NewMetrics(metrics.Registerer()),
		transfer.Config{ReceiveFallbackStart: cfg.ReceiveFallbackStart, PublishTimeout: cfg.PublishTimeout})
	stock := inventory.NewService(backend.Stock, locker, directory, backend.Audit, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Metrics:          metrics,
		Authenticate:     auth.Middleware(cfg.JWTSecret, directory, logger),
		TransferHandler:  transfer.NewHandler(logger, engine),
		InventoryHandler: inventory.NewHandler(logger, stock),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Ready:            backend.Ready,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLocker(cfg *app.Config, client *redis.Client) lock.Locker {
	if cfg.LockBackend == app.LockRedis && client != nil {
		return lock.NewRedis(client, lock.RedisOptions{TTL: cfg.LockTTL, Wait: cfg.LockWaitTimeout, Prefix: "stocktransfer:lock:"})
	}
	return lock.NewLocal()
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	batch := fs.Int("batch", cfg.ReconcileBatch, "entries read per page during reconciliation")
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	opts := cli.JobsOptions{Action: args[0]}
	rest := args[1:]
	if opts.Action == "trigger" && len(rest) > 0 {
		opts.Name, rest = rest[0], rest[1:]
	}
	if err := fs.Parse(rest); err != nil {
		return 2
	}
	opts.Batch = *batch

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobsCLI := cli.NewJobsCLI(redisOpts.AsynqOpt())
	defer func() { _ = jobsCLI.Close() }()
	return jobsCLI.JobsCommand(ctx, opts)
}

func runToken(cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	company := fs.Int64("company", 0, "company id")
	user := fs.Int64("user", 0, "user id")
	ttl := fs.Duration("ttl", auth.DefaultTokenExpiry, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	return cli.TokenCommand(cli.TokenOptions{Secret: cfg.JWTSecret, CompanyID: *company, UserID: *user, TTL: *ttl})
}
