package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v5"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"maixu-system/config"
	"maixu-system/handlers"
	_ "maixu-system/migrations"
	"maixu-system/monitoring"
	"maixu-system/security"
	"maixu-system/services"
	"maixu-system/store"
	"maixu-system/tasks"
	"maixu-system/transport"
	"maixu-system/workers"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := store.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	windowStore := store.NewWindowStore(redisClient)
	configStore := store.NewConfigStore(redisClient)
	groupCache := store.NewGroupCache()
	locks := store.NewDispatchLock(redisClient, cfg.LockExpiry)

	// Chat transport; without keys the bot runs silent.
	var messenger services.Messenger = services.NopMessenger{}
	if cfg.PubNubPublishKey != "" {
		messenger = transport.NewPubNubMessenger(cfg)
	}

	redisConnOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisConnOpt)
	defer asynqClient.Close()

	// Initialize services
	rankService := services.NewRankService(windowStore, configStore, cfg)
	checkinService := services.NewCheckinService(rankService, configStore, windowStore, asynqClient)
	ledgerService := services.NewLedgerService(windowStore, configStore, app)
	projectionService := services.NewProjectionService(app, configStore, groupCache)
	schedulerService := services.NewSchedulerService(rankService, configStore, groupCache, locks, asynqClient)

	mux := workers.NewMux(&workers.Workers{
		Config:    cfg,
		Rank:      rankService,
		Checkin:   checkinService,
		Ledger:    ledgerService,
		Scheduler: schedulerService,
		Projector: projectionService,
		Cfgs:      configStore,
		Windows:   windowStore,
		Messenger: messenger,
	})

	worker := asynq.NewServer(redisConnOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues: map[string]int{
			tasks.QueueCritical: 6,
			tasks.QueueDefault:  3,
			tasks.QueueLow:      1,
		},
	})

	// The per-minute heartbeat that drives every window boundary.
	tick := asynq.NewScheduler(redisConnOpt, nil)
	if _, err := tick.Register("* * * * *",
		asynq.NewTask(tasks.TypeScheduleTick, nil),
		asynq.Queue(tasks.QueueCritical),
	); err != nil {
		return err
	}

	// Initialize handlers
	webhookHandler := &handlers.WebhookHandler{
		Rank:    rankService,
		Checkin: checkinService,
		Cfgs:    configStore,
		Cache:   groupCache,
		Queue:   asynqClient,
	}
	adminHandler := &handlers.AdminHandler{
		Config:    cfg,
		Rank:      rankService,
		Ledger:    ledgerService,
		Projector: projectionService,
	}
	rateLimiter := security.NewRateLimiter(redisClient)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	if cfg.EnableMetrics {
		monitoring.NewMonitor(redisClient)
		go startMetricsServer(cfg.MetricsPort)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleShutdown(cancel, worker, tick)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Project the relational config before anything ticks.
		if err := projectionService.Reload(ctx); err != nil {
			slog.Error("startup config projection failed", "error", err)
		}

		if err := worker.Start(mux); err != nil {
			return err
		}
		if err := tick.Start(); err != nil {
			return err
		}

		webhookHandler.Register(e, rateLimiter.WebhookRateLimit(120))
		adminHandler.Register(e)

		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := store.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		setupRecordHooks(app, projectionService, configStore, groupCache)

		return e.Next()
	})

	return app.Start()
}

// setupRecordHooks keeps the Redis projection and the in-process cache
// in step with operator edits, without waiting for the daily reload.
func setupRecordHooks(app *pocketbase.PocketBase, projection *services.ProjectionService, configStore *store.ConfigStore, cache *store.GroupCache) {
	syncGroup := func(e *core.RecordRequestEvent) error {
		if err := projection.ProjectGroup(e.Request.Context(), e.Record); err != nil {
			// The projection catches up on the next reload; the save
			// itself must not fail.
			slog.Error("project group config failed", "record", e.Record.Id, "error", err)
		}
		return e.Next()
	}
	app.OnRecordCreateRequest("groups_config").BindFunc(syncGroup)
	app.OnRecordUpdateRequest("groups_config").BindFunc(syncGroup)

	app.OnRecordDeleteRequest("groups_config").BindFunc(func(e *core.RecordRequestEvent) error {
		group := e.Record.GetString("group")
		ctx := e.Request.Context()
		cache.Disable(group)
		if err := configStore.RemoveActiveGroup(ctx, group); err != nil {
			slog.Error("remove active group failed", "group", group, "error", err)
		}
		if err := configStore.ClearGroup(ctx, group); err != nil {
			slog.Error("clear group cache failed", "group", group, "error", err)
		}
		return e.Next()
	})

	syncSchedule := func(e *core.RecordRequestEvent) error {
		if err := projection.Reload(e.Request.Context()); err != nil {
			slog.Error("reload after schedule change failed", "error", err)
		}
		return e.Next()
	}
	app.OnRecordCreateRequest("host_schedule").BindFunc(syncSchedule)
	app.OnRecordUpdateRequest("host_schedule").BindFunc(syncSchedule)
	app.OnRecordDeleteRequest("host_schedule").BindFunc(syncSchedule)
}

func startMetricsServer(port string) {
	e := echo.New()
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	srv := &http.Server{Addr: ":" + port, Handler: e}
	slog.Info("metrics server listening", "port", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server stopped", "error", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc, worker *asynq.Server, tick *asynq.Scheduler) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	tick.Shutdown()
	worker.Shutdown()
	cancel()
}
