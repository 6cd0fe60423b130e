package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"finsync/internal/aggregator"
	"finsync/internal/aggregator/plaid"
	"finsync/internal/aggregator/teller"
	"finsync/internal/domain/account"
	"finsync/internal/domain/notification"
	"finsync/internal/domain/sync"
	"finsync/internal/infrastructure/crypto"
	"finsync/internal/infrastructure/firebase"
	"finsync/internal/infrastructure/postgres"
	httpiface "finsync/internal/interfaces/http"
	"finsync/internal/interfaces/scheduler"
	"finsync/internal/shared/config"
	"finsync/internal/shared/middleware"
	"finsync/internal/shared/telemetry"
	"finsync/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()

	// Initialize telemetry (if enabled)
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Plaid.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Printf("Telemetry shutdown error: %v", err)
			}
		}()
	}

	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	log.Println("Connected to database")

	// Access tokens are encrypted at rest inside the account repository.
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		return err
	}

	// Initialize repositories
	accountRepo := postgres.NewAccountRepository(db, encryptor)
	transactionRepo := postgres.NewTransactionRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	// Initialize push messaging (if configured)
	var messenger notification.Messenger
	if cfg.Firebase.CredentialsFile != "" {
		fcm, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile, notificationRepo.DeactivateToken)
		if err != nil {
			return err
		}
		messenger = fcm
		log.Println("Firebase messaging initialized")
	} else {
		log.Println("Firebase messaging disabled (no credentials file)")
	}

	// Initialize services
	accountService := account.NewService(accountRepo)
	notificationService := notification.NewService(notificationRepo, messenger)

	// Initialize provider adapters
	adapters := make(map[string]aggregator.Adapter)

	plaidClient, err := plaid.NewClient(plaid.Config{
		ClientID:    cfg.Plaid.ClientID,
		Secret:      cfg.Plaid.Secret,
		Environment: cfg.Plaid.Environment,
	})
	if err != nil {
		return err
	}
	adapters["plaid"] = plaidClient

	if cfg.Teller.CertFile != "" && cfg.Teller.KeyFile != "" {
		tellerClient, err := teller.NewClientFromFiles(cfg.Teller.BaseURL, cfg.Teller.CertFile, cfg.Teller.KeyFile)
		if err != nil {
			return err
		}
		adapters["teller"] = tellerClient
		log.Println("Teller adapter initialized")
	} else {
		log.Println("Teller adapter disabled (no client certificate)")
	}

	// Initialize the sync engine with push notifications as its event sink
	engine := sync.NewEngine(accountRepo, transactionRepo, notification.NewEvents(notificationService), sync.Config{})

	// Initialize scheduler and dispatcher
	var sched *scheduler.Scheduler
	var dispatcher *scheduler.Dispatcher

	sched, err = scheduler.New(scheduler.Config{
		ScheduleTimes: cfg.Scheduler.ScheduleTimes,
		WorkerCount:   cfg.Scheduler.WorkerCount,
		JobDelay:      cfg.Scheduler.JobDelay,
		QueueSize:     cfg.Scheduler.QueueSize,
		RunOnStartup:  cfg.Scheduler.RunOnStartup,
		JobProvider: func(ctx context.Context) ([]scheduler.Job, error) {
			return dispatcher.SyncableJobs(ctx)
		},
	})
	if err != nil {
		return err
	}

	// Webhook dispatches and scheduled runs share one pool and one per-account
	// lock table.
	dispatcher = scheduler.NewDispatcher(accountRepo, engine, adapters, sched.Pool())

	if cfg.Scheduler.Enabled {
		sched.Start()
		log.Printf("Scheduler started with times: %v", cfg.Scheduler.ScheduleTimes)
	} else {
		sched.Pool().Start()
		log.Println("Scheduler is disabled; worker pool serves webhook dispatches only")
	}

	// Webhook verification
	keyCache := webhook.NewKeyCache(cfg.Webhook.KeySetURL, cfg.Webhook.FetchTimeout)
	verifier := webhook.NewVerifier(keyCache, cfg.Webhook.ReplayWindow, !cfg.Webhook.VerificationEnabled)

	// Initialize handlers
	webhookHandler := httpiface.NewWebhookHandler(verifier, dispatcher, "plaid", cfg.Webhook.TokenHeader)
	accountHandler := httpiface.NewAccountHandler(accountService, transactionRepo)
	notificationHandler := httpiface.NewNotificationHandler(notificationService)

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/webhooks/plaid", webhookHandler.HandleWebhook)

	mux.HandleFunc("/api/accounts", accountHandler.HandleAccounts)
	mux.HandleFunc("/api/accounts/{id}", accountHandler.HandleAccountByID)
	mux.HandleFunc("/api/accounts/{id}/transactions", accountHandler.HandleAccountTransactions)
	mux.HandleFunc("/api/accounts/{id}/reauthorize", accountHandler.HandleReauthorize)

	mux.HandleFunc("/api/devices", notificationHandler.HandleRegisterDevice)
	mux.HandleFunc("/api/notifications", notificationHandler.HandleListNotifications)
	mux.HandleFunc("/api/notifications/preferences", notificationHandler.HandlePreferences)
	mux.HandleFunc("/api/notifications/{id}/opened", notificationHandler.HandleMarkOpened)

	// Apply global middleware
	var handler http.Handler = mux
	handler = middleware.Logging(handler)
	handler = middleware.AllowedHosts(cfg.Server.AllowedHosts, handler)
	handler = middleware.HSTS(handler)
	if cfg.Telemetry.Enabled {
		handler = otelhttp.NewHandler(handler, "http.server")
	}

	// Create server
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	log.Println("Shutting down scheduler...")
	sched.Shutdown(30 * time.Second)

	log.Println("Server stopped")
	return nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
