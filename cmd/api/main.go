package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/leadshop/internal/alert"
	"github.com/example/leadshop/internal/api"
	"github.com/example/leadshop/internal/auth"
	"github.com/example/leadshop/internal/bot"
	"github.com/example/leadshop/internal/config"
	"github.com/example/leadshop/internal/domain/catalog"
	"github.com/example/leadshop/internal/fulfillment"
	"github.com/example/leadshop/internal/infrastructure/kafka"
	"github.com/example/leadshop/internal/infrastructure/store"
	"github.com/example/leadshop/internal/paypal"
	"github.com/example/leadshop/internal/reconcile"
	"github.com/example/leadshop/internal/telegram"
)

const shopName = "Lead Shop"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.New()
	if cfg.BotToken == "" {
		log.Fatal("[API] BOT_TOKEN environment variable is required")
	}
	if cfg.WebhookSecret == "" {
		log.Fatal("[API] WEBHOOK_SECRET environment variable is required")
	}
	if cfg.PayPalBusiness == "" {
		log.Fatal("[API] PAYPAL_BUSINESS environment variable is required")
	}

	log.Println("[API] ========================================")
	log.Printf("[API] %s - Storefront Service", shopName)
	log.Println("[API] ========================================")
	log.Printf("[API] Store: %s", cfg.StoreBackend)
	log.Printf("[API] Kafka: %v topic=%s", cfg.KafkaBrokers, cfg.KafkaTopic)
	log.Printf("[API] PayPal sandbox: %v", cfg.PayPalSandbox)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("[API] Failed to load catalog: %v", err)
	}
	log.Printf("[API] Catalog loaded: %d categories", len(cat.All()))

	orderStore := newOrderStore(ctx, cfg, cat)

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	tg := telegram.NewClient(cfg.BotToken, cfg.AdminChatID, 30*time.Second)
	alerts := alert.NewLog(tg)

	pp := paypal.NewClient(cfg.PayPalBusiness, cfg.PayPalCurrency, cfg.PayPalSandbox, 30*time.Second)
	enqueuer := fulfillment.NewQueueEnqueuer(producer)
	reconciler := reconcile.NewReconciler(orderStore, pp, enqueuer, alerts)

	botHandler := bot.NewHandler(orderStore, cat, tg, pp, bot.URLs{
		Return: cfg.PublicBaseURL + "/thanks",
		Cancel: cfg.PublicBaseURL + "/cancel",
		Notify: cfg.PublicBaseURL + "/ipn",
	}, shopName)

	jwtService := auth.NewJWTService(cfg.JWTSecret, 1*time.Hour)

	handlers := api.NewHandlers(reconciler, botHandler, cfg.WebhookSecret)
	admin := api.NewAdminHandlers(orderStore, alerts, jwtService, cfg.AdminUser, cfg.AdminPasswordHash)
	router := api.NewRouter(handlers, admin, jwtService)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: router,
	}

	go func() {
		log.Printf("[API] Server started on %s", cfg.RunAddress)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[API] Server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[API] Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] Shutdown error: %v", err)
	}
}

func newOrderStore(ctx context.Context, cfg *config.Config, cat *catalog.Catalog) store.OrderStore {
	switch cfg.StoreBackend {
	case "postgres":
		db, err := store.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("[API] Failed to connect to PostgreSQL: %v", err)
		}
		ps := store.NewPostgresStore(db, cat)
		if err := ps.InitSchema(ctx); err != nil {
			log.Fatalf("[API] Failed to init schema: %v", err)
		}
		log.Println("[API] Connected to PostgreSQL")
		return ps
	case "dynamo":
		client, err := store.ConnectDynamo(ctx, cfg.AWSRegion)
		if err != nil {
			log.Fatalf("[API] Failed to connect to DynamoDB: %v", err)
		}
		log.Printf("[API] Connected to DynamoDB table=%s", cfg.DynamoTable)
		return store.NewDynamoStore(client, cfg.DynamoTable, cat)
	case "memory":
		log.Println("[API] Using in-memory order store")
		return store.NewMemoryStore(cat)
	default:
		log.Fatalf("[API] Unknown store backend %q", cfg.StoreBackend)
		return nil
	}
}
