package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/example/leadshop/internal/alert"
	"github.com/example/leadshop/internal/config"
	"github.com/example/leadshop/internal/domain/catalog"
	"github.com/example/leadshop/internal/fulfillment"
	"github.com/example/leadshop/internal/infrastructure/kafka"
	"github.com/example/leadshop/internal/infrastructure/store"
	"github.com/example/leadshop/internal/telegram"
)

const (
	consumerGroup = "lead-fulfiller"

	sweepInterval = 1 * time.Minute
	sweepGrace    = 5 * time.Minute
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.New()
	if cfg.BotToken == "" {
		log.Fatal("[Fulfiller] BOT_TOKEN environment variable is required")
	}

	log.Println("[Fulfiller] ========================================")
	log.Println("[Fulfiller] Lead Shop - Fulfillment Service")
	log.Println("[Fulfiller] ========================================")
	log.Printf("[Fulfiller] Store: %s", cfg.StoreBackend)
	log.Printf("[Fulfiller] Kafka: %v topic=%s group=%s", cfg.KafkaBrokers, cfg.KafkaTopic, consumerGroup)
	log.Printf("[Fulfiller] Leads dir: %s", cfg.LeadsDir)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("[Fulfiller] Failed to load catalog: %v", err)
	}

	orderStore := newOrderStore(ctx, cfg, cat)

	tg := telegram.NewClient(cfg.BotToken, cfg.AdminChatID, 30*time.Second)
	alerts := alert.NewLog(tg)

	dispatcher := fulfillment.NewDispatcher(orderStore, cat, tg, alerts, cfg.LeadsDir)
	sweeper := fulfillment.NewSweeper(orderStore, dispatcher, sweepInterval, sweepGrace)

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, consumerGroup)
	defer consumer.Close()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Println("[Fulfiller] Starting job consumer...")
		if err := consumer.Consume(ctx, dispatcher.HandleJob); err != nil {
			if ctx.Err() == nil {
				log.Printf("[Fulfiller] Consumer error: %v", err)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[Fulfiller] Shutting down...")
	cancel()
	wg.Wait()
}

func newOrderStore(ctx context.Context, cfg *config.Config, cat *catalog.Catalog) store.OrderStore {
	switch cfg.StoreBackend {
	case "postgres":
		db, err := store.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("[Fulfiller] Failed to connect to PostgreSQL: %v", err)
		}
		ps := store.NewPostgresStore(db, cat)
		if err := ps.InitSchema(ctx); err != nil {
			log.Fatalf("[Fulfiller] Failed to init schema: %v", err)
		}
		log.Println("[Fulfiller] Connected to PostgreSQL")
		return ps
	case "dynamo":
		client, err := store.ConnectDynamo(ctx, cfg.AWSRegion)
		if err != nil {
			log.Fatalf("[Fulfiller] Failed to connect to DynamoDB: %v", err)
		}
		log.Printf("[Fulfiller] Connected to DynamoDB table=%s", cfg.DynamoTable)
		return store.NewDynamoStore(client, cfg.DynamoTable, cat)
	case "memory":
		// A process-local store cannot be shared with the API service;
		// memory is for single-process dev runs only.
		log.Println("[Fulfiller] Using in-memory order store")
		return store.NewMemoryStore(cat)
	default:
		log.Fatalf("[Fulfiller] Unknown store backend %q", cfg.StoreBackend)
		return nil
	}
}
