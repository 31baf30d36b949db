package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"refund-service/config"
	"refund-service/internal/api"
	"refund-service/internal/broker"
	"refund-service/internal/gateway"
	"refund-service/internal/redisclient"
	"refund-service/internal/service"
	"refund-service/internal/store"
	"refund-service/internal/util"
	"refund-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting refund service")

	tp, err := util.InitTracer("refund-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	refundProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRefund)
	defer refundProducer.Close()
	webhookProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhook)
	defer webhookProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(refundProducer)
	webhookQueue := broker.NewWebhookQueue(webhookProducer)

	stripeClient := gateway.NewStripeClient(gateway.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	})

	requestService := service.NewRequestService(db, eventPublisher)
	refundService := service.NewRefundService(db, stripeClient, redisClient, eventPublisher,
		time.Duration(cfg.Business.PostRefundUpdateTimeoutSeconds)*time.Second,
		time.Duration(cfg.Business.ProcessLockTTLSeconds)*time.Second)
	reconciler := service.NewReconciler(db, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	webhookConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhook, cfg.Kafka.ConsumerGroup)
	webhookWorker := worker.NewWebhookWorker(webhookConsumer, reconciler)
	go func() {
		if err := webhookWorker.Start(workerCtx); err != nil {
			log.Printf("Webhook worker error: %v", err)
		}
	}()

	outboxWorker := worker.NewOutboxWorker(db, time.Duration(cfg.Business.OutboxSweepIntervalSeconds)*time.Second)
	go func() {
		if err := outboxWorker.Start(workerCtx); err != nil {
			log.Printf("Outbox worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(requestService, refundService, stripeClient, webhookQueue, redisClient)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	webhookWorker.Stop()

	log.Println("Server exited")
}
