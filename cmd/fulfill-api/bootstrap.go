package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/FulfillBox/config"
	"github.com/BearBump/FulfillBox/internal/broker/kafka"
	"github.com/BearBump/FulfillBox/internal/cache/rediscache"
	"github.com/BearBump/FulfillBox/internal/services/fulfillment"
	"github.com/BearBump/FulfillBox/internal/storage/pgfulfillment"
)

type fulfillAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     fulfillAPIOpts
	svc      *fulfillment.Service
	limiter  *rediscache.RateLimiter
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapFulfillAPI() *fulfillAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}
	webhookSecret := os.Getenv("printifyWebhookSecret")
	if webhookSecret == "" {
		panic("printifyWebhookSecret env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.FulfillBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.FulfillBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "fulfill-api"
	}
	orderCreatedTopic := cfg.Kafka.OrderCreatedTopicName
	if orderCreatedTopic == "" {
		orderCreatedTopic = "order.created"
	}
	updatedTopic := cfg.Kafka.FulfillmentUpdatedTopicName
	if updatedTopic == "" {
		updatedTopic = "fulfillment.updated"
	}

	cacheTTL := time.Duration(cfg.FulfillBox.CurrentRecordTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	appendTimeout := time.Duration(cfg.FulfillBox.AppendTimeoutSeconds) * time.Second
	rateLimit := cfg.FulfillBox.WebhookRateLimitPerMinute
	if rateLimit <= 0 {
		rateLimit = 300
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	limiter := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, orderCreatedTopic, consumerGroup)

	svc := fulfillment.New(st, rc, cacheTTL).
		WithProducer(producer, updatedTopic).
		WithAppendTimeout(appendTimeout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &fulfillAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: fulfillAPIOpts{
			httpAddr:           httpAddr,
			swaggerPath:        swaggerPath,
			webhookSecret:      webhookSecret,
			rateLimitPerMinute: rateLimit,
			orderCreatedTopic:  orderCreatedTopic,
			consumerGroup:      consumerGroup,
		},
		svc:      svc,
		limiter:  limiter,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgfulfillment.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgfulfillment.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *fulfillAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *fulfillAPIApp) Run() error {
	return runFulfillAPI(a.ctx, a.opts, a.svc, a.limiter, a.consumer)
}
