package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dualpay/fiat-wallet-service/internal/config"
	"github.com/dualpay/fiat-wallet-service/internal/logger"
	"github.com/dualpay/fiat-wallet-service/internal/model"
	"github.com/dualpay/fiat-wallet-service/internal/rates"
	"github.com/dualpay/fiat-wallet-service/internal/repo"
	"github.com/dualpay/fiat-wallet-service/internal/service"
	httptransport "github.com/dualpay/fiat-wallet-service/internal/transport/http"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(
		&model.User{}, &model.Wallet{}, &model.Transaction{},
		&model.KYCVerification{}, &model.OutboxEvent{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	repository := repo.NewRepository(gdb, rdb, kw, log)
	rateClient := rates.NewClient(cfg.Rates.BaseURL, cfg.Rates.Timeout(), log)

	limits := service.DefaultLimits()
	if d, err := decimal.NewFromString(cfg.Wallet.DailyLimit); err == nil {
		limits.Daily = d
	}
	if m, err := decimal.NewFromString(cfg.Wallet.MonthlyLimit); err == nil {
		limits.Monthly = m
	}

	svc := service.NewFiatWalletService(repository, rateClient, limits, log)
	kycSvc := service.NewKYCService(repository, cfg.Wallet.WebhookSecret, log)

	router := httptransport.NewRouter(svc, kycSvc, cfg.RateLimit, log)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("fiat-wallet-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
