package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"shopcore/internal/config"
	"shopcore/internal/httpx"
	kafkax "shopcore/internal/kafka"
	"shopcore/internal/metrics"
	"shopcore/internal/notify"
	"shopcore/internal/postgres"
	"shopcore/internal/redisx"
	"shopcore/internal/shop"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	placed := kafkax.NewProducer(cfg.KafkaBrokers, shop.TopicOrderPlaced, 1024)
	placed.Start(ctx)
	status := kafkax.NewProducer(cfg.KafkaBrokers, shop.TopicOrderStatusChanged, 1024)
	status.Start(ctx)

	repo := &shop.Repo{
		DB: db,
		Events: &notify.KafkaDispatcher{
			Placed:  placed,
			Status:  status,
			Service: cfg.ServiceName,
		},
	}

	m := metrics.NewServerMetrics("api")
	router := httpx.NewRouter(m)

	catalog := &httpx.CatalogHandler{Store: repo, Redis: rdb}
	catalog.Register(router)

	router.Group(func(r chi.Router) {
		r.Use(httpx.Authenticator([]byte(cfg.JWTSecret)))
		(&httpx.CartHandler{Store: repo}).Register(r)
		(&httpx.OrderHandler{Store: repo, Redis: rdb, Metrics: m}).Register(r)
		(&httpx.CouponHandler{Store: repo}).Register(r)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	placed.Close()
	status.Close()
	cancel()
	placed.WaitClosed()
	status.WaitClosed()
}
