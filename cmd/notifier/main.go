package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"shopcore/internal/config"
	kafkax "shopcore/internal/kafka"
	"shopcore/internal/notify"
	"shopcore/internal/redisx"
	"shopcore/internal/shop"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notify.Service{
		Redis:       rdb,
		Realtime:    notify.RedisBroadcaster{Client: rdb},
		ServiceName: cfg.ServiceName + "-notifier",
	}
	if cfg.PostmarkToken != "" {
		svc.Mailer = notify.NewMailer(cfg.PostmarkToken, cfg.EmailFrom)
	} else {
		log.Println("POSTMARK_API_TOKEN not set; confirmation emails disabled")
	}

	group := getenv("NOTIFIER_GROUP", "notifier-svc")
	workers := mustAtoi(os.Getenv("NOTIFIER_WORKERS"), "4")

	placed := kafkax.NewConsumer(cfg.KafkaBrokers, group, shop.TopicOrderPlaced, workers)
	status := kafkax.NewConsumer(cfg.KafkaBrokers, group, shop.TopicOrderStatusChanged, workers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("notifier consumer started: group=%s topic=%s workers=%d", group, shop.TopicOrderPlaced, workers)
		return placed.Start(gctx, svc.HandleOrderEvent)
	})
	g.Go(func() error {
		log.Printf("notifier consumer started: group=%s topic=%s workers=%d", group, shop.TopicOrderStatusChanged, workers)
		return status.Start(gctx, svc.HandleOrderEvent)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("shutting down consumers...")
		cancel()
	}()

	if err := g.Wait(); err != nil {
		log.Printf("consumer exit: %v", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}
