package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-shop-fulfillment/internal/audit"
	"github.com/ariefcatur/go-shop-fulfillment/internal/config"
	"github.com/ariefcatur/go-shop-fulfillment/internal/expiry"
	kafkax "github.com/ariefcatur/go-shop-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-shop-fulfillment/internal/notify"
	"github.com/ariefcatur/go-shop-fulfillment/internal/orders"
	"github.com/ariefcatur/go-shop-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-shop-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-shop-fulfillment/internal/stock"
	"github.com/ariefcatur/go-shop-fulfillment/internal/users"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	setupLogging(cfg.LogLevel)
	log := logrus.WithField("service", cfg.ServiceName+"-expiryd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	pDeliver := kafkax.NewProducer(cfg.KafkaBrokers, notify.TopicDelivery, 1024)
	pDeliver.Start(ctx)
	pNotify := kafkax.NewProducer(cfg.KafkaBrokers, notify.TopicNotify, 1024)
	pNotify.Start(ctx)
	pAudit := kafkax.NewProducer(cfg.KafkaBrokers, audit.TopicTransitions, 1024)
	pAudit.Start(ctx)

	repo := &orders.PGRepository{DB: db}
	ledger := &stock.PGLedger{DB: db}
	queue := &expiry.RedisQueue{RDB: rdb}
	machine := &orders.Machine{
		Repo:          repo,
		Ledger:        ledger,
		Queue:         queue,
		Users:         &users.PGDirectory{DB: db},
		Messenger:     &notify.KafkaMessenger{Delivery: pDeliver, Notifier: pNotify, Service: cfg.ServiceName + "-expiryd"},
		Audit:         &audit.KafkaRecorder{Producer: pAudit, Service: cfg.ServiceName + "-expiryd"},
		Window:        cfg.PaymentWindow,
		FeePercent:    cfg.FeePercent,
		FeeFixedCents: cfg.FeeFixedCents,
		Log:           log.WithField("component", "order-machine"),
	}

	sched := &expiry.Scheduler{
		Queue: queue,
		Expirer: expiry.ExpireFunc(func(ctx context.Context, orderID string) error {
			err := machine.Expire(ctx, orderID)
			// already resolved by payment or cancel; entry can go
			if errors.Is(err, orders.ErrNotPending) || errors.Is(err, orders.ErrOrderNotFound) {
				return nil
			}
			return err
		}),
		Orders:   repo,
		Stock:    ledger,
		Interval: cfg.PollInterval,
		Window:   cfg.PaymentWindow,
		Log:      log.WithField("component", "expiry-scheduler"),
	}

	// metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.HTTPAddr, mux); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics server")
		}
	}()

	go func() {
		log.WithField("interval", cfg.PollInterval.String()).Info("expiry scheduler started")
		_ = sched.Run(ctx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")
	cancel()

	pDeliver.Close()
	pNotify.Close()
	pAudit.Close()
	pDeliver.WaitClosed()
	pNotify.WaitClosed()
	pAudit.WaitClosed()
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
