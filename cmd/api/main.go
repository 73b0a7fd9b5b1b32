package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-shop-fulfillment/internal/audit"
	"github.com/ariefcatur/go-shop-fulfillment/internal/config"
	"github.com/ariefcatur/go-shop-fulfillment/internal/expiry"
	"github.com/ariefcatur/go-shop-fulfillment/internal/httpx"
	kafkax "github.com/ariefcatur/go-shop-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-shop-fulfillment/internal/notify"
	"github.com/ariefcatur/go-shop-fulfillment/internal/orders"
	"github.com/ariefcatur/go-shop-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-shop-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-shop-fulfillment/internal/session"
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
	log := logrus.WithField("service", cfg.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers: outbound bot messages + audit trail
	pDeliver := kafkax.NewProducer(cfg.KafkaBrokers, notify.TopicDelivery, 1024)
	pDeliver.Start(ctx)
	pNotify := kafkax.NewProducer(cfg.KafkaBrokers, notify.TopicNotify, 1024)
	pNotify.Start(ctx)
	pAudit := kafkax.NewProducer(cfg.KafkaBrokers, audit.TopicTransitions, 1024)
	pAudit.Start(ctx)

	repo := &orders.PGRepository{DB: db}
	machine := &orders.Machine{
		Repo:          repo,
		Ledger:        &stock.PGLedger{DB: db},
		Queue:         &expiry.RedisQueue{RDB: rdb},
		Users:         &users.PGDirectory{DB: db},
		Messenger:     &notify.KafkaMessenger{Delivery: pDeliver, Notifier: pNotify, Service: cfg.ServiceName},
		Audit:         &audit.KafkaRecorder{Producer: pAudit, Service: cfg.ServiceName},
		Window:        cfg.PaymentWindow,
		FeePercent:    cfg.FeePercent,
		FeeFixedCents: cfg.FeeFixedCents,
		Log:           log.WithField("component", "order-machine"),
	}

	router := httpx.NewRouter()
	h := &httpx.Handler{
		Machine:   machine,
		Repo:      repo,
		Ledger:    &stock.PGLedger{DB: db},
		Sessions:  &session.RedisStore{RDB: rdb, TTL: cfg.SessionTTL},
		Redis:     rdb,
		RateLimit: cfg.OrderRateLimit,
		Log:       log.WithField("component", "http"),
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Infof("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

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
