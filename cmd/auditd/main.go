package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-shop-fulfillment/internal/audit"
	"github.com/ariefcatur/go-shop-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-shop-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-shop-fulfillment/internal/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	setupLogging(cfg.LogLevel)
	log := logrus.WithField("service", cfg.ServiceName+"-auditd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	writer := &audit.PGWriter{DB: db, Log: log.WithField("component", "audit-writer")}

	consumer := kafkax.NewConsumer(cfg.KafkaBrokers, "auditd", audit.TopicTransitions, 4)

	errCh := make(chan error, 1)
	go func() {
		log.WithField("topic", audit.TopicTransitions).Info("audit consumer started")
		errCh <- consumer.Start(ctx, writer.HandleTransitionEvent)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutting down...")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("consumer stopped")
		}
	}
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
