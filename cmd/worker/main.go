// The worker binary runs dispatch and sequence processing without the HTTP
// surface, for deployments that scale send capacity independently of the
// API.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/member-messaging/internal/config"
	"github.com/ignite/member-messaging/internal/dispatcher"
	"github.com/ignite/member-messaging/internal/email"
	"github.com/ignite/member-messaging/internal/pkg/distlock"
	"github.com/ignite/member-messaging/internal/pkg/logger"
	"github.com/ignite/member-messaging/internal/repository/postgres"
	"github.com/ignite/member-messaging/internal/scheduler"
	"github.com/ignite/member-messaging/internal/sequence"
	"github.com/ignite/member-messaging/internal/sms"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err.Error())
		os.Exit(1)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.Error("database unavailable", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	messages := scheduler.NewStore(db)
	templates := postgres.NewTemplateStore(db)
	leads := postgres.NewLeadStore(db)

	seqEngine := sequence.NewEngine(sequence.NewStore(db), templates, messages, leads)
	if rdb != nil {
		seqEngine.SetLock(distlock.New(rdb, "sequence:process", 5*time.Minute))
	}

	var emailSender dispatcher.EmailSender
	if s, err := email.NewSESSender(email.Config(cfg.SES)); err != nil {
		logger.Warn("email channel disabled", "reason", err.Error())
	} else {
		emailSender = s
	}
	var smsSender dispatcher.SMSSender
	if s, err := sms.NewTwilioSender(sms.Config(cfg.Twilio)); err != nil {
		logger.Warn("sms channel disabled", "reason", err.Error())
	} else {
		smsSender = s
	}

	var limiter dispatcher.Limiter
	if rdb != nil {
		limiter = dispatcher.NewRateLimiter(rdb, map[string]dispatcher.ChannelLimit{
			"email": {PerSecond: cfg.Dispatcher.EmailPerSecond, PerMinute: cfg.Dispatcher.EmailPerMinute},
			"sms":   {PerSecond: cfg.Dispatcher.SMSPerSecond, PerMinute: cfg.Dispatcher.SMSPerMinute},
		})
	}

	pool := dispatcher.NewPool(messages, emailSender, smsSender, limiter, dispatcher.Options{
		Workers:      cfg.Dispatcher.Workers,
		BatchSize:    cfg.Dispatcher.BatchSize,
		PollInterval: cfg.Dispatcher.PollInterval(),
		MaxAttempts:  cfg.Dispatcher.MaxAttempts,
		BackoffBase:  cfg.Dispatcher.BackoffBase(),
		BackoffMax:   cfg.Dispatcher.BackoffMax(),
		SendTimeout:  cfg.Dispatcher.SendTimeout(),
	})
	pool.Start()
	seqEngine.Start(cfg.Sequences.TickInterval())
	logger.Info("worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down worker")

	seqEngine.Stop()
	pool.Stop()
	logger.Info("worker stopped")
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url not configured")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
