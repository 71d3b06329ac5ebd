package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskpulse/internal/audit"
	"taskpulse/internal/bus"
	"taskpulse/internal/domain"
	"taskpulse/internal/notify"
	"taskpulse/internal/relay"
	"taskpulse/internal/scheduler"
	"taskpulse/internal/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("relay starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTable := os.Getenv("TASKS_TABLE")
	rulesTable := os.Getenv("RECURRENCE_RULES_TABLE")
	remindersTable := os.Getenv("REMINDERS_TABLE")
	auditTable := os.Getenv("AUDIT_LOG_TABLE")
	if connStr == "" || tasksTable == "" || rulesTable == "" || remindersTable == "" || auditTable == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, tasksTable, rulesTable, remindersTable, auditTable)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	guarantee, err := bus.ParseGuarantee(os.Getenv("RELAY_DELIVERY"))
	if err != nil {
		log.Fatalf("invalid RELAY_DELIVERY: %v", err)
	}
	qb, err := bus.NewQueueBus(connStr, guarantee)
	if err != nil {
		log.Fatalf("queue bus: %v", err)
	}

	rc := redis.NewClient(redisOptions())

	ttl := 24 * time.Hour
	if v := os.Getenv("DEDUPER_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid DEDUPER_TTL: %v", err)
		}
		ttl = d
	}
	deduper := relay.NewRedisDeduper(rc, ttl)

	mat := relay.NewMaterializer(store, deduper)
	sink := audit.NewSink(store)
	notifier := notify.NewNotifier(rc, qb)
	r := relay.New(store, mat, sink, notifier)

	smtpPort := 587
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if smtpPort, err = strconv.Atoi(v); err != nil {
			log.Fatalf("invalid SMTP_PORT: %v", err)
		}
	}
	mailer := notify.NewEmailWorker(notify.SMTPConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     smtpPort,
		User:     os.Getenv("SMTP_USER"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
	}, nil)

	scanInterval := time.Minute
	if v := os.Getenv("REMINDER_SCAN_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid REMINDER_SCAN_INTERVAL: %v", err)
		}
		scanInterval = d
	}
	sched := scheduler.New(store, qb, 30*time.Second)
	if err := sched.Start(scanInterval); err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumers := map[string]bus.Handler{
		domain.TopicTaskEvents:      r.HandleTaskEvent,
		domain.TopicRecurringEvents: r.HandleRecurringEvent,
		domain.TopicReminderEvents:  r.HandleReminderEvent,
		domain.TopicEmailDeliveries: mailer.Handle,
	}
	var wg sync.WaitGroup
	for topic, handler := range consumers {
		wg.Add(1)
		go func(topic string, handler bus.Handler) {
			defer wg.Done()
			if err := qb.Subscribe(ctx, topic, handler); err != nil && ctx.Err() == nil {
				log.WithError(err).WithField("topic", topic).Error("consumer stopped")
			}
		}(topic, handler)
	}

	<-ctx.Done()
	log.Info("relay shutting down")
	wg.Wait()
}

// redisOptions accepts either a redis URL or the comma-separated
// host,password=...,ssl=... form.
func redisOptions() *redis.Options {
	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	opts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		opts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				opts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					opts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	return opts
}
