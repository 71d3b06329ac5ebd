package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"taskpulse/internal/api"
	"taskpulse/internal/bus"
	"taskpulse/internal/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

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

	qb, err := bus.NewQueueBus(connStr, bus.AtLeastOnce)
	if err != nil {
		log.Fatalf("queue bus: %v", err)
	}

	var auth *api.Auth
	if os.Getenv("AUTH_TEST_MODE") == "1" {
		auth = api.NewAuth(nil, "", "")
	} else {
		audience := os.Getenv("AUTH_AUDIENCE")
		domain := os.Getenv("AUTH_DOMAIN")
		if audience == "" || domain == "" {
			log.Fatal("missing auth config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, audience, "https://"+domain+"/")
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	api.Register(e, store, qb, auth)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}
	e.Logger.Fatal(e.Start(listenAddr))
}
