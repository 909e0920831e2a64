package main

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/punchamoorthee/barterops/internal/api"
	"github.com/punchamoorthee/barterops/internal/config"
	"github.com/punchamoorthee/barterops/internal/service"
	"github.com/punchamoorthee/barterops/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Env == "development" {
		log.SetLevel(log.DebugLevel)
	}

	pg, err := store.NewPostgres(cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pg.Init(ctx); err != nil {
		log.Fatalf("Unable to initialize schema: %v", err)
	}

	// Messaging and notifications are other systems; the log-backed stand-ins
	// keep the contracts honest until those clients are wired.
	engine := service.NewEngine(
		pg,
		service.NewMemoryMessaging(),
		service.LogNotifier{},
		service.SystemClock{},
		service.Config{
			ReceiptDelay:     cfg.ReceiptDelay,
			CompletionWindow: cfg.CompletionWindow,
		},
	)
	engine.StartExpirationSweeper(ctx, cfg.SweepInterval)

	handler := api.NewHandler(engine)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	handler.Register(r.PathPrefix("/api/v1").Subrouter())

	log.Infof("barter offer engine listening on :%s (sweep every %s)", cfg.Port, cfg.SweepInterval)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
