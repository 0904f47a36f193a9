package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"

	"decisiongate.org/internal/auth"
	"decisiongate.org/internal/cache"
	"decisiongate.org/internal/config"
	"decisiongate.org/internal/decision"
	"decisiongate.org/internal/httpapi"
	"decisiongate.org/internal/license"
	"decisiongate.org/internal/notify"
	"decisiongate.org/internal/obs"
	"decisiongate.org/internal/policy"
	"decisiongate.org/internal/recommend"
	"decisiongate.org/internal/store/pg"
	"decisiongate.org/internal/tasks"
)

var version = "0.3.1"

func main() {
	configPath := flag.String("config", os.Getenv("DECISIONGATE_CONFIG"), "Path to YAML config")
	flag.Parse()

	obs.Init()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Postgres is optional: without a DSN everything runs on the in-memory
	// stores, which is enough for local development.
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	var (
		store    decision.Store
		users    auth.Store
		licenses license.Checker
		policies policy.Store
	)
	if db != nil {
		store = pg.New(db)
		users = auth.NewPGStore(db)
		licenses = license.NewPGChecker(db)
		policies = policy.NewPGStore(db)
	} else {
		store = decision.NewInMemory()
		users = auth.NewInMemory()
		static := license.NewStaticChecker()
		static.Grant("demo", license.ModuleAIDecisions)
		licenses = static
		policies = policy.NewStaticStore()
	}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL,
			nats.Name("decisiongate-api"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Printf("nats connect failed, notifications degrade to log: %v", err)
			nc = nil
		}
	}

	engine, err := policy.NewEngine()
	if err != nil {
		log.Fatalf("policy engine: %v", err)
	}

	var providers []recommend.Provider
	if cfg.Recommend.PrimaryURL != "" {
		providers = append(providers, recommend.NewHTTPProvider("primary",
			cfg.Recommend.PrimaryURL, cfg.Recommend.APIKey, cfg.Recommend.Model))
	}
	if cfg.Recommend.FallbackURL != "" {
		providers = append(providers, recommend.NewHTTPProvider("secondary",
			cfg.Recommend.FallbackURL, cfg.Recommend.APIKey, cfg.Recommend.Model))
	}
	recommender := recommend.NewChain(cfg.Recommend.Timeout, providers...)

	runner := tasks.NewRunner(4, 256)
	defer runner.Close()

	registry := decision.NewRegistry()
	registry.Default = func(ctx context.Context, d *decision.Decision) error {
		// Execution hooks are deployment-specific; the default just records
		// the approval in the log.
		log.Printf("executing decision %s (%s)", d.ID, d.Type)
		return nil
	}

	svc := decision.NewService(decision.ServiceConfig{
		Store:       store,
		Scorer:      decision.NewScorer(policies, engine),
		Resolver:    decision.NewApproverResolver(users),
		Executor:    registry,
		Recommender: recommender,
		Notifier:    notify.NewNATSNotifier(nc, ""),
		Licenses:    licenses,
		Runner:      runner,
		Expiry:      cfg.ExpiryWindow,
	})

	api := httpapi.New(httpapi.Options{
		Ready:      httpapi.ReadyProbe{DB: db},
		Version:    version,
		Decisions:  svc,
		Users:      users,
		Cache:      cache.NewTwoTier(cache.NewMemory(), nil, cfg.CacheTTL),
		RateBurst:  cfg.RateBurst,
		RatePerSec: cfg.RatePerSec,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Background sweep for overdue approval entries.
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := svc.ExpireDue(sweepCtx); err != nil {
					log.Printf("expiry sweep: %v", err)
				}
			}
		}
	}()

	log.Printf("Starting decisiongate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	sweepCancel()
	if nc != nil {
		nc.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
