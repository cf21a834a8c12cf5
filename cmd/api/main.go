package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"trullo.app/internal/access"
	"trullo.app/internal/audit"
	"trullo.app/internal/auth"
	"trullo.app/internal/config"
	"trullo.app/internal/gql"
	"trullo.app/internal/httpapi"
	"trullo.app/internal/obs"
	"trullo.app/internal/policy"
	"trullo.app/internal/store/pg"
	"trullo.app/internal/tracker"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv("TRULLO_CONFIG"), "path to a YAML config file")
	httpAddr := pflag.String("http-addr", "", "HTTP listen address (overrides config)")
	grpcAddr := pflag.String("grpc-addr", "", "gRPC health listen address (overrides config)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *grpcAddr != "" {
		cfg.GRPC.Addr = *grpcAddr
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx := context.Background()

	var (
		store tracker.Store
		db    *sql.DB
	)
	if cfg.Postgres.DSN != "" {
		pgStore, err := pg.Open(cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		if cfg.Postgres.InitSchema {
			initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err = pgStore.Init(initCtx)
			cancel()
			if err != nil {
				log.Fatalf("%v", err)
			}
		}
		store, db = pgStore, pgStore.DB()
	} else {
		log.Println("TRULLO_PG_DSN not set, using in-memory store")
		store = tracker.NewInMemory()
	}

	var (
		revoked auth.Revocations = auth.NewMemoryRevocations()
		rdb     *redis.Client
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		revoked = auth.NewRedisRevocations(rdb)
	}

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, auth.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	authn := auth.NewAuthenticator(tokens, revoked)

	enforcer := policy.NewEnforcer(access.Lookups(store), policy.WithObserver(observeDecision))
	guards, err := access.Compile(enforcer)
	if err != nil {
		log.Fatalf("access catalog: %v", err)
	}

	svc := tracker.NewService(store, tracker.WithRevoker(authn))
	schema, err := gql.NewSchema(svc, guards, authn)
	if err != nil {
		log.Fatalf("graphql: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: db, Redis: rdb}
	api := httpapi.New(svc, guards, authn, httpapi.Options{
		Version:        version,
		Ready:          probe,
		CookieSecure:   cfg.Auth.CookieSecure,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RateBurst:      cfg.HTTP.RateBurst,
		RatePerSec:     cfg.HTTP.RateRPS,
		GraphQL:        gql.NewHandler(schema, authn, cfg.Auth.CookieSecure),
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	log.Printf("Starting trullo-api %s (%s) on %s", version, commit, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	var (
		grpcSrv *grpc.Server
		health  *httpapi.HealthServer
	)
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		health = httpapi.NewHealthServer(probe)
		go health.Poll(ctx, 10*time.Second)
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, health)
		log.Printf("gRPC health on %s", cfg.GRPC.Addr)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if health != nil {
		health.Stop()
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Println("Stopped")
}

// observeDecision counts every decision and audits refusals.
func observeDecision(ctx context.Context, operation string, d policy.Decision) {
	if d.Allow {
		obs.ObserveDecision(operation, "")
		return
	}
	obs.ObserveDecision(operation, string(d.Code))
	var resourceID string
	if d.Resource != nil {
		resourceID = d.Resource.ID
	}
	audit.LogDenial(ctx, operation, string(d.Code), d.Reason, resourceID)
}
