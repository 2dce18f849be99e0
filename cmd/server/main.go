package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/paddock/race-engine/internal/access"
	"github.com/paddock/race-engine/internal/api"
	"github.com/paddock/race-engine/internal/engine"
	"github.com/paddock/race-engine/internal/ledger"
	"github.com/paddock/race-engine/internal/metrics"
	"github.com/paddock/race-engine/internal/model"
	"github.com/paddock/race-engine/internal/notify"
	"github.com/paddock/race-engine/internal/store"
)

// defaultEscrow holds committed bets when ESCROW_ADDR is not configured.
const defaultEscrow = "0x00000000000000000000000000000000000e5c07"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Collaborators ---
	signer := mustAddr("TRUSTED_SIGNER")
	escrow := addrOr("ESCROW_ADDR", defaultEscrow)
	treasury := addrOr("TREASURY_ADDR", "")

	guard := access.NewGuard(operatorAddrs()...)
	book := ledger.NewMemoryBook()

	// --- Notifiers: WebSocket hub always, Kafka when configured ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	notifiers := notify.Multi{wsHub}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		kn := notify.NewKafkaNotifier(brokers)
		cleanup = append(cleanup, kn.Close)
		notifiers = append(notifiers, kn)
		slog.Info("Kafka notifications enabled", "brokers", brokers)
	}

	// --- Race controller ---
	eng := engine.New(st, book, guard, engine.Config{
		TrustedSigner: signer,
		Escrow:        escrow,
		Treasury:      treasury,
	}, notifiers)
	srv := api.NewServer(eng)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"race-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket feed of bet-placed / bet-revoked events.
		r.Get("/ws", wsHub.HandleWS)

		srv.Routes(r)
	})

	// --- Server ---
	httpSrv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("race-engine listening", "port", port, "signer", signer.Hex())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down race-engine...")
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("race-engine stopped")
}

// mustAddr reads a required address from the environment.
func mustAddr(env string) model.Address {
	addr, err := model.ParseAddress(os.Getenv(env))
	if err != nil {
		slog.Error("missing or invalid address", "env", env, "err", err)
		os.Exit(1)
	}
	return addr
}

// addrOr reads an optional address, falling back to def ("" → null).
func addrOr(env, def string) model.Address {
	raw := os.Getenv(env)
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return model.NullAddress
	}
	addr, err := model.ParseAddress(raw)
	if err != nil {
		slog.Error("invalid address", "env", env, "err", err)
		os.Exit(1)
	}
	return addr
}

// operatorAddrs parses the comma-separated OPERATOR_ADDRS list.
func operatorAddrs() []model.Address {
	raw := os.Getenv("OPERATOR_ADDRS")
	if raw == "" {
		slog.Warn("OPERATOR_ADDRS not set, no operator can mutate state")
		return nil
	}
	var addrs []model.Address
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := model.ParseAddress(part)
		if err != nil {
			slog.Error("invalid operator address", "addr", part, "err", err)
			os.Exit(1)
		}
		addrs = append(addrs, addr)
	}
	return addrs
}
