package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stakemint/facilitator/internal/facilitatorapi"
	"github.com/stakemint/facilitator/internal/queue"
	"github.com/stakemint/facilitator/internal/transfer"
	transferpg "github.com/stakemint/facilitator/internal/transfer/postgres"
)

func main() {
	var (
		listenAddr = flag.String("listen", "127.0.0.1:8083", "HTTP listen address")

		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN for the transfer job store; empty selects the in-memory store")

		queueDriver   = flag.String("queue-driver", queue.DriverKafka, "queue driver for submit endpoints (kafka|stdio)")
		queueBrokers  = flag.String("queue-brokers", "", "queue brokers (comma-separated, kafka driver)")
		requestTopic  = flag.String("request-topic", "transfers.request.v1", "queue topic for transfer request events")
		progressTopic = flag.String("progress-topic", "transfers.progress.v1", "queue topic for progress (secret reveal) events")

		authTokenEnv = flag.String("auth-env", "FACILITATOR_API_AUTH_TOKEN", "env var containing bearer auth token for mutating routes; empty value disables auth")

		rateLimitPerSecond = flag.Float64("rate-limit-per-ip-per-second", 20, "per-IP refill rate for API rate limiting")
		rateLimitBurst     = flag.Int("rate-limit-burst", 40, "per-IP burst capacity for API rate limiting")
		rateLimitMaxIPs    = flag.Int("rate-limit-max-tracked-ips", 10000, "maximum tracked client IP entries in rate limiter")

		readHeaderTimeout = flag.Duration("read-header-timeout", 5*time.Second, "http.Server ReadHeaderTimeout")
		readTimeout       = flag.Duration("read-timeout", 10*time.Second, "http.Server ReadTimeout")
		writeTimeout      = flag.Duration("write-timeout", 10*time.Second, "http.Server WriteTimeout")
		idleTimeout       = flag.Duration("idle-timeout", 60*time.Second, "http.Server IdleTimeout")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *listenAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --listen must be non-empty")
		os.Exit(2)
	}
	if *requestTopic == "" || *progressTopic == "" {
		fmt.Fprintln(os.Stderr, "error: --request-topic and --progress-topic must be non-empty")
		os.Exit(2)
	}
	if *queueDriver == queue.DriverKafka && strings.TrimSpace(*queueBrokers) == "" {
		fmt.Fprintln(os.Stderr, "error: --queue-brokers is required with the kafka driver")
		os.Exit(2)
	}
	if *rateLimitPerSecond <= 0 || *rateLimitBurst <= 0 || *rateLimitMaxIPs <= 0 {
		fmt.Fprintln(os.Stderr, "error: rate limit settings must be > 0")
		os.Exit(2)
	}
	if *readHeaderTimeout <= 0 || *readTimeout <= 0 || *writeTimeout <= 0 || *idleTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: timeouts must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var jobs facilitatorapi.JobReader
	if strings.TrimSpace(*postgresDSN) != "" {
		pool, err := pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		store, err := transferpg.New(pool)
		if err != nil {
			log.Error("init transfer store", "err", err)
			os.Exit(2)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			log.Error("ensure transfer schema", "err", err)
			os.Exit(2)
		}
		jobs = store
	} else {
		log.Warn("using in-memory job store; statuses reset on restart")
		jobs = transfer.NewMemoryStore()
	}

	producer, err := queue.NewProducer(queue.ProducerConfig{
		Driver:  *queueDriver,
		Brokers: queue.SplitCommaList(*queueBrokers),
		Writer:  os.Stdout,
	})
	if err != nil {
		log.Error("init queue producer", "err", err)
		os.Exit(2)
	}
	defer producer.Close()

	handler, err := facilitatorapi.NewHandler(facilitatorapi.Config{
		Producer:                producer,
		RequestTopic:            *requestTopic,
		ProgressTopic:           *progressTopic,
		AuthToken:               os.Getenv(*authTokenEnv),
		RateLimitPerIPPerSecond: *rateLimitPerSecond,
		RateLimitBurst:          *rateLimitBurst,
		RateLimitMaxTrackedIPs:  *rateLimitMaxIPs,
		Now:                     time.Now,
	}, jobs)
	if err != nil {
		log.Error("init api handler", "err", err)
		os.Exit(2)
	}

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: *readHeaderTimeout,
		ReadTimeout:       *readTimeout,
		WriteTimeout:      *writeTimeout,
		IdleTimeout:       *idleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("facilitator-api listening",
			"addr", *listenAddr, "queueDriver", *queueDriver,
			"requestTopic", *requestTopic, "progressTopic", *progressTopic)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown", "reason", ctx.Err())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
