/**
 * @description
 * This is the main entry point for the payment-service. It loads configuration,
 * builds the recipient directory and the remote profile store, wires the trust
 * evaluator, alert presenter, event producer and Redis rate limiter into the
 * application service, and serves the HTTP API until it receives a shutdown signal.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver for the profile store.
 * - github.com/redis/go-redis/v9: Rate limiting of trust checks.
 * - pkg/rabbitmq: Publishing payment lifecycle events.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/securepay/payment-service/internal/alert"
	"github.com/securepay/payment-service/internal/api"
	"github.com/securepay/payment-service/internal/app"
	"github.com/securepay/payment-service/internal/config"
	"github.com/securepay/payment-service/internal/directory"
	"github.com/securepay/payment-service/internal/store"
	"github.com/securepay/payment-service/internal/trust"
	"github.com/securepay/payment-service/pkg/profileclient"
	rmrabbit "github.com/securepay/payment-service/pkg/rabbitmq"
	"github.com/securepay/payment-service/pkg/speechclient"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting payment-service\" port=%s profile_store=%s", cfg.ServerPort, cfg.ProfileStore)

	var dirOpts []directory.Option
	if cfg.DirectoryCountryCode != "" {
		dirOpts = append(dirOpts, directory.WithCountryCode(cfg.DirectoryCountryCode))
	}
	var payees *directory.Directory
	if strings.TrimSpace(cfg.DirectoryFile) != "" {
		payees, err = directory.LoadFile(cfg.DirectoryFile, dirOpts...)
	} else {
		payees, err = directory.Default(dirOpts...)
	}
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"directory load failed\" file=%q err=%v", cfg.DirectoryFile, err)
	}
	log.Printf("level=info component=bootstrap msg=\"directory loaded\" payees=%d", payees.Len())

	profiles, closeProfiles := openProfileStore(cfg)
	defer closeProfiles()

	evaluatorOpts := []trust.Option{
		trust.WithDirectoryThreshold(cfg.DirectoryWarnThreshold),
		trust.WithRemoteThreshold(cfg.RemoteWarnThreshold),
	}
	if cfg.LargeTransferAmount > 0 {
		evaluatorOpts = append(evaluatorOpts, trust.WithAmountPolicy(trust.LargeTransferPolicy(cfg.LargeTransferAmount)))
	}
	evaluator := trust.NewEvaluator(payees, profiles, evaluatorOpts...)

	prompter := alert.NewPendingPrompter()
	var presenterOpts []alert.Option
	if strings.TrimSpace(cfg.SpeechServiceURL) != "" {
		speech := speechclient.NewClient(cfg.SpeechServiceURL, cfg.SpeechServiceAPIKey)
		presenterOpts = append(presenterOpts, alert.WithSpeaker(speech, cfg.SpeechLanguage))
	} else {
		log.Println("level=info component=bootstrap msg=\"speech service not configured; alerts will not be read aloud\"")
	}
	presenter := alert.NewPresenter(prompter, presenterOpts...)

	// This service only publishes, so a producer is enough.
	var publisher rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; events will not be published\" env=RABBITMQ_URL")
	} else if producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.EventsExchange); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer producer.Close()
		publisher = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	paymentService := app.NewService(evaluator, presenter, prompter, publisher, app.Options{
		SettlementDelay:        time.Duration(cfg.SettlementDelayMs) * time.Millisecond,
		MaxAmount:              cfg.MaxPaymentAmount,
		EvaluateLimitPerMinute: cfg.EvaluateRateLimitPerMinute,
	})

	if cfg.EvaluateRateLimitPerMinute > 0 {
		if redisClient := connectRedis(cfg.RedisURL); redisClient != nil {
			defer redisClient.Close()
			paymentService.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix))
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "payment-service")
	sweeper := app.NewSweeper(paymentService, logger, cfg.SessionSweepSchedule, time.Duration(cfg.SessionIdleTimeoutMinutes)*time.Minute)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"session sweeper start failed\" err=%v", err)
	}

	handlers := api.NewPaymentHandlers(paymentService)
	router := chi.NewRouter()
	router.Mount("/", api.PaymentRoutes(handlers, api.ClerkAuthMiddleware(cfg.ClerkJWKSURL)))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	select {
	case <-sweeper.Stop().Done():
	case <-ctx.Done():
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// openProfileStore connects the configured remote profile store. A store that cannot
// be reached is replaced by one that always fails, so unknown payees are blocked as
// a temporary failure rather than approved.
func openProfileStore(cfg config.Config) (store.ProfileStore, func()) {
	noop := func() {}

	switch cfg.ProfileStore {
	case config.ProfileStorePostgres:
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"database url parse failed; remote lookups disabled\" err=%v", err)
			return store.UnavailableStore{}, noop
		}
		poolConfig.MaxConns = 20
		poolConfig.MinConns = 2
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute
		// Disable prepared statement caching to prevent conflicts
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"database connection failed; remote lookups disabled\" err=%v", err)
			return store.UnavailableStore{}, noop
		}
		log.Println("level=info component=bootstrap msg=\"database connected\"")
		return store.NewPostgresProfileStore(dbpool), dbpool.Close

	case config.ProfileStoreNeo4j:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		graph, err := store.NewNeo4jProfileStore(ctx, store.GraphOptions{
			URI:      cfg.Neo4jURI,
			Database: cfg.Neo4jDatabase,
			Username: cfg.Neo4jUsername,
			Password: cfg.Neo4jPassword,
		})
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"neo4j connection failed; remote lookups disabled\" err=%v", err)
			return store.UnavailableStore{}, noop
		}
		log.Println("level=info component=bootstrap msg=\"neo4j connected\"")
		return graph, func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			if err := graph.Close(closeCtx); err != nil {
				log.Printf("level=warn component=bootstrap msg=\"neo4j close failed\" err=%v", err)
			}
		}

	case config.ProfileStoreHTTP:
		if strings.TrimSpace(cfg.ProfileServiceURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"profile service url missing; remote lookups disabled\" env=PROFILE_SERVICE_URL")
			return store.UnavailableStore{}, noop
		}
		return profileclient.NewClient(cfg.ProfileServiceURL, cfg.ProfileServiceAPIKey), noop
	}

	log.Println("level=warn component=bootstrap msg=\"no profile store configured; payees outside the directory will be blocked\"")
	return store.UnavailableStore{}, noop
}

func connectRedis(redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; trust check rate limiting disabled\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; trust check rate limiting disabled\" err=%v", err)
		return nil
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; trust check rate limiting disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
