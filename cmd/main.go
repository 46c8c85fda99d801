/**
 * @description
 * This is the main entry point for the trust-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/trustscoreclient, pkg/depositclient, pkg/walletclient: External API clients.
 * - pkg/rabbitmq: Client for RabbitMQ.
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
	"github.com/redis/go-redis/v9"

	"github.com/lendcircle/trust-service/internal/api"
	"github.com/lendcircle/trust-service/internal/app"
	"github.com/lendcircle/trust-service/internal/config"
	"github.com/lendcircle/trust-service/internal/store"
	"github.com/lendcircle/trust-service/pkg/depositclient"
	rmrabbit "github.com/lendcircle/trust-service/pkg/rabbitmq"
	"github.com/lendcircle/trust-service/pkg/trustscoreclient"
	"github.com/lendcircle/trust-service/pkg/walletclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	scoreTiers, err := config.ParseScoreTiers(cfg.TrustTierThresholds)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"trust tier thresholds parse failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting trust-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish events. The ledger must
	// keep working when the broker is down, so failure degrades to a no-op
	// publisher instead of aborting startup.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the external API clients.
	scoreClient := trustscoreclient.NewClient(cfg.TrustScoreAPIBaseURL, cfg.TrustScoreAPIKey)
	depositClient := depositclient.NewClient(cfg.DepositAPIBaseURL, cfg.DepositAPIKey)
	walletClient := walletclient.NewClient(cfg.WalletAPIBaseURL, cfg.WalletAPIKey)

	var redisClient *redis.Client
	rateLimitingEnabled := cfg.VouchRateLimitPerMinute > 0 || cfg.RedeemRateLimitPerMinute > 0
	if rateLimitingEnabled {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	appTiers := make([]app.ScoreTier, 0, len(scoreTiers))
	for _, tier := range scoreTiers {
		appTiers = append(appTiers, app.ScoreTier{MinScore: tier.MinScore, Points: tier.Points})
	}

	trustService := app.NewService(
		repository,
		scoreClient,
		app.NewScoreCache(time.Duration(cfg.ScoreCacheTTLMinutes)*time.Minute),
		producer,
		app.Config{
			DailyGrantPoints:      cfg.DailyGrantPoints,
			DailyGrantMinInterval: time.Duration(cfg.DailyGrantMinIntervalHrs) * time.Hour,
			ReferralPointsAwarded: cfg.ReferralPointsAwarded,
			EligibilityMinBalance: cfg.EligibilityMinBalance,
			EligibilityMinVouches: cfg.EligibilityMinVouches,
			InitGraceWindow:       time.Duration(cfg.InitGraceWindowHours) * time.Hour,
			AutoCheckMinScore:     cfg.AutoCheckMinScore,
			ScoreTiers:            appTiers,
		},
	)
	trustService.ConfigureRateLimits(cfg.VouchRateLimitPerMinute, cfg.RedeemRateLimitPerMinute)
	if redisClient != nil {
		trustService.SetActionRateLimiter(
			app.NewRedisActionRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
		)
	}

	// Initialize the balance-delta monitor and its cron-driven poller.
	monitor := app.NewBalanceDeltaMonitor(repository, depositClient, producer, app.MonitorConfig{
		MinDepositAmount: cfg.MinDepositAmount,
		FeeBuffer:        cfg.DepositFeeBuffer,
	})

	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	poller := app.NewBalancePoller(monitor, walletClient, slogger, cfg.BalancePollSchedule)
	poller.Start()
	defer poller.Stop()

	// Initialize the API handlers.
	trustHandlers := api.NewTrustHandlers(trustService, monitor, walletClient)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/trust", api.TrustRoutes(trustHandlers, cfg.AuthJWKSURL, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the course-completion consumer: balances are seeded from the
	// external ego score once a user finishes the onboarding course.
	courseConsumer := app.NewCourseCompletionConsumer(trustService)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	courseBindings := map[string]func([]byte) bool{
		"course.completed.onboarding": courseConsumer.HandleMessage,
		"course.completed.refresher":  courseConsumer.HandleMessage,
	}

	if err := rabbitConsumer.ConsumeWithBindings(app.EventsExchange, cfg.CourseEventQueue, courseBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"course consumer start failed\" err=%v", err)
	}

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
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

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
