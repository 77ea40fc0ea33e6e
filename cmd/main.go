/**
 * @description
 * This is the main entry point for the collab-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the payment gateway client, message brokers, repositories, the
 * application services, the background sweeps, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/paystackclient: Client for the Paystack gateway.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
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

	"github.com/collably/collab-service/internal/api"
	"github.com/collably/collab-service/internal/app"
	"github.com/collably/collab-service/internal/config"
	"github.com/collably/collab-service/internal/store"
	"github.com/collably/collab-service/pkg/paystackclient"
	rmrabbit "github.com/collably/collab-service/pkg/rabbitmq"
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
	if strings.TrimSpace(cfg.PaystackSecretKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"gateway secret key must be configured\" env=PAYSTACK_SECRET_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting collab-service\" port=%s", cfg.ServerPort)

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

	// Initialize the RabbitMQ producer to publish events.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the payment gateway client.
	gatewayClient := paystackclient.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey)

	// Redis backs the distributed rate limiters; the service runs open without it.
	var redisClient *redis.Client
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
	var rateLimiter *app.RedisRateLimiter
	if redisClient != nil {
		rateLimiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the application services.
	stateMachine := app.NewRequestStateMachine(repository, producer, app.RequestStateMachineConfig{
		RequestExpiry:              time.Duration(cfg.RequestExpiryHours) * time.Hour,
		MaxNegotiationRounds:       cfg.MaxNegotiationRounds,
		MaxRevisions:               cfg.MaxRevisions,
		DeclineSuspensionThreshold: cfg.DeclineSuspensionThreshold,
		DeclineSuspensionDays:      cfg.DeclineSuspensionDays,
		MinDeclineReasonLength:     cfg.MinDeclineReasonLength,
	})
	negotiation := app.NewNegotiationEngine(repository, producer)
	ledger := app.NewEscrowLedger(repository, producer, cfg.PlatformFeeBPS)
	payouts := app.NewPayoutOrchestrator(repository, gatewayClient, cfg.MinimumPayoutKobo)
	settlement := app.NewSettlementCoordinator(repository, gatewayClient, ledger, producer)

	// Initialize the API handlers.
	handlers := api.NewCollabHandlers(stateMachine, negotiation, ledger, payouts, settlement, rateLimiter, cfg.PayoutRateLimitPerMinute)
	webhookHandler := api.NewWebhookHandler(producer, cfg.PaystackWebhookSecret, rateLimiter, cfg.WebhookRateLimitPerMinute)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/collab", api.CollabRoutes(handlers, webhookHandler, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the gateway event consumer: bind the queue to the verified webhook
	// events and reconcile them through the settlement coordinator.
	gatewayConsumer := app.NewGatewayEventConsumer(settlement)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	gatewayBindings := map[string]func([]byte) bool{
		"gateway.charge.status":   gatewayConsumer.HandleChargeEvent,
		"gateway.transfer.status": gatewayConsumer.HandleTransferEvent,
	}

	if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.CollabEventsExchange, cfg.GatewayEventQueue, gatewayBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"gateway consumer start failed\" err=%v", err)
	}

	// Start the background sweeps.
	sweeperCfg := app.SweeperConfig{
		ExpirySchedule:        cfg.RequestExpirySchedule,
		AutoReleaseSchedule:   cfg.EscrowAutoReleaseSchedule,
		EscrowAutoReleaseDays: cfg.EscrowAutoReleaseDays,
		AutoReleaseBatchSize:  cfg.AutoReleaseBatchSize,
	}
	scheduler := app.NewScheduler(app.NewSweeps(stateMachine, ledger, sweeperCfg), sweeperCfg)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
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

	<-scheduler.Stop().Done()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
