package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/adapters/custodian"
	"github.com/layer-3/keyward/adapters/events"
	"github.com/layer-3/keyward/adapters/store"
	"github.com/layer-3/keyward/adapters/tokenizer"
	"github.com/layer-3/keyward/internal/config"
	"github.com/layer-3/keyward/internal/ratelimit"
	"github.com/layer-3/keyward/ports"
	"github.com/layer-3/keyward/service"
	api "github.com/layer-3/keyward/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Version is set at build time
var Version = "dev"

func main() {
	configPath := flag.String("config", "keyward.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Log)

	log.Info().
		Str("version", Version).
		Str("config", *configPath).
		Msg("keyward starting")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open database")
	}
	defer db.Close()

	keyCustodian, err := newCustodian(ctx, cfg.Custodian)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize key custodian")
	}

	health := map[string]api.HealthCheck{"sqlite": db.Ping}

	var (
		challenges  ports.ChallengeStore
		revocations ports.RevocationStore
		publisher   message.Publisher
	)

	logger := watermill.NewStdLogger(false, false)

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to parse Redis URL")
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()

		challenges = store.NewRedisChallengeStore(redisClient, cfg.Auth.ChallengeTTL, nil)
		revocations = store.NewRedisStore(redisClient)
		health["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

		publisher, err = redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: redisClient,
			},
			logger,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Redis publisher")
		}
	} else {
		log.Warn().Msg("REDIS_URL not set: challenges and logouts are kept in memory, run a single instance only")

		challenges = store.NewMemoryChallengeStore(cfg.Auth.ChallengeTTL, nil)
		revocations = store.NewMemoryStore(nil)
		publisher = gochannel.NewGoChannel(gochannel.Config{}, logger)
	}
	defer publisher.Close()

	eventPub := events.NewWatermillPublisher(publisher, cfg.Events.TopicPrefix)
	sessionTokenizer := tokenizer.NewJWTTokenizer([]byte(cfg.Auth.JWTSecret), nil)

	opts := []service.Option{
		service.WithSessionTTL(cfg.Auth.SessionTTL),
		service.WithEventPublisher(eventPub),
	}

	services := api.Services{
		Auth:      service.NewAuthService(challenges, sessionTokenizer, revocations, opts...),
		Grants:    service.NewGrantService(db, db, opts...),
		Resources: service.NewResourceService(db, db, keyCustodian, opts...),
		Keys:      service.NewKeyService(challenges, db, db, keyCustodian, opts...),
	}

	if !cfg.Log.Pretty {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.SetupRouter(services, api.RouterOptions{
		Limiter: ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 10*time.Minute),
		Metrics: api.NewMetrics(),
		Health:  health,

		TrustedProxies: cfg.HTTP.TrustedProxies,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// newCustodian prefers a KMS-held master key and falls back to the
// passphrase-derived one
func newCustodian(ctx context.Context, cfg config.CustodianConfig) (ports.KeyCustodian, error) {
	if cfg.KMSKeyBlob != "" {
		client, err := custodian.NewKMSClient(ctx, cfg.KMSRegion)
		if err != nil {
			return nil, err
		}
		log.Info().Str("region", cfg.KMSRegion).Msg("Loading custodian master key from KMS")
		return custodian.NewFromKMS(ctx, client, cfg.KMSKeyBlob)
	}
	return custodian.New(cfg.Secret)
}
