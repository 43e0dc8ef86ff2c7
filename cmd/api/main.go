package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/loopmarket/api/internal/di"
	"github.com/loopmarket/api/internal/handlers"
	"github.com/loopmarket/api/internal/payments"
	"github.com/loopmarket/api/internal/platform/auth"
	"github.com/loopmarket/api/internal/platform/config"
	pfirestore "github.com/loopmarket/api/internal/platform/firestore"
	"github.com/loopmarket/api/internal/platform/jobs"
	"github.com/loopmarket/api/internal/platform/materials"
	"github.com/loopmarket/api/internal/platform/observability"
	"github.com/loopmarket/api/internal/platform/secrets"
	platformstorage "github.com/loopmarket/api/internal/platform/storage"
	"github.com/loopmarket/api/internal/repositories"
	firestoreRepo "github.com/loopmarket/api/internal/repositories/firestore"
	"github.com/loopmarket/api/internal/services"
	"github.com/loopmarket/api/internal/vision"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	var pubsubClient *pubsub.Client
	var orderTopic, recyclingTopic *pubsub.Topic
	if cfg.Events.OrderTopic != "" || cfg.Events.RecyclingTopic != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		if cfg.Events.OrderTopic != "" {
			orderTopic = pubsubClient.Topic(cfg.Events.OrderTopic)
		}
		if cfg.Events.RecyclingTopic != "" {
			recyclingTopic = pubsubClient.Topic(cfg.Events.RecyclingTopic)
		}
	}

	var orderEvents services.OrderEventPublisher
	var recyclingEvents services.RecyclingEventPublisher
	if orderTopic != nil || recyclingTopic != nil {
		publisher, err := jobs.NewPubSubEventPublisher(orderTopic, recyclingTopic)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		if orderTopic != nil {
			orderEvents = publisher
		}
		if recyclingTopic != nil {
			recyclingEvents = publisher
		}
	}

	healthRepo, err := newHealthRepository(firestoreClient, orderTopic)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("registry close error", zap.Error(err))
		}
	}()

	materialSource, err := materials.NewSource(cfg.Materials.TablePath, cfg.Materials.TableJSON, logger.Named("materials"))
	if err != nil {
		logger.Fatal("failed to load material table", zap.Error(err))
	}
	go materialSource.Run(backgroundCtx, cfg.Materials.ReloadInterval)

	var sessionManager services.CheckoutSessionManager
	if cfg.PSP.StripeAPIKey != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.PSP.StripeAPIKey,
			Logger: zapEventLogger(logger.Named("payments")),
			Clock:  time.Now,
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe provider", zap.Error(err))
		}
		manager, err := payments.NewManager(map[string]payments.Provider{
			"stripe": stripeProvider,
		})
		if err != nil {
			logger.Fatal("failed to initialise payment manager", zap.Error(err))
		}
		sessionManager = manager
	} else {
		logger.Warn("stripe api key not configured; checkout routes disabled")
	}

	var classifier vision.Classifier
	if cfg.Vision.Endpoint != "" {
		httpClassifier, err := vision.NewHTTPClassifier(cfg.Vision.Endpoint, cfg.Vision.AuthToken, cfg.Vision.Timeout)
		if err != nil {
			logger.Fatal("failed to initialise vision classifier", zap.Error(err))
		}
		classifier = httpClassifier
	}

	var photos services.PhotoStorage
	if cfg.Storage.PhotosBucket != "" && cfg.Storage.SignerKey != "" {
		signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(cfg.Storage.SignerKey))
		if err != nil {
			logger.Fatal("failed to parse storage signer key", zap.Error(err))
		}
		photoStore, err := platformstorage.NewPhotos(cfg.Storage.PhotosBucket, signer)
		if err != nil {
			logger.Fatal("failed to initialise photo storage", zap.Error(err))
		}
		photos = photoStore
	} else {
		logger.Warn("photo storage not configured; upload URLs disabled")
	}

	container, err := di.NewContainer(ctx, di.ContainerDeps{
		Config:          cfg,
		Registry:        registry,
		Materials:       func() services.MaterialTable { return materialSource.Snapshot() },
		Payments:        sessionManager,
		Classifier:      classifier,
		Photos:          photos,
		OrderEvents:     orderEvents,
		RecyclingEvents: recyclingEvents,
		Logger:          logger,
		Build:           buildInfoFromEnv(envValues, cfg, startedAt),
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}
	svc := container.Services

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPublicRoutes(handlers.NewPublicHandlers(materialSource.Snapshot).Routes),
		handlers.WithMeRoutes(handlers.NewRewardHandlers(authenticator, svc.Rewards).Routes),
		handlers.WithRecyclingRoutes(handlers.NewRecyclingHandlers(authenticator, svc.Recycling).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(authenticator, svc.Orders).Routes),
		handlers.WithInternalRoutes(handlers.NewInternalHandlers(svc.Orders, svc.Inventory).Routes),
		handlers.WithInternalMiddlewares(internalHMACMiddleware(logger.Named("auth"), fetcher)),
	}

	if svc.Checkout != nil {
		opts = append(opts, handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(authenticator, svc.Checkout).Routes))
	}

	if cfg.PSP.StripeWebhookSecret != "" {
		webhookVerifier, err := payments.NewStripeWebhookVerifier(cfg.PSP.StripeWebhookSecret, cfg.PSP.WebhookTolerance)
		if err != nil {
			logger.Fatal("failed to initialise webhook verifier", zap.Error(err))
		}
		webhookHandlers := handlers.NewWebhookHandlers(webhookVerifier, svc.Orders,
			handlers.WithWebhookLogger(zapEventLogger(logger.Named("webhooks"))),
			handlers.WithWebhookRateLimit(cfg.RateLimits.WebhookBurst, time.Minute),
		)
		opts = append(opts, handlers.WithWebhookRoutes(webhookHandlers.Routes))
	} else {
		logger.Warn("stripe webhook secret not configured; webhook routes disabled")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("loopmarket api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")
	backgroundCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
		StartedAt:   started,
	}
}

func newHealthRepository(client *firestore.Client, orderTopic *pubsub.Topic) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := client.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		},
	}
	if orderTopic != nil {
		topic := orderTopic
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := topic.Exists(ctx)
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func internalHMACMiddleware(logger *zap.Logger, fetcher *secrets.Fetcher) func(http.Handler) http.Handler {
	provider := auth.SecretProviderFunc(func(ctx context.Context, name string) (string, error) {
		return fetcher.Resolve(ctx, "secret://"+strings.TrimSpace(name))
	})
	validator := auth.NewHMACValidator(provider, auth.NewInMemoryNonceStore(),
		auth.WithHMACLogger(zapEventLogger(logger)),
	)
	return validator.RequireHMAC("internal/api")
}

func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zFields = append(zFields, zap.Any(key, value))
		}
		logger.Info(event, zFields...)
	}
}

func requiredSecretNames(env map[string]string) []string {
	environment := strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]))
	if environment == "" || environment == "local" {
		return nil
	}
	return []string{
		"PSP.StripeAPIKey",
		"PSP.StripeWebhookSecret",
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}
