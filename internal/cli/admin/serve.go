package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/groundplane/groundplane/internal/api/handlers"
	"github.com/groundplane/groundplane/internal/config"
	"github.com/groundplane/groundplane/internal/database"
	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/embedding"
	"github.com/groundplane/groundplane/internal/extract"
	"github.com/groundplane/groundplane/internal/gemini"
	"github.com/groundplane/groundplane/internal/jobs"
	"github.com/groundplane/groundplane/internal/openai"
	"github.com/groundplane/groundplane/internal/repository"
	"github.com/groundplane/groundplane/internal/server"
	"github.com/groundplane/groundplane/internal/service"
	"github.com/groundplane/groundplane/internal/storage"
	"github.com/groundplane/groundplane/internal/telemetry"
	"github.com/groundplane/groundplane/internal/vector"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the groundplane API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SentryDSN != "" {
		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if cfg.Environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	if !cfg.HasS3() {
		return fmt.Errorf("object storage is required: set GROUNDPLANE_S3_ENDPOINT, GROUNDPLANE_S3_ACCESS_KEY_ID and GROUNDPLANE_S3_SECRET_ACCESS_KEY")
	}
	if !cfg.HasEmbeddings() {
		return fmt.Errorf("embedding provider %q is not configured: set the matching API key", cfg.EmbeddingProvider)
	}

	tenantRepo := repository.NewTenantRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	agentRepo := repository.NewAgentRepository(pool)
	sourceRepo := repository.NewSourceRepository(pool)
	jobRepo := repository.NewIngestJobRepository(pool)
	usageRepo := repository.NewUsageRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	store := vector.NewStore(pool, cfg.EmbeddingDimensions)
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare vector schema: %w", err)
	}

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)

	var embedder embedding.Provider
	switch cfg.EmbeddingProvider {
	case "gemini":
		geminiEmbedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		if err != nil {
			return fmt.Errorf("failed to create gemini embedder: %w", err)
		}
		defer geminiEmbedder.Close()
		embedder = geminiEmbedder
	default:
		embedder = openai.NewClient(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			EmbeddingModel:      cfg.EmbeddingModel,
			EmbeddingDimensions: cfg.EmbeddingDimensions,
		})
	}
	log.Printf("embedding provider: %s (%s, %d dimensions)", cfg.EmbeddingProvider, cfg.EmbeddingModel, cfg.EmbeddingDimensions)

	chatKey := cfg.ChatAPIKey
	if chatKey == "" {
		chatKey = cfg.OpenAIAPIKey
	}
	completer := openai.NewClient(openai.Config{
		APIKey:    chatKey,
		BaseURL:   cfg.ChatBaseURL,
		ChatModel: cfg.ChatModel,
	})

	fetcher := extract.NewFetcher(time.Duration(cfg.FetchTimeoutSeconds) * time.Second)
	chunkCfg := service.ChunkConfig{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}

	ingestSvc := service.NewIngestService(
		sourceRepo, jobRepo, agentRepo, usageRepo, s3Client, store, embedder, fetcher, chunkCfg)

	dispatcher, err := jobs.NewDispatcher(jobRepo, ingestSvc, cfg.IngestWorkers)
	if err != nil {
		return fmt.Errorf("failed to create ingest dispatcher: %w", err)
	}

	sweeper := jobs.NewSweeper(jobRepo, ingestSvc, 0)
	worker := jobs.NewWorker(sweeper, time.Duration(cfg.IngestPollSeconds)*time.Second)
	go worker.Start(ctx)
	log.Println("ingest workers started")

	quota := service.NewQuotaPolicy(
		domain.QuotaLimits{StorageBytes: int64(cfg.FreeStorageMB) << 20, Files: cfg.FreeFiles},
		domain.QuotaLimits{StorageBytes: int64(cfg.PaidStorageMB) << 20, Files: cfg.PaidFiles},
		domain.QuotaLimits{StorageBytes: int64(cfg.ProStorageMB) << 20, Files: cfg.ProFiles},
	)

	sessions := service.NewSessionCache(time.Duration(cfg.SessionTTLSeconds) * time.Second)

	sourceSvc := service.NewSourceService(
		sourceRepo, jobRepo, agentRepo, tenantRepo, usageRepo, s3Client, store, quota, dispatcher, txRunner)
	agentSvc := service.NewAgentService(agentRepo, sourceRepo, usageRepo, store, s3Client, sessions)
	retrievalSvc := service.NewRetrievalService(store, embedder, cfg.ContextChars)
	chatSvc := service.NewChatService(agentRepo, retrievalSvc, completer, sessions)
	authSvc := service.NewAuthService(tenantRepo, apiKeyRepo, &service.DefaultUUIDGenerator{})

	routerCfg := server.RouterConfig{
		AuthValidator:    authSvc,
		AgentHandler:     handlers.NewAgentHandler(agentSvc),
		KnowledgeHandler: handlers.NewKnowledgeHandler(sourceSvc),
		ChatHandler:      handlers.NewChatHandler(chatSvc, retrievalSvc, agentSvc),
		UsageHandler:     handlers.NewUsageHandler(usageRepo),
		AuthHandler:      handlers.NewAuthHandler(authSvc),
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	worker.Stop()
	dispatcher.Release()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func runMigrations(databaseURL string) error {
	// golang-migrate needs database/sql, not pgx pools
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
