package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"loancheck-backend/internal/documents"
	"loancheck-backend/internal/llm"
	openai "loancheck-backend/internal/llm/openai"
	"loancheck-backend/internal/queue"
	"loancheck-backend/internal/shared/config"
	"loancheck-backend/internal/shared/server"
	"loancheck-backend/internal/shared/storage/db"
	"loancheck-backend/internal/shared/storage/object"
	localstore "loancheck-backend/internal/shared/storage/object/local"
	s3store "loancheck-backend/internal/shared/storage/object/s3"
	"loancheck-backend/internal/verifications"
)

const memoryQueueBuffer = 64

// App holds shared dependencies wired by Build.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore
	Queue  queue.Client

	DocumentsRepo        documents.DocumentsRepo
	VerificationsRepo    verifications.Repo
	DocumentsService     *documents.Service
	VerificationsService *verifications.Service
	DocumentsHandler     *documents.Handler
	VerificationsHandler *verifications.Handler
}

// Build prepares shared dependencies and the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
	}

	if err := buildServices(ctx, app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:              app.Config,
		DocumentHandler:     app.DocumentsHandler,
		VerificationHandler: app.VerificationsHandler,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: migrations failed; using in-memory repositories: %v", err)
			sqlDB.Close()
			return nil, nil
		}
		return nil, err
	}

	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildServices(ctx context.Context, app *App) error {
	var docRepo documents.DocumentsRepo
	var runRepo verifications.Repo

	if app.DB != nil {
		docRepo = &documents.PGRepo{DB: app.DB}
		runRepo = &verifications.PGRepo{DB: app.DB}
	} else {
		docRepo = documents.NewMemoryRepo()
		runRepo = verifications.NewMemoryRepo()
	}

	docSvc := &documents.Service{Store: app.Store, Repo: docRepo}

	llmClient := llm.Client(llm.PlaceholderClient{})
	if app.Config.LLMProvider == "openai" {
		openaiClient, err := openai.NewClient(os.Getenv("OPENAI_API_KEY"), app.Config.LLMModel)
		if err != nil {
			return err
		}
		llmClient = openaiClient
	}

	analyzer := &verifications.Analyzer{
		DocRepo: docRepo,
		Store:   app.Store,
		LLM:     llmClient,
	}

	runSvc := &verifications.Service{
		Repo:     runRepo,
		DocRepo:  docRepo,
		Analyzer: analyzer,
	}

	queueClient, err := buildQueue(ctx, app.Config, runSvc)
	if err != nil {
		return err
	}
	runSvc.Queue = queueClient
	app.Queue = queueClient

	app.DocumentsRepo = docRepo
	app.VerificationsRepo = runRepo
	app.DocumentsService = docSvc
	app.VerificationsService = runSvc
	app.DocumentsHandler = documents.NewHandler(docSvc)
	app.VerificationsHandler = verifications.NewHandler(runSvc)

	return nil
}

// buildQueue prefers SQS when configured. Without a queue URL a dev-like
// environment gets an in-process queue whose consumer is started here, so
// verification chains still advance in a single process.
func buildQueue(ctx context.Context, cfg config.Config, svc *verifications.Service) (queue.Client, error) {
	if strings.TrimSpace(os.Getenv("LC_SQS_QUEUE_URL")) != "" {
		return queue.NewSQSClient(ctx)
	}
	if !isDevLike(cfg.Env) {
		return nil, fmt.Errorf("LC_SQS_QUEUE_URL is required")
	}

	mem := queue.NewMemoryClient(memoryQueueBuffer)
	go mem.Run(context.Background(), svc.ProcessStep)
	return mem, nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
