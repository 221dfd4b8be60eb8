package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/chunker"
	"github.com/xxxsen/docrag/internal/config"
	"github.com/xxxsen/docrag/internal/embedcache"
	"github.com/xxxsen/docrag/internal/extract"
	"github.com/xxxsen/docrag/internal/filestore"
	"github.com/xxxsen/docrag/internal/handler"
	"github.com/xxxsen/docrag/internal/job"
	"github.com/xxxsen/docrag/internal/middleware"
	"github.com/xxxsen/docrag/internal/repo"
	"github.com/xxxsen/docrag/internal/schedule"
	"github.com/xxxsen/docrag/internal/service"
	"github.com/xxxsen/docrag/internal/vectorindex"
)

const cacheCleanupTimeout = 10 * time.Minute

func main() {
	var configPath string
	var envPath string

	rootCmd := &cobra.Command{
		Use:   "docrag",
		Short: "document ingestion and question answering server",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json or config.yaml")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "optional dotenv file loaded before the config")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run docrag server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, envPath)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "remove every indexed chunk and stored upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, envPath)
			if err != nil {
				return err
			}
			return runClear(cmd.Context(), cfg)
		},
	}

	rootCmd.AddCommand(runCmd, clearCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(configPath, envPath string) (*config.Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return nil, fmt.Errorf("load env file: %w", err)
			}
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
	return cfg, nil
}

func runServer(cfg *config.Config) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("vector_index", cfg.VectorIndex.Type),
		zap.String("file_store", cfg.FileStore.Type),
		zap.String("embedder", cfg.Embedder.Provider),
	)

	ch, err := chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap(), cfg.Chunker.Separators)
	if err != nil {
		return fmt.Errorf("init chunker: %w", err)
	}
	var cacheDB *sql.DB
	if cfg.Embedder.CacheDB != "" {
		cacheDB, err = repo.Open(cfg.Embedder.CacheDB)
		if err != nil {
			return fmt.Errorf("open embedding cache db: %w", err)
		}
		defer cacheDB.Close()
		if err := repo.ApplyMigrations(cacheDB); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}
	embedder, err := buildEmbedder(cfg.Embedder, cacheDB)
	if err != nil {
		return err
	}
	generator, err := buildGenerator(cfg.Generator)
	if err != nil {
		return err
	}
	index, err := vectorindex.New(cfg.VectorIndex)
	if err != nil {
		return fmt.Errorf("init vector index: %w", err)
	}
	defer index.Close()
	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	ragService := service.NewRAGService(service.RAGDeps{
		Chunker:      ch,
		Embedder:     embedder,
		Index:        index,
		Store:        store,
		Extractors:   extract.NewSet(cfg.Extractor),
		Synthesizer:  ai.NewSynthesizer(generator, time.Duration(cfg.Generator.Timeout)*time.Second),
		TopK:         cfg.Retrieval.TopK,
		BatchSize:    cfg.Embedder.BatchSize,
		EmbedTimeout: time.Duration(cfg.Embedder.Timeout) * time.Second,
	})
	stored, ok, err := ragService.CheckDimension(context.Background())
	if err != nil {
		return fmt.Errorf("read index dimension: %w", err)
	}
	if !ok {
		logutil.GetLogger(context.Background()).Warn("index dimension differs from embedder, clear the index before ingesting",
			zap.Int("index_dimension", stored),
			zap.Int("embedder_dimension", embedder.Dimension()),
			zap.String("embedder_model", embedder.ModelName()),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cacheDB != nil {
		scheduler := schedule.NewCronScheduler(schedule.WithJobTimeout(cacheCleanupTimeout))
		cleanup := job.NewEmbeddingCacheCleanupJob(repo.NewEmbeddingCacheRepo(cacheDB), cfg.EmbeddingCacheCleanup.MaxAgeDays)
		if err := scheduler.AddJob(cleanup, cfg.EmbeddingCacheCleanup.Spec); err != nil {
			return fmt.Errorf("schedule cache cleanup: %w", err)
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
		go func() {
			_ = scheduler.RunNow(cleanup.Name())
		}()
	}

	deps := handler.RouterDeps{
		RAG:       handler.NewRAGHandler(ragService, cfg.Upload.MaxSize),
		RateLimit: time.Duration(cfg.RateLimitMS) * time.Millisecond,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	go func() {
		if err := engine.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

func buildEmbedder(cfg config.EmbedderConfig, cacheDB *sql.DB) (ai.IEmbedder, error) {
	provider, err := ai.NewEmbedProvider(cfg.Provider, providerArgs(cfg.Data))
	if err != nil {
		return nil, fmt.Errorf("init embed provider: %w", err)
	}
	embedder, err := ai.NewEmbedder(provider, cfg.Model, cfg.Dimension)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	if cacheDB != nil {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, repo.NewEmbeddingCacheRepo(cacheDB))
	}
	return embedcache.WrapLruCacheToEmbedder(embedder, cfg.CacheSize, time.Duration(cfg.CacheTTL)*time.Second), nil
}

func buildGenerator(cfg config.GeneratorConfig) (ai.IGenerator, error) {
	entries := make([]ai.GeneratorEntry, 0, len(cfg.Providers))
	for _, item := range cfg.Providers {
		provider, err := ai.NewProvider(item.Provider, providerArgs(item.Data))
		if err != nil {
			return nil, fmt.Errorf("init generator %s: %w", item.Provider, err)
		}
		entries = append(entries, ai.GeneratorEntry{
			Name:      item.Provider + ":" + item.Model,
			Generator: ai.NewGenerator(provider, item.Model),
		})
	}
	return ai.NewGroupGenerator(entries), nil
}

func providerArgs(data interface{}) interface{} {
	if data == nil {
		return map[string]interface{}{}
	}
	return data
}

func runClear(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	index, err := vectorindex.New(cfg.VectorIndex)
	if err != nil {
		return fmt.Errorf("init vector index: %w", err)
	}
	defer index.Close()
	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	svc := service.NewRAGService(service.RAGDeps{Index: index, Store: store})
	if err := svc.Clear(ctx); err != nil {
		return err
	}
	fmt.Println("Documents cleared successfully")
	return nil
}
