// Package app wires the assistant's collaborators from configuration. The
// HTTP server and the CLI share it.
package app

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prodagent/prodagent/agents/configs"
	"prodagent/prodagent/agents/core"
	"prodagent/prodagent/agents/prompt"
	"prodagent/prodagent/agents/safety"
	"prodagent/prodagent/config"
	"prodagent/prodagent/controllers"
	"prodagent/prodagent/routes"
	"prodagent/prodagent/services/catalog"
	"prodagent/prodagent/services/history"
	"prodagent/prodagent/services/llm"
	"prodagent/prodagent/services/retrieval"
	"prodagent/prodagent/services/vision"
	"prodagent/prodagent/sources/kv"
	"prodagent/prodagent/sources/psql"
	"prodagent/prodagent/sources/psql/dao"
	"prodagent/prodagent/sources/storage"
	"prodagent/prodagent/utils/apperr"
	"prodagent/prodagent/utils/logging"
	"prodagent/prodagent/utils/types"
)

type App struct {
	Config      config.Config
	AgentConfig *configs.AgentConfig

	DB      *psql.Database
	Redis   *redis.Client
	Storage *storage.MinIOClient

	Catalog   *catalog.Catalog
	LLM       *llm.Client
	Retriever *retrieval.Retriever
	// Indexer is nil when no embedding provider is configured.
	Indexer  *retrieval.Indexer
	History  *history.Service
	Agent    *core.ProductAgent
	Analyzer *vision.Analyzer
}

// New connects every configured collaborator. Only a misconfigured completion
// provider is fatal: an unreachable database, Redis or object store degrades
// to in-process fallbacks.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg, AgentConfig: configs.LoadConfig(cfg.AgentConfigPath)}

	client, err := llm.New(cfg)
	if err != nil {
		return nil, err
	}
	a.LLM = client

	if cfg.DatabaseEnabled() {
		dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		db, err := psql.NewDatabase(dbCtx, cfg)
		cancel()
		if err != nil {
			logging.ErrorLogger.Error("database connection error, conversations kept in memory", zap.Error(err))
		} else {
			a.DB = db
		}
	}

	if cfg.RedisAddr != "" {
		a.Redis = kv.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			logging.ErrorLogger.Error("redis ping failed, sessions fall back to memory when it stays down", zap.Error(err))
		}
		cancel()
	}

	var source catalog.Source = catalog.FileSource{Path: cfg.CatalogPath}
	if cfg.MinIOEndpoint != "" {
		mc, err := storage.NewMinIOClient(ctx, cfg)
		if err != nil {
			logging.ErrorLogger.Error("minio connection error", zap.Error(err))
		} else {
			a.Storage = mc
			if cfg.CatalogObject != "" {
				source = catalog.ObjectSource{Store: mc, Key: cfg.CatalogObject}
			}
		}
	}
	a.Catalog = catalog.New(source, cfg.CatalogRefresh)
	logging.AppLogger.Info("catalog source", zap.String("source", source.Name()))

	store := history.Store(history.NewMemoryStore())
	var analytics core.AnalyticsSink
	var index retrieval.VectorIndex = retrieval.NewMemoryIndex()
	if a.DB != nil {
		store = history.NewPostgresStore(dao.NewChatMessageDAO(a.DB.DB))
		analytics = dao.NewAnalyticsDAO(a.DB.DB)
		index = retrieval.NewPGVectorIndex(dao.NewManualChunkDAO(a.DB.DB))
	}
	a.History = history.NewService(store)

	if key := embeddingKey(cfg); key != "" {
		emb := retrieval.NewOpenAIEmbedder(key, cfg.EmbeddingBaseURL, cfg.EmbeddingModel)
		a.Retriever = retrieval.NewRetriever(emb, index, cfg.RetrievalTopK, cfg.RetrievalTimeout)
		a.Indexer = retrieval.NewIndexer(emb, index)
	} else {
		logging.AppLogger.Info("no embedding provider configured, answers use catalog facts only")
	}

	a.Agent = core.NewProductAgent(core.Deps{
		Catalog:       a.Catalog,
		Retriever:     a.Retriever,
		History:       a.History,
		LLM:           a.LLM,
		Assembler:     prompt.NewAssembler(a.AgentConfig, safety.NewKeywordClassifier()),
		Analytics:     analytics,
		Brand:         cfg.BrandName,
		DefaultMode:   types.Mode(cfg.DefaultMode),
		HistoryWindow: cfg.HistoryWindow,
	})
	a.Analyzer = vision.NewAnalyzer(a.LLM, a.Catalog, a.AgentConfig, cfg.BrandName)
	return a, nil
}

func embeddingKey(cfg config.Config) string {
	if cfg.EmbeddingAPIKey != "" {
		return cfg.EmbeddingAPIKey
	}
	return cfg.OpenAIAPIKey
}

// SessionStore is the device session storage: Redis when configured, memory otherwise.
func (a *App) SessionStore() kv.Store {
	if a.Redis != nil {
		return kv.NewRedisStore(a.Redis)
	}
	return kv.NewMemoryStore()
}

func (a *App) Router() http.Handler {
	limits := vision.Limits{MaxCount: a.Config.MaxImages, MaxBytes: a.Config.MaxImageBytes}
	return routes.NewRouter(a.Config, routes.Controllers{
		Chat:    controllers.NewChatController(a.Agent, limits),
		Session: controllers.NewSessionController(a.SessionStore()),
		Catalog: controllers.NewCatalogController(a.Catalog),
		Vision:  controllers.NewVisionController(a.Analyzer, limits),
		Health:  controllers.NewHealthController(a.checks()),
	})
}

func (a *App) checks() map[string]controllers.Check {
	checks := map[string]controllers.Check{
		"catalog": func(ctx context.Context) error {
			_, err := a.Catalog.Categories(ctx)
			return err
		},
	}
	if a.DB != nil {
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := a.DB.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

// IndexCatalog indexes the documentation of modelIDs, or of every catalog
// model when none are given. It returns chunk counts per model.
func (a *App) IndexCatalog(ctx context.Context, modelIDs ...string) (map[string]int, error) {
	if a.Indexer == nil {
		return nil, apperr.ProviderUnavailable("app.IndexCatalog", errors.New("no embedding provider configured"))
	}
	records, err := a.records(ctx, modelIDs)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(records))
	results := make([]int, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, rec := range records {
		g.Go(func() error {
			n, err := a.Indexer.IndexRecord(gctx, rec, nil)
			if err != nil {
				return apperr.ProviderUnavailable("app.IndexCatalog", err)
			}
			results[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, rec := range records {
		counts[rec.Model.ModelID] = results[i]
	}
	return counts, nil
}

func (a *App) records(ctx context.Context, modelIDs []string) ([]catalog.Record, error) {
	if len(modelIDs) > 0 {
		out := make([]catalog.Record, 0, len(modelIDs))
		for _, id := range modelIDs {
			rec, err := a.Catalog.GetModel(ctx, id)
			if err != nil {
				return nil, err
			}
			out = append(out, *rec)
		}
		return out, nil
	}
	doc, err := a.Catalog.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []catalog.Record
	for _, products := range doc {
		for _, p := range products {
			for _, m := range p.Models {
				out = append(out, catalog.Record{Product: p, Model: m})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model.ModelID < out[j].Model.ModelID })
	return out, nil
}

// IndexedChunks reports the stored chunk count per model, for every catalog
// model when none are given.
func (a *App) IndexedChunks(ctx context.Context, modelIDs ...string) (map[string]int, error) {
	if a.Indexer == nil {
		return nil, apperr.ProviderUnavailable("app.IndexedChunks", errors.New("no embedding provider configured"))
	}
	records, err := a.records(ctx, modelIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(records))
	for _, rec := range records {
		n, err := a.Indexer.Stored(ctx, rec.Model.ModelID)
		if err != nil {
			return nil, apperr.PersistenceUnavailable("app.IndexedChunks", err)
		}
		out[rec.Model.ModelID] = n
	}
	return out, nil
}

// UsesMemoryIndex reports whether retrieval lives only in this process and
// must be rebuilt on start.
func (a *App) UsesMemoryIndex() bool {
	return a.Indexer != nil && a.DB == nil
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
