package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/bizconfig"
	"github.com/ekaya-inc/ekaya-finsight/pkg/cache"
	"github.com/ekaya-inc/ekaya-finsight/pkg/config"
	"github.com/ekaya-inc/ekaya-finsight/pkg/database"
	"github.com/ekaya-inc/ekaya-finsight/pkg/gladvisor"
	"github.com/ekaya-inc/ekaya-finsight/pkg/hierarchy"
	"github.com/ekaya-inc/ekaya-finsight/pkg/knowledge"
	"github.com/ekaya-inc/ekaya-finsight/pkg/llm"
	"github.com/ekaya-inc/ekaya-finsight/pkg/precalc"
	"github.com/ekaya-inc/ekaya-finsight/pkg/registry"
	"github.com/ekaya-inc/ekaya-finsight/pkg/repositories"
	"github.com/ekaya-inc/ekaya-finsight/pkg/semantic"
	"github.com/ekaya-inc/ekaya-finsight/pkg/sqlgen"
	"github.com/ekaya-inc/ekaya-finsight/pkg/vector"
	"github.com/ekaya-inc/ekaya-finsight/pkg/warehouse"
)

// app holds the wired services for one command invocation.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db       *database.DB
	redis    *redis.Client
	cache    cache.Store
	queryLog repositories.QueryLogRepository
	audit    repositories.ResearchAuditRepository
	executor warehouse.Executor

	registry   *registry.Registry
	configs    *bizconfig.Store
	hierarchy  *hierarchy.Hierarchy
	parser     *semantic.Parser
	advisor    *gladvisor.Advisor
	llm        llm.LLMClient
	knowledge  knowledge.Service
	precalc    *precalc.Registry
	integrator *precalc.Integrator
	generator  *sqlgen.Generator

	closers []func()
}

// newApp wires every service. The operational store and Redis are optional:
// without them the query log and audit trail stay in memory and the cache is
// process local. A warehouse connection is required.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a, err := newCoreApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.buildGenerator(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// newCoreApp wires storage, the warehouse and the tenant hierarchy, which is
// all the batch jobs need.
func newCoreApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	steps := []func(context.Context) error{a.connectStores, a.connectWarehouse, a.buildHierarchy}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) connectStores(ctx context.Context) error {
	db, err := database.Open(ctx, &a.cfg.Database, a.logger)
	if err != nil {
		a.logger.Warn("Operational store unavailable, query log and audit stay in memory", zap.Error(err))
		a.queryLog = repositories.NewMemoryQueryLog()
		a.audit = &repositories.MemoryResearchAudit{}
	} else {
		a.db = db
		a.closers = append(a.closers, db.Close)
		a.queryLog = repositories.NewQueryLogRepository(db)
		a.audit = repositories.NewResearchAuditRepository(db)
	}

	client, err := database.NewRedisClient(ctx, &a.cfg.Redis)
	if err != nil {
		a.logger.Warn("Redis unavailable, using in-process cache", zap.Error(err))
		a.cache = cache.NewMemoryStore()
	} else {
		a.redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.cache = cache.NewRedisStore(client)
	}

	var backend bizconfig.Backend = bizconfig.NewFileBackend(a.cfg.Tenant.ConfigDir)
	if a.cfg.Tenant.PersistToDatabase {
		if a.db == nil {
			return fmt.Errorf("tenant configuration persistence requires the operational store")
		}
		backend = repositories.NewBusinessConfigRepository(a.db)
	}
	a.configs = bizconfig.NewStore(a.cache, backend, a.cfg.Tenant, a.logger)
	return nil
}

func (a *app) connectWarehouse(ctx context.Context) error {
	var pool *pgxpool.Pool
	switch {
	case a.cfg.Warehouse.URL != "":
		conn, err := database.NewConnection(ctx, a.cfg.Warehouse.ConnURL(), a.cfg.Database.MaxConnections, database.Options{}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to warehouse: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		pool = conn.Pool
	case a.db != nil:
		pool = a.db.Pool
	default:
		return fmt.Errorf("no warehouse available: set WAREHOUSE_URL or configure the operational store")
	}
	a.executor = warehouse.NewPostgresExecutor(pool, a.cfg.Warehouse, a.logger)
	return nil
}

func (a *app) hierarchyOptions() hierarchy.Options {
	opts := hierarchy.DefaultOptions()
	opts.Columns.Time = a.cfg.Tenant.TimeColumn
	opts.Columns.Revenue = a.cfg.Tenant.RevenueColumn
	opts.Columns.Amount = a.cfg.Tenant.AmountColumn
	opts.Dialect = strings.ToLower(a.cfg.Warehouse.Dialect)
	opts.Table = warehouse.Qualified(a.executor, a.cfg.Warehouse.Table)
	return opts
}

func (a *app) buildHierarchy(ctx context.Context) error {
	overrides, err := hierarchy.LoadOverrides(a.cfg.Tenant.HierarchyOverridesPath)
	if err != nil {
		return err
	}

	clientID := a.cfg.Tenant.ClientID
	a.registry = registry.New(a.logger)
	a.hierarchy, err = hierarchy.NewDynamic(ctx, clientID, hierarchy.Deps{
		Registry:  a.registry,
		Loader:    a.configs,
		DatasetID: a.cfg.Tenant.DatasetID,
		Options:   a.hierarchyOptions(),
		Overrides: overrides,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to build hierarchy for %s: %w", clientID, err)
	}

	opts := a.hierarchy.Options()
	a.parser = semantic.NewParser(a.hierarchy, semantic.Options{
		TimeColumn: opts.Columns.Time,
		Dialect:    opts.Dialect,
	}, a.logger)
	a.advisor = gladvisor.NewAdvisor(a.registry, a.configs, a.cfg.Tenant.DatasetID, a.parser, opts.Columns, a.logger)
	return nil
}

func (a *app) buildGenerator(ctx context.Context) error {
	client, err := llm.NewFromConfig(&a.cfg.LLM, a.logger)
	if err != nil {
		return err
	}
	a.llm = client

	var embedder vector.Embedder = vector.NewHashEmbedder(a.cfg.Knowledge.Dimensions)
	if a.cfg.LLM.APIKey != "" {
		embedder = vector.NewLLMEmbedder(client, a.cfg.LLM.EmbeddingModel, a.cfg.Knowledge.Dimensions)
	}
	buckets := a.registry.GetAllBuckets(a.cfg.Tenant.ClientID)
	ids := make([]string, 0, len(buckets))
	for id := range buckets {
		ids = append(ids, id)
	}
	a.knowledge = knowledge.NewService(vector.NewMemoryStore(a.cfg.Knowledge.Dimensions), embedder,
		knowledge.CapabilitiesFromBuckets(ids), a.logger)
	if a.cfg.Knowledge.SeedOnBoot {
		a.seedKnowledge(ctx)
	}

	a.precalc = precalc.NewRegistry(a.cache, a.logger)
	if n, err := a.precalc.Load(ctx); err != nil {
		a.logger.Warn("Failed to load pre-calculated metrics", zap.Error(err))
	} else {
		a.logger.Debug("Loaded pre-calculated metrics", zap.Int("records", n))
	}
	a.integrator = precalc.NewIntegrator(precalc.NewDecomposer(a.parser, a.precalc, a.hierarchy, a.logger), a.executor, a.logger)

	genCfg, err := sqlgen.ConfigFrom(a.cfg)
	if err != nil {
		return err
	}
	a.generator = sqlgen.NewGenerator(genCfg, sqlgen.Deps{
		Parser:    a.parser,
		Advisor:   a.advisor,
		PreCalc:   a.integrator,
		Knowledge: a.knowledge,
		LLM:       a.llm,
		Executor:  a.executor,
		Cache:     a.cache,
		QueryLog:  a.queryLog,
	}, a.logger)
	return nil
}

// seedKnowledge indexes the built-in catalogues and the warehouse schema.
// Failures degrade retrieval but never block a command.
func (a *app) seedKnowledge(ctx context.Context) {
	if err := a.knowledge.Seed(ctx); err != nil {
		a.logger.Warn("Knowledge seeding failed", zap.Error(err))
		return
	}
	src, ok := a.executor.(warehouse.SchemaSource)
	if !ok {
		return
	}
	tables, err := src.Tables(ctx)
	if err != nil {
		a.logger.Warn("Failed to read warehouse schema", zap.Error(err))
		return
	}
	if err := a.knowledge.IndexSchema(ctx, tables); err != nil {
		a.logger.Warn("Schema indexing failed", zap.Error(err))
	}
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
