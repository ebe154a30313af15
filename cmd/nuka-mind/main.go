package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nidhogg/nuka-mind/internal/api"
	"github.com/nidhogg/nuka-mind/internal/cognition"
	"github.com/nidhogg/nuka-mind/internal/config"
	"github.com/nidhogg/nuka-mind/internal/embedding"
	"github.com/nidhogg/nuka-mind/internal/extraction"
	"github.com/nidhogg/nuka-mind/internal/graph"
	"github.com/nidhogg/nuka-mind/internal/maintenance"
	"github.com/nidhogg/nuka-mind/internal/perception"
	"github.com/nidhogg/nuka-mind/internal/planning"
	"github.com/nidhogg/nuka-mind/internal/provider"
	"github.com/nidhogg/nuka-mind/internal/redisstore"
	pgstore "github.com/nidhogg/nuka-mind/internal/store"
	"github.com/nidhogg/nuka-mind/internal/telemetry"
	"github.com/nidhogg/nuka-mind/internal/vectorstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "configs/nuka-mind.json"
	}
	var (
		cfgPath     string
		migrateOnly bool
		sweepOnce   bool
		noHTTP      bool
	)
	flags := pflag.NewFlagSet("nuka-mind", pflag.ContinueOnError)
	flags.StringVarP(&cfgPath, "config", "c", defaultPath, "path to a JSON or YAML config file")
	flags.BoolVar(&migrateOnly, "migrate-only", false, "apply migrations and exit")
	flags.BoolVar(&sweepOnce, "sweep-once", false, "run one maintenance sweep over every agent and exit")
	flags.BoolVar(&noHTTP, "no-http", false, "do not serve the operational API")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("Starting Nuka Mind...", zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	// PostgreSQL is the system of record
	if cfg.Database.Postgres.DSN == "" {
		return errors.New("database.postgres.dsn is required")
	}
	pg, err := pgstore.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(ctx, cfg.Database.Postgres.Migrations); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if migrateOnly {
		return nil
	}

	opts := []cognition.Option{
		cognition.WithCapacity(cfg.Cognition.WorkingMemoryCapacity),
		cognition.WithDefaultTTL(time.Duration(cfg.Cognition.WorkingMemoryTTLSeconds) * time.Second),
		cognition.WithDecayRate(cfg.Cognition.BeliefDecayRate),
	}

	// Qdrant replaces pgvector search when configured
	if q := cfg.Database.Qdrant; q.Host != "" {
		client, err := vectorstore.NewClient(vectorstore.QdrantConfig{Host: q.Host, Port: q.Port})
		if err != nil {
			logger.Warn("Qdrant unavailable, using pgvector", zap.Error(err))
		} else {
			defer client.Close()
			pg.UseVectorIndex(vectorstore.NewIndex(client, q.Prefix, logger))
			logger.Info("Qdrant vector index enabled", zap.String("host", q.Host))
		}
	}

	// Neo4j mirrors semantic facts as a graph
	var factGraph *graph.Store
	if n := cfg.Database.Neo4j; n.URI != "" {
		g, err := graph.NewStore(n.URI, n.User, n.Password, logger)
		if err != nil {
			logger.Warn("Neo4j unavailable, running without fact graph", zap.Error(err))
		} else if err := g.EnsureSchema(ctx); err != nil {
			logger.Warn("Neo4j schema setup failed, running without fact graph", zap.Error(err))
			g.Close(ctx)
		} else {
			factGraph = g
			defer factGraph.Close(context.Background())
			opts = append(opts, cognition.WithFactGraph(factGraph))
		}
	}

	// Redis holds working memory when asked to
	var working cognition.WorkingStore
	if cfg.Database.Redis.WorkingMemory {
		rs, err := redisstore.New(cfg.Database.Redis.URL, logger)
		if err != nil {
			return fmt.Errorf("redis working memory: %w", err)
		}
		defer rs.Close()
		if cfg.Database.Redis.RetentionSecs > 0 {
			rs.SetRetention(time.Duration(cfg.Database.Redis.RetentionSecs) * time.Second)
		}
		working = rs
	}

	// Embeddings
	var embedder embedding.Provider
	e := cfg.Embedding
	inner, err := embedding.New(embedding.Config{
		Provider: e.Provider, Endpoint: e.Endpoint, Model: e.Model, APIKey: e.APIKey,
		Dimension: e.Dimension, BatchSize: e.BatchSize, TimeoutSeconds: e.TimeoutSeconds,
	})
	switch {
	case errors.Is(err, embedding.ErrDisabled):
		logger.Info("Embeddings disabled")
	case err != nil:
		return err
	default:
		cached, err := embedding.NewCached(inner, e.CacheSize)
		if err != nil {
			return err
		}
		defer cached.Close()
		embedder = cached
	}

	router := newRouter(cfg, logger)

	perceiverOpts := []perception.PerceiverOption{
		perception.WithWorkingStore(working),
		perception.WithManagerOptions(opts...),
	}
	if !router.Empty() {
		perceiverOpts = append(perceiverOpts, perception.WithExtractor(extraction.New(router, "", logger)))
	}
	if embedder != nil {
		perceiverOpts = append(perceiverOpts, perception.WithEmbedder(embedder))
	}
	perceiver := perception.NewPerceiver(pg, logger, perceiverOpts...)

	sweeperOpts := []maintenance.Option{
		maintenance.WithWorkingStore(working),
		maintenance.WithManagerOptions(opts...),
	}
	if embedder != nil {
		sweeperOpts = append(sweeperOpts, maintenance.WithBackfiller(
			embedding.NewBackfiller(pg, embedder, cfg.Maintenance.BackfillLimit, logger)))
	}
	sweeper := maintenance.NewSweeper(pg, cfg.Maintenance.Policy, logger, sweeperOpts...)

	if sweepOnce {
		reports, err := sweeper.SweepAll(ctx)
		logger.Info("Sweep finished", zap.Int("scopes", len(reports)))
		return err
	}

	if cfg.Maintenance.IntervalSeconds > 0 {
		go sweeper.Run(ctx, time.Duration(cfg.Maintenance.IntervalSeconds)*time.Second)
	}

	// Observation feed
	var feed *perception.Feed
	if cfg.Database.Redis.URL != "" {
		f, err := perception.NewFeed(cfg.Database.Redis.URL, cfg.Database.Redis.StreamMaxLen, logger)
		if err != nil {
			logger.Warn("Redis unavailable, observations accepted over HTTP only", zap.Error(err))
		} else {
			feed = f
			defer feed.Close()
		}
	}
	if feed != nil && len(cfg.Perception.Agents) > 0 {
		scopes := make([]cognition.Scope, len(cfg.Perception.Agents))
		for i, a := range cfg.Perception.Agents {
			scopes[i] = cognition.Scope{TenantID: a.TenantID, AgentID: a.AgentID}
		}
		go func() {
			if err := perceiver.Run(ctx, feed, scopes, cfg.Perception.StartID); err != nil {
				logger.Error("perception stopped", zap.Error(err))
			}
		}()
	}

	if noHTTP {
		<-ctx.Done()
		logger.Info("Shutting down Nuka Mind...")
		return nil
	}

	deps := api.Deps{
		Backend:   pg,
		Working:   working,
		Perceiver: perceiver,
		Planner:   planning.New(router, "", logger),
		Sweeper:   sweeper,
		Options:   opts,
	}
	if feed != nil {
		deps.Feed = feed
	}
	if factGraph != nil {
		deps.Graph = factGraph
	}
	handler := api.NewHandler(deps, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("Nuka Mind listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	logger.Info("Shutting down Nuka Mind...")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

// newRouter registers the configured LLM providers and binds the extraction
// and planning purposes.
func newRouter(cfg *config.Config, logger *zap.Logger) *provider.Router {
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		p, err := provider.New(provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Model: pc.Model, Extra: pc.Extra,
			Timeout: time.Duration(pc.TimeoutSeconds) * time.Second,
		}, logger)
		if err != nil {
			logger.Warn("skipping provider", zap.String("id", pc.ID), zap.Error(err))
			continue
		}
		router.Register(p)
	}
	if cfg.Routing.Default != "" {
		router.SetDefault(cfg.Routing.Default)
	}
	if cfg.Routing.Extraction != "" {
		router.Bind(provider.PurposeExtraction, cfg.Routing.Extraction)
	}
	if cfg.Routing.Planning != "" {
		router.Bind(provider.PurposePlanning, cfg.Routing.Planning)
	}
	for purpose, chain := range cfg.Routing.Fallbacks {
		router.SetFallbacks(purpose, chain)
	}
	if router.Empty() {
		logger.Warn("No LLM providers configured, belief extraction and planning disabled")
	}
	return router
}
