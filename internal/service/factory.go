// Package service wires configuration into the per-project collaborators the
// localizer binaries share.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/typesense/typesense-go/v4/typesense"

	"basegraph.app/localizer/common/arangodb"
	"basegraph.app/localizer/common/llm"
	"basegraph.app/localizer/common/tokens"
	"basegraph.app/localizer/core/config"
	"basegraph.app/localizer/core/config/modelconfig"
	"basegraph.app/localizer/core/db"
	"basegraph.app/localizer/internal/budget"
	"basegraph.app/localizer/internal/indexer"
	"basegraph.app/localizer/internal/issuesource"
	"basegraph.app/localizer/internal/localize"
	"basegraph.app/localizer/internal/model"
	"basegraph.app/localizer/internal/packagecache"
	"basegraph.app/localizer/internal/project"
	"basegraph.app/localizer/internal/store"
	"basegraph.app/localizer/internal/summary"
	"basegraph.app/localizer/internal/vectorindex"
)

var ErrUnknownProject = errors.New("unknown project")

// Services owns the process-wide clients and hands out per-project
// collaborators built on them. Per-project values are created once.
type Services struct {
	cfg       config.Config
	projects  map[string]model.Project
	models    *modelconfig.Registry
	estimator tokens.Estimator
	planner   *budget.Planner
	llm       *localize.TaskModels
	embedder  llm.Embedder

	database  *db.DB
	redis     *redis.Client
	arango    arangodb.Client
	typesense *typesense.Client
	details   store.PackageDetailsStore

	mu      sync.Mutex
	caches  map[string]*packagecache.Cache
	indexes map[string]vectorindex.Index
	orchs   map[string]*localize.Orchestrator
}

// Open loads the model and project configuration and connects to the
// backends cfg selects. Anything it fails to open is a startup error.
func Open(ctx context.Context, cfg config.Config) (*Services, error) {
	models, err := modelconfig.Load(cfg.ModelConfigPath, cfg.LLM.Provider)
	if err != nil {
		return nil, err
	}

	projects, err := project.LoadDir(cfg.ProjectsDir)
	if err != nil {
		return nil, err
	}

	estimator := tokens.NewTiktoken()
	s := &Services{
		cfg:       cfg,
		projects:  projects,
		models:    models,
		estimator: estimator,
		planner:   budget.NewPlanner(models, estimator),
		llm: localize.NewTaskModels(llm.Config{
			Provider: cfg.LLM.Provider,
			APIKey:   cfg.LLM.APIKey,
			BaseURL:  cfg.LLM.BaseURL,
		}, models),
		caches:  make(map[string]*packagecache.Cache),
		indexes: make(map[string]vectorindex.Index),
		orchs:   make(map[string]*localize.Orchestrator),
	}

	if err := s.openDetailsStore(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.openEmbedder(); err != nil {
		s.Close()
		return nil, err
	}
	if cfg.VectorBackend == config.VectorBackendTypesense && cfg.Typesense.Enabled() {
		s.typesense = vectorindex.NewTypesenseClient(vectorindex.TypesenseConfig{
			URL:    cfg.Typesense.URL,
			APIKey: cfg.Typesense.APIKey,
		})
	}
	if err := s.openArango(ctx); err != nil {
		s.Close()
		return nil, err
	}

	slog.InfoContext(ctx, "services ready",
		"projects", len(projects),
		"llm_provider", models.Provider(),
		"cache_backend", cfg.PackageCache.Backend,
		"vector_backend", cfg.VectorBackend)
	return s, nil
}

func (s *Services) openDetailsStore(ctx context.Context) error {
	switch s.cfg.PackageCache.Backend {
	case config.CacheBackendPostgres:
		database, err := db.New(ctx, s.cfg.DB)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		s.database = database
		if err := store.EnsurePackageDetailsSchema(ctx, database); err != nil {
			return err
		}
		s.details = store.NewPostgresPackageDetailsStore(database.Pool())

	case config.CacheBackendRedis:
		client, err := s.Redis(ctx)
		if err != nil {
			return err
		}
		s.details = store.NewRedisPackageDetailsStore(client, s.cfg.Redis.CacheKeyspace)

	case config.CacheBackendLocal:
		local, err := store.NewLocalPackageDetailsStore(s.cfg.PackageCache.LocalDir)
		if err != nil {
			return err
		}
		s.details = local
	}
	return nil
}

func (s *Services) openEmbedder() error {
	if s.cfg.Embedding.Provider == config.EmbeddingProviderHash {
		s.embedder = vectorindex.NewHashEmbedder(0)
		return nil
	}

	embeddingModel := ""
	if tc, err := s.models.Task(modelconfig.TaskEmbedding); err == nil {
		embeddingModel = tc.Model
	}
	embedder, err := llm.NewEmbedder(llm.Config{
		Provider: config.EmbeddingProviderOpenAI,
		APIKey:   s.cfg.Embedding.APIKey,
		BaseURL:  s.cfg.Embedding.BaseURL,
		Model:    embeddingModel,
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	s.embedder = embedder
	return nil
}

func (s *Services) openArango(ctx context.Context) error {
	for _, p := range s.projects {
		if p.SummarySource == project.SummarySourceArango {
			return s.connectArango(ctx)
		}
	}
	return nil
}

func (s *Services) connectArango(ctx context.Context) error {
	if s.arango != nil {
		return nil
	}
	client, err := arangodb.New(ctx, arangodb.Config{
		URL:      s.cfg.ArangoDB.URL,
		Username: s.cfg.ArangoDB.Username,
		Password: s.cfg.ArangoDB.Password,
		Database: s.cfg.ArangoDB.Database,
	})
	if err != nil {
		return err
	}
	if err := client.EnsureDatabase(ctx); err != nil {
		return err
	}
	if err := client.EnsureCollections(ctx); err != nil {
		return err
	}
	s.arango = client
	return nil
}

// Redis connects on first use; the worker needs it even when the cache does not.
func (s *Services) Redis(ctx context.Context) (*redis.Client, error) {
	if s.redis != nil {
		return s.redis, nil
	}
	opts, err := redis.ParseURL(s.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	s.redis = client
	return client, nil
}

func (s *Services) Close() {
	if s.database != nil {
		s.database.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.arango != nil {
		_ = s.arango.Close()
	}
}

// ProjectNames lists the configured projects in name order.
func (s *Services) ProjectNames() []string {
	names := make([]string, 0, len(s.projects))
	for n := range s.projects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Services) Project(name string) (model.Project, error) {
	p, ok := s.projects[name]
	if !ok {
		return model.Project{}, fmt.Errorf("%w %q", ErrUnknownProject, name)
	}
	return p, nil
}

// Cache returns the package details cache of a project. Token counts use the
// file ranking model, the one that reads the details.
func (s *Services) Cache(p model.Project) *packagecache.Cache {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.caches[p.Name]; ok {
		return c
	}

	countModel := ""
	if tc, err := s.models.Task(modelconfig.TaskLocalizeFiles); err == nil {
		countModel = tc.Model
	}
	c := packagecache.New(p.Name, s.details, func(text string) int {
		return s.estimator.Estimate(text, countModel)
	})
	s.caches[p.Name] = c
	return c
}

// Index returns the vector collection for the project's vector type, or nil
// when no vector backend is reachable.
func (s *Services) Index(p model.Project) vectorindex.Index {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.indexes[p.Name]; ok {
		return idx
	}

	name := vectorindex.CollectionName(p.Name, p.VectorType)
	var idx vectorindex.Index
	switch {
	case s.cfg.VectorBackend == config.VectorBackendMemory:
		idx = vectorindex.NewMemory(name, s.embedder)
	case s.typesense != nil:
		idx = vectorindex.NewTypesense(s.typesense, name, s.embedder)
	}
	s.indexes[p.Name] = idx
	return idx
}

func (s *Services) Indexer(p model.Project) (*indexer.Indexer, error) {
	idx := s.Index(p)
	if idx == nil {
		return nil, fmt.Errorf("project %s: %w", p.Name, vectorindex.ErrUnavailable)
	}
	return indexer.New(p, idx), nil
}

func (s *Services) Summaries(p model.Project) summary.Source {
	if p.SummarySource == project.SummarySourceArango {
		return summary.NewArangoSource(s.arango, p.Name)
	}
	return summary.NewDirSource(p.SummariesDir)
}

// ArangoSummaries is the publishing side of the ArangoDB summary store.
func (s *Services) ArangoSummaries(ctx context.Context, p model.Project) (*summary.ArangoSource, error) {
	if !s.cfg.ArangoDB.Enabled() {
		return nil, &config.Error{Key: "ARANGO_URL", Reason: "is required to publish summaries"}
	}
	if err := s.connectArango(ctx); err != nil {
		return nil, err
	}
	return summary.NewArangoSource(s.arango, p.Name), nil
}

// Orchestrator returns the localization entry point of a project.
func (s *Services) Orchestrator(p model.Project) (*localize.Orchestrator, error) {
	s.mu.Lock()
	o, ok := s.orchs[p.Name]
	s.mu.Unlock()
	if ok {
		return o, nil
	}

	deps := localize.Deps{
		Project:   p,
		Summaries: s.Summaries(p),
		Cache:     s.Cache(p),
		Build:     summary.NewDirDetailsBuilder(p).Build,
		Planner:   s.planner,
		Models:    s.llm,
		Index:     s.Index(p),
	}
	o, err := localize.NewOrchestrator(deps, nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.orchs[p.Name]; ok {
		return existing, nil
	}
	s.orchs[p.Name] = o
	return o, nil
}

// IssueSource returns the GitLab reader configured for the process.
func (s *Services) IssueSource() (*issuesource.GitLab, error) {
	if !s.cfg.GitLab.Enabled() {
		return nil, &config.Error{Key: "GITLAB_TOKEN", Reason: "is required to fetch issues"}
	}
	return issuesource.NewGitLab(s.cfg.GitLab.BaseURL, s.cfg.GitLab.Token)
}
