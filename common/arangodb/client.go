package arangodb

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
)

const SummaryCollection = "package_summaries"

type Client interface {
	// Setup operations
	EnsureDatabase(ctx context.Context) error
	EnsureCollections(ctx context.Context) error

	// Write operations (documentation generator side)
	UpsertSummaries(ctx context.Context, docs []SummaryDocument) error
	DeleteSummary(ctx context.Context, project, pkg string) error

	// Read operations (localization side)
	ListSummaries(ctx context.Context, project string) ([]SummaryDocument, error)

	// Utility
	Close() error
}

type Config struct {
	URL      string
	Username string
	Password string
	Database string
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("arangodb URL is required")
	}
	if c.Username == "" {
		return fmt.Errorf("arangodb username is required")
	}
	if c.Database == "" {
		return fmt.Errorf("arangodb database name is required")
	}
	return nil
}

type client struct {
	conn         connection.Connection
	arangoClient arangodb.Client
	db           arangodb.Database
	cfg          Config
}

func New(ctx context.Context, cfg Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("arangodb config: %w", err)
	}

	// ARANGO_URL may list several coordinators, comma separated.
	var urls []string
	for _, u := range strings.Split(cfg.URL, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	endpoint := connection.NewRoundRobinEndpoints(urls)
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, true))

	auth := connection.NewBasicAuth(cfg.Username, cfg.Password)
	if err := conn.SetAuthentication(auth); err != nil {
		return nil, fmt.Errorf("arangodb auth: %w", err)
	}

	return &client{
		conn:         conn,
		arangoClient: arangodb.NewClient(conn),
		cfg:          cfg,
	}, nil
}

func (c *client) Close() error {
	return nil
}

func (c *client) EnsureDatabase(ctx context.Context) error {
	start := time.Now()

	exists, err := c.arangoClient.DatabaseExists(ctx, c.cfg.Database)
	if err != nil {
		return fmt.Errorf("check database exists: %w", err)
	}

	if !exists {
		_, err = c.arangoClient.CreateDatabase(ctx, c.cfg.Database, nil)
		if err != nil {
			return fmt.Errorf("create database: %w", err)
		}
		slog.InfoContext(ctx, "arangodb database created",
			"database", c.cfg.Database,
			"duration_ms", time.Since(start).Milliseconds())
	}

	db, err := c.arangoClient.GetDatabase(ctx, c.cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("get database: %w", err)
	}
	c.db = db

	return nil
}

func (c *client) EnsureCollections(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized, call EnsureDatabase first")
	}

	exists, err := c.db.CollectionExists(ctx, SummaryCollection)
	if err != nil {
		return fmt.Errorf("check collection %s exists: %w", SummaryCollection, err)
	}
	if exists {
		return nil
	}

	colType := arangodb.CollectionTypeDocument
	if _, err := c.db.CreateCollectionV2(ctx, SummaryCollection, &arangodb.CreateCollectionPropertiesV2{Type: &colType}); err != nil {
		return fmt.Errorf("create collection %s: %w", SummaryCollection, err)
	}
	slog.InfoContext(ctx, "arangodb collection created", "collection", SummaryCollection)

	return nil
}

// UpsertSummaries replaces the stored summary of each (project, package) pair.
func (c *client) UpsertSummaries(ctx context.Context, docs []SummaryDocument) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if len(docs) == 0 {
		return nil
	}

	start := time.Now()
	rows := make([]map[string]any, len(docs))
	for i, d := range docs {
		rows[i] = map[string]any{
			"_key":    makeKey(d.Project, d.Package),
			"project": d.Project,
			"package": d.Package,
			"summary": d.Summary,
			"names":   d.Names,
		}
	}

	query := `
		FOR d IN @docs
			UPSERT { _key: d._key }
			INSERT d
			REPLACE d
			IN @@collection
	`
	cursor, err := c.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{
			"docs":        rows,
			"@collection": SummaryCollection,
		},
	})
	if err != nil {
		return fmt.Errorf("upsert summaries: %w", err)
	}
	defer cursor.Close()

	slog.DebugContext(ctx, "arangodb summaries upserted",
		"count", len(docs),
		"duration_ms", time.Since(start).Milliseconds())

	return nil
}

func (c *client) DeleteSummary(ctx context.Context, project, pkg string) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		FOR d IN @@collection
			FILTER d._key == @key
			REMOVE d IN @@collection
	`
	cursor, err := c.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{
			"key":         makeKey(project, pkg),
			"@collection": SummaryCollection,
		},
	})
	if err != nil {
		return fmt.Errorf("delete summary: %w", err)
	}
	defer cursor.Close()

	return nil
}

// ListSummaries returns every summary stored for project, ordered by package name.
func (c *client) ListSummaries(ctx context.Context, project string) ([]SummaryDocument, error) {
	if c.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	start := time.Now()
	query := `
		FOR d IN @@collection
			FILTER d.project == @project
			SORT d.package
			RETURN { project: d.project, package: d.package, summary: d.summary, names: d.names }
	`
	cursor, err := c.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{
			"project":     project,
			"@collection": SummaryCollection,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer cursor.Close()

	var results []SummaryDocument
	for cursor.HasMore() {
		var doc SummaryDocument
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		if doc.Package == "" {
			continue
		}
		results = append(results, doc)
	}

	slog.DebugContext(ctx, "arangodb summaries listed",
		"project", project,
		"results", len(results),
		"duration_ms", time.Since(start).Milliseconds())

	return results, nil
}

func makeKey(project, pkg string) string {
	hash := md5.Sum([]byte(project + "/" + pkg))
	return hex.EncodeToString(hash[:])[:16]
}
