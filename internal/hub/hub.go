// Package hub implements the Central Hub (spec.md §4.7): a single
// process-wide SQLite file holding the cross-repo registry, cross-repo
// edges, unified feedback, and a query result cache. Grounded on the
// schema-init/upsert idiom of the teacher's internal/storage/sqlite.go
// (CREATE TABLE IF NOT EXISTS, sqlx.Connect, WAL pragma), generalized
// from a risk-assessment cache to the spec's cross-repo bookkeeping.
package hub

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	devacerrors "github.com/devac/devac/internal/errors"
	"github.com/devac/devac/internal/logging"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS repos (
	repo_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	root_path TEXT NOT NULL,
	manifest_hash TEXT,
	last_synced INTEGER
);

CREATE TABLE IF NOT EXISTS cross_repo_edges (
	source_entity_id TEXT NOT NULL,
	target_entity_id TEXT NOT NULL,
	source_repo_id TEXT NOT NULL,
	target_repo_id TEXT NOT NULL,
	edge_type TEXT NOT NULL,
	PRIMARY KEY (source_entity_id, target_entity_id, edge_type)
);

CREATE TABLE IF NOT EXISTS feedback (
	feedback_id TEXT PRIMARY KEY,
	repo_id TEXT NOT NULL,
	severity TEXT NOT NULL,
	source TEXT NOT NULL,
	file_path TEXT,
	message TEXT,
	created_at INTEGER
);

CREATE TABLE IF NOT EXISTS query_cache (
	query_hash TEXT PRIMARY KEY,
	result TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// Repo is one registered repository.
type Repo struct {
	RepoID       string `db:"repo_id"`
	Name         string `db:"name"`
	RootPath     string `db:"root_path"`
	ManifestHash string `db:"manifest_hash"`
	LastSynced   int64  `db:"last_synced"`
}

// CrossRepoEdge links an entity in one repo to an entity in another.
type CrossRepoEdge struct {
	SourceEntityID string `db:"source_entity_id"`
	TargetEntityID string `db:"target_entity_id"`
	SourceRepoID   string `db:"source_repo_id"`
	TargetRepoID   string `db:"target_repo_id"`
	EdgeType       string `db:"edge_type"`
}

// Feedback is one validation error or CI failure record.
type Feedback struct {
	FeedbackID string `db:"feedback_id"`
	RepoID     string `db:"repo_id"`
	Severity   string `db:"severity"`
	Source     string `db:"source"`
	FilePath   string `db:"file_path"`
	Message    string `db:"message"`
	CreatedAt  int64  `db:"created_at"`
}

// FeedbackSummary is one group's count from SummarizeFeedback.
type FeedbackSummary struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}

// Hub is the single-writer central store.
type Hub struct {
	db       *sqlx.DB
	dir      string
	sockPath string
	logger   *logging.Logger
	writeMu  sync.Mutex
	remote   *RedisQueryCache // non-nil when query caching is offloaded to Redis
}

// Open opens (creating if absent) the hub database at dir/central.db and
// initializes its schema. It does not itself create the socket file;
// callers that intend to write should call AcquireWriteLock first.
func Open(dir string) (*Hub, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create hub dir: %w", err)
	}
	dbPath := filepath.Join(dir, "central.db")
	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("connect hub db: %w", err)
	}
	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("init hub schema: %w", err)
	}

	h := &Hub{
		db:       db,
		dir:      dir,
		sockPath: filepath.Join(dir, "mcp.sock"),
		logger:   logging.Default().With("component", "hub"),
	}
	return h, nil
}

func (h *Hub) Close() error {
	if h.remote != nil {
		h.remote.Close()
	}
	return h.db.Close()
}

// EnableRemoteCache switches the hub's query cache backend from its
// local sqlite query_cache table to a shared Redis instance, for
// deployments running more than one hub process against the same
// repo set. Call once, right after Open.
func (h *Hub) EnableRemoteCache(ctx context.Context, addr, password string) error {
	cache, err := NewRedisQueryCache(ctx, addr, password)
	if err != nil {
		return err
	}
	h.remote = cache
	return nil
}

// IsWritable reports whether no other process currently holds the
// write lock, surfacing the hub_writable prerequisite from spec.md §4.7.
func (h *Hub) IsWritable() bool {
	_, err := os.Stat(h.sockPath)
	return os.IsNotExist(err)
}

// AcquireWriteLock creates the hub's lock-marker file, failing if one
// already exists. ReleaseWriteLock removes it.
func (h *Hub) AcquireWriteLock() error {
	f, err := os.OpenFile(h.sockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return devacerrors.HubWriteError(fmt.Errorf("hub already held for write: %s", h.sockPath))
		}
		return devacerrors.HubWriteError(err)
	}
	return f.Close()
}

func (h *Hub) ReleaseWriteLock() error {
	err := os.Remove(h.sockPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AddRepo upserts a repo; a duplicate repo_id overwrites the prior row.
func (h *Hub) AddRepo(r Repo) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err := h.db.NamedExec(`
		INSERT INTO repos (repo_id, name, root_path, manifest_hash, last_synced)
		VALUES (:repo_id, :name, :root_path, :manifest_hash, :last_synced)
		ON CONFLICT(repo_id) DO UPDATE SET
			name = excluded.name,
			root_path = excluded.root_path,
			manifest_hash = excluded.manifest_hash,
			last_synced = excluded.last_synced`, r)
	if err != nil {
		return devacerrors.HubWriteError(err)
	}
	return nil
}

// RemoveRepo deletes a repo and cascades to every cross-repo edge with
// that repo as either endpoint.
func (h *Hub) RemoveRepo(repoID string) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	tx, err := h.db.Beginx()
	if err != nil {
		return devacerrors.HubWriteError(err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cross_repo_edges WHERE source_repo_id = ? OR target_repo_id = ?`, repoID, repoID); err != nil {
		return devacerrors.HubWriteError(err)
	}
	if _, err := tx.Exec(`DELETE FROM repos WHERE repo_id = ?`, repoID); err != nil {
		return devacerrors.HubWriteError(err)
	}
	if err := tx.Commit(); err != nil {
		return devacerrors.HubWriteError(err)
	}
	return nil
}

func (h *Hub) ListRepos() ([]Repo, error) {
	var repos []Repo
	err := h.db.Select(&repos, `SELECT repo_id, name, root_path, manifest_hash, last_synced FROM repos`)
	return repos, err
}

func (h *Hub) GetRepo(repoID string) (*Repo, error) {
	var r Repo
	err := h.db.Get(&r, `SELECT repo_id, name, root_path, manifest_hash, last_synced FROM repos WHERE repo_id = ?`, repoID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRepoSync bumps a repo's manifest hash and last_synced timestamp.
func (h *Hub) UpdateRepoSync(repoID, newManifestHash string) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err := h.db.Exec(`UPDATE repos SET manifest_hash = ?, last_synced = ? WHERE repo_id = ?`,
		newManifestHash, time.Now().UnixMilli(), repoID)
	if err != nil {
		return devacerrors.HubWriteError(err)
	}
	return nil
}

// AddCrossRepoEdges inserts or replaces cross-repo edges.
func (h *Hub) AddCrossRepoEdges(edges []CrossRepoEdge) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	tx, err := h.db.Beginx()
	if err != nil {
		return devacerrors.HubWriteError(err)
	}
	defer tx.Rollback()

	for _, e := range edges {
		if _, err := tx.NamedExec(`
			INSERT INTO cross_repo_edges (source_entity_id, target_entity_id, source_repo_id, target_repo_id, edge_type)
			VALUES (:source_entity_id, :target_entity_id, :source_repo_id, :target_repo_id, :edge_type)
			ON CONFLICT(source_entity_id, target_entity_id, edge_type) DO UPDATE SET
				source_repo_id = excluded.source_repo_id,
				target_repo_id = excluded.target_repo_id`, e); err != nil {
			return devacerrors.HubWriteError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return devacerrors.HubWriteError(err)
	}
	return nil
}

func (h *Hub) RemoveCrossRepoEdges(repoID string) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err := h.db.Exec(`DELETE FROM cross_repo_edges WHERE source_repo_id = ? OR target_repo_id = ?`, repoID, repoID)
	if err != nil {
		return devacerrors.HubWriteError(err)
	}
	return nil
}

// GetCrossRepoDependents returns every cross-repo edge whose target is
// among targetEntityIDs.
func (h *Hub) GetCrossRepoDependents(targetEntityIDs []string) ([]CrossRepoEdge, error) {
	if len(targetEntityIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT source_entity_id, target_entity_id, source_repo_id, target_repo_id, edge_type
		FROM cross_repo_edges WHERE target_entity_id IN (?)`, targetEntityIDs)
	if err != nil {
		return nil, err
	}
	query = h.db.Rebind(query)
	var edges []CrossRepoEdge
	err = h.db.Select(&edges, query, args...)
	return edges, err
}

// UpsertFeedback inserts or replaces one feedback row by feedback_id.
func (h *Hub) UpsertFeedback(f Feedback) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err := h.db.NamedExec(`
		INSERT INTO feedback (feedback_id, repo_id, severity, source, file_path, message, created_at)
		VALUES (:feedback_id, :repo_id, :severity, :source, :file_path, :message, :created_at)
		ON CONFLICT(feedback_id) DO UPDATE SET
			repo_id = excluded.repo_id, severity = excluded.severity, source = excluded.source,
			file_path = excluded.file_path, message = excluded.message, created_at = excluded.created_at`, f)
	if err != nil {
		return devacerrors.HubWriteError(err)
	}
	return nil
}

// FeedbackFilter selects a subset of feedback rows; empty fields are ignored.
type FeedbackFilter struct {
	Severity string
	Source   string
	FilePath string
	RepoID   string
}

func (h *Hub) QueryFeedback(filter FeedbackFilter) ([]Feedback, error) {
	query := `SELECT feedback_id, repo_id, severity, source, file_path, message, created_at FROM feedback WHERE 1=1`
	var args []any
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, filter.Severity)
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.FilePath != "" {
		query += ` AND file_path = ?`
		args = append(args, filter.FilePath)
	}
	if filter.RepoID != "" {
		query += ` AND repo_id = ?`
		args = append(args, filter.RepoID)
	}
	var rows []Feedback
	err := h.db.Select(&rows, query, args...)
	return rows, err
}

func (h *Hub) DeleteFeedbackByRepo(repoID string) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err := h.db.Exec(`DELETE FROM feedback WHERE repo_id = ?`, repoID)
	return err
}

func (h *Hub) DeleteFeedbackBySource(source string) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err := h.db.Exec(`DELETE FROM feedback WHERE source = ?`, source)
	return err
}

// SummarizeFeedback groups feedback counts by the given column, which
// must be "severity" or "source".
func (h *Hub) SummarizeFeedback(groupBy string) ([]FeedbackSummary, error) {
	if groupBy != "severity" && groupBy != "source" {
		return nil, fmt.Errorf("unsupported groupBy: %s", groupBy)
	}
	var rows []FeedbackSummary
	query := fmt.Sprintf(`SELECT %s AS key, COUNT(*) AS count FROM feedback GROUP BY %s`, groupBy, groupBy)
	err := h.db.Select(&rows, query)
	return rows, err
}

// CacheQuery stores a query result under queryHash with an optional TTL.
// A TTL of zero expires the entry immediately (observable by
// GetCachedQuery returning nil right after).
func (h *Hub) CacheQuery(queryHash, result string, ttlMs int64) error {
	if h.remote != nil {
		return h.remote.Set(context.Background(), queryHash, result, time.Duration(ttlMs)*time.Millisecond)
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	expiresAt := time.Now().UnixMilli() + ttlMs
	_, err := h.db.Exec(`
		INSERT INTO query_cache (query_hash, result, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(query_hash) DO UPDATE SET result = excluded.result, expires_at = excluded.expires_at`,
		queryHash, result, expiresAt)
	return err
}

// GetCachedQuery returns the cached result for queryHash, or "", false
// if absent or past its TTL.
func (h *Hub) GetCachedQuery(queryHash string) (string, bool) {
	if h.remote != nil {
		return h.remote.Get(context.Background(), queryHash)
	}
	var row struct {
		Result    string `db:"result"`
		ExpiresAt int64  `db:"expires_at"`
	}
	err := h.db.Get(&row, `SELECT result, expires_at FROM query_cache WHERE query_hash = ?`, queryHash)
	if err != nil {
		return "", false
	}
	if time.Now().UnixMilli() >= row.ExpiresAt {
		return "", false
	}
	return row.Result, true
}

func (h *Hub) ClearCache() error {
	if h.remote != nil {
		return h.remote.Clear(context.Background())
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err := h.db.Exec(`DELETE FROM query_cache`)
	return err
}
