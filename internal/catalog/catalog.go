package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fanoutlab/fanoutlab/internal/steps"
)

// Entry is one indexed correlation id.
type Entry struct {
	CorrelationID string    `json:"correlationId"`
	EventType     string    `json:"eventType,omitempty"`
	OrderID       string    `json:"orderId,omitempty"`
	PublishedAt   time.Time `json:"publishedAt"`
	Source        string    `json:"source"`
}

// Sources recorded in Entry.Source.
const (
	SourcePublish  = "publish"
	SourceBackfill = "backfill"
)

// SQLiteCatalog indexes correlation ids in a SQLite database.
type SQLiteCatalog struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex // Write-only lock

	insertStmt *sql.Stmt
}

// Open opens (or creates) the catalog at dbPath.
func Open(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &SQLiteCatalog{db: db, dbPath: dbPath}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	insertStmt, err := db.Prepare(`
		INSERT INTO correlations (correlation_id, event_type, order_id, published_at, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(correlation_id) DO UPDATE SET
			event_type = CASE WHEN excluded.event_type != '' THEN excluded.event_type ELSE correlations.event_type END,
			order_id = CASE WHEN excluded.order_id != '' THEN excluded.order_id ELSE correlations.order_id END,
			published_at = MAX(correlations.published_at, excluded.published_at)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to prepare insert statement: %w", err)
	}
	c.insertStmt = insertStmt
	return c, nil
}

func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Register records a correlation id. Registering an id again keeps the
// latest publish time and fills fields that were empty.
func (c *SQLiteCatalog) Register(ctx context.Context, e Entry) error {
	if !steps.ValidCorrelationID(e.CorrelationID) {
		return fmt.Errorf("catalog: invalid correlation id %q", e.CorrelationID)
	}
	if e.Source == "" {
		e.Source = SourcePublish
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.insertStmt.ExecContext(ctx, e.CorrelationID, e.EventType, e.OrderID, e.PublishedAt.UnixMilli(), e.Source)
	if err != nil {
		return fmt.Errorf("catalog: failed to register %s: %w", e.CorrelationID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. limit <= 0 means all.
func (c *SQLiteCatalog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT correlation_id, event_type, order_id, published_at, source
		FROM correlations ORDER BY published_at DESC, correlation_id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list correlations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ms int64
		)
		if err := rows.Scan(&e.CorrelationID, &e.EventType, &e.OrderID, &ms, &e.Source); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan correlation: %w", err)
		}
		e.PublishedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListCorrelationIDs returns every indexed id, newest first.
func (c *SQLiteCatalog) ListCorrelationIDs(ctx context.Context) ([]string, error) {
	entries, err := c.Recent(ctx, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.CorrelationID
	}
	return ids, nil
}

// Count returns the number of indexed ids.
func (c *SQLiteCatalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM correlations").Scan(&n); err != nil {
		return 0, fmt.Errorf("catalog: failed to count correlations: %w", err)
	}
	return n, nil
}

// Remove drops ids from the index.
func (c *SQLiteCatalog) Remove(ctx context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM correlations WHERE correlation_id = ?", id); err != nil {
			return fmt.Errorf("catalog: failed to remove %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (c *SQLiteCatalog) Close() error {
	if c.insertStmt != nil {
		c.insertStmt.Close()
	}
	log.Printf("catalog: closed %s", c.dbPath)
	return c.db.Close()
}
