// Package catalog keeps a SQLite index of published correlation ids so that
// trace listings do not have to walk the whole traces/ namespace.
package catalog

// CreateCorrelationsTableSQL creates the correlations table.
const CreateCorrelationsTableSQL = `
CREATE TABLE IF NOT EXISTS correlations (
    correlation_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL DEFAULT '',
    order_id TEXT NOT NULL DEFAULT '',
    published_at INTEGER NOT NULL,
    source TEXT NOT NULL DEFAULT 'publish'
)`

// CreateCorrelationsIndexSQL orders listings by publish time.
const CreateCorrelationsIndexSQL = `CREATE INDEX IF NOT EXISTS idx_correlations_published
    ON correlations(published_at DESC, correlation_id)`

// AllSchemaSQL returns the statements that initialize the catalog, in order.
func AllSchemaSQL() []string {
	return []string{CreateCorrelationsTableSQL, CreateCorrelationsIndexSQL}
}
