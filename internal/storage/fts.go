// Package storage provides FTS5 full-text search support over tool names
// and descriptions, used for lexical tool search.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// FTSConfig configures FTS5 behavior. FTSManager stores it, but none of its
// methods reads these fields; the index changes only when BulkInsert,
// UpsertTool, Rebuild or Clear is called.
type FTSConfig struct {
	// TriggerThreshold is the number of tool_schema changes before full rebuild.
	TriggerThreshold int
	// RebuildTimeout is the maximum time for a full rebuild.
	RebuildTimeout time.Duration
	// RebuildOnFullSync rebuilds FTS whenever Sync reloads the tool corpus.
	RebuildOnFullSync bool
	// Enabled enables/disables FTS5.
	Enabled bool
}

// DefaultFTSConfig returns default FTS configuration.
func DefaultFTSConfig() FTSConfig {
	return FTSConfig{
		TriggerThreshold:  1000,
		RebuildTimeout:    5 * time.Minute,
		RebuildOnFullSync: true,
		Enabled:           true,
	}
}

// FTSManager manages FTS5 operations for tool schema search.
type FTSManager struct {
	db     *sql.DB
	config FTSConfig
}

// NewFTSManager creates a new FTS manager.
func NewFTSManager(db *sql.DB, config FTSConfig) *FTSManager {
	return &FTSManager{
		db:     db,
		config: config,
	}
}

// ToolFTSRecord represents a tool schema for FTS indexing.
type ToolFTSRecord struct {
	ToolID      string
	ToolName    string
	Description string
	ServerID    string
}

// InitSchema creates the FTS5 table and triggers for tool schemas.
func (m *FTSManager) InitSchema() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS tool_schema_fts_content (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			tool_id TEXT UNIQUE NOT NULL,
			tool_name TEXT NOT NULL,
			description TEXT,
			server_id TEXT,
			indexed_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create tool_schema_fts_content table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_tool_schema_fts_content_tool_id ON tool_schema_fts_content(tool_id)",
		"CREATE INDEX IF NOT EXISTS idx_tool_schema_fts_content_server_id ON tool_schema_fts_content(server_id)",
	}
	for _, idx := range indexes {
		if _, execErr := m.db.Exec(idx); execErr != nil {
			return fmt.Errorf("failed to create index: %w", execErr)
		}
	}

	_, err = m.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS tool_schema_fts USING fts5(
			tool_name,
			description,
			content='tool_schema_fts_content',
			content_rowid='rowid'
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create tool_schema_fts table: %w", err)
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS tool_schema_fts_ai AFTER INSERT ON tool_schema_fts_content BEGIN
			INSERT INTO tool_schema_fts(rowid, tool_name, description)
			VALUES (new.rowid, new.tool_name, new.description);
		END`,

		`CREATE TRIGGER IF NOT EXISTS tool_schema_fts_au AFTER UPDATE ON tool_schema_fts_content BEGIN
			INSERT INTO tool_schema_fts(tool_schema_fts, rowid, tool_name, description)
			VALUES ('delete', old.rowid, old.tool_name, old.description);
			INSERT INTO tool_schema_fts(rowid, tool_name, description)
			VALUES (new.rowid, new.tool_name, new.description);
		END`,

		`CREATE TRIGGER IF NOT EXISTS tool_schema_fts_ad AFTER DELETE ON tool_schema_fts_content BEGIN
			INSERT INTO tool_schema_fts(tool_schema_fts, rowid, tool_name, description)
			VALUES ('delete', old.rowid, old.tool_name, old.description);
		END`,
	}

	for _, trigger := range triggers {
		if _, err := m.db.Exec(trigger); err != nil {
			return fmt.Errorf("failed to create trigger: %w", err)
		}
	}

	return nil
}

// BulkInsert replaces the FTS content with the given tools in a single transaction.
func (m *FTSManager) BulkInsert(ctx context.Context, tools []ToolFTSRecord) error {
	if len(tools) == 0 {
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	triggerDrops := []string{
		"DROP TRIGGER IF EXISTS tool_schema_fts_ai",
		"DROP TRIGGER IF EXISTS tool_schema_fts_au",
		"DROP TRIGGER IF EXISTS tool_schema_fts_ad",
	}
	for _, drop := range triggerDrops {
		if _, dropErr := tx.ExecContext(ctx, drop); dropErr != nil {
			return fmt.Errorf("failed to drop trigger: %w", dropErr)
		}
	}

	if _, delErr := tx.ExecContext(ctx, "DELETE FROM tool_schema_fts_content"); delErr != nil {
		return fmt.Errorf("failed to clear content: %w", delErr)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tool_schema_fts_content (tool_id, tool_name, description, server_id)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range tools {
		if _, err := stmt.ExecContext(ctx, t.ToolID, t.ToolName, t.Description, t.ServerID); err != nil {
			return fmt.Errorf("failed to insert tool %s: %w", t.ToolID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO tool_schema_fts(tool_schema_fts) VALUES('rebuild')"); err != nil {
		return fmt.Errorf("failed to rebuild FTS: %w", err)
	}

	triggerCreates := []string{
		`CREATE TRIGGER tool_schema_fts_ai AFTER INSERT ON tool_schema_fts_content BEGIN
			INSERT INTO tool_schema_fts(rowid, tool_name, description)
			VALUES (new.rowid, new.tool_name, new.description);
		END`,
		`CREATE TRIGGER tool_schema_fts_au AFTER UPDATE ON tool_schema_fts_content BEGIN
			INSERT INTO tool_schema_fts(tool_schema_fts, rowid, tool_name, description)
			VALUES ('delete', old.rowid, old.tool_name, old.description);
			INSERT INTO tool_schema_fts(rowid, tool_name, description)
			VALUES (new.rowid, new.tool_name, new.description);
		END`,
		`CREATE TRIGGER tool_schema_fts_ad AFTER DELETE ON tool_schema_fts_content BEGIN
			INSERT INTO tool_schema_fts(tool_schema_fts, rowid, tool_name, description)
			VALUES ('delete', old.rowid, old.tool_name, old.description);
		END`,
	}
	for _, create := range triggerCreates {
		if _, err := tx.ExecContext(ctx, create); err != nil {
			return fmt.Errorf("failed to create trigger: %w", err)
		}
	}

	return tx.Commit()
}

// UpsertTool inserts or refreshes a single tool in the FTS content table;
// the triggers keep the FTS index in step.
func (m *FTSManager) UpsertTool(ctx context.Context, rec ToolFTSRecord) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO tool_schema_fts_content (tool_id, tool_name, description, server_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tool_id) DO UPDATE SET
			tool_name = excluded.tool_name,
			description = excluded.description,
			server_id = excluded.server_id,
			indexed_at = datetime('now')
	`, rec.ToolID, rec.ToolName, rec.Description, rec.ServerID)
	if err != nil {
		return fmt.Errorf("failed to upsert FTS tool %s: %w", rec.ToolID, err)
	}
	return nil
}

// FTSSearchResult represents an FTS search result.
type FTSSearchResult struct {
	ToolID      string
	ToolName    string
	Description string
	ServerID    string
	Rank        float64 // relative ranking score, higher is better
	MatchType   string  // "exact", "prefix", "substring"
}

// Search performs FTS5 search over tool name/description with ranking,
// falling back from exact to prefix to substring match until limit is
// reached. It backs the lexical search tier when no embedding provider is
// configured.
func (m *FTSManager) Search(ctx context.Context, query string, limit int) ([]FTSSearchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var results []FTSSearchResult

	query = strings.TrimSpace(query)
	if query == "" {
		return results, nil
	}

	exactResults, err := m.searchExact(ctx, query, limit)
	if err == nil && len(exactResults) > 0 {
		results = append(results, exactResults...)
	}

	if len(results) < limit {
		remaining := limit - len(results)
		prefixResults, err := m.searchPrefix(ctx, query, remaining)
		if err == nil {
			seen := make(map[string]bool)
			for _, r := range results {
				seen[r.ToolID] = true
			}
			for _, r := range prefixResults {
				if !seen[r.ToolID] {
					results = append(results, r)
				}
			}
		}
	}

	if len(results) < limit {
		remaining := limit - len(results)
		likeResults, err := m.searchLike(ctx, query, remaining)
		if err == nil {
			seen := make(map[string]bool)
			for _, r := range results {
				seen[r.ToolID] = true
			}
			for _, r := range likeResults {
				if !seen[r.ToolID] {
					results = append(results, r)
				}
			}
		}
	}

	return results, nil
}

func (m *FTSManager) searchExact(ctx context.Context, query string, limit int) ([]FTSSearchResult, error) {
	ftsQuery := fmt.Sprintf(`"%s"`, escapeFTS5Query(query))

	rows, err := m.db.QueryContext(ctx, `
		SELECT
			c.tool_id, c.tool_name, c.description, c.server_id,
			bm25(tool_schema_fts, 1.0, 0.5) as rank
		FROM tool_schema_fts f
		JOIN tool_schema_fts_content c ON f.rowid = c.rowid
		WHERE tool_schema_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FTSSearchResult
	for rows.Next() {
		var r FTSSearchResult
		var desc, serverID sql.NullString
		if err := rows.Scan(&r.ToolID, &r.ToolName, &desc, &serverID, &r.Rank); err != nil {
			return nil, err
		}
		r.Description = desc.String
		r.ServerID = serverID.String
		r.MatchType = "exact"
		r.Rank = 1.0
		results = append(results, r)
	}

	return results, rows.Err()
}

func (m *FTSManager) searchPrefix(ctx context.Context, query string, limit int) ([]FTSSearchResult, error) {
	ftsQuery := fmt.Sprintf(`%s*`, escapeFTS5Query(query))

	rows, err := m.db.QueryContext(ctx, `
		SELECT
			c.tool_id, c.tool_name, c.description, c.server_id,
			bm25(tool_schema_fts, 1.0, 0.5) as rank
		FROM tool_schema_fts f
		JOIN tool_schema_fts_content c ON f.rowid = c.rowid
		WHERE tool_schema_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FTSSearchResult
	for rows.Next() {
		var r FTSSearchResult
		var desc, serverID sql.NullString
		if err := rows.Scan(&r.ToolID, &r.ToolName, &desc, &serverID, &r.Rank); err != nil {
			return nil, err
		}
		r.Description = desc.String
		r.ServerID = serverID.String
		r.MatchType = "prefix"
		r.Rank = 0.8
		results = append(results, r)
	}

	return results, rows.Err()
}

func (m *FTSManager) searchLike(ctx context.Context, query string, limit int) ([]FTSSearchResult, error) {
	pattern := "%" + query + "%"

	rows, err := m.db.QueryContext(ctx, `
		SELECT tool_id, tool_name, description, server_id
		FROM tool_schema_fts_content
		WHERE tool_name LIKE ? OR description LIKE ?
		LIMIT ?
	`, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FTSSearchResult
	for rows.Next() {
		var r FTSSearchResult
		var desc, serverID sql.NullString
		if err := rows.Scan(&r.ToolID, &r.ToolName, &desc, &serverID); err != nil {
			return nil, err
		}
		r.Description = desc.String
		r.ServerID = serverID.String
		r.MatchType = "substring"
		r.Rank = 0.5
		results = append(results, r)
	}

	return results, rows.Err()
}

// Rebuild forces a complete rebuild of the FTS index.
func (m *FTSManager) Rebuild(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, "INSERT INTO tool_schema_fts(tool_schema_fts) VALUES('rebuild')")
	return err
}

// Vacuum optimizes the FTS index.
func (m *FTSManager) Vacuum(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, "INSERT INTO tool_schema_fts(tool_schema_fts) VALUES('optimize')")
	return err
}

// Clear removes all data from FTS tables.
func (m *FTSManager) Clear(ctx context.Context) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tool_schema_fts_content"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM tool_schema_fts"); err != nil {
		return err
	}

	return tx.Commit()
}

// GetStats returns FTS index statistics.
func (m *FTSManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tool_schema_fts_content").Scan(&count); err != nil {
		return nil, err
	}
	stats["indexed_tools"] = count

	var pageCount, pageSize int
	if err := m.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := m.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			stats["estimated_size_bytes"] = pageCount * pageSize
		}
	}

	return stats, nil
}

// escapeFTS5Query escapes special characters in FTS5 queries.
func escapeFTS5Query(query string) string {
	replacer := strings.NewReplacer(
		`"`, `""`,
		`*`, `\*`,
		`(`, `\(`,
		`)`, `\)`,
	)
	return replacer.Replace(query)
}
