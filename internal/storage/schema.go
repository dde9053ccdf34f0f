package storage

import (
	"database/sql"
	"fmt"
)

// Schema version tracking.
// v1: initial schema — tool corpus, dependency edges, execution traces,
// algorithm observability, metrics time-series, generic cache tiers.
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database.
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}
		if err := createToolEmbeddingTable(tx); err != nil {
			return err
		}
		if err := createToolSchemaTable(tx); err != nil {
			return err
		}
		if err := createToolDependencyTable(tx); err != nil {
			return err
		}
		if err := createCapabilityDependencyTable(tx); err != nil {
			return err
		}
		if err := createExecutionTraceTable(tx); err != nil {
			return err
		}
		if err := createAlgorithmTracesTable(tx); err != nil {
			return err
		}
		if err := createMetricsTable(tx); err != nil {
			return err
		}
		if err := createConfigTable(tx); err != nil {
			return err
		}
		if err := createCapabilityTable(tx); err != nil {
			return err
		}
		if err := createEpisodicAggregateTable(tx); err != nil {
			return err
		}
		if err := createCacheTablesTable(tx); err != nil {
			return err
		}

		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", map[string]interface{}{
			"version": currentSchemaVersion,
		})

		return nil
	})
}

// runMigrations runs any pending schema migrations.
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", map[string]interface{}{
			"version": version,
		})
		return nil
	}

	if version == 0 {
		// A pre-existing database file with no schema_version row predates
		// tracking; initialize it in place rather than failing startup.
		return db.WithTx(func(tx *sql.Tx) error {
			if err := createSchemaVersionTable(tx); err != nil {
				return err
			}
			return setSchemaVersion(tx, currentSchemaVersion)
		})
	}

	return fmt.Errorf("unsupported schema version %d (current %d); no migration path", version, currentSchemaVersion)
}

// getSchemaVersion returns the current schema version, or 0 if the database
// predates version tracking.
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion sets the schema version.
func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// createSchemaVersionTable creates the schema_version tracking table.
func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createToolEmbeddingTable creates tool_embedding: the node source for
// GraphStore.Sync and the corpus the semantic-search adapter embeds over.
func createToolEmbeddingTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS tool_embedding (
			tool_id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			embedding BLOB,
			metadata TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create tool_embedding table: %w", err)
	}
	_, err = tx.Exec("CREATE INDEX IF NOT EXISTS idx_tool_embedding_server_id ON tool_embedding(server_id)")
	return err
}

// createToolSchemaTable creates tool_schema: the JSON-schema corpus whose
// names and descriptions feed the lexical FTS index.
func createToolSchemaTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS tool_schema (
			tool_id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			input_schema TEXT NOT NULL,
			output_schema TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create tool_schema table: %w", err)
	}
	_, err = tx.Exec("CREATE INDEX IF NOT EXISTS idx_tool_schema_server_id ON tool_schema(server_id)")
	return err
}

// createToolDependencyTable creates tool_dependency: the tool-to-tool edge
// source, filtered to confidence_score > 0.3 at Sync.
func createToolDependencyTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS tool_dependency (
			from_tool_id TEXT NOT NULL,
			to_tool_id TEXT NOT NULL,
			observed_count INTEGER NOT NULL DEFAULT 0,
			confidence_score REAL NOT NULL CHECK(confidence_score >= 0.0 AND confidence_score <= 1.0),
			edge_type TEXT NOT NULL,
			edge_source TEXT NOT NULL,
			last_observed TEXT,

			PRIMARY KEY (from_tool_id, to_tool_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create tool_dependency table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_tool_dependency_to ON tool_dependency(to_tool_id)",
		"CREATE INDEX IF NOT EXISTS idx_tool_dependency_confidence ON tool_dependency(confidence_score)",
	}
	for _, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create tool_dependency index: %w", err)
		}
	}
	return nil
}

// createCapabilityDependencyTable creates capability_dependency: the
// capability-to-capability edge source.
func createCapabilityDependencyTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS capability_dependency (
			from_capability_id TEXT NOT NULL,
			to_capability_id TEXT NOT NULL,
			observed_count INTEGER NOT NULL DEFAULT 0,
			confidence_score REAL NOT NULL CHECK(confidence_score >= 0.0 AND confidence_score <= 1.0),
			edge_type TEXT NOT NULL,
			edge_source TEXT NOT NULL,

			PRIMARY KEY (from_capability_id, to_capability_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create capability_dependency table: %w", err)
	}
	_, err = tx.Exec("CREATE INDEX IF NOT EXISTS idx_capability_dependency_to ON capability_dependency(to_capability_id)")
	return err
}

// createExecutionTraceTable creates execution_trace: an append-only log of
// completed DAGs/code executions, sanitized before insert.
func createExecutionTraceTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS execution_trace (
			id TEXT PRIMARY KEY,
			workflow_state_json TEXT NOT NULL,
			decisions_json TEXT NOT NULL,
			task_results_json TEXT NOT NULL,
			success INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create execution_trace table: %w", err)
	}
	_, err = tx.Exec("CREATE INDEX IF NOT EXISTS idx_execution_trace_created_at ON execution_trace(created_at)")
	return err
}

// createAlgorithmTracesTable creates algorithm_traces: observability for
// individual LocalAlpha/DAGBuilder/Predictor decisions.
func createAlgorithmTracesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS algorithm_traces (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			algorithm_mode TEXT NOT NULL,
			target_type TEXT NOT NULL,
			signals TEXT NOT NULL,
			params TEXT NOT NULL,
			final_score REAL NOT NULL,
			threshold_used REAL,
			decision TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create algorithm_traces table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_algorithm_traces_mode ON algorithm_traces(algorithm_mode)",
		"CREATE INDEX IF NOT EXISTS idx_algorithm_traces_timestamp ON algorithm_traces(timestamp)",
	}
	for _, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create algorithm_traces index: %w", err)
		}
	}
	return nil
}

// createMetricsTable creates metrics: time-series telemetry (PageRank
// summaries, cache hit rates, recompute durations, ...).
func createMetricsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			metric_name TEXT NOT NULL,
			value REAL NOT NULL,
			metadata TEXT,
			timestamp TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create metrics table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_metrics_name ON metrics(metric_name)",
		"CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON metrics(timestamp)",
	}
	for _, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create metrics index: %w", err)
		}
	}
	return nil
}

// createConfigTable creates config: small persisted key/value state, such as
// the checksum of the last-loaded YAML configs.
func createConfigTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	return err
}

// createCapabilityTable creates capability: the local backing store for the
// capability.Store read interface.
func createCapabilityTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS capability (
			capability_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			tools_used TEXT NOT NULL,
			success_rate REAL NOT NULL CHECK(success_rate >= 0.0 AND success_rate <= 1.0),
			code_snippet TEXT,
			metadata TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create capability table: %w", err)
	}
	return nil
}

// createEpisodicAggregateTable creates episodic_aggregate: per (context
// hash, target) success/failure counters backing the episodic.Store read
// interface.
func createEpisodicAggregateTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS episodic_aggregate (
			context_hash TEXT NOT NULL,
			target_id TEXT NOT NULL,
			total INTEGER NOT NULL DEFAULT 0,
			successes INTEGER NOT NULL DEFAULT 0,
			failures INTEGER NOT NULL DEFAULT 0,

			PRIMARY KEY (context_hash, target_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create episodic_aggregate table: %w", err)
	}
	return nil
}

// createCacheTablesTable creates the generic cache tiers shared by
// semantic-search results and persisted spectral-cluster snapshots (query
// cache, TTL 300s; view cache, TTL 3600s) plus the negative-result cache
// (TTL 60s).
func createCacheTablesTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS query_cache (
			key TEXT PRIMARY KEY,
			value_json TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			graph_version TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create query_cache table: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS view_cache (
			key TEXT PRIMARY KEY,
			value_json TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			graph_version TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create view_cache table: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS negative_cache (
			key TEXT PRIMARY KEY,
			error_type TEXT NOT NULL,
			error_message TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			graph_version TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create negative_cache table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_query_cache_expires_at ON query_cache(expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_view_cache_expires_at ON view_cache(expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_negative_cache_expires_at ON negative_cache(expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_negative_cache_error_type ON negative_cache(error_type)",
	}
	for _, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create cache index: %w", err)
		}
	}

	return nil
}
