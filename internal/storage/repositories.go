package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/flowgraph/planner/internal/edgemodel"
	"github.com/flowgraph/planner/internal/graph"
)

// ToolRecord is a persisted tool, embedding included. Embedding is stored
// as a raw little-endian float32 BLOB produced by the semantic adapter.
type ToolRecord struct {
	ToolID    string
	ServerID  string
	ToolName  string
	Embedding []byte
	Metadata  string
}

// ToolRepository provides CRUD operations over tool_embedding.
type ToolRepository struct {
	db *DB
}

// NewToolRepository creates a new tool repository.
func NewToolRepository(db *DB) *ToolRepository {
	return &ToolRepository{db: db}
}

// Upsert inserts or replaces a tool record.
func (r *ToolRepository) Upsert(rec *ToolRecord) error {
	_, err := r.db.Exec(`
		INSERT INTO tool_embedding (tool_id, server_id, tool_name, embedding, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tool_id) DO UPDATE SET
			server_id = excluded.server_id,
			tool_name = excluded.tool_name,
			embedding = excluded.embedding,
			metadata = excluded.metadata
	`, rec.ToolID, rec.ServerID, rec.ToolName, rec.Embedding, rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to upsert tool: %w", err)
	}
	return nil
}

// GetByID retrieves a tool by its ID.
func (r *ToolRepository) GetByID(toolID string) (*ToolRecord, error) {
	var rec ToolRecord
	err := r.db.QueryRow(`
		SELECT tool_id, server_id, tool_name, embedding, metadata
		FROM tool_embedding WHERE tool_id = ?
	`, toolID).Scan(&rec.ToolID, &rec.ServerID, &rec.ToolName, &rec.Embedding, &rec.Metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tool: %w", err)
	}
	return &rec, nil
}

// ListAll returns every persisted tool.
func (r *ToolRepository) ListAll() ([]*ToolRecord, error) {
	rows, err := r.db.Query(`SELECT tool_id, server_id, tool_name, embedding, metadata FROM tool_embedding`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	defer rows.Close()

	var out []*ToolRecord
	for rows.Next() {
		var rec ToolRecord
		if err := rows.Scan(&rec.ToolID, &rec.ServerID, &rec.ToolName, &rec.Embedding, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan tool: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Delete removes a tool's row only. ON DELETE is not declared on
// tool_dependency, so edges touching this tool are left in place.
func (r *ToolRepository) Delete(toolID string) error {
	_, err := r.db.Exec(`DELETE FROM tool_embedding WHERE tool_id = ?`, toolID)
	if err != nil {
		return fmt.Errorf("failed to delete tool: %w", err)
	}
	return nil
}

// LoadTools implements graph.Loader.
func (r *ToolRepository) LoadTools() ([]graph.ToolRow, error) {
	rows, err := r.db.Query(`SELECT tool_id, tool_name FROM tool_embedding`)
	if err != nil {
		return nil, fmt.Errorf("failed to load tools: %w", err)
	}
	defer rows.Close()

	var out []graph.ToolRow
	for rows.Next() {
		var tr graph.ToolRow
		if err := rows.Scan(&tr.ID, &tr.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan tool row: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ToolSchemaRecord is a persisted JSON-schema descriptor for a tool.
type ToolSchemaRecord struct {
	ToolID       string
	ServerID     string
	Name         string
	Description  string
	InputSchema  string
	OutputSchema string
}

// ToolSchemaRepository provides CRUD operations over tool_schema.
type ToolSchemaRepository struct {
	db *DB
}

// NewToolSchemaRepository creates a new tool schema repository.
func NewToolSchemaRepository(db *DB) *ToolSchemaRepository {
	return &ToolSchemaRepository{db: db}
}

// Upsert inserts or replaces a tool schema record.
func (r *ToolSchemaRepository) Upsert(rec *ToolSchemaRecord) error {
	_, err := r.db.Exec(`
		INSERT INTO tool_schema (tool_id, server_id, name, description, input_schema, output_schema)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tool_id) DO UPDATE SET
			server_id = excluded.server_id,
			name = excluded.name,
			description = excluded.description,
			input_schema = excluded.input_schema,
			output_schema = excluded.output_schema
	`, rec.ToolID, rec.ServerID, rec.Name, rec.Description, rec.InputSchema, rec.OutputSchema)
	if err != nil {
		return fmt.Errorf("failed to upsert tool schema: %w", err)
	}
	return nil
}

// GetByID retrieves a tool schema by tool ID.
func (r *ToolSchemaRepository) GetByID(toolID string) (*ToolSchemaRecord, error) {
	var rec ToolSchemaRecord
	var description, outputSchema sql.NullString
	err := r.db.QueryRow(`
		SELECT tool_id, server_id, name, description, input_schema, output_schema
		FROM tool_schema WHERE tool_id = ?
	`, toolID).Scan(&rec.ToolID, &rec.ServerID, &rec.Name, &description, &rec.InputSchema, &outputSchema)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tool schema: %w", err)
	}
	rec.Description = description.String
	rec.OutputSchema = outputSchema.String
	return &rec, nil
}

// ListAll returns every persisted tool schema.
func (r *ToolSchemaRepository) ListAll() ([]*ToolSchemaRecord, error) {
	rows, err := r.db.Query(`SELECT tool_id, server_id, name, description, input_schema, output_schema FROM tool_schema`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool schemas: %w", err)
	}
	defer rows.Close()

	var out []*ToolSchemaRecord
	for rows.Next() {
		var rec ToolSchemaRecord
		var description, outputSchema sql.NullString
		if err := rows.Scan(&rec.ToolID, &rec.ServerID, &rec.Name, &description, &rec.InputSchema, &outputSchema); err != nil {
			return nil, fmt.Errorf("failed to scan tool schema: %w", err)
		}
		rec.Description = description.String
		rec.OutputSchema = outputSchema.String
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// ToolDependencyRepository provides CRUD operations over tool_dependency,
// and implements the tool half of graph.Loader/graph.Persister.
type ToolDependencyRepository struct {
	db *DB
}

// NewToolDependencyRepository creates a new tool dependency repository.
func NewToolDependencyRepository(db *DB) *ToolDependencyRepository {
	return &ToolDependencyRepository{db: db}
}

// LoadToolDependencies implements graph.Loader.
func (r *ToolDependencyRepository) LoadToolDependencies() ([]graph.DependencyRow, error) {
	rows, err := r.db.Query(`
		SELECT from_tool_id, to_tool_id, observed_count, confidence_score, edge_type, edge_source
		FROM tool_dependency
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool dependencies: %w", err)
	}
	defer rows.Close()

	var out []graph.DependencyRow
	for rows.Next() {
		var d graph.DependencyRow
		var edgeType, edgeSource string
		if err := rows.Scan(&d.FromToolID, &d.ToToolID, &d.ObservedCount, &d.ConfidenceScore, &edgeType, &edgeSource); err != nil {
			return nil, fmt.Errorf("failed to scan tool dependency: %w", err)
		}
		d.EdgeType = graph.EdgeType(edgeType)
		d.EdgeSource = graph.EdgeSource(edgeSource)
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertToolDependency implements graph.Persister. When a row already
// exists, observed_count and the other columns are replaced with the values
// in e, which carries the running count from the in-memory edge.
func (r *ToolDependencyRepository) UpsertToolDependency(e graph.EdgeRecord) error {
	now := time.Now().Format(time.RFC3339)
	_, err := r.db.Exec(`
		INSERT INTO tool_dependency (from_tool_id, to_tool_id, observed_count, confidence_score, edge_type, edge_source, last_observed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_tool_id, to_tool_id) DO UPDATE SET
			observed_count = excluded.observed_count,
			confidence_score = excluded.confidence_score,
			edge_type = excluded.edge_type,
			edge_source = excluded.edge_source,
			last_observed = excluded.last_observed
	`, e.FromToolID, e.ToToolID, e.ObservedCount, e.ConfidenceScore, string(e.EdgeType), string(e.EdgeSource), now)
	if err != nil {
		return fmt.Errorf("failed to upsert tool dependency %s->%s: %w", e.FromToolID, e.ToToolID, err)
	}
	return nil
}

// GetByFromTool returns every outbound edge for a tool.
func (r *ToolDependencyRepository) GetByFromTool(fromToolID string) ([]graph.DependencyRow, error) {
	rows, err := r.db.Query(`
		SELECT from_tool_id, to_tool_id, observed_count, confidence_score, edge_type, edge_source
		FROM tool_dependency WHERE from_tool_id = ?
	`, fromToolID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tool dependencies: %w", err)
	}
	defer rows.Close()

	var out []graph.DependencyRow
	for rows.Next() {
		var d graph.DependencyRow
		var edgeType, edgeSource string
		if err := rows.Scan(&d.FromToolID, &d.ToToolID, &d.ObservedCount, &d.ConfidenceScore, &edgeType, &edgeSource); err != nil {
			return nil, fmt.Errorf("failed to scan tool dependency: %w", err)
		}
		d.EdgeType = graph.EdgeType(edgeType)
		d.EdgeSource = graph.EdgeSource(edgeSource)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Delete removes a single edge.
func (r *ToolDependencyRepository) Delete(fromToolID, toToolID string) error {
	_, err := r.db.Exec(`DELETE FROM tool_dependency WHERE from_tool_id = ? AND to_tool_id = ?`, fromToolID, toToolID)
	if err != nil {
		return fmt.Errorf("failed to delete tool dependency: %w", err)
	}
	return nil
}

// CapabilityDependencyRepository provides CRUD operations over
// capability_dependency, and implements the capability half of
// graph.Loader/graph.Persister.
type CapabilityDependencyRepository struct {
	db *DB
}

// NewCapabilityDependencyRepository creates a new capability dependency repository.
func NewCapabilityDependencyRepository(db *DB) *CapabilityDependencyRepository {
	return &CapabilityDependencyRepository{db: db}
}

// LoadCapabilityDependencies implements graph.Loader.
func (r *CapabilityDependencyRepository) LoadCapabilityDependencies() ([]graph.CapabilityDependencyRow, error) {
	rows, err := r.db.Query(`
		SELECT from_capability_id, to_capability_id, observed_count, confidence_score, edge_type, edge_source
		FROM capability_dependency
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load capability dependencies: %w", err)
	}
	defer rows.Close()

	var out []graph.CapabilityDependencyRow
	for rows.Next() {
		var d graph.CapabilityDependencyRow
		var edgeType, edgeSource string
		if err := rows.Scan(&d.FromCapabilityID, &d.ToCapabilityID, &d.ObservedCount, &d.ConfidenceScore, &edgeType, &edgeSource); err != nil {
			return nil, fmt.Errorf("failed to scan capability dependency: %w", err)
		}
		d.EdgeType = graph.EdgeType(edgeType)
		d.EdgeSource = graph.EdgeSource(edgeSource)
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertCapabilityDependency implements graph.Persister. The upsert and the
// inferred->observed promotion happen in one transaction, and a contains
// edge whose reverse already exists is warned about but still written (the
// in-memory graph tolerates cycles; only the DAG builder resolves them).
func (r *CapabilityDependencyRepository) UpsertCapabilityDependency(e graph.CapabilityEdgeRecord) error {
	return r.db.WithTx(func(tx *sql.Tx) error {
		source := e.EdgeSource
		confidence := e.ConfidenceScore
		if promoted := edgemodel.Promote(source, e.ObservedCount); promoted != source {
			source = promoted
			confidence = edgemodel.SourceModifier[source]
		}

		_, err := tx.Exec(`
			INSERT INTO capability_dependency (from_capability_id, to_capability_id, observed_count, confidence_score, edge_type, edge_source)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(from_capability_id, to_capability_id) DO UPDATE SET
				observed_count = excluded.observed_count,
				confidence_score = excluded.confidence_score,
				edge_type = excluded.edge_type,
				edge_source = excluded.edge_source
		`, e.FromCapabilityID, e.ToCapabilityID, e.ObservedCount, confidence, string(e.EdgeType), string(source))
		if err != nil {
			return fmt.Errorf("failed to upsert capability dependency %s->%s: %w", e.FromCapabilityID, e.ToCapabilityID, err)
		}

		if e.EdgeType == graph.TypeContains {
			var reverse int
			err := tx.QueryRow(`
				SELECT COUNT(*) FROM capability_dependency
				WHERE from_capability_id = ? AND to_capability_id = ? AND edge_type = ?
			`, e.ToCapabilityID, e.FromCapabilityID, string(graph.TypeContains)).Scan(&reverse)
			if err == nil && reverse > 0 {
				r.db.logger.Warn("contains cycle between capabilities", map[string]interface{}{
					"from": e.FromCapabilityID,
					"to":   e.ToCapabilityID,
				})
			}
		}
		return nil
	})
}

// Delete removes a single capability edge.
func (r *CapabilityDependencyRepository) Delete(fromCapabilityID, toCapabilityID string) error {
	_, err := r.db.Exec(`DELETE FROM capability_dependency WHERE from_capability_id = ? AND to_capability_id = ?`, fromCapabilityID, toCapabilityID)
	if err != nil {
		return fmt.Errorf("failed to delete capability dependency: %w", err)
	}
	return nil
}

// ExecutionTraceRecord is an append-only log entry of a completed DAG run.
type ExecutionTraceRecord struct {
	ID                string
	WorkflowStateJSON string
	DecisionsJSON     string
	TaskResultsJSON   string
	Success           bool
	CreatedAt         time.Time
}

// ExecutionTraceRepository provides append/read operations over execution_trace.
type ExecutionTraceRepository struct {
	db *DB
}

// NewExecutionTraceRepository creates a new execution trace repository.
func NewExecutionTraceRepository(db *DB) *ExecutionTraceRepository {
	return &ExecutionTraceRepository{db: db}
}

// Append inserts a new execution trace. Traces are immutable once written.
func (r *ExecutionTraceRepository) Append(rec *ExecutionTraceRecord) error {
	success := 0
	if rec.Success {
		success = 1
	}
	_, err := r.db.Exec(`
		INSERT INTO execution_trace (id, workflow_state_json, decisions_json, task_results_json, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.WorkflowStateJSON, rec.DecisionsJSON, rec.TaskResultsJSON, success, rec.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append execution trace: %w", err)
	}
	return nil
}

// GetByID retrieves a single trace by ID.
func (r *ExecutionTraceRepository) GetByID(id string) (*ExecutionTraceRecord, error) {
	var rec ExecutionTraceRecord
	var success int
	var createdAt string
	err := r.db.QueryRow(`
		SELECT id, workflow_state_json, decisions_json, task_results_json, success, created_at
		FROM execution_trace WHERE id = ?
	`, id).Scan(&rec.ID, &rec.WorkflowStateJSON, &rec.DecisionsJSON, &rec.TaskResultsJSON, &success, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution trace: %w", err)
	}
	rec.Success = success != 0
	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at format: %w", err)
	}
	return &rec, nil
}

// ListRecent returns the most recent traces, newest first.
func (r *ExecutionTraceRepository) ListRecent(limit int) ([]*ExecutionTraceRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, workflow_state_json, decisions_json, task_results_json, success, created_at
		FROM execution_trace ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution traces: %w", err)
	}
	defer rows.Close()

	var out []*ExecutionTraceRecord
	for rows.Next() {
		var rec ExecutionTraceRecord
		var success int
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.WorkflowStateJSON, &rec.DecisionsJSON, &rec.TaskResultsJSON, &success, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution trace: %w", err)
		}
		rec.Success = success != 0
		rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("invalid created_at format: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// ConfigRepository provides key/value access over the config table.
type ConfigRepository struct {
	db *DB
}

// NewConfigRepository creates a new config repository.
func NewConfigRepository(db *DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// Get returns the value for a key, or ok=false if unset.
func (r *ConfigRepository) Get(key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get config key %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores a key/value pair.
func (r *ConfigRepository) Set(key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config key %q: %w", key, err)
	}
	return nil
}
