package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/flowgraph/planner/internal/capability"
	"github.com/flowgraph/planner/internal/episodic"
	"github.com/flowgraph/planner/internal/graph"
)

// GraphRepositories composes the tool, tool-dependency, and
// capability-dependency repositories into the single graph.Loader /
// graph.Persister that graph.Store.Sync and graph.Store.PersistEdges expect.
type GraphRepositories struct {
	Tools                  *ToolRepository
	ToolDependencies       *ToolDependencyRepository
	CapabilityDependencies *CapabilityDependencyRepository
}

// NewGraphRepositories builds the composed loader/persister from an open
// database.
func NewGraphRepositories(db *DB) *GraphRepositories {
	return &GraphRepositories{
		Tools:                  NewToolRepository(db),
		ToolDependencies:       NewToolDependencyRepository(db),
		CapabilityDependencies: NewCapabilityDependencyRepository(db),
	}
}

// LoadTools implements graph.Loader.
func (g *GraphRepositories) LoadTools() ([]graph.ToolRow, error) {
	return g.Tools.LoadTools()
}

// LoadToolDependencies implements graph.Loader.
func (g *GraphRepositories) LoadToolDependencies() ([]graph.DependencyRow, error) {
	return g.ToolDependencies.LoadToolDependencies()
}

// LoadCapabilityDependencies implements graph.Loader.
func (g *GraphRepositories) LoadCapabilityDependencies() ([]graph.CapabilityDependencyRow, error) {
	return g.CapabilityDependencies.LoadCapabilityDependencies()
}

// UpsertToolDependency implements graph.Persister.
func (g *GraphRepositories) UpsertToolDependency(e graph.EdgeRecord) error {
	return g.ToolDependencies.UpsertToolDependency(e)
}

// UpsertCapabilityDependency implements graph.Persister.
func (g *GraphRepositories) UpsertCapabilityDependency(e graph.CapabilityEdgeRecord) error {
	return g.CapabilityDependencies.UpsertCapabilityDependency(e)
}

var (
	_ graph.Loader    = (*GraphRepositories)(nil)
	_ graph.Persister = (*GraphRepositories)(nil)
)

// CapabilityRepository backs capability.Store with the local capability
// table, and provides the writes LearningLoop needs to persist newly
// observed capabilities and success-rate updates.
type CapabilityRepository struct {
	db *DB
}

// NewCapabilityRepository creates a new capability repository.
func NewCapabilityRepository(db *DB) *CapabilityRepository {
	return &CapabilityRepository{db: db}
}

// ListAll implements capability.Store.
func (r *CapabilityRepository) ListAll() ([]capability.Capability, error) {
	rows, err := r.db.Query(`SELECT capability_id, name, tools_used, success_rate, code_snippet, metadata FROM capability`)
	if err != nil {
		return nil, fmt.Errorf("failed to list capabilities: %w", err)
	}
	defer rows.Close()

	var out []capability.Capability
	for rows.Next() {
		c, err := scanCapability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get implements capability.Store.
func (r *CapabilityRepository) Get(id string) (capability.Capability, bool, error) {
	row := r.db.QueryRow(`SELECT capability_id, name, tools_used, success_rate, code_snippet, metadata FROM capability WHERE capability_id = ?`, id)

	var toolsUsed, codeSnippet, metadata sql.NullString
	var c capability.Capability
	err := row.Scan(&c.ID, &c.Name, &toolsUsed, &c.SuccessRate, &codeSnippet, &metadata)
	if err == sql.ErrNoRows {
		return capability.Capability{}, false, nil
	}
	if err != nil {
		return capability.Capability{}, false, fmt.Errorf("failed to get capability %s: %w", id, err)
	}

	if toolsUsed.Valid {
		_ = json.Unmarshal([]byte(toolsUsed.String), &c.ToolsUsed)
	}
	c.CodeSnippet = codeSnippet.String
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &c.Metadata)
	}

	return c, true, nil
}

// Upsert inserts or replaces a capability record, used by LearningLoop when
// a new capability is discovered or its success rate is refreshed.
func (r *CapabilityRepository) Upsert(c capability.Capability) error {
	toolsUsed, err := json.Marshal(c.ToolsUsed)
	if err != nil {
		return fmt.Errorf("failed to marshal tools_used: %w", err)
	}
	var metadataJSON []byte
	if c.Metadata != nil {
		metadataJSON, err = json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	_, err = r.db.Exec(`
		INSERT INTO capability (capability_id, name, tools_used, success_rate, code_snippet, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(capability_id) DO UPDATE SET
			name = excluded.name,
			tools_used = excluded.tools_used,
			success_rate = excluded.success_rate,
			code_snippet = excluded.code_snippet,
			metadata = excluded.metadata
	`, c.ID, c.Name, string(toolsUsed), c.SuccessRate, c.CodeSnippet, string(metadataJSON))
	if err != nil {
		return fmt.Errorf("failed to upsert capability %s: %w", c.ID, err)
	}
	return nil
}

func scanCapability(rows *sql.Rows) (capability.Capability, error) {
	var toolsUsed, codeSnippet, metadata sql.NullString
	var c capability.Capability
	if err := rows.Scan(&c.ID, &c.Name, &toolsUsed, &c.SuccessRate, &codeSnippet, &metadata); err != nil {
		return capability.Capability{}, fmt.Errorf("failed to scan capability: %w", err)
	}
	if toolsUsed.Valid {
		_ = json.Unmarshal([]byte(toolsUsed.String), &c.ToolsUsed)
	}
	c.CodeSnippet = codeSnippet.String
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &c.Metadata)
	}
	return c, nil
}

// EpisodicAggregateRepository backs episodic.Store with per-(context,
// target) success/failure counters, updated by LearningLoop on every
// execution trace.
type EpisodicAggregateRepository struct {
	db *DB
}

// NewEpisodicAggregateRepository creates a new episodic aggregate repository.
func NewEpisodicAggregateRepository(db *DB) *EpisodicAggregateRepository {
	return &EpisodicAggregateRepository{db: db}
}

// Lookup implements episodic.Store.
func (r *EpisodicAggregateRepository) Lookup(contextHash string, targetID string) (episodic.Aggregate, bool) {
	var agg episodic.Aggregate
	err := r.db.QueryRow(`
		SELECT total, successes, failures FROM episodic_aggregate
		WHERE context_hash = ? AND target_id = ?
	`, contextHash, targetID).Scan(&agg.Total, &agg.Successes, &agg.Failures)
	if err != nil {
		return episodic.Aggregate{}, false
	}
	return agg, true
}

// RecordOutcome increments the aggregate for (contextHash, targetID) by one
// observation, success or failure.
func (r *EpisodicAggregateRepository) RecordOutcome(contextHash, targetID string, success bool) error {
	successDelta, failureDelta := 0, 0
	if success {
		successDelta = 1
	} else {
		failureDelta = 1
	}
	_, err := r.db.Exec(`
		INSERT INTO episodic_aggregate (context_hash, target_id, total, successes, failures)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(context_hash, target_id) DO UPDATE SET
			total = total + 1,
			successes = successes + excluded.successes,
			failures = failures + excluded.failures
	`, contextHash, targetID, successDelta, failureDelta)
	if err != nil {
		return fmt.Errorf("failed to record episodic outcome for %s/%s: %w", contextHash, targetID, err)
	}
	return nil
}

var (
	_ capability.Store = (*CapabilityRepository)(nil)
	_ episodic.Store   = (*EpisodicAggregateRepository)(nil)
)
