package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowgraph/planner/internal/capability"
	"github.com/flowgraph/planner/internal/episodic"
)

// CapabilityRepository provides CRUD over the capability table and
// implements capability.Store for the planning engine.
type CapabilityRepository struct {
	db *DB
}

// NewCapabilityRepository creates a new capability repository.
func NewCapabilityRepository(db *DB) *CapabilityRepository {
	return &CapabilityRepository{db: db}
}

// Create inserts a new capability and returns its assigned node ID. IDs
// follow the "capability:<uuid>" naming convention.
func (r *CapabilityRepository) Create(name string, toolsUsed []string, successRate float64, codeSnippet string, metadata map[string]interface{}) (string, error) {
	id := "capability:" + uuid.NewString()

	cap := capability.Capability{
		ID:          id,
		Name:        name,
		ToolsUsed:   toolsUsed,
		SuccessRate: successRate,
		CodeSnippet: codeSnippet,
		Metadata:    metadata,
	}
	if err := r.Upsert(cap); err != nil {
		return "", err
	}
	return id, nil
}

// Upsert inserts or replaces a capability row.
func (r *CapabilityRepository) Upsert(cap capability.Capability) error {
	tools, err := json.Marshal(cap.ToolsUsed)
	if err != nil {
		return fmt.Errorf("failed to marshal tools_used: %w", err)
	}
	meta := "{}"
	if cap.Metadata != nil {
		b, err := json.Marshal(cap.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal capability metadata: %w", err)
		}
		meta = string(b)
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
	`, cap.ID, cap.Name, string(tools), cap.SuccessRate, cap.CodeSnippet, meta)
	if err != nil {
		return fmt.Errorf("failed to upsert capability: %w", err)
	}
	return nil
}

// UpdateSuccessRate folds one observed outcome into a capability's success
// rate as a running average over total observed runs tracked in metadata.
func (r *CapabilityRepository) UpdateSuccessRate(id string, success bool) error {
	cap, ok, err := r.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	runs := 0.0
	if cap.Metadata != nil {
		if v, ok := cap.Metadata["runs"].(float64); ok {
			runs = v
		}
	} else {
		cap.Metadata = map[string]interface{}{}
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	cap.SuccessRate = (cap.SuccessRate*runs + outcome) / (runs + 1)
	cap.Metadata["runs"] = runs + 1

	return r.Upsert(cap)
}

// Get implements capability.Store.
func (r *CapabilityRepository) Get(id string) (capability.Capability, bool, error) {
	var (
		cap   capability.Capability
		tools string
		meta  sql.NullString
		code  sql.NullString
	)
	err := r.db.QueryRow(`
		SELECT capability_id, name, tools_used, success_rate, code_snippet, metadata
		FROM capability WHERE capability_id = ?
	`, id).Scan(&cap.ID, &cap.Name, &tools, &cap.SuccessRate, &code, &meta)
	if err == sql.ErrNoRows {
		return capability.Capability{}, false, nil
	}
	if err != nil {
		return capability.Capability{}, false, fmt.Errorf("failed to get capability: %w", err)
	}

	if err := unmarshalCapabilityFields(&cap, tools, code, meta); err != nil {
		return capability.Capability{}, false, err
	}
	return cap, true, nil
}

// ListAll implements capability.Store.
func (r *CapabilityRepository) ListAll() ([]capability.Capability, error) {
	rows, err := r.db.Query(`
		SELECT capability_id, name, tools_used, success_rate, code_snippet, metadata
		FROM capability
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list capabilities: %w", err)
	}
	defer rows.Close()

	var out []capability.Capability
	for rows.Next() {
		var (
			cap   capability.Capability
			tools string
			meta  sql.NullString
			code  sql.NullString
		)
		if err := rows.Scan(&cap.ID, &cap.Name, &tools, &cap.SuccessRate, &code, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan capability: %w", err)
		}
		if err := unmarshalCapabilityFields(&cap, tools, code, meta); err != nil {
			return nil, err
		}
		out = append(out, cap)
	}
	return out, rows.Err()
}

func unmarshalCapabilityFields(cap *capability.Capability, tools string, code, meta sql.NullString) error {
	if err := json.Unmarshal([]byte(tools), &cap.ToolsUsed); err != nil {
		return fmt.Errorf("failed to unmarshal tools_used for %s: %w", cap.ID, err)
	}
	if code.Valid {
		cap.CodeSnippet = code.String
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &cap.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata for %s: %w", cap.ID, err)
		}
	}
	return nil
}

var _ capability.Store = (*CapabilityRepository)(nil)

// EpisodicRepository persists per-(context, target) outcome counters and
// implements episodic.Store for the Predictor.
type EpisodicRepository struct {
	db *DB
}

// NewEpisodicRepository creates a new episodic repository.
func NewEpisodicRepository(db *DB) *EpisodicRepository {
	return &EpisodicRepository{db: db}
}

// RecordOutcome folds one execution outcome into the aggregate for
// (contextHash, targetID).
func (r *EpisodicRepository) RecordOutcome(contextHash, targetID string, success bool) error {
	successInc := 0
	failureInc := 0
	if success {
		successInc = 1
	} else {
		failureInc = 1
	}

	_, err := r.db.Exec(`
		INSERT INTO episodic_aggregate (context_hash, target_id, total, successes, failures)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(context_hash, target_id) DO UPDATE SET
			total = total + 1,
			successes = successes + excluded.successes,
			failures = failures + excluded.failures
	`, contextHash, targetID, successInc, failureInc)
	if err != nil {
		return fmt.Errorf("failed to record episodic outcome: %w", err)
	}
	return nil
}

// Lookup implements episodic.Store. A missing row is reported as absent,
// not as a zero aggregate, so callers can skip adjustment entirely.
func (r *EpisodicRepository) Lookup(contextHash, targetID string) (episodic.Aggregate, bool) {
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

var _ episodic.Store = (*EpisodicRepository)(nil)
