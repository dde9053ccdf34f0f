package storage

import (
	"database/sql"
	"time"
)

// MetricRecord is a single time-series observation (PageRank summaries,
// cache hit rates, recompute durations, LearningLoop decay counts, ...).
type MetricRecord struct {
	ID        int64
	Name      string
	Value     float64
	Metadata  string
	Timestamp time.Time
}

// MetricsRepository records and queries the metrics time-series table.
type MetricsRepository struct {
	db *DB
}

// NewMetricsRepository creates a new metrics repository.
func NewMetricsRepository(db *DB) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// Record persists a single metric observation stamped with now.
func (r *MetricsRepository) Record(name string, value float64, metadataJSON string) error {
	_, err := r.db.Exec(`
		INSERT INTO metrics (metric_name, value, metadata, timestamp)
		VALUES (?, ?, ?, ?)
	`, name, value, metadataJSON, time.Now().UTC().Format(time.RFC3339))
	return err
}

// GetByName returns the most recent observations for a metric, newest first.
func (r *MetricsRepository) GetByName(name string, limit int) ([]MetricRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, metric_name, value, metadata, timestamp
		FROM metrics WHERE metric_name = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricRecord
	for rows.Next() {
		var rec MetricRecord
		var metadata sql.NullString
		var timestamp string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Value, &metadata, &timestamp); err != nil {
			return nil, err
		}
		rec.Metadata = metadata.String
		rec.Timestamp, _ = time.Parse(time.RFC3339, timestamp)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Latest returns the single most recent observation for a metric.
func (r *MetricsRepository) Latest(name string) (*MetricRecord, error) {
	var rec MetricRecord
	var metadata sql.NullString
	var timestamp string
	err := r.db.QueryRow(`
		SELECT id, metric_name, value, metadata, timestamp
		FROM metrics WHERE metric_name = ?
		ORDER BY timestamp DESC, id DESC LIMIT 1
	`, name).Scan(&rec.ID, &rec.Name, &rec.Value, &metadata, &timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Metadata = metadata.String
	rec.Timestamp, _ = time.Parse(time.RFC3339, timestamp)
	return &rec, nil
}

// CleanupOlderThan removes metric rows older than the retention window.
func (r *MetricsRepository) CleanupOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339)
	result, err := r.db.Exec(`DELETE FROM metrics WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// AlgorithmTraceRecord is a single LocalAlpha/DAGBuilder/Predictor decision,
// recorded for observability.
type AlgorithmTraceRecord struct {
	ID            int64
	AlgorithmMode string
	TargetType    string
	SignalsJSON   string
	ParamsJSON    string
	FinalScore    float64
	ThresholdUsed *float64
	Decision      string
	Timestamp     time.Time
}

// AlgorithmTraceRepository records and queries algorithm_traces.
type AlgorithmTraceRepository struct {
	db *DB
}

// NewAlgorithmTraceRepository creates a new algorithm trace repository.
func NewAlgorithmTraceRepository(db *DB) *AlgorithmTraceRepository {
	return &AlgorithmTraceRepository{db: db}
}

// Record persists a single algorithm decision.
func (r *AlgorithmTraceRepository) Record(rec *AlgorithmTraceRecord) error {
	_, err := r.db.Exec(`
		INSERT INTO algorithm_traces (algorithm_mode, target_type, signals, params, final_score, threshold_used, decision, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.AlgorithmMode, rec.TargetType, rec.SignalsJSON, rec.ParamsJSON, rec.FinalScore, rec.ThresholdUsed, rec.Decision, time.Now().UTC().Format(time.RFC3339))
	return err
}

// ListByMode returns the most recent traces for an algorithm mode, newest first.
func (r *AlgorithmTraceRepository) ListByMode(mode string, limit int) ([]AlgorithmTraceRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, algorithm_mode, target_type, signals, params, final_score, threshold_used, decision, timestamp
		FROM algorithm_traces WHERE algorithm_mode = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?
	`, mode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlgorithmTraceRecord
	for rows.Next() {
		var rec AlgorithmTraceRecord
		var threshold sql.NullFloat64
		var timestamp string
		if err := rows.Scan(&rec.ID, &rec.AlgorithmMode, &rec.TargetType, &rec.SignalsJSON, &rec.ParamsJSON, &rec.FinalScore, &threshold, &rec.Decision, &timestamp); err != nil {
			return nil, err
		}
		if threshold.Valid {
			v := threshold.Float64
			rec.ThresholdUsed = &v
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339, timestamp)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CleanupOlderThan removes trace rows older than the retention window.
func (r *AlgorithmTraceRepository) CleanupOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339)
	result, err := r.db.Exec(`DELETE FROM algorithm_traces WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
