package storage

import (
	"fmt"
)

// NegativeCacheErrorType represents the kind of failure stored in the
// negative cache, matching the planner's error-kind taxonomy.
type NegativeCacheErrorType string

const (
	// DbUnavailable - the database was unreachable for the request (TTL 15s).
	DbUnavailable NegativeCacheErrorType = "db-unavailable"

	// SyncConsistency - a referenced node was missing during edge load (TTL 60s).
	SyncConsistency NegativeCacheErrorType = "sync-consistency"

	// NoCandidates - semantic search returned nothing, or everything was filtered (TTL 60s).
	NoCandidates NegativeCacheErrorType = "no-candidates"

	// Timeout - an outbound sampling or backend call timed out (TTL 5s).
	Timeout NegativeCacheErrorType = "timeout"

	// Persistence - a per-edge upsert failed during PersistEdges (TTL 30s).
	Persistence NegativeCacheErrorType = "persistence"
)

// NegativeCachePolicy defines TTL and behavior for each error type.
type NegativeCachePolicy struct {
	TTLSeconds  int
	Degraded    bool
	Description string
}

// negativeCachePolicies maps error kinds to their policies.
var negativeCachePolicies = map[NegativeCacheErrorType]NegativeCachePolicy{
	DbUnavailable: {
		TTLSeconds:  15,
		Degraded:    false,
		Description: "database unreachable; fail the current request, leave in-memory state untouched",
	},
	SyncConsistency: {
		TTLSeconds:  60,
		Degraded:    false,
		Description: "referenced node missing during edge load; row skipped and logged",
	},
	NoCandidates: {
		TTLSeconds:  60,
		Degraded:    false,
		Description: "empty semantic result or all candidates filtered",
	},
	Timeout: {
		TTLSeconds:  5,
		Degraded:    false,
		Description: "outbound sampling or backend call timed out",
	},
	Persistence: {
		TTLSeconds:  30,
		Degraded:    false,
		Description: "per-edge upsert failed; logged, sync continues",
	},
}

// GetNegativeCachePolicy returns the policy for a given error type.
func GetNegativeCachePolicy(errorType NegativeCacheErrorType) (NegativeCachePolicy, error) {
	policy, ok := negativeCachePolicies[errorType]
	if !ok {
		return NegativeCachePolicy{}, fmt.Errorf("unknown negative cache error type: %s", errorType)
	}
	return policy, nil
}

// GetNegativeCacheTTL returns the TTL in seconds for a given error type.
func GetNegativeCacheTTL(errorType NegativeCacheErrorType) int {
	policy, err := GetNegativeCachePolicy(errorType)
	if err != nil {
		return 60
	}
	return policy.TTLSeconds
}

// NegativeCacheManager provides high-level negative cache operations.
type NegativeCacheManager struct {
	cache *Cache
}

// NewNegativeCacheManager creates a new negative cache manager.
func NewNegativeCacheManager(cache *Cache) *NegativeCacheManager {
	return &NegativeCacheManager{cache: cache}
}

// CacheError stores an error in the negative cache with the TTL appropriate
// to its kind.
func (m *NegativeCacheManager) CacheError(key string, errorType NegativeCacheErrorType, errorMessage string, graphVersion string) error {
	ttl := GetNegativeCacheTTL(errorType)

	if err := m.cache.SetNegativeCache(key, string(errorType), errorMessage, graphVersion, ttl); err != nil {
		return fmt.Errorf("failed to cache error: %w", err)
	}

	return nil
}

// CheckError checks if an error is cached and returns it if found.
// Returns nil if not cached or expired.
func (m *NegativeCacheManager) CheckError(key string, graphVersion string) (*NegativeCacheEntry, error) {
	entry, err := m.cache.GetNegativeCache(key, graphVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to check negative cache: %w", err)
	}

	if entry != nil {
		m.cache.db.logger.Debug("Negative cache hit", map[string]interface{}{
			"key":        key,
			"error_type": entry.ErrorType,
		})
	}

	return entry, nil
}

// InvalidateError removes a specific error from the cache.
func (m *NegativeCacheManager) InvalidateError(key string) error {
	if err := m.cache.InvalidateNegativeCache(key); err != nil {
		return fmt.Errorf("failed to invalidate error: %w", err)
	}
	return nil
}

// InvalidateAllErrors clears all negative cache entries.
func (m *NegativeCacheManager) InvalidateAllErrors() error {
	if err := m.cache.InvalidateAllNegativeCache(); err != nil {
		return fmt.Errorf("failed to invalidate all errors: %w", err)
	}
	return nil
}

// GetErrorStats returns statistics about negative cache entries by error type.
func (m *NegativeCacheManager) GetErrorStats() (map[string]int, error) {
	rows, err := m.cache.db.Query(`
		SELECT error_type, COUNT(*) as count
		FROM negative_cache
		GROUP BY error_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get error stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var errorType string
		var count int
		if err := rows.Scan(&errorType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan error stats: %w", err)
		}
		stats[errorType] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating error stats: %w", err)
	}

	return stats, nil
}

// CleanupExpiredErrors removes expired negative cache entries.
func (m *NegativeCacheManager) CleanupExpiredErrors() error {
	return m.cache.CleanupExpiredEntries()
}
