package storage

import (
	"os"
	"testing"
	"time"

	"github.com/flowgraph/planner/internal/logging"
)

func TestNewCache(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "planner-cache-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logger := logging.NewLogger(logging.Config{Level: logging.ErrorLevel})
	db, err := Open(tmpDir, "", logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	cache := NewCache(db)
	if cache == nil {
		t.Fatal("NewCache returned nil")
	}
	if cache.db != db {
		t.Error("cache.db should be the provided db")
	}
}

func TestQueryCache(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "planner-cache-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logger := logging.NewLogger(logging.Config{Level: logging.ErrorLevel})
	db, err := Open(tmpDir, "", logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	cache := NewCache(db)

	t.Run("miss on empty cache", func(t *testing.T) {
		value, found, err := cache.GetQueryCache("nonexistent", "graph-v1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if found {
			t.Error("expected not found for nonexistent key")
		}
		if value != "" {
			t.Errorf("expected empty value, got %q", value)
		}
	})

	t.Run("set and get", func(t *testing.T) {
		key := "test-key"
		valueJSON := `{"result": "test"}`
		graphVersion := "v-abc123"
		ttl := 300

		err := cache.SetQueryCache(key, valueJSON, graphVersion, ttl)
		if err != nil {
			t.Fatalf("SetQueryCache failed: %v", err)
		}

		value, found, err := cache.GetQueryCache(key, graphVersion)
		if err != nil {
			t.Fatalf("GetQueryCache failed: %v", err)
		}
		if !found {
			t.Error("expected to find cached value")
		}
		if value != valueJSON {
			t.Errorf("value = %q, want %q", value, valueJSON)
		}
	})

	t.Run("different graph version misses", func(t *testing.T) {
		key := "test-key-2"
		valueJSON := `{"result": "test2"}`

		err := cache.SetQueryCache(key, valueJSON, "v-a", 300)
		if err != nil {
			t.Fatalf("SetQueryCache failed: %v", err)
		}

		_, found, err := cache.GetQueryCache(key, "v-b")
		if err != nil {
			t.Fatalf("GetQueryCache failed: %v", err)
		}
		if found {
			t.Error("expected not found for different graph version")
		}
	})
}

func TestViewCache(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "planner-cache-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logger := logging.NewLogger(logging.Config{Level: logging.ErrorLevel})
	db, err := Open(tmpDir, "", logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	cache := NewCache(db)

	t.Run("miss on empty cache", func(t *testing.T) {
		value, found, err := cache.GetViewCache("nonexistent", "v-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if found {
			t.Error("expected not found for nonexistent key")
		}
		if value != "" {
			t.Errorf("expected empty value, got %q", value)
		}
	})

	t.Run("set and get", func(t *testing.T) {
		key := "view-key"
		valueJSON := `{"view": "data"}`
		graphVersion := "v-123"
		ttl := 3600

		err := cache.SetViewCache(key, valueJSON, graphVersion, ttl)
		if err != nil {
			t.Fatalf("SetViewCache failed: %v", err)
		}

		value, found, err := cache.GetViewCache(key, graphVersion)
		if err != nil {
			t.Fatalf("GetViewCache failed: %v", err)
		}
		if !found {
			t.Error("expected to find cached value")
		}
		if value != valueJSON {
			t.Errorf("value = %q, want %q", value, valueJSON)
		}
	})

	t.Run("different graph version misses", func(t *testing.T) {
		key := "view-key-2"
		valueJSON := `{"view": "data2"}`

		err := cache.SetViewCache(key, valueJSON, "v-a", 3600)
		if err != nil {
			t.Fatalf("SetViewCache failed: %v", err)
		}

		_, found, err := cache.GetViewCache(key, "v-b")
		if err != nil {
			t.Fatalf("GetViewCache failed: %v", err)
		}
		if found {
			t.Error("expected not found for different graph version")
		}
	})
}

func TestNegativeCache(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "planner-cache-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logger := logging.NewLogger(logging.Config{Level: logging.ErrorLevel})
	db, err := Open(tmpDir, "", logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	cache := NewCache(db)

	t.Run("miss on empty cache", func(t *testing.T) {
		entry, err := cache.GetNegativeCache("nonexistent", "v-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if entry != nil {
			t.Error("expected nil for nonexistent key")
		}
	})

	t.Run("set and get", func(t *testing.T) {
		key := "error-key"
		errorType := "db_unavailable"
		errorMessage := "database connection refused"
		graphVersion := "v-123"
		ttl := 60

		err := cache.SetNegativeCache(key, errorType, errorMessage, graphVersion, ttl)
		if err != nil {
			t.Fatalf("SetNegativeCache failed: %v", err)
		}

		entry, err := cache.GetNegativeCache(key, graphVersion)
		if err != nil {
			t.Fatalf("GetNegativeCache failed: %v", err)
		}
		if entry == nil {
			t.Fatal("expected to find cached entry")
		}
		if entry.ErrorType != errorType {
			t.Errorf("ErrorType = %q, want %q", entry.ErrorType, errorType)
		}
		if entry.ErrorMessage != errorMessage {
			t.Errorf("ErrorMessage = %q, want %q", entry.ErrorMessage, errorMessage)
		}
	})
}

func TestCacheInvalidation(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "planner-cache-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logger := logging.NewLogger(logging.Config{Level: logging.ErrorLevel})
	db, err := Open(tmpDir, "", logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	cache := NewCache(db)

	t.Run("invalidate query cache by pattern", func(t *testing.T) {
		err := cache.SetQueryCache("search:foo", `{"result": 1}`, "v1", 300)
		if err != nil {
			t.Fatalf("SetQueryCache failed: %v", err)
		}
		err = cache.SetQueryCache("search:bar", `{"result": 2}`, "v1", 300)
		if err != nil {
			t.Fatalf("SetQueryCache failed: %v", err)
		}

		err = cache.InvalidateQueryCache("search:%")
		if err != nil {
			t.Fatalf("InvalidateQueryCache failed: %v", err)
		}

		_, found, _ := cache.GetQueryCache("search:foo", "v1")
		if found {
			t.Error("expected search:foo to be invalidated")
		}
		_, found, _ = cache.GetQueryCache("search:bar", "v1")
		if found {
			t.Error("expected search:bar to be invalidated")
		}
	})

	t.Run("invalidate all query cache", func(t *testing.T) {
		err := cache.SetQueryCache("key1", `{}`, "v1", 300)
		if err != nil {
			t.Fatalf("SetQueryCache failed: %v", err)
		}

		err = cache.InvalidateAllQueryCache()
		if err != nil {
			t.Fatalf("InvalidateAllQueryCache failed: %v", err)
		}

		_, found, _ := cache.GetQueryCache("key1", "v1")
		if found {
			t.Error("expected all query cache to be invalidated")
		}
	})

	t.Run("invalidate by graph version", func(t *testing.T) {
		graphVersion := "v-to-invalidate"

		err := cache.SetQueryCache("key-a", `{}`, graphVersion, 300)
		if err != nil {
			t.Fatalf("SetQueryCache failed: %v", err)
		}
		err = cache.SetViewCache("key-b", `{}`, graphVersion, 3600)
		if err != nil {
			t.Fatalf("SetViewCache failed: %v", err)
		}

		err = cache.InvalidateByGraphVersion(graphVersion)
		if err != nil {
			t.Fatalf("InvalidateByGraphVersion failed: %v", err)
		}

		_, found, _ := cache.GetQueryCache("key-a", graphVersion)
		if found {
			t.Error("expected query cache to be invalidated by graph version")
		}
		_, found, _ = cache.GetViewCache("key-b", graphVersion)
		if found {
			t.Error("expected view cache to be invalidated by graph version")
		}
	})
}

func TestCacheCleanup(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "planner-cache-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logger := logging.NewLogger(logging.Config{Level: logging.ErrorLevel})
	db, err := Open(tmpDir, "", logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	cache := NewCache(db)

	err = cache.SetQueryCache("expired-key", `{}`, "v1", 1)
	if err != nil {
		t.Fatalf("SetQueryCache failed: %v", err)
	}

	time.Sleep(2 * time.Second)

	err = cache.CleanupExpiredEntries()
	if err != nil {
		t.Fatalf("CleanupExpiredEntries failed: %v", err)
	}

	_, found, _ := cache.GetQueryCache("expired-key", "v1")
	if found {
		t.Error("expected expired entry to be cleaned up")
	}
}

func TestCacheStats(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "planner-cache-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logger := logging.NewLogger(logging.Config{Level: logging.ErrorLevel})
	db, err := Open(tmpDir, "", logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	cache := NewCache(db)

	err = cache.SetQueryCache("key1", `{}`, "v1", 300)
	if err != nil {
		t.Fatalf("SetQueryCache failed: %v", err)
	}
	err = cache.SetViewCache("key2", `{}`, "v1", 3600)
	if err != nil {
		t.Fatalf("SetViewCache failed: %v", err)
	}

	stats, err := cache.GetCacheStats()
	if err != nil {
		t.Fatalf("GetCacheStats failed: %v", err)
	}

	if stats == nil {
		t.Fatal("expected stats map, got nil")
	}

	if _, ok := stats["query_cache"]; !ok {
		t.Error("expected query_cache in stats")
	}
	if _, ok := stats["view_cache"]; !ok {
		t.Error("expected view_cache in stats")
	}
	if _, ok := stats["negative_cache"]; !ok {
		t.Error("expected negative_cache in stats")
	}

	if qc, ok := stats["query_cache"].(map[string]interface{}); ok {
		if _, ok := qc["entries"]; !ok {
			t.Error("expected entries in query_cache stats")
		}
	}
}

func TestCacheTierConstants(t *testing.T) {
	if QueryCache != "query" {
		t.Errorf("QueryCache = %q, want %q", QueryCache, "query")
	}
	if ViewCache != "view" {
		t.Errorf("ViewCache = %q, want %q", ViewCache, "view")
	}
	if NegativeCache != "negative" {
		t.Errorf("NegativeCache = %q, want %q", NegativeCache, "negative")
	}
}
