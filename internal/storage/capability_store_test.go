package storage

import (
	"strings"
	"testing"

	"github.com/flowgraph/planner/internal/capability"
	"github.com/flowgraph/planner/internal/graph"
)

func TestCapabilityRepositoryCreateAndGet(t *testing.T) {
	db, tmpDir := setupTestDB(t)
	defer teardownTestDB(t, db, tmpDir)

	repo := NewCapabilityRepository(db)

	id, err := repo.Create("read-and-parse", []string{"fs:read_file", "json:parse"}, 0.8, "", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasPrefix(id, "capability:") {
		t.Errorf("Expected capability: prefix, got %q", id)
	}

	cap, ok, err := repo.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected capability to exist")
	}
	if cap.Name != "read-and-parse" {
		t.Errorf("Expected name read-and-parse, got %q", cap.Name)
	}
	if len(cap.ToolsUsed) != 2 || cap.ToolsUsed[0] != "fs:read_file" {
		t.Errorf("Unexpected tools_used: %v", cap.ToolsUsed)
	}
	if cap.SuccessRate != 0.8 {
		t.Errorf("Expected success rate 0.8, got %v", cap.SuccessRate)
	}
}

func TestCapabilityRepositoryGetMissing(t *testing.T) {
	db, tmpDir := setupTestDB(t)
	defer teardownTestDB(t, db, tmpDir)

	repo := NewCapabilityRepository(db)
	_, ok, err := repo.Get("capability:does-not-exist")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("Expected missing capability to report absent")
	}
}

func TestCapabilityRepositoryListAll(t *testing.T) {
	db, tmpDir := setupTestDB(t)
	defer teardownTestDB(t, db, tmpDir)

	repo := NewCapabilityRepository(db)
	if _, err := repo.Create("first", []string{"a:x"}, 0.5, "", nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := repo.Create("second", []string{"a:y", "a:z"}, 0.9, "snippet", map[string]interface{}{"origin": "learned"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	all, err := repo.ListAll()
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 capabilities, got %d", len(all))
	}
}

func TestCapabilityRepositoryUpdateSuccessRate(t *testing.T) {
	db, tmpDir := setupTestDB(t)
	defer teardownTestDB(t, db, tmpDir)

	repo := NewCapabilityRepository(db)
	id, err := repo.Create("flaky", []string{"a:x"}, 1.0, "", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// One observed failure over zero prior runs replaces the seed rate.
	if err := repo.UpdateSuccessRate(id, false); err != nil {
		t.Fatalf("UpdateSuccessRate failed: %v", err)
	}
	cap, _, err := repo.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cap.SuccessRate != 0.0 {
		t.Errorf("Expected success rate 0.0 after one failure, got %v", cap.SuccessRate)
	}

	if err := repo.UpdateSuccessRate(id, true); err != nil {
		t.Fatalf("UpdateSuccessRate failed: %v", err)
	}
	cap, _, _ = repo.Get(id)
	if cap.SuccessRate != 0.5 {
		t.Errorf("Expected success rate 0.5 after failure+success, got %v", cap.SuccessRate)
	}
}

func TestCapabilityRepositoryImplementsStore(t *testing.T) {
	var _ capability.Store = (*CapabilityRepository)(nil)
}

func TestEpisodicRepositoryRecordAndLookup(t *testing.T) {
	db, tmpDir := setupTestDB(t)
	defer teardownTestDB(t, db, tmpDir)

	repo := NewEpisodicRepository(db)

	if _, ok := repo.Lookup("ctx1", "fs:read_file"); ok {
		t.Error("Expected empty lookup before any outcomes")
	}

	if err := repo.RecordOutcome("ctx1", "fs:read_file", true); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	if err := repo.RecordOutcome("ctx1", "fs:read_file", true); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	if err := repo.RecordOutcome("ctx1", "fs:read_file", false); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}

	agg, ok := repo.Lookup("ctx1", "fs:read_file")
	if !ok {
		t.Fatal("Expected aggregate after outcomes")
	}
	if agg.Total != 3 || agg.Successes != 2 || agg.Failures != 1 {
		t.Errorf("Unexpected aggregate: %+v", agg)
	}

	// Different context hashes keep independent counters.
	if _, ok := repo.Lookup("ctx2", "fs:read_file"); ok {
		t.Error("Expected independent aggregate per context hash")
	}
}

func TestUpsertCapabilityDependencyPromotesAtThreshold(t *testing.T) {
	db, tmpDir := setupTestDB(t)
	defer teardownTestDB(t, db, tmpDir)

	repo := NewCapabilityDependencyRepository(db)
	err := repo.UpsertCapabilityDependency(graph.CapabilityEdgeRecord{
		FromCapabilityID: "capability:a",
		ToCapabilityID:   "capability:b",
		ObservedCount:    3,
		ConfidenceScore:  0.7,
		EdgeType:         graph.TypeSequence,
		EdgeSource:       graph.SourceInferred,
	})
	if err != nil {
		t.Fatalf("UpsertCapabilityDependency failed: %v", err)
	}

	rows, err := repo.LoadCapabilityDependencies()
	if err != nil {
		t.Fatalf("LoadCapabilityDependencies failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0].EdgeSource != graph.SourceObserved {
		t.Errorf("edge_source = %s, want observed after promotion at count 3", rows[0].EdgeSource)
	}
	if rows[0].ConfidenceScore != 1.0 {
		t.Errorf("confidence_score = %v, want 1.0 for observed source", rows[0].ConfidenceScore)
	}
}
