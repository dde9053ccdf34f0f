package planner

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/flowgraph/planner/internal/dagscoring"
	"github.com/flowgraph/planner/internal/hybridsearch"
	"github.com/flowgraph/planner/internal/learningloop"
	"github.com/flowgraph/planner/internal/localalpha"
	"github.com/flowgraph/planner/internal/logging"
	"github.com/flowgraph/planner/internal/predictor"
	"github.com/flowgraph/planner/internal/semantic"
	"github.com/flowgraph/planner/internal/storage"
)

type fakeSearch struct {
	hits []hybridsearch.SemanticResult
}

func (f *fakeSearch) Search(ctx context.Context, query string, k int) ([]hybridsearch.SemanticResult, error) {
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func setupPlanner(t *testing.T, search hybridsearch.SemanticSearch) (*Planner, *storage.DB, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "planner-facade-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	logger := logging.NewLogger(logging.Config{Level: logging.ErrorLevel})
	db, err := storage.Open(tmpDir, "", logger)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		t.Fatalf("Failed to open database: %v", err)
	}

	p, err := New(Options{
		DB:      db,
		Index:   semantic.NewIndex(storage.NewToolRepository(db), nil),
		Search:  search,
		Scoring: dagscoring.DefaultConfig(),
		Alpha:   localalpha.DefaultConfig(),
		Logger:  slog.New(slog.DiscardHandler),
	})
	if err != nil {
		_ = db.Close()
		_ = os.RemoveAll(tmpDir)
		t.Fatalf("New failed: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
		_ = os.RemoveAll(tmpDir)
	}
	return p, db, cleanup
}

func seedTools(t *testing.T, db *storage.DB, ids ...string) {
	t.Helper()
	repo := storage.NewToolRepository(db)
	for _, id := range ids {
		if err := repo.Upsert(&storage.ToolRecord{ToolID: id, ServerID: "test", ToolName: id, Metadata: "{}"}); err != nil {
			t.Fatalf("Seed tool %s failed: %v", id, err)
		}
	}
}

func TestSyncBuildsGraphFromRows(t *testing.T) {
	p, db, cleanup := setupPlanner(t, &fakeSearch{})
	defer cleanup()

	seedTools(t, db, "fs:read_file", "json:parse", "fs:write_file")
	if err := p.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	stats := p.Stats()
	if stats["nodes"] != 3 {
		t.Errorf("Expected 3 nodes, got %v", stats["nodes"])
	}
	if stats["edges"] != 0 {
		t.Errorf("Expected 0 edges, got %v", stats["edges"])
	}
}

func TestSuggestColdStartUsesSemanticOnly(t *testing.T) {
	search := &fakeSearch{hits: []hybridsearch.SemanticResult{
		{ToolID: "c", Score: 0.9},
		{ToolID: "a", Score: 0.7},
		{ToolID: "b", Score: 0.4},
	}}
	p, db, cleanup := setupPlanner(t, search)
	defer cleanup()

	seedTools(t, db, "a", "b", "c")
	if err := p.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	// With no edges and no observations, alpha is 1.0 everywhere and the
	// hybrid final score equals the semantic score.
	hits := p.HybridSearch(context.Background(), "read file and parse json", nil, 3)
	if len(hits) != 3 {
		t.Fatalf("Expected 3 hits, got %d", len(hits))
	}
	wantScores := []float64{0.9, 0.7, 0.4}
	for i, want := range wantScores {
		if hits[i].FinalScore != want {
			t.Errorf("hit %d: expected final score %v, got %v", i, want, hits[i].FinalScore)
		}
		if hits[i].Alpha != 1.0 {
			t.Errorf("hit %d: expected alpha 1.0 on cold start, got %v", i, hits[i].Alpha)
		}
		if hits[i].Graph != 0 {
			t.Errorf("hit %d: expected zero graph score on empty graph, got %v", i, hits[i].Graph)
		}
	}

	// The full pipeline either rejects the plan or returns it with a
	// low-confidence warning; a confident plan would be wrong here.
	dag, err := p.Suggest(context.Background(), "read file and parse json", nil)
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if dag != nil && dag.Warning == "" {
		t.Errorf("Expected nil or low-confidence plan on cold start, got confident plan %+v", dag)
	}
}

func TestSuggestNoCandidates(t *testing.T) {
	p, db, cleanup := setupPlanner(t, &fakeSearch{})
	defer cleanup()

	seedTools(t, db, "a")
	if err := p.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	dag, err := p.Suggest(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("Expected graceful nil, got error: %v", err)
	}
	if dag != nil {
		t.Errorf("Expected nil suggestion with no candidates, got %+v", dag)
	}

	// The rejection is negative-cached: a second identical call short-circuits.
	dag, err = p.Suggest(context.Background(), "anything", nil)
	if err != nil || dag != nil {
		t.Errorf("Expected cached nil, got dag=%v err=%v", dag, err)
	}
}

func TestRecordExecutionPersistsEdges(t *testing.T) {
	p, db, cleanup := setupPlanner(t, &fakeSearch{})
	defer cleanup()

	seedTools(t, db, "a:x", "a:y")
	if err := p.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	dag := learningloop.CompletedDAG{
		Edges:   []learningloop.DependsOn{{From: "a:x", To: "a:y"}},
		Success: true,
	}
	p.RecordExecution(dag, []string{"a:x", "a:y"}, 120)
	p.RecordExecution(dag, []string{"a:x", "a:y"}, 95)

	// The edge survives a full resync, so it must have been persisted.
	if err := p.Sync(); err != nil {
		t.Fatalf("Resync failed: %v", err)
	}
	stats := p.Stats()
	if stats["edges"] != 1 {
		t.Errorf("Expected 1 persisted edge after resync, got %v", stats["edges"])
	}
}

func TestRecordCodeExecutionCreatesHierarchyEdges(t *testing.T) {
	p, db, cleanup := setupPlanner(t, &fakeSearch{})
	defer cleanup()

	seedTools(t, db, "cap:outer", "a:first", "a:second")
	if err := p.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	p.RecordCodeExecution([]learningloop.Trace{
		{TraceID: "t0", ToolID: "cap:outer", Timestamp: 100},
		{TraceID: "t1", ParentTraceID: "t0", ToolID: "a:first", Timestamp: 110},
		{TraceID: "t2", ParentTraceID: "t0", ToolID: "a:second", Timestamp: 120},
	})

	// Two contains edges and one sibling sequence edge, all persisted.
	if err := p.Sync(); err != nil {
		t.Fatalf("Resync failed: %v", err)
	}
	stats := p.Stats()
	if stats["edges"] != 3 {
		t.Errorf("Expected 3 persisted edges after resync, got %v", stats["edges"])
	}
}

func TestPredictNextWithoutHistory(t *testing.T) {
	p, db, cleanup := setupPlanner(t, &fakeSearch{})
	defer cleanup()

	seedTools(t, db, "a:x")
	if err := p.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	predictions := p.PredictNext(predictor.WorkflowState{})
	if len(predictions) != 0 {
		t.Errorf("Expected no predictions without history, got %v", predictions)
	}
}

func TestRegisterToolAddsNode(t *testing.T) {
	p, _, cleanup := setupPlanner(t, &fakeSearch{})
	defer cleanup()

	if err := p.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := p.RegisterTool(context.Background(), "fs:stat", "fs", "stat", "File metadata"); err != nil {
		t.Fatalf("RegisterTool failed: %v", err)
	}

	// The tool row persisted, so it survives a resync as a node.
	if err := p.Sync(); err != nil {
		t.Fatalf("Resync failed: %v", err)
	}
	if stats := p.Stats(); stats["nodes"] != 1 {
		t.Errorf("Expected 1 node after registration and resync, got %v", stats["nodes"])
	}
}

func TestCreateCapabilityRoundTrip(t *testing.T) {
	p, _, cleanup := setupPlanner(t, &fakeSearch{})
	defer cleanup()

	id, err := p.CreateCapability("read-parse", []string{"a:x", "a:y"}, 0.75, "")
	if err != nil {
		t.Fatalf("CreateCapability failed: %v", err)
	}
	cap, ok, err := p.Capabilities().Get(id)
	if err != nil || !ok {
		t.Fatalf("Expected capability readable, ok=%v err=%v", ok, err)
	}
	if cap.SuccessRate != 0.75 {
		t.Errorf("Expected success rate 0.75, got %v", cap.SuccessRate)
	}
}
