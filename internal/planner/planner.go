// Package planner assembles the planning engine: the graph store, metrics,
// spectral clustering, local alpha, hybrid search, suggester, predictor,
// and learning loop, behind one facade the MCP layer calls into.
//
// The facade owns the concurrency discipline: metrics snapshots and spectral
// results are published copy-on-write, learning updates serialize behind a
// single writer lock, and readers see a consistent snapshot for the duration
// of one Suggest or PredictNext call.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowgraph/planner/internal/capability"
	"github.com/flowgraph/planner/internal/dagscoring"
	"github.com/flowgraph/planner/internal/episodic"
	"github.com/flowgraph/planner/internal/errors"
	"github.com/flowgraph/planner/internal/graph"
	"github.com/flowgraph/planner/internal/hybridsearch"
	"github.com/flowgraph/planner/internal/learningloop"
	"github.com/flowgraph/planner/internal/localalpha"
	"github.com/flowgraph/planner/internal/metrics"
	"github.com/flowgraph/planner/internal/predictor"
	"github.com/flowgraph/planner/internal/semantic"
	"github.com/flowgraph/planner/internal/spectral"
	"github.com/flowgraph/planner/internal/storage"
	"github.com/flowgraph/planner/internal/suggester"
)

const spectralTTL = 5 * time.Minute

// Planner is the composed planning engine.
type Planner struct {
	log *slog.Logger

	graph   *graph.Store
	repos   *storage.GraphRepositories
	caps    *storage.CapabilityRepository
	schemas *storage.ToolSchemaRepository
	index   *semantic.Index
	lexical *storage.FTSManager

	episodes    *storage.EpisodicRepository
	execTraces  *storage.ExecutionTraceRepository
	algoTraces  *storage.AlgorithmTraceRepository
	metricsRepo *storage.MetricsRepository
	cache       *storage.Cache
	negative    *storage.NegativeCacheManager

	alpha   *localalpha.Engine
	hybrid  *hybridsearch.Engine
	suggest *suggester.Engine
	predict *predictor.Engine
	learn   *learningloop.Engine

	scoring dagscoring.Config

	// snapshot holds the latest metrics.Snapshot, replaced wholesale after
	// every recomputation.
	snapshot atomic.Value

	// graphVersion increments on every structural change; cache entries are
	// keyed by it so a topology change invalidates them all at once.
	graphVersion atomic.Int64

	// writeMu serializes graph mutations (sync, learning, tool
	// registration) against each other. Readers go lock-free against the
	// store's own RWMutex plus the published snapshot.
	writeMu sync.Mutex

	spectralMu     sync.Mutex
	spectralResult spectral.Result
	spectralKey    string
	spectralExpiry time.Time
}

// Options carries the storage-layer collaborators New composes.
type Options struct {
	DB      *storage.DB
	Index   *semantic.Index
	Search  hybridsearch.SemanticSearch
	Lexical *storage.FTSManager
	Scoring dagscoring.Config
	Alpha   localalpha.Config
	Logger  *slog.Logger
}

// New assembles a planner over an open database. The semantic index may be
// backed by embeddings or by the FTS fallback; the planner does not care
// which.
func New(opts Options) (*Planner, error) {
	if opts.DB == nil {
		return nil, errors.New(errors.DbUnavailable, "planner requires an open database", nil)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	g := graph.New()
	p := &Planner{
		log:         log,
		graph:       g,
		repos:       storage.NewGraphRepositories(opts.DB),
		caps:        storage.NewCapabilityRepository(opts.DB),
		schemas:     storage.NewToolSchemaRepository(opts.DB),
		index:       opts.Index,
		lexical:     opts.Lexical,
		episodes:    storage.NewEpisodicRepository(opts.DB),
		execTraces:  storage.NewExecutionTraceRepository(opts.DB),
		algoTraces:  storage.NewAlgorithmTraceRepository(opts.DB),
		metricsRepo: storage.NewMetricsRepository(opts.DB),
		cache:       storage.NewCache(opts.DB),
		scoring:     opts.Scoring,
	}
	p.negative = storage.NewNegativeCacheManager(p.cache)
	p.snapshot.Store(metrics.Empty())

	p.alpha = localalpha.New(g, opts.Alpha, p.embeddingLookup(), p.observationCount)
	p.hybrid = hybridsearch.New(g, opts.Search, p.alpha)
	p.suggest = suggester.New(g, p.hybrid, p.alpha, p.caps, p.episodes, opts.Scoring, p.clusterResult)
	p.predict = predictor.New(g, p.alpha, p.caps, p.episodes, opts.Scoring)
	p.learn = learningloop.New(g, p.publishSnapshot)

	return p, nil
}

func (p *Planner) embeddingLookup() localalpha.EmbeddingLookup {
	if p.index == nil {
		return func(string) ([]float64, bool) { return nil, false }
	}
	return p.index.Lookup
}

// observationCount sums the observation counts of every edge incident to a
// node; it drives the cold-start gate in LocalAlpha.
func (p *Planner) observationCount(nodeID string) int {
	var total int
	for _, nb := range p.graph.OutNeighbors(nodeID) {
		if e, ok := p.graph.Edge(nodeID, nb); ok {
			total += e.Count
		}
	}
	for _, nb := range p.graph.InNeighbors(nodeID) {
		if e, ok := p.graph.Edge(nb, nodeID); ok {
			total += e.Count
		}
	}
	return total
}

// Sync rebuilds the in-memory graph from the database, reloads the semantic
// index, recomputes metrics, and invalidates every topology-keyed cache.
// Graph and semantic-index load errors are returned to the caller. The graph
// swaps in the new state as soon as its own loads succeed, so a later index
// reload failure leaves the new graph in place with metrics not recomputed;
// lexical index reload errors are only logged.
func (p *Planner) Sync() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	start := time.Now()
	if err := p.graph.Sync(p.repos); err != nil {
		return errors.New(errors.DbUnavailable, "graph sync failed", err)
	}
	if p.index != nil {
		if err := p.index.Reload(); err != nil {
			return errors.New(errors.DbUnavailable, "semantic index reload failed", err)
		}
	}
	p.reloadLexical()

	p.afterStructuralChange()
	snap := p.Snapshot()

	elapsed := time.Since(start)
	p.log.Info("graph synced",
		"nodes", snap.NodeCount,
		"edges", snap.EdgeCount,
		"density", snap.Density,
		"elapsed", elapsed.String(),
	)
	p.recordMetric("graph.sync.duration_ms", float64(elapsed.Milliseconds()), "")
	p.recordMetric("graph.nodes", float64(snap.NodeCount), "")
	p.recordMetric("graph.edges", float64(snap.EdgeCount), "")
	return nil
}

// Snapshot returns the current published metrics snapshot.
func (p *Planner) Snapshot() metrics.Snapshot {
	return p.snapshot.Load().(metrics.Snapshot)
}

// publishSnapshot replaces the metrics snapshot wholesale and invalidates
// the per-node alpha heat cache, whose values depend on degrees.
func (p *Planner) publishSnapshot(snap metrics.Snapshot) {
	p.snapshot.Store(snap)
	p.alpha.InvalidateCache()
	p.graphVersion.Add(1)
}

// afterStructuralChange recomputes metrics and drops spectral state. Caller
// must hold writeMu.
func (p *Planner) afterStructuralChange() {
	snap := func() (s metrics.Snapshot) {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("metrics recomputation failed, degrading to semantic-only", "panic", fmt.Sprint(r))
				s = metrics.Empty()
			}
		}()
		return metrics.Compute(p.graph)
	}()
	p.publishSnapshot(snap)

	p.spectralMu.Lock()
	p.spectralExpiry = time.Time{}
	p.spectralMu.Unlock()
}

// clusterResult returns the current spectral clustering, recomputing it when
// the cache key changed or the TTL lapsed. The refresh publishes the new
// result under the lock and invalidates the alpha cache.
func (p *Planner) clusterResult() spectral.Result {
	caps, err := p.caps.ListAll()
	if err != nil {
		p.log.Warn("capability list failed, spectral clustering degraded", "error", err.Error())
		return spectral.Empty()
	}

	in := spectral.Input{Capabilities: make([]spectral.Capability, 0, len(caps))}
	p.graph.ForEachNode(func(n graph.Node) {
		if n.Kind == graph.KindTool {
			in.Tools = append(in.Tools, n.ID)
		}
	})
	for _, c := range caps {
		in.Capabilities = append(in.Capabilities, spectral.Capability{ID: c.ID, ToolsUsed: c.ToolsUsed})
	}
	key := spectral.CacheKey(in)

	p.spectralMu.Lock()
	defer p.spectralMu.Unlock()
	if key == p.spectralKey && time.Now().Before(p.spectralExpiry) {
		return p.spectralResult
	}

	result := spectral.Compute(in)
	p.spectralResult = result
	p.spectralKey = key
	p.spectralExpiry = time.Now().Add(spectralTTL)
	p.alpha.InvalidateCache()
	return result
}

func (p *Planner) cacheVersion() string {
	return fmt.Sprintf("v%d", p.graphVersion.Load())
}

// Suggest runs the active planning pipeline for an intent. A nil result
// with nil error means the planner found no plan above the reject
// threshold. Results and rejections are cached against the current graph
// version.
func (p *Planner) Suggest(ctx context.Context, intent string, contextTools []string) (*suggester.SuggestedDAG, error) {
	key := suggestCacheKey(intent, contextTools)
	version := p.cacheVersion()

	if entry, err := p.negative.CheckError(key, version); err == nil && entry != nil {
		return nil, nil
	}
	if cached, ok, err := p.cache.GetQueryCache(key, version); err == nil && ok {
		var dag suggester.SuggestedDAG
		if err := json.Unmarshal([]byte(cached), &dag); err == nil {
			return &dag, nil
		}
	}

	snap := p.Snapshot()
	dag, err := p.suggest.Suggest(ctx, intent, contextTools, snap)
	p.traceSuggestion(intent, dag, err)
	if err != nil {
		if perr, ok := err.(*errors.PlannerError); ok && perr.Code == errors.NoCandidates {
			_ = p.negative.CacheError(key, storage.NoCandidates, perr.Message, version)
			return nil, nil
		}
		return nil, err
	}
	if dag == nil {
		_ = p.negative.CacheError(key, storage.NoCandidates, "confidence below reject threshold", version)
		return nil, nil
	}

	if b, err := json.Marshal(dag); err == nil {
		_ = p.cache.SetQueryCache(key, string(b), version, 300)
	}
	return dag, nil
}

func (p *Planner) traceSuggestion(intent string, dag *suggester.SuggestedDAG, err error) {
	decision := "suggested"
	score := 0.0
	switch {
	case err != nil:
		decision = "error"
	case dag == nil:
		decision = "rejected"
	default:
		score = dag.Confidence
		if dag.Warning != "" {
			decision = "suggested-low-confidence"
		}
	}
	threshold := p.scoring.Thresholds.SuggestionReject
	signals, _ := json.Marshal(map[string]interface{}{"intent": intent})
	if terr := p.algoTraces.Record(&storage.AlgorithmTraceRecord{
		AlgorithmMode: "active-search",
		TargetType:    "dag",
		SignalsJSON:   string(signals),
		ParamsJSON:    "{}",
		FinalScore:    score,
		ThresholdUsed: &threshold,
		Decision:      decision,
	}); terr != nil {
		p.log.Debug("algorithm trace write failed", "error", terr.Error())
	}
}

// PredictNext runs the passive prediction pipeline over a workflow state.
func (p *Planner) PredictNext(state predictor.WorkflowState) []predictor.PredictedNode {
	return p.predict.PredictNext(state, p.Snapshot())
}

// HybridSearch exposes the raw hybrid search ranking.
func (p *Planner) HybridSearch(ctx context.Context, query string, contextTools []string, limit int) []hybridsearch.Result {
	return p.hybrid.Search(ctx, query, contextTools, limit, p.Snapshot().Density)
}

// RecordExecution folds a completed DAG execution back into the graph:
// dependency edges strengthen, episodic aggregates update for every task
// under the workflow's context hash, an execution trace row is appended,
// and mutated edges persist.
func (p *Planner) RecordExecution(dag learningloop.CompletedDAG, toolIDs []string, durationMs int64) {
	p.writeMu.Lock()
	p.learn.UpdateFromExecution(dag)
	p.persistEdges()
	p.spectralMu.Lock()
	p.spectralExpiry = time.Time{}
	p.spectralMu.Unlock()
	p.writeMu.Unlock()

	contextHash := hashContext(toolIDs)
	for _, id := range toolIDs {
		if err := p.episodes.RecordOutcome(contextHash, id, dag.Success); err != nil {
			p.log.Debug("episodic record failed", "tool", id, "error", err.Error())
		}
	}

	p.appendExecutionTrace(dag, toolIDs, durationMs)
	p.recordMetric("execution.duration_ms", float64(durationMs), "")
}

// RecordCodeExecution ingests a trace hierarchy: contains edges from parent
// to child, sequence edges between timestamp-ordered siblings, and
// top-level sequence edges, then persists everything touched.
func (p *Planner) RecordCodeExecution(traces []learningloop.Trace) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.learn.UpdateFromCodeExecution(traces)
	p.persistEdges()
}

// RecordCapabilityOutcome updates a capability's stored success rate from an
// observed run.
func (p *Planner) RecordCapabilityOutcome(capabilityID string, success bool) error {
	return p.caps.UpdateSuccessRate(capabilityID, success)
}

// persistEdges upserts every in-memory edge; individual failures are logged
// and skipped, the in-memory graph stays authoritative. Caller holds writeMu.
func (p *Planner) persistEdges() {
	for _, err := range p.graph.PersistEdges(p.repos) {
		p.log.Warn("edge persist failed", "error", err.Error())
	}
}

func (p *Planner) appendExecutionTrace(dag learningloop.CompletedDAG, toolIDs []string, durationMs int64) {
	stateJSON, _ := json.Marshal(map[string]interface{}{"tools": toolIDs})
	resultsJSON, _ := json.Marshal(map[string]interface{}{
		"edges":       len(dag.Edges),
		"duration_ms": durationMs,
	})
	rec := &storage.ExecutionTraceRecord{
		ID:                fmt.Sprintf("exec-%d-%s", time.Now().UnixNano(), hashContext(toolIDs)),
		WorkflowStateJSON: string(stateJSON),
		DecisionsJSON:     "{}",
		TaskResultsJSON:   string(resultsJSON),
		Success:           dag.Success,
		CreatedAt:         time.Now().UTC(),
	}
	if err := p.execTraces.Append(rec); err != nil {
		p.log.Debug("execution trace write failed", "error", err.Error())
	}
}

// RegisterTool embeds and persists a tool along with its schema row, adds
// its node to the graph, keeps the lexical index in step, and bumps the
// cache version.
func (p *Planner) RegisterTool(ctx context.Context, toolID, serverID, name, description string) error {
	if p.index != nil {
		if err := p.index.IndexTool(ctx, toolID, serverID, name, description); err != nil {
			return errors.New(errors.OperationFailed, "tool indexing failed", err)
		}
	}
	if err := p.schemas.Upsert(&storage.ToolSchemaRecord{
		ToolID:      toolID,
		ServerID:    serverID,
		Name:        name,
		Description: description,
	}); err != nil {
		return errors.New(errors.OperationFailed, "tool schema upsert failed", err)
	}
	if p.lexical != nil {
		if err := p.lexical.UpsertTool(ctx, storage.ToolFTSRecord{
			ToolID:      toolID,
			ToolName:    name,
			Description: description,
			ServerID:    serverID,
		}); err != nil {
			p.log.Warn("lexical index update failed", "tool", toolID, "error", err.Error())
		}
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.graph.AddNode(graph.Node{ID: toolID, Kind: graph.KindTool, DisplayName: name, Server: serverID})
	p.graphVersion.Add(1)
	return nil
}

// reloadLexical rebuilds the FTS content from the persisted schema corpus,
// falling back to bare tool names for tools without a schema row.
func (p *Planner) reloadLexical() {
	if p.lexical == nil {
		return
	}
	schemas, err := p.schemas.ListAll()
	if err != nil {
		p.log.Warn("lexical reload failed", "error", err.Error())
		return
	}
	bySchema := make(map[string]bool, len(schemas))
	records := make([]storage.ToolFTSRecord, 0, len(schemas))
	for _, sc := range schemas {
		bySchema[sc.ToolID] = true
		records = append(records, storage.ToolFTSRecord{
			ToolID:      sc.ToolID,
			ToolName:    sc.Name,
			Description: sc.Description,
			ServerID:    sc.ServerID,
		})
	}
	tools, err := p.repos.Tools.ListAll()
	if err == nil {
		for _, tr := range tools {
			if bySchema[tr.ToolID] {
				continue
			}
			records = append(records, storage.ToolFTSRecord{
				ToolID:   tr.ToolID,
				ToolName: tr.ToolName,
				ServerID: tr.ServerID,
			})
		}
	}
	if err := p.lexical.BulkInsert(context.Background(), records); err != nil {
		p.log.Warn("lexical bulk insert failed", "error", err.Error())
	}
}

// AddUserEdge records a user-asserted dependency between two tools. User
// edges rank at a fixed 0.90 confidence.
func (p *Planner) AddUserEdge(from, to string, typ graph.EdgeType) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.graph.AddEdge(from, to, graph.EdgeAttrs{Type: typ, Source: graph.SourceUser, Count: 1}); err != nil {
		return err
	}
	p.persistEdges()
	p.afterStructuralChange()
	return nil
}

// Capabilities exposes the capability read store.
func (p *Planner) Capabilities() capability.Store { return p.caps }

// CreateCapability persists a new learned capability and adds its node.
func (p *Planner) CreateCapability(name string, toolsUsed []string, successRate float64, snippet string) (string, error) {
	id, err := p.caps.Create(name, toolsUsed, successRate, snippet, nil)
	if err != nil {
		return "", err
	}
	p.writeMu.Lock()
	p.graph.AddNode(graph.Node{ID: id, Kind: graph.KindCapability, DisplayName: name})
	p.graphVersion.Add(1)
	p.writeMu.Unlock()
	return id, nil
}

// Stats summarizes the current graph and metrics state.
func (p *Planner) Stats() map[string]interface{} {
	snap := p.Snapshot()
	communities := map[int]bool{}
	for _, c := range snap.Community {
		communities[c] = true
	}
	return map[string]interface{}{
		"nodes":         snap.NodeCount,
		"edges":         snap.EdgeCount,
		"density":       snap.Density,
		"avgEdgeWeight": snap.AvgWeight,
		"communities":   len(communities),
		"topPageRank":   snap.TopK(5),
		"graphVersion":  p.cacheVersion(),
	}
}

func (p *Planner) recordMetric(name string, value float64, metadataJSON string) {
	if metadataJSON == "" {
		metadataJSON = "{}"
	}
	if err := p.metricsRepo.Record(name, value, metadataJSON); err != nil {
		p.log.Debug("metric write failed", "metric", name, "error", err.Error())
	}
}

func suggestCacheKey(intent string, contextTools []string) string {
	return "suggest:" + hashContext(append([]string{intent}, contextTools...))
}

func hashContext(parts []string) string {
	return episodic.HashContext(parts)
}
