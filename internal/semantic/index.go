package semantic

import (
	"context"
	"sort"
	"sync"

	"github.com/flowgraph/planner/internal/hybridsearch"
	"github.com/flowgraph/planner/internal/storage"
)

// Index is a brute-force cosine index over the persisted tool embeddings.
// At the couple-hundred-tool scale the planner operates at, a linear scan
// beats maintaining an ANN structure; the index is reloaded whenever the
// graph resyncs.
type Index struct {
	tools    *storage.ToolRepository
	embedder Embedder

	mu      sync.RWMutex
	vectors map[string][]float64
}

// NewIndex builds an index over the given tool repository. embedder may be
// nil, in which case Search always fails over to the caller's fallback and
// only Lookup (over already-persisted vectors) works.
func NewIndex(tools *storage.ToolRepository, embedder Embedder) *Index {
	return &Index{tools: tools, embedder: embedder, vectors: map[string][]float64{}}
}

// Reload re-reads every persisted tool embedding into memory.
func (ix *Index) Reload() error {
	recs, err := ix.tools.ListAll()
	if err != nil {
		return err
	}
	vectors := make(map[string][]float64, len(recs))
	for _, rec := range recs {
		if vec := DecodeVector(rec.Embedding); vec != nil {
			vectors[rec.ToolID] = vec
		}
	}

	ix.mu.Lock()
	ix.vectors = vectors
	ix.mu.Unlock()
	return nil
}

// IndexTool embeds a tool's name and description and persists the vector,
// updating the in-memory index in place.
func (ix *Index) IndexTool(ctx context.Context, toolID, serverID, name, description string) error {
	if ix.embedder == nil {
		return ix.tools.Upsert(&storage.ToolRecord{
			ToolID: toolID, ServerID: serverID, ToolName: name, Metadata: "{}",
		})
	}

	vec, err := ix.embedder.Embed(ctx, name+"\n"+description)
	if err != nil {
		return err
	}
	if err := ix.tools.Upsert(&storage.ToolRecord{
		ToolID:    toolID,
		ServerID:  serverID,
		ToolName:  name,
		Embedding: EncodeVector(vec),
		Metadata:  "{}",
	}); err != nil {
		return err
	}

	ix.mu.Lock()
	ix.vectors[toolID] = vec
	ix.mu.Unlock()
	return nil
}

// Lookup returns the embedding for a node, if one is indexed. Satisfies
// localalpha.EmbeddingLookup.
func (ix *Index) Lookup(nodeID string) ([]float64, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	vec, ok := ix.vectors[nodeID]
	return vec, ok
}

// Search implements hybridsearch.SemanticSearch: embed the query, score
// every indexed tool by cosine similarity, return the top k.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]hybridsearch.SemanticResult, error) {
	if ix.embedder == nil {
		return nil, nil
	}
	qv, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	ix.mu.RLock()
	results := make([]hybridsearch.SemanticResult, 0, len(ix.vectors))
	for id, vec := range ix.vectors {
		results = append(results, hybridsearch.SemanticResult{
			ToolID: id,
			Score:  Cosine(qv, vec),
		})
	}
	ix.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

var _ hybridsearch.SemanticSearch = (*Index)(nil)
