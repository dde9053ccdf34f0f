package semantic

import (
	"context"

	"github.com/flowgraph/planner/internal/hybridsearch"
	"github.com/flowgraph/planner/internal/storage"
)

// matchTypeScore maps an FTS match tier to a similarity-like score so
// lexical hits rank comparably to cosine similarities.
var matchTypeScore = map[string]float64{
	"exact":     0.90,
	"prefix":    0.70,
	"substring": 0.50,
}

// FTSSearch adapts the SQLite FTS5 tool index to the SemanticSearch
// contract. It is the fallback search layer when no embedding provider is
// configured: purely lexical, but it keeps HybridSearch and the Suggester
// fully functional.
type FTSSearch struct {
	fts *storage.FTSManager
}

// NewFTSSearch wraps an FTS manager.
func NewFTSSearch(fts *storage.FTSManager) *FTSSearch {
	return &FTSSearch{fts: fts}
}

// Search implements hybridsearch.SemanticSearch. Scores decay with result
// position within each match tier so ordering survives the conversion.
func (f *FTSSearch) Search(ctx context.Context, query string, k int) ([]hybridsearch.SemanticResult, error) {
	hits, err := f.fts.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	out := make([]hybridsearch.SemanticResult, 0, len(hits))
	tierPos := map[string]int{}
	for _, h := range hits {
		base, ok := matchTypeScore[h.MatchType]
		if !ok {
			base = matchTypeScore["substring"]
		}
		pos := tierPos[h.MatchType]
		tierPos[h.MatchType] = pos + 1

		score := base - 0.02*float64(pos)
		if score < 0.1 {
			score = 0.1
		}
		out = append(out, hybridsearch.SemanticResult{ToolID: h.ToolID, Score: score})
	}
	return out, nil
}

var _ hybridsearch.SemanticSearch = (*FTSSearch)(nil)
