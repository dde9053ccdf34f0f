package graph

import (
	"github.com/flowgraph/planner/internal/edgemodel"
)

// ToolRow is a persisted tool record loaded into a tool node on Sync.
type ToolRow struct {
	ID          string
	DisplayName string
}

// DependencyRow is a persisted tool-to-tool edge, as read from the
// tool_dependency table.
type DependencyRow struct {
	FromToolID      string
	ToToolID        string
	ObservedCount   int
	ConfidenceScore float64
	EdgeType        EdgeType
	EdgeSource      EdgeSource
}

// CapabilityDependencyRow is a persisted capability-to-capability edge, as
// read from the capability_dependency table.
type CapabilityDependencyRow struct {
	FromCapabilityID string
	ToCapabilityID   string
	ObservedCount    int
	ConfidenceScore  float64
	EdgeType         EdgeType
	EdgeSource       EdgeSource
}

// SyncConfidenceFloor is the minimum confidence_score a persisted edge row
// must carry to be loaded into the in-memory graph.
const SyncConfidenceFloor = 0.3

// Loader reads the persisted tool/dependency corpus backing a Sync.
type Loader interface {
	LoadTools() ([]ToolRow, error)
	LoadToolDependencies() ([]DependencyRow, error)
	LoadCapabilityDependencies() ([]CapabilityDependencyRow, error)
}

// Sync discards the current graph and rebuilds it from loader: every tool
// becomes a node, every dependency row with confidence_score >= 0.3 becomes
// an edge, and every capability_dependency row similarly becomes an edge
// between auto-created capability nodes.
//
// DB errors are fatal; rows referencing an endpoint this sync never created
// are simply auto-created as bare tool/capability nodes rather than
// dropped; capability nodes are auto-created on demand the same way
// (SyncConsistency is reserved for a missing required node
// during a narrower, already-loaded-graph edge load, not for sync itself).
func (s *Store) Sync(loader Loader) error {
	tools, err := loader.LoadTools()
	if err != nil {
		return err
	}
	toolDeps, err := loader.LoadToolDependencies()
	if err != nil {
		return err
	}
	capDeps, err := loader.LoadCapabilityDependencies()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make(map[string]*Node)
	s.edges = make(map[string]map[string]*Edge)
	s.inEdges = make(map[string]map[string]bool)

	for _, t := range tools {
		name := t.DisplayName
		if name == "" {
			name = t.ID
		}
		s.addNodeLocked(Node{ID: t.ID, Kind: KindTool, DisplayName: name})
	}

	for _, d := range toolDeps {
		if d.ConfidenceScore < SyncConfidenceFloor {
			continue
		}
		if d.FromToolID == d.ToToolID {
			continue
		}
		s.ensureNodeLocked(d.FromToolID, KindTool)
		s.ensureNodeLocked(d.ToToolID, KindTool)
		typ := d.EdgeType
		if typ == "" {
			typ = TypeSequence
		}
		src := d.EdgeSource
		if src == "" {
			src = SourceInferred
		}
		e := &Edge{
			From:   d.FromToolID,
			To:     d.ToToolID,
			Type:   typ,
			Source: src,
			Count:  d.ObservedCount,
			Weight: edgemodel.Weight(typ, src),
		}
		s.edges[d.FromToolID][d.ToToolID] = e
		s.inEdges[d.ToToolID][d.FromToolID] = true
	}

	for _, d := range capDeps {
		if d.ConfidenceScore < SyncConfidenceFloor {
			continue
		}
		if d.FromCapabilityID == d.ToCapabilityID {
			continue
		}
		s.ensureNodeLocked(d.FromCapabilityID, KindCapability)
		s.ensureNodeLocked(d.ToCapabilityID, KindCapability)
		typ := d.EdgeType
		if typ == "" {
			typ = TypeContains
		}
		src := d.EdgeSource
		if src == "" {
			src = SourceInferred
		}
		e := &Edge{
			From:   d.FromCapabilityID,
			To:     d.ToCapabilityID,
			Type:   typ,
			Source: src,
			Count:  d.ObservedCount,
			Weight: edgemodel.Weight(typ, src),
		}
		s.edges[d.FromCapabilityID][d.ToCapabilityID] = e
		s.inEdges[d.ToCapabilityID][d.FromCapabilityID] = true
	}

	return nil
}

// EdgeRecord is the materialized form of a non-capability edge handed to a
// Persister during PersistEdges.
type EdgeRecord struct {
	FromToolID      string
	ToToolID        string
	ObservedCount   int
	ConfidenceScore float64
	EdgeType        EdgeType
	EdgeSource      EdgeSource
}

// CapabilityEdgeRecord is the materialized form of a capability edge handed
// to a Persister during PersistEdges.
type CapabilityEdgeRecord struct {
	FromCapabilityID string
	ToCapabilityID   string
	ObservedCount    int
	ConfidenceScore  float64
	EdgeType         EdgeType
	EdgeSource       EdgeSource
}

// Persister writes the in-memory graph's edges back to durable storage.
// UpsertCapabilityDependency additionally carries out inferred->observed
// promotion transactionally and should warn (not fail) on contains cycles.
type Persister interface {
	UpsertToolDependency(EdgeRecord) error
	UpsertCapabilityDependency(CapabilityEdgeRecord) error
}

// PersistEdges upserts every edge currently in the graph to p. Capability
// edges (both endpoints KindCapability) go through
// UpsertCapabilityDependency; everything else goes through
// UpsertToolDependency. Individual row failures are collected and returned,
// not treated as fatal — partial persistence is acceptable because the
// in-memory graph remains authoritative until the next Sync.
func (s *Store) PersistEdges(p Persister) []error {
	s.mu.RLock()
	nodeKind := make(map[string]NodeKind, len(s.nodes))
	for id, n := range s.nodes {
		nodeKind[id] = n.Kind
	}
	type pair struct {
		from, to string
		e        Edge
	}
	var pairs []pair
	for from, m := range s.edges {
		for to, e := range m {
			pairs = append(pairs, pair{from, to, *e})
		}
	}
	s.mu.RUnlock()

	var errs []error
	for _, pr := range pairs {
		confidence := edgemodel.SourceModifier[pr.e.Source]
		if pr.e.Source == SourceUser {
			confidence = edgemodel.UserEdgeConfidence
		}
		if nodeKind[pr.from] == KindCapability && nodeKind[pr.to] == KindCapability {
			err := p.UpsertCapabilityDependency(CapabilityEdgeRecord{
				FromCapabilityID: pr.from,
				ToCapabilityID:   pr.to,
				ObservedCount:    pr.e.Count,
				ConfidenceScore:  confidence,
				EdgeType:         pr.e.Type,
				EdgeSource:       pr.e.Source,
			})
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}
		err := p.UpsertToolDependency(EdgeRecord{
			FromToolID:      pr.from,
			ToToolID:        pr.to,
			ObservedCount:   pr.e.Count,
			ConfidenceScore: confidence,
			EdgeType:        pr.e.Type,
			EdgeSource:      pr.e.Source,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
