package graph

import (
	"sync"

	"github.com/flowgraph/planner/internal/edgemodel"
	"github.com/flowgraph/planner/internal/errors"
)

// Store is a directed multigraph without self-loops: at most one edge per
// ordered (from, to) pair, supporting node/edge CRUD, neighbor iteration,
// and degree queries. A single sync.RWMutex enforces the
// single-writer/many-readers discipline: writes happen during
// Sync, LearningLoop, and template bootstrap; everything else reads.
type Store struct {
	mu sync.RWMutex

	nodes map[string]*Node
	// edges[from][to] = edge
	edges map[string]map[string]*Edge
	// reverse adjacency for in-neighbor queries
	inEdges map[string]map[string]bool
}

// New creates an empty graph store.
func New() *Store {
	return &Store{
		nodes:   make(map[string]*Node),
		edges:   make(map[string]map[string]*Edge),
		inEdges: make(map[string]map[string]bool),
	}
}

// AddNode inserts a node if absent, or overwrites its attributes if present.
func (s *Store) AddNode(n Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addNodeLocked(n)
}

func (s *Store) addNodeLocked(n Node) {
	cp := n
	s.nodes[n.ID] = &cp
	if _, ok := s.edges[n.ID]; !ok {
		s.edges[n.ID] = make(map[string]*Edge)
	}
	if _, ok := s.inEdges[n.ID]; !ok {
		s.inEdges[n.ID] = make(map[string]bool)
	}
}

// ensureNodeLocked creates a bare node of the given kind if it doesn't already exist.
func (s *Store) ensureNodeLocked(id string, kind NodeKind) {
	if _, ok := s.nodes[id]; ok {
		return
	}
	s.addNodeLocked(Node{ID: id, Kind: kind, DisplayName: id})
}

// HasNode reports whether a node exists.
func (s *Store) HasNode(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok
}

// Node returns a copy of a node's attributes.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns all node IDs.
func (s *Store) Nodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		out = append(out, id)
	}
	return out
}

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeAttrs describes the fields an AddEdge call may supply. Fields left at
// their zero value (empty Type/Source) are preserved from the existing edge
// on update.
type EdgeAttrs struct {
	Type   EdgeType
	Source EdgeSource
	Count  int
}

// AddEdge ensures both endpoints exist, then inserts or updates the edge
// between them. Self-loops are rejected. On update, Count and Weight may
// change; Type/Source are preserved when attrs leaves them unset.
func (s *Store) AddEdge(from, to string, attrs EdgeAttrs) (*Edge, error) {
	if from == to {
		return nil, errors.New(errors.SyncConsistency, "self-loop rejected: "+from, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureNodeLocked(from, KindTool)
	s.ensureNodeLocked(to, KindTool)

	existing, ok := s.edges[from][to]
	typ := attrs.Type
	src := attrs.Source
	count := attrs.Count
	if ok {
		if typ == "" {
			typ = existing.Type
		}
		if src == "" {
			src = existing.Source
		}
		if count == 0 {
			count = existing.Count
		}
	} else {
		if typ == "" {
			typ = TypeSequence
		}
		if src == "" {
			src = SourceInferred
		}
	}

	e := &Edge{
		From:   from,
		To:     to,
		Type:   typ,
		Source: src,
		Count:  count,
		Weight: edgemodel.Weight(typ, src),
	}
	s.edges[from][to] = e
	s.inEdges[to][from] = true
	return e, nil
}

// SetEdge installs e verbatim as the edge from e.From to e.To, ensuring both
// endpoints exist. Unlike AddEdge, it does not recompute Weight from
// Type/Source or preserve any existing fields — callers that need a custom
// weight update rule (LearningLoop's multiplicative lift) own
// the full edge value.
func (s *Store) SetEdge(e Edge) error {
	if e.From == e.To {
		return errors.New(errors.SyncConsistency, "self-loop rejected: "+e.From, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureNodeLocked(e.From, KindTool)
	s.ensureNodeLocked(e.To, KindTool)
	cp := e
	s.edges[e.From][e.To] = &cp
	s.inEdges[e.To][e.From] = true
	return nil
}

// RemoveEdge deletes an edge if present.
func (s *Store) RemoveEdge(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.edges[from]; ok {
		delete(m, to)
	}
	if m, ok := s.inEdges[to]; ok {
		delete(m, from)
	}
}

// HasEdge reports whether an edge exists from -> to.
func (s *Store) HasEdge(from, to string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.edges[from]
	if !ok {
		return false
	}
	_, ok = m[to]
	return ok
}

// Edge returns a copy of the edge's attributes.
func (s *Store) Edge(from, to string) (Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.edges[from]
	if !ok {
		return Edge{}, false
	}
	e, ok := m[to]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// OutNeighbors returns the nodes this node has outgoing edges to.
func (s *Store) OutNeighbors(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.edges[id]
	out := make([]string, 0, len(m))
	for to := range m {
		out = append(out, to)
	}
	return out
}

// InNeighbors returns the nodes with outgoing edges into this node.
func (s *Store) InNeighbors(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.inEdges[id]
	out := make([]string, 0, len(m))
	for from := range m {
		out = append(out, from)
	}
	return out
}

// AllNeighbors returns the union of in- and out-neighbors, deduplicated.
func (s *Store) AllNeighbors(id string) []string {
	seen := make(map[string]bool)
	for _, n := range s.OutNeighbors(id) {
		seen[n] = true
	}
	for _, n := range s.InNeighbors(id) {
		seen[n] = true
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	return out
}

// Degree returns (in-degree, out-degree) for a node.
func (s *Store) Degree(id string) (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inEdges[id]), len(s.edges[id])
}

// AllEdges returns a copy of every edge currently in the graph.
func (s *Store) AllEdges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Edge, 0)
	for _, m := range s.edges {
		for _, e := range m {
			out = append(out, *e)
		}
	}
	return out
}

// EdgeCount returns the total number of edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.edges {
		n += len(m)
	}
	return n
}

// ForEachNode invokes fn for every node while holding a read lock, giving
// callers a consistent snapshot for the duration of an operation.
func (s *Store) ForEachNode(fn func(Node)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		fn(*n)
	}
}

// Snapshot runs fn while holding the read lock, giving callers (e.g. a
// single Suggest call) a consistent view across several queries.
func (s *Store) Snapshot(fn func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}
