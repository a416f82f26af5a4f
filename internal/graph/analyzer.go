package graph

import (
	"fmt"
	"sort"

	"github.com/xkilldash9x/applens/api/schemas"
)

// Analyzer answers impact queries over one immutable graph snapshot. It
// carries no state beyond precomputed adjacency; every query takes its
// parameters explicitly, so a single Analyzer is safe for concurrent use.
type Analyzer struct {
	nodes    map[string]schemas.Service
	outgoing map[string][]schemas.Interaction // sorted by target id
	incoming map[string][]schemas.Interaction // sorted by source id
}

// NewAnalyzer indexes the graph for traversal. The graph is not copied;
// callers must not mutate it afterwards.
func NewAnalyzer(g *schemas.Graph) *Analyzer {
	a := &Analyzer{
		nodes:    make(map[string]schemas.Service, len(g.Nodes)),
		outgoing: make(map[string][]schemas.Interaction),
		incoming: make(map[string][]schemas.Interaction),
	}
	for _, n := range g.Nodes {
		a.nodes[n.ID] = n
	}
	for _, e := range g.Links {
		a.outgoing[e.SourceID] = append(a.outgoing[e.SourceID], e)
		a.incoming[e.TargetID] = append(a.incoming[e.TargetID], e)
	}
	// Stable neighbor order makes every traversal deterministic across runs.
	for id := range a.outgoing {
		sort.Slice(a.outgoing[id], func(i, j int) bool { return a.outgoing[id][i].Key() < a.outgoing[id][j].Key() })
	}
	for id := range a.incoming {
		sort.Slice(a.incoming[id], func(i, j int) bool { return a.incoming[id][i].Key() < a.incoming[id][j].Key() })
	}
	return a
}

// BlastRadius returns every node within maxHops undirected hops of the
// changed service, mapped to its minimum hop distance. Hop 0 is the changed
// service itself.
func (a *Analyzer) BlastRadius(serviceID string, maxHops int) (map[string]int, error) {
	if _, ok := a.nodes[serviceID]; !ok {
		return nil, fmt.Errorf("unknown service %q", serviceID)
	}
	dist := map[string]int{serviceID: 0}
	frontier := []string{serviceID}
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, nb := range a.undirectedNeighbors(id) {
				if _, seen := dist[nb]; seen {
					continue
				}
				dist[nb] = hop
				next = append(next, nb)
			}
		}
		sort.Strings(next)
		frontier = next
	}
	return dist, nil
}

// FanOut returns the set of nodes reachable via outgoing edges within
// maxHops, sorted by id. The starting node itself is not included.
func (a *Analyzer) FanOut(serviceID string, maxHops int) ([]string, error) {
	if _, ok := a.nodes[serviceID]; !ok {
		return nil, fmt.Errorf("unknown service %q", serviceID)
	}
	visited := map[string]bool{serviceID: true}
	var reached []string
	frontier := []string{serviceID}
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, e := range a.outgoing[id] {
				if visited[e.TargetID] {
					continue
				}
				visited[e.TargetID] = true
				reached = append(reached, e.TargetID)
				next = append(next, e.TargetID)
			}
		}
		sort.Strings(next)
		frontier = next
	}
	sort.Strings(reached)
	return reached, nil
}

// ErrorPropagation computes the domino effect of the given service failing.
// The traversal direction is a per-edge-kind rule applied at every hop: an
// HTTP edge propagates the failure to the caller (reverse of the call
// direction, since the caller depends on the callee), while a Kafka edge
// propagates it to the consumer (forward, since consumers stop receiving).
// Direct is the 1-hop frontier; cascading is everything reached beyond it.
// Nodes are never revisited, so cycles terminate.
func (a *Analyzer) ErrorPropagation(serviceID string) (direct, cascading []string, err error) {
	if _, ok := a.nodes[serviceID]; !ok {
		return nil, nil, fmt.Errorf("unknown service %q", serviceID)
	}

	visited := map[string]bool{serviceID: true}
	frontier := a.propagationNeighbors(serviceID, visited)
	direct = append(direct, frontier...)

	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			next = append(next, a.propagationNeighbors(id, visited)...)
		}
		sort.Strings(next)
		cascading = append(cascading, next...)
		frontier = next
	}

	sort.Strings(direct)
	sort.Strings(cascading)
	return direct, cascading, nil
}

// propagationNeighbors applies the per-kind direction rule from one failing
// node, marking results in visited.
func (a *Analyzer) propagationNeighbors(serviceID string, visited map[string]bool) []string {
	var out []string
	// HTTP: callers of the failing node are impacted.
	for _, e := range a.incoming[serviceID] {
		if e.Kind == schemas.EdgeHTTP && !visited[e.SourceID] {
			visited[e.SourceID] = true
			out = append(out, e.SourceID)
		}
	}
	// Kafka: consumers downstream of the failing producer are impacted.
	for _, e := range a.outgoing[serviceID] {
		if e.Kind == schemas.EdgeKafka && !visited[e.TargetID] {
			visited[e.TargetID] = true
			out = append(out, e.TargetID)
		}
	}
	sort.Strings(out)
	return out
}

// undirectedNeighbors returns the distinct neighbor ids over both edge
// directions, sorted.
func (a *Analyzer) undirectedNeighbors(serviceID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range a.outgoing[serviceID] {
		if !seen[e.TargetID] {
			seen[e.TargetID] = true
			out = append(out, e.TargetID)
		}
	}
	for _, e := range a.incoming[serviceID] {
		if !seen[e.SourceID] {
			seen[e.SourceID] = true
			out = append(out, e.SourceID)
		}
	}
	sort.Strings(out)
	return out
}
