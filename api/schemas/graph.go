package schemas

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// ExternalRepo is the repo scope used for services that were referenced by a
// scanned repository but whose own source was not part of the scan. All
// external references to the same normalized name converge on one node.
const ExternalRepo = "external"

// ServiceID derives the stable node identity for a service. It is a pure
// function of (normalized name, owning repo); two sightings of the same
// identity always hash to the same node.
func ServiceID(name, repo string) string {
	if repo == "" {
		repo = ExternalRepo
	}
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(name)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(repo)))
	return fmt.Sprintf("svc-%016x", h.Sum64())
}

// Service is a canonical node in the dependency graph.
type Service struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Repo     string   `json:"repo"` // owning repo full name, or ExternalRepo
	Language Language `json:"language,omitempty"`
	PathHint string   `json:"path_hint,omitempty"`
}

// EdgeKind classifies an interaction edge.
type EdgeKind string

const (
	EdgeHTTP  EdgeKind = "HTTP"
	EdgeKafka EdgeKind = "KAFKA"
)

// Interaction is a directed edge in the dependency graph. For HTTP the edge
// points caller to callee; for Kafka it points producer to consumer, with the
// topic retained as evidence rather than modelled as a node.
type Interaction struct {
	SourceID       string   `json:"source"`
	TargetID       string   `json:"target"`
	Kind           EdgeKind `json:"kind"`
	HTTPMethod     string   `json:"http_method,omitempty"`
	HTTPURLPattern string   `json:"http_url_pattern,omitempty"`
	KafkaTopic     string   `json:"kafka_topic,omitempty"`
	Occurrences    int      `json:"occurrences"`
	Evidence       string   `json:"evidence,omitempty"` // file:line of the first sighting
}

// Key is the deduplication identity of the edge: source, target, kind and the
// kind-specific payload. Repeated sightings of the same key increment
// Occurrences instead of adding a second edge.
func (i Interaction) Key() string {
	return strings.Join([]string{i.SourceID, i.TargetID, string(i.Kind), i.HTTPMethod, i.HTTPURLPattern, i.KafkaTopic}, "|")
}

// Graph is a completed, immutable dependency graph snapshot. The JSON shape
// (nodes/links) is the wire format served to graph queries.
type Graph struct {
	Nodes []Service     `json:"nodes"`
	Links []Interaction `json:"links"`
}

// Node returns the node with the given id, if present.
func (g *Graph) Node(id string) (Service, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Service{}, false
}

// NodeByName returns the first node whose name matches exactly, or whose name
// contains the given fragment (case-insensitive). Lookup helper for CLI and
// log analysis entry points that start from a human-supplied name.
func (g *Graph) NodeByName(name string) (Service, bool) {
	needle := strings.ToLower(name)
	for _, n := range g.Nodes {
		if strings.ToLower(n.Name) == needle {
			return n, true
		}
	}
	for _, n := range g.Nodes {
		if strings.Contains(strings.ToLower(n.Name), needle) {
			return n, true
		}
	}
	return Service{}, false
}

// Sort orders nodes by id and links by dedup key, giving the graph a single
// canonical serialized form regardless of build order.
func (g *Graph) Sort() {
	sort.Slice(g.Nodes, func(a, b int) bool { return g.Nodes[a].ID < g.Nodes[b].ID })
	sort.Slice(g.Links, func(a, b int) bool { return g.Links[a].Key() < g.Links[b].Key() })
}
