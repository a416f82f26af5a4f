// Package loganalysis extracts service and topic mentions from raw error
// log text and anchors them to nodes of a dependency graph, so that an
// incident log can be turned directly into an error-propagation query.
package loganalysis

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/applens/api/schemas"
	"github.com/xkilldash9x/applens/internal/resolve"
)

var (
	// Hyphenated service-style names: "payment-service", "order-svc".
	serviceNameRe = regexp.MustCompile(`\b([a-z][a-z0-9]*(?:-[a-z0-9]+)+)\b`)
	// URLs the failing request was aimed at.
	urlRe = regexp.MustCompile(`https?://[^\s"'<>]+`)
	// Kafka topic mentions: topic=orders, topic: "user.events".
	topicRe = regexp.MustCompile(`(?i)topic[=:\s]+["']?([A-Za-z0-9][A-Za-z0-9._-]*)`)
)

// Report is the outcome of matching one log text against a graph.
type Report struct {
	// Services are graph nodes the log text mentions, in mention order.
	Services []schemas.Service `json:"services"`
	// Topics are Kafka topics named in the text that appear on graph edges.
	Topics []string `json:"topics,omitempty"`
	// Unmatched are extracted candidates that resolved to no node.
	Unmatched []string `json:"unmatched,omitempty"`
}

// Analyzer matches log text against one graph snapshot.
type Analyzer struct {
	g   *schemas.Graph
	log *zap.Logger
}

// New creates a log analyzer over a graph.
func New(g *schemas.Graph, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{g: g, log: logger.Named("loganalysis")}
}

// Analyze scans the log text for service names, request URLs and Kafka
// topics and maps each to the graph. Extraction is purely lexical; anything
// that does not anchor to a node or edge lands in Unmatched.
func (a *Analyzer) Analyze(text string) *Report {
	report := &Report{}
	seen := make(map[string]bool)

	addNode := func(candidate string) bool {
		node, ok := a.g.NodeByName(candidate)
		if !ok {
			return false
		}
		if !seen[node.ID] {
			seen[node.ID] = true
			report.Services = append(report.Services, node)
		}
		return true
	}

	// Direct service-name mentions first; they are the strongest signal.
	for _, m := range serviceNameRe.FindAllString(text, -1) {
		if !looksLikeServiceName(m) {
			continue
		}
		if !addNode(m) {
			report.Unmatched = append(report.Unmatched, m)
		}
	}

	// URLs fall back to the same hostname/path heuristics the resolver uses
	// for call sites.
	for _, raw := range urlRe.FindAllString(text, -1) {
		name := resolve.ServiceNameFromURL(raw)
		if name == "" {
			continue
		}
		if !addNode(name) {
			report.Unmatched = append(report.Unmatched, name)
		}
	}

	// Topic mentions anchor to edges rather than nodes.
	graphTopics := a.edgeTopics()
	for _, m := range topicRe.FindAllStringSubmatch(text, -1) {
		topic := strings.ToLower(m[1])
		if graphTopics[topic] {
			report.Topics = appendUnique(report.Topics, topic)
		} else {
			report.Unmatched = append(report.Unmatched, topic)
		}
	}

	report.Unmatched = dedupeSorted(report.Unmatched)
	a.log.Debug("Log text analyzed",
		zap.Int("services", len(report.Services)),
		zap.Int("topics", len(report.Topics)),
		zap.Int("unmatched", len(report.Unmatched)))
	return report
}

// TopicEndpoints returns the services producing to and consuming from a
// topic, so a topic mention can seed a propagation query.
func (a *Analyzer) TopicEndpoints(topic string) (producers, consumers []schemas.Service) {
	topic = strings.ToLower(topic)
	for _, e := range a.g.Links {
		if e.Kind != schemas.EdgeKafka || strings.ToLower(e.KafkaTopic) != topic {
			continue
		}
		if n, ok := a.g.Node(e.SourceID); ok {
			producers = appendUniqueService(producers, n)
		}
		if n, ok := a.g.Node(e.TargetID); ok {
			consumers = appendUniqueService(consumers, n)
		}
	}
	return producers, consumers
}

func (a *Analyzer) edgeTopics() map[string]bool {
	topics := make(map[string]bool)
	for _, e := range a.g.Links {
		if e.Kind == schemas.EdgeKafka && e.KafkaTopic != "" {
			topics[strings.ToLower(e.KafkaTopic)] = true
		}
	}
	return topics
}

// looksLikeServiceName filters out hyphenated words that are clearly not
// service identifiers (stack-trace fragments, header names, flags).
func looksLikeServiceName(s string) bool {
	switch {
	case strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-"):
		return false
	case strings.Contains(s, "--"):
		return false
	}
	// Common log vocabulary that matches the hyphenated shape.
	stop := map[string]bool{
		"content-type": true, "user-agent": true, "x-request-id": true,
		"non-zero": true, "read-only": true, "stack-trace": true,
	}
	return !stop[s]
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func appendUniqueService(list []schemas.Service, n schemas.Service) []schemas.Service {
	for _, existing := range list {
		if existing.ID == n.ID {
			return list
		}
	}
	return append(list, n)
}

func dedupeSorted(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	sort.Strings(list)
	out := list[:1]
	for _, v := range list[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
