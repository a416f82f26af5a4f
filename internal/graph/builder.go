// Package graph assembles resolved endpoints into a deduplicated dependency
// graph and answers impact queries over the finished snapshot.
package graph

import (
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/applens/api/schemas"
	"github.com/xkilldash9x/applens/internal/resolve"
)

// topicSighting is one producer or consumer observation of a Kafka topic,
// kept until Build joins the two halves into edges.
type topicSighting struct {
	service  schemas.Service
	count    int
	evidence string
}

// Builder accumulates nodes and edges for a single scan. Insertion is
// idempotent: repeated nodes are no-ops and repeated edges increment an
// occurrence counter. A Builder starts empty, is written by exactly one
// goroutine (the pipeline's fold step), and never deletes.
type Builder struct {
	log       *zap.Logger
	nodes     map[string]schemas.Service
	edges     map[string]*schemas.Interaction
	producers map[string][]*topicSighting // keyed by topic
	consumers map[string][]*topicSighting
	dropped   int
}

// NewBuilder returns an empty Builder.
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		log:       logger.Named("graph"),
		nodes:     make(map[string]schemas.Service),
		edges:     make(map[string]*schemas.Interaction),
		producers: make(map[string][]*topicSighting),
		consumers: make(map[string][]*topicSighting),
	}
}

// AddService inserts a node. Existing nodes keep their first-seen metadata.
func (b *Builder) AddService(svc schemas.Service) {
	if svc.ID == "" {
		return
	}
	if _, exists := b.nodes[svc.ID]; !exists {
		b.nodes[svc.ID] = svc
	}
}

// AddEndpoint folds one resolved endpoint into the accumulating graph. HTTP
// endpoints become edges immediately; Kafka sightings are parked per topic
// and joined in Build.
func (b *Builder) AddEndpoint(ep resolve.Endpoint) {
	b.AddService(ep.Source)

	switch ep.Kind {
	case schemas.EdgeHTTP:
		b.AddService(ep.Target)
		b.addEdge(schemas.Interaction{
			SourceID:       ep.Source.ID,
			TargetID:       ep.Target.ID,
			Kind:           schemas.EdgeHTTP,
			HTTPMethod:     ep.Method,
			HTTPURLPattern: ep.URLPattern,
			Occurrences:    1,
			Evidence:       ep.Evidence,
		})

	case schemas.EdgeKafka:
		table := b.producers
		if ep.Role == schemas.CallKafkaConsumer {
			table = b.consumers
		}
		for _, s := range table[ep.Topic] {
			if s.service.ID == ep.Source.ID {
				s.count++
				return
			}
		}
		table[ep.Topic] = append(table[ep.Topic], &topicSighting{
			service:  ep.Source,
			count:    1,
			evidence: ep.Evidence,
		})
	}
}

func (b *Builder) addEdge(edge schemas.Interaction) {
	if _, srcOK := b.nodes[edge.SourceID]; !srcOK {
		b.dropped++
		b.log.Warn("Dropping edge with missing source node", zap.String("source", edge.SourceID), zap.String("target", edge.TargetID))
		return
	}
	if _, dstOK := b.nodes[edge.TargetID]; !dstOK {
		b.dropped++
		b.log.Warn("Dropping edge with missing target node", zap.String("source", edge.SourceID), zap.String("target", edge.TargetID))
		return
	}
	if existing, ok := b.edges[edge.Key()]; ok {
		existing.Occurrences += edge.Occurrences
		return
	}
	e := edge
	b.edges[edge.Key()] = &e
}

// DroppedEdges reports how many edges were rejected for referencing a
// missing node.
func (b *Builder) DroppedEdges() int { return b.dropped }

// Build joins Kafka producer and consumer sightings into producer→consumer
// edges and returns the finished graph in canonical (sorted) order. The
// Builder remains usable afterwards; calling Build again reproduces the
// same graph.
func (b *Builder) Build() *schemas.Graph {
	// Topics are evidence, not nodes: each (producer, consumer) pair on a
	// topic collapses into one directed edge. Sorted iteration keeps the
	// occurrence accounting deterministic.
	topics := make([]string, 0, len(b.producers))
	for topic := range b.producers {
		if len(b.consumers[topic]) > 0 {
			topics = append(topics, topic)
		}
	}
	sort.Strings(topics)

	kafkaEdges := make(map[string]*schemas.Interaction)
	for _, topic := range topics {
		for _, prod := range b.producers[topic] {
			for _, cons := range b.consumers[topic] {
				if prod.service.ID == cons.service.ID {
					continue // a service consuming its own topic is not a dependency
				}
				edge := schemas.Interaction{
					SourceID:    prod.service.ID,
					TargetID:    cons.service.ID,
					Kind:        schemas.EdgeKafka,
					KafkaTopic:  topic,
					Occurrences: prod.count + cons.count,
					Evidence:    prod.evidence,
				}
				if existing, ok := kafkaEdges[edge.Key()]; ok {
					existing.Occurrences += edge.Occurrences
					continue
				}
				if _, srcOK := b.nodes[edge.SourceID]; !srcOK {
					b.dropped++
					continue
				}
				if _, dstOK := b.nodes[edge.TargetID]; !dstOK {
					b.dropped++
					continue
				}
				e := edge
				kafkaEdges[edge.Key()] = &e
			}
		}
	}

	g := &schemas.Graph{
		Nodes: make([]schemas.Service, 0, len(b.nodes)),
		Links: make([]schemas.Interaction, 0, len(b.edges)+len(kafkaEdges)),
	}
	for _, n := range b.nodes {
		g.Nodes = append(g.Nodes, n)
	}
	for _, e := range b.edges {
		g.Links = append(g.Links, *e)
	}
	for _, e := range kafkaEdges {
		g.Links = append(g.Links, *e)
	}
	g.Sort()
	return g
}
