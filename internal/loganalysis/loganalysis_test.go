package loganalysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applens/api/schemas"
)

func testGraph() *schemas.Graph {
	orders := schemas.Service{ID: schemas.ServiceID("orders", "acme/orders"), Name: "orders", Repo: "acme/orders"}
	payment := schemas.Service{ID: schemas.ServiceID("payment-service", ""), Name: "payment-service", Repo: schemas.ExternalRepo}
	notify := schemas.Service{ID: schemas.ServiceID("notification", "acme/notification"), Name: "notification", Repo: "acme/notification"}

	g := &schemas.Graph{
		Nodes: []schemas.Service{orders, payment, notify},
		Links: []schemas.Interaction{
			{SourceID: orders.ID, TargetID: payment.ID, Kind: schemas.EdgeHTTP, HTTPMethod: "POST", Occurrences: 1},
			{SourceID: orders.ID, TargetID: notify.ID, Kind: schemas.EdgeKafka, KafkaTopic: "order-events", Occurrences: 2},
		},
	}
	g.Sort()
	return g
}

func TestAnalyze_ServiceNameMention(t *testing.T) {
	a := New(testGraph(), zap.NewNop())

	report := a.Analyze("ERROR payment-service returned 503 for POST /payments")
	require.Len(t, report.Services, 1)
	assert.Equal(t, "payment-service", report.Services[0].Name)
}

func TestAnalyze_URLMention(t *testing.T) {
	a := New(testGraph(), zap.NewNop())

	report := a.Analyze(`upstream error: GET http://payment-service.internal:8080/charge timed out`)
	require.NotEmpty(t, report.Services)
	assert.Equal(t, "payment-service", report.Services[0].Name)
}

func TestAnalyze_TopicMention(t *testing.T) {
	a := New(testGraph(), zap.NewNop())

	report := a.Analyze("consumer lag growing on topic=order-events, partition 3")
	assert.Equal(t, []string{"order-events"}, report.Topics)
}

func TestAnalyze_DeduplicatesRepeatedMentions(t *testing.T) {
	a := New(testGraph(), zap.NewNop())

	report := a.Analyze("payment-service down. retrying payment-service. payment-service still down")
	assert.Len(t, report.Services, 1)
}

func TestAnalyze_UnmatchedCandidates(t *testing.T) {
	a := New(testGraph(), zap.NewNop())

	report := a.Analyze("mystery-widget failed; topic: ghost-events empty")
	assert.Empty(t, report.Services)
	assert.Contains(t, report.Unmatched, "mystery-widget")
	assert.Contains(t, report.Unmatched, "ghost-events")
}

func TestAnalyze_IgnoresLogVocabulary(t *testing.T) {
	a := New(testGraph(), zap.NewNop())

	report := a.Analyze("Content-Type: application/json user-agent mismatch, non-zero exit")
	assert.Empty(t, report.Services)
}

func TestTopicEndpoints(t *testing.T) {
	a := New(testGraph(), zap.NewNop())

	producers, consumers := a.TopicEndpoints("order-events")
	require.Len(t, producers, 1)
	require.Len(t, consumers, 1)
	assert.Equal(t, "orders", producers[0].Name)
	assert.Equal(t, "notification", consumers[0].Name)

	producers, consumers = a.TopicEndpoints("unknown-topic")
	assert.Empty(t, producers)
	assert.Empty(t, consumers)
}
