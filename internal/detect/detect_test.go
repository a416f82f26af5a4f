package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applens/api/schemas"
)

func newTestSet(t *testing.T) *Set {
	t.Helper()
	return NewSet(zap.NewNop())
}

func TestSetDetect_BinaryContent(t *testing.T) {
	s := newTestSet(t)

	_, err := s.Detect("app/main.py", []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0x1a})
	require.Error(t, err)

	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "app/main.py", extErr.File)
}

func TestSetDetect_InvalidUTF8(t *testing.T) {
	s := newTestSet(t)

	_, err := s.Detect("src/client.js", []byte{'v', 'a', 'r', 0xff, 0xfe})
	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
}

func TestSetDetect_UnknownLanguageSkipped(t *testing.T) {
	s := newTestSet(t)

	sites, err := s.Detect("README.md", []byte(`requests.get("http://payment-service/pay")`))
	require.NoError(t, err)
	assert.Empty(t, sites)
}

func TestPythonHTTPDetector(t *testing.T) {
	d := NewPythonHTTPDetector()

	tests := []struct {
		name       string
		source     string
		identifier string
		method     string
		library    string
	}{
		{
			name:       "requests get literal",
			source:     `resp = requests.get("http://payment-service:8080/api/charge")`,
			identifier: "http://payment-service:8080/api/charge",
			method:     "GET",
			library:    "requests",
		},
		{
			name:       "requests post f-string env token",
			source:     `requests.post(f"{PAYMENT_SERVICE_URL}/payments", json=payload)`,
			identifier: "PAYMENT_SERVICE_URL",
			method:     "POST",
			library:    "requests",
		},
		{
			name:       "httpx delete",
			source:     `await httpx.delete("http://orders/api/v1/orders/42")`,
			identifier: "http://orders/api/v1/orders/42",
			method:     "DELETE",
			library:    "httpx",
		},
		{
			name:       "urllib defaults to GET",
			source:     `urllib.request.urlopen("http://inventory-service/items")`,
			identifier: "http://inventory-service/items",
			method:     "GET",
			library:    "urllib",
		},
		{
			name:       "generic client with interpolated config attr",
			source:     `self.client.post(f"{settings.billing_url}/invoices")`,
			identifier: "billing_url",
			method:     "POST",
			library:    "client",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sites := d.Detect("services/checkout/api.py", tc.source)
			require.Len(t, sites, 1)
			assert.Equal(t, schemas.CallHTTP, sites[0].Kind)
			assert.Equal(t, tc.identifier, sites[0].Identifier)
			assert.Equal(t, tc.method, sites[0].HTTPMethod)
			assert.Equal(t, tc.library, sites[0].Library)
			assert.Equal(t, 1, sites[0].Line)
			assert.Greater(t, sites[0].Confidence, 0.0)
		})
	}
}

func TestPythonHTTPDetector_LineNumbers(t *testing.T) {
	d := NewPythonHTTPDetector()
	source := "import requests\n\n\ndef pay():\n    requests.post(f\"{PAYMENT_SERVICE_URL}/charge\")\n"

	sites := d.Detect("app.py", source)
	require.Len(t, sites, 1)
	assert.Equal(t, 5, sites[0].Line)
}

func TestJavaScriptHTTPDetector(t *testing.T) {
	d := NewJavaScriptHTTPDetector()

	tests := []struct {
		name       string
		source     string
		identifier string
		method     string
	}{
		{
			name:       "fetch with method option",
			source:     `await fetch("http://user-service/api/users", { method: "POST", body })`,
			identifier: "http://user-service/api/users",
			method:     "POST",
		},
		{
			name:       "fetch template literal with env interpolation",
			source:     "await fetch(`${ORDER_SERVICE_URL}/orders/${id}`, { method: 'PUT' })",
			identifier: "ORDER_SERVICE_URL",
			method:     "PUT",
		},
		{
			name:       "bare fetch defaults to GET",
			source:     `fetch("http://catalog-service/items")`,
			identifier: "http://catalog-service/items",
			method:     "GET",
		},
		{
			name:       "axios",
			source:     `axios.delete("http://cart-service/cart/7")`,
			identifier: "http://cart-service/cart/7",
			method:     "DELETE",
		},
		{
			name:       "generic api client",
			source:     `api.get("/api/v1/shipping/rates")`,
			identifier: "/api/v1/shipping/rates",
			method:     "GET",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sites := d.Detect("src/orders/client.ts", tc.source)
			require.Len(t, sites, 1)
			assert.Equal(t, tc.identifier, sites[0].Identifier)
			assert.Equal(t, tc.method, sites[0].HTTPMethod)
		})
	}
}

func TestJavaScriptHTTPDetector_DedupesOverlappingPatterns(t *testing.T) {
	d := NewJavaScriptHTTPDetector()

	// Matches both the method-option pattern and the bare-fetch pattern;
	// only the first (more specific) match should survive.
	source := `fetch("http://user-service/users", { method: "POST" })`
	sites := d.Detect("src/app.js", source)
	require.Len(t, sites, 1)
	assert.Equal(t, "POST", sites[0].HTTPMethod)
}

func TestJavaHTTPDetector(t *testing.T) {
	d := NewJavaHTTPDetector()

	tests := []struct {
		name       string
		source     string
		identifier string
		method     string
		library    string
	}{
		{
			name:       "rest template getForObject",
			source:     `restTemplate.getForObject("http://inventory-service/stock/{id}", Stock.class, id);`,
			identifier: "http://inventory-service/stock/{id}",
			method:     "GET",
			library:    "RestTemplate",
		},
		{
			name:       "rest template postForEntity",
			source:     `restTemplate.postForEntity("http://billing-service/invoices", request, Invoice.class);`,
			identifier: "http://billing-service/invoices",
			method:     "POST",
			library:    "RestTemplate",
		},
		{
			name:       "web client",
			source:     `webClient.get().uri("http://pricing-service/quote").retrieve();`,
			identifier: "http://pricing-service/quote",
			method:     "GET",
			library:    "WebClient",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sites := d.Detect("src/main/java/Client.java", tc.source)
			require.Len(t, sites, 1)
			assert.Equal(t, tc.identifier, sites[0].Identifier)
			assert.Equal(t, tc.method, sites[0].HTTPMethod)
			assert.Equal(t, tc.library, sites[0].Library)
		})
	}
}

func TestPythonKafkaDetector(t *testing.T) {
	d := NewPythonKafkaDetector()

	t.Run("producer send", func(t *testing.T) {
		sites := d.Detect("svc/events.py", `producer.send("order-events", payload)`)
		require.Len(t, sites, 1)
		assert.Equal(t, schemas.CallKafkaProducer, sites[0].Kind)
		assert.Equal(t, "order-events", sites[0].Identifier)
	})

	t.Run("consumer subscribe list", func(t *testing.T) {
		sites := d.Detect("svc/worker.py", `consumer.subscribe(["order-events", "refund-events"])`)
		require.Len(t, sites, 1)
		assert.Equal(t, schemas.CallKafkaConsumer, sites[0].Kind)
		assert.Equal(t, "order-events", sites[0].Identifier)
	})

	t.Run("kafka consumer constructor", func(t *testing.T) {
		sites := d.Detect("svc/worker.py", `consumer = KafkaConsumer("payment-events", bootstrap_servers=servers)`)
		require.Len(t, sites, 1)
		assert.Equal(t, schemas.CallKafkaConsumer, sites[0].Kind)
		assert.Equal(t, "payment-events", sites[0].Identifier)
		assert.InDelta(t, 0.90, sites[0].Confidence, 1e-9)
	})
}

func TestNodeKafkaDetector(t *testing.T) {
	d := NewNodeKafkaDetector()

	t.Run("kafkajs producer multiline", func(t *testing.T) {
		source := "await producer.send({\n  topic: 'user-signups',\n  messages: [msg],\n})"
		sites := d.Detect("src/events.js", source)
		require.Len(t, sites, 1)
		assert.Equal(t, schemas.CallKafkaProducer, sites[0].Kind)
		assert.Equal(t, "user-signups", sites[0].Identifier)
	})

	t.Run("kafkajs consumer topics array", func(t *testing.T) {
		source := "await consumer.subscribe({ topics: ['user-signups'] })"
		sites := d.Detect("src/worker.ts", source)
		require.Len(t, sites, 1)
		assert.Equal(t, schemas.CallKafkaConsumer, sites[0].Kind)
		assert.Equal(t, "user-signups", sites[0].Identifier)
	})
}

func TestJavaKafkaDetector(t *testing.T) {
	d := NewJavaKafkaDetector()

	t.Run("spring kafka template", func(t *testing.T) {
		sites := d.Detect("src/Producer.java", `kafkaTemplate.send("audit-log", event);`)
		require.Len(t, sites, 1)
		assert.Equal(t, schemas.CallKafkaProducer, sites[0].Kind)
		assert.Equal(t, "audit-log", sites[0].Identifier)
	})

	t.Run("kafka listener annotation", func(t *testing.T) {
		sites := d.Detect("src/Listener.java", `@KafkaListener(topics = "audit-log", groupId = "auditors")`)
		require.Len(t, sites, 1)
		assert.Equal(t, schemas.CallKafkaConsumer, sites[0].Kind)
		assert.Equal(t, "audit-log", sites[0].Identifier)
		assert.InDelta(t, 0.90, sites[0].Confidence, 1e-9)
	})
}

func TestExtractIdentifier(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"python f-string", "{PAYMENT_SERVICE_URL}/payments", "PAYMENT_SERVICE_URL"},
		{"js template literal", "${ORDER_SERVICE_URL}/orders", "ORDER_SERVICE_URL"},
		{"dotted interpolation keeps last segment", "{config.payment_url}/pay", "payment_url"},
		{"embedded env token", `BILLING_SERVICE_URL + "/invoices"`, "BILLING_SERVICE_URL"},
		{"plain literal passes through", "http://user-service/users", "http://user-service/users"},
		{"bare slash is unrecoverable", "/", ""},
		{"empty is unrecoverable", "   ", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractIdentifier(tc.raw))
		})
	}
}

func TestNormalizeHTTPMethod(t *testing.T) {
	assert.Equal(t, "GET", normalizeHTTPMethod("getForObject"))
	assert.Equal(t, "POST", normalizeHTTPMethod("postForEntity"))
	assert.Equal(t, "DELETE", normalizeHTTPMethod("DELETE"))
	assert.Equal(t, "GET", normalizeHTTPMethod("exchange"))
}
