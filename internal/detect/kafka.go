package detect

import (
	"regexp"

	"github.com/xkilldash9x/applens/api/schemas"
)

// kafkaPattern is one producer or consumer idiom. The topic is always the
// first capture group.
type kafkaPattern struct {
	re         *regexp.Regexp
	library    string
	kind       schemas.CallKind
	confidence float64
}

func runKafkaPatterns(patterns []kafkaPattern, filePath, source string) []schemas.RawCallSite {
	var sites []schemas.RawCallSite
	for _, p := range patterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(source, -1) {
			if len(m) < 4 || m[2] < 0 {
				continue
			}
			topic := source[m[2]:m[3]]
			if topic == "" {
				continue
			}
			sites = append(sites, schemas.RawCallSite{
				Kind:       p.kind,
				Identifier: topic,
				Library:    p.library,
				File:       filePath,
				Line:       lineOf(source, m[0]),
				Confidence: p.confidence,
			})
		}
	}
	return dedupeByLocation(sites)
}

// PythonKafkaDetector matches kafka-python, confluent-kafka and bare
// producer/consumer object idioms.
type PythonKafkaDetector struct {
	patterns []kafkaPattern
}

func NewPythonKafkaDetector() *PythonKafkaDetector {
	return &PythonKafkaDetector{patterns: []kafkaPattern{
		{regexp.MustCompile(`\bproducer\.send\(\s*["']([^"']+)["']`), "producer", schemas.CallKafkaProducer, 0.85},
		{regexp.MustCompile(`\bKafkaProducer\([^)]*\)\.send\(\s*["']([^"']+)["']`), "kafka-python", schemas.CallKafkaProducer, 0.85},
		{regexp.MustCompile(`\bconfluent_kafka\.Producer\([^)]*\)\.produce\(\s*["']([^"']+)["']`), "confluent-kafka", schemas.CallKafkaProducer, 0.85},
		{regexp.MustCompile(`\bconsumer\.subscribe\(\s*\[\s*["']([^"']+)["']`), "consumer", schemas.CallKafkaConsumer, 0.85},
		{regexp.MustCompile(`\bKafkaConsumer\(\s*["']([^"']+)["']`), "kafka-python", schemas.CallKafkaConsumer, 0.90},
		{regexp.MustCompile(`\bconfluent_kafka\.Consumer\([^)]*\)\.subscribe\(\s*\[\s*["']([^"']+)["']`), "confluent-kafka", schemas.CallKafkaConsumer, 0.85},
	}}
}

func (d *PythonKafkaDetector) Name() string { return "kafka-python" }

func (d *PythonKafkaDetector) Detect(filePath, source string) []schemas.RawCallSite {
	return runKafkaPatterns(d.patterns, filePath, source)
}

// NodeKafkaDetector matches kafkajs and node-rdkafka idioms in JavaScript
// and TypeScript.
type NodeKafkaDetector struct {
	patterns []kafkaPattern
}

func NewNodeKafkaDetector() *NodeKafkaDetector {
	return &NodeKafkaDetector{patterns: []kafkaPattern{
		{regexp.MustCompile(`(?s)\bproducer\.send\([^)]*?topic:\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `]`), "kafkajs", schemas.CallKafkaProducer, 0.85},
		{regexp.MustCompile(`(?s)\bkafka\.Producer\([^)]*\)\.send\([^)]*?["']([^"']+)["']`), "node-rdkafka", schemas.CallKafkaProducer, 0.85},
		{regexp.MustCompile(`(?s)\bconsumer\.subscribe\([^)]*?topics:\s*\[\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `]`), "kafkajs", schemas.CallKafkaConsumer, 0.85},
		{regexp.MustCompile(`(?s)\bkafka\.Consumer\([^)]*\)\.subscribe\(\s*["']([^"']+)["']`), "node-rdkafka", schemas.CallKafkaConsumer, 0.85},
	}}
}

func (d *NodeKafkaDetector) Name() string { return "kafka-node" }

func (d *NodeKafkaDetector) Detect(filePath, source string) []schemas.RawCallSite {
	return runKafkaPatterns(d.patterns, filePath, source)
}

// JavaKafkaDetector matches the raw client send/subscribe calls and the
// Spring @KafkaListener annotation.
type JavaKafkaDetector struct {
	patterns []kafkaPattern
}

func NewJavaKafkaDetector() *JavaKafkaDetector {
	return &JavaKafkaDetector{patterns: []kafkaPattern{
		{regexp.MustCompile(`\bkafkaProducer\.send\([^)]*?["']([^"']+)["']`), "KafkaProducer", schemas.CallKafkaProducer, 0.85},
		{regexp.MustCompile(`\bkafkaTemplate\.send\(\s*["']([^"']+)["']`), "SpringKafka", schemas.CallKafkaProducer, 0.85},
		{regexp.MustCompile(`@KafkaListener\(\s*topics\s*=\s*["']([^"']+)["']`), "SpringKafka", schemas.CallKafkaConsumer, 0.90},
		{regexp.MustCompile(`\bconsumer\.subscribe\([^)]*?["']([^"']+)["']`), "KafkaConsumer", schemas.CallKafkaConsumer, 0.85},
	}}
}

func (d *JavaKafkaDetector) Name() string { return "kafka-java" }

func (d *JavaKafkaDetector) Detect(filePath, source string) []schemas.RawCallSite {
	return runKafkaPatterns(d.patterns, filePath, source)
}
