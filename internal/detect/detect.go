// Package detect implements the per-language, per-protocol call-site
// detectors. Detection is deliberately lexical: ordered regular expressions
// tuned to each language's common client idioms, applied to raw source text.
// A file never has to compile, or even parse, to be scanned.
package detect

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/applens/api/schemas"
)

// ExtractionError marks a file the detector set could not scan, typically
// binary content that slipped through the extension filter. It is local to
// one file and never aborts the rest of a scan.
type ExtractionError struct {
	File   string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %s", e.File, e.Reason)
}

// Detector is one (language, protocol) pattern matcher. Implementations are
// pure: source text in, raw call sites out, no shared state.
type Detector interface {
	Name() string
	Detect(filePath, source string) []schemas.RawCallSite
}

// Set dispatches a file to every detector registered for its language.
type Set struct {
	byLang map[schemas.Language][]Detector
	log    *zap.Logger
}

// NewSet builds the default detector set: HTTP and Kafka variants for
// Python, JavaScript/TypeScript and Java.
func NewSet(logger *zap.Logger) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Set{
		byLang: make(map[schemas.Language][]Detector),
		log:    logger.Named("detect"),
	}

	jsDetectors := []Detector{NewJavaScriptHTTPDetector(), NewNodeKafkaDetector()}
	s.byLang[schemas.LangPython] = []Detector{NewPythonHTTPDetector(), NewPythonKafkaDetector()}
	s.byLang[schemas.LangJavaScript] = jsDetectors
	s.byLang[schemas.LangTypeScript] = jsDetectors
	s.byLang[schemas.LangJava] = []Detector{NewJavaHTTPDetector(), NewJavaKafkaDetector()}
	return s
}

// Detect runs every detector registered for the file's language and returns
// the combined call sites. Binary or non-UTF-8 content yields an
// *ExtractionError; unknown languages yield nothing.
func (s *Set) Detect(filePath string, content []byte) ([]schemas.RawCallSite, error) {
	if bytes.IndexByte(content, 0) >= 0 || !utf8.Valid(content) {
		return nil, &ExtractionError{File: filePath, Reason: "binary or non-UTF-8 content"}
	}

	lang := schemas.LanguageForPath(filePath)
	detectors, ok := s.byLang[lang]
	if !ok {
		return nil, nil
	}

	source := string(content)
	var sites []schemas.RawCallSite
	for _, d := range detectors {
		found := d.Detect(filePath, source)
		if len(found) > 0 {
			s.log.Debug("Detector matched",
				zap.String("detector", d.Name()),
				zap.String("file", filePath),
				zap.Int("count", len(found)))
		}
		sites = append(sites, found...)
	}
	return sites, nil
}

// -- shared helpers --

// lineOf converts a byte offset in source to a 1-based line number.
func lineOf(source string, offset int) int {
	return strings.Count(source[:offset], "\n") + 1
}

var (
	// {PAYMENT_SERVICE_URL} in a Python f-string, ${ORDER_SERVICE_URL} in a
	// JS template literal.
	interpolationRe = regexp.MustCompile(`\$?\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}`)
	// A bare env-style token embedded in concatenation, e.g.
	// BILLING_SERVICE_URL + "/invoices".
	envTokenRe = regexp.MustCompile(`\b([A-Z][A-Z0-9]*(?:_[A-Z0-9]+)*_(?:SERVICE_URL|BASE_URL|URL|HOST|ENDPOINT))\b`)
)

// extractIdentifier reduces a matched URL expression to the best recoverable
// identifier: an interpolated variable, an embedded env-style token, or the
// literal itself. Dynamic concatenation around the token is ignored by
// design; an expression with no recoverable identifier returns "".
func extractIdentifier(raw string) string {
	if m := interpolationRe.FindStringSubmatch(raw); m != nil {
		// "config.paymentUrl" style interpolations keep the last segment.
		id := m[1]
		if i := strings.LastIndexByte(id, '.'); i >= 0 {
			id = id[i+1:]
		}
		return id
	}
	if m := envTokenRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "/" {
		return ""
	}
	return raw
}

// normalizeHTTPMethod maps a matched method token (axios.get, getForObject,
// postForObject...) onto a canonical HTTP verb.
func normalizeHTTPMethod(token string) string {
	t := strings.ToLower(token)
	switch {
	case strings.Contains(t, "get"):
		return "GET"
	case strings.Contains(t, "post"):
		return "POST"
	case strings.Contains(t, "put"):
		return "PUT"
	case strings.Contains(t, "delete"):
		return "DELETE"
	case strings.Contains(t, "patch"):
		return "PATCH"
	case strings.Contains(t, "head"):
		return "HEAD"
	case strings.Contains(t, "options"):
		return "OPTIONS"
	default:
		return "GET"
	}
}
