package detect

import (
	"regexp"

	"github.com/xkilldash9x/applens/api/schemas"
)

// httpPattern is one client idiom for an HTTP detector. methodGroup and
// urlGroup index into the regexp's submatches; a methodGroup of 0 means the
// idiom implies defaultMethod.
type httpPattern struct {
	re            *regexp.Regexp
	library       string
	methodGroup   int
	urlGroup      int
	defaultMethod string
	confidence    float64
}

// runHTTPPatterns applies an ordered pattern list to the source and converts
// matches into raw call sites. Matches whose URL expression yields no
// recoverable identifier are dropped silently.
func runHTTPPatterns(patterns []httpPattern, filePath, source string) []schemas.RawCallSite {
	var sites []schemas.RawCallSite
	for _, p := range patterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(source, -1) {
			group := func(n int) string {
				if 2*n+1 >= len(m) || m[2*n] < 0 {
					return ""
				}
				return source[m[2*n]:m[2*n+1]]
			}

			identifier := extractIdentifier(group(p.urlGroup))
			if identifier == "" {
				continue
			}

			method := p.defaultMethod
			if p.methodGroup > 0 {
				if tok := group(p.methodGroup); tok != "" {
					method = normalizeHTTPMethod(tok)
				}
			}

			sites = append(sites, schemas.RawCallSite{
				Kind:       schemas.CallHTTP,
				Identifier: identifier,
				HTTPMethod: method,
				Library:    p.library,
				File:       filePath,
				Line:       lineOf(source, m[0]),
				Confidence: p.confidence,
			})
		}
	}
	return sites
}

// PythonHTTPDetector matches the common Python HTTP client idioms: requests,
// httpx, urllib, aiohttp, and generic client/session objects with f-string
// interpolated base URLs.
type PythonHTTPDetector struct {
	patterns []httpPattern
}

func NewPythonHTTPDetector() *PythonHTTPDetector {
	return &PythonHTTPDetector{patterns: []httpPattern{
		{
			re:          regexp.MustCompile(`(?m)\brequests\.(get|post|put|delete|patch|head|options)\(\s*f?["']([^"']+)["']`),
			library:     "requests",
			methodGroup: 1, urlGroup: 2,
			confidence: 0.85,
		},
		{
			re:          regexp.MustCompile(`(?m)\bhttpx\.(get|post|put|delete|patch|head|options)\(\s*f?["']([^"']+)["']`),
			library:     "httpx",
			methodGroup: 1, urlGroup: 2,
			confidence: 0.85,
		},
		{
			re:       regexp.MustCompile(`(?m)\burllib\.request\.(?:urlopen|Request)\(\s*["']([^"']+)["']`),
			library:  "urllib",
			urlGroup: 1, defaultMethod: "GET",
			confidence: 0.85,
		},
		{
			re:          regexp.MustCompile(`(?m)\baiohttp\.ClientSession\(\)\.(get|post|put|delete|patch)\(\s*f?["']([^"']+)["']`),
			library:     "aiohttp",
			methodGroup: 1, urlGroup: 2,
			confidence: 0.85,
		},
		{
			// client.post(f"{PAYMENT_SERVICE_URL}/payments", ...) and the
			// session/self.client variants. Lower confidence: "client" is a
			// convention, not a library.
			re:          regexp.MustCompile(`(?m)\b(?:client|session)\.(get|post|put|delete|patch)\(\s*f["']([^"']+)["']`),
			library:     "client",
			methodGroup: 1, urlGroup: 2,
			confidence: 0.70,
		},
	}}
}

func (d *PythonHTTPDetector) Name() string { return "http-python" }

func (d *PythonHTTPDetector) Detect(filePath, source string) []schemas.RawCallSite {
	return runHTTPPatterns(d.patterns, filePath, source)
}

// JavaScriptHTTPDetector matches fetch, axios and generic client call shapes
// in JavaScript and TypeScript, including template-literal URLs.
type JavaScriptHTTPDetector struct {
	patterns []httpPattern
}

func NewJavaScriptHTTPDetector() *JavaScriptHTTPDetector {
	return &JavaScriptHTTPDetector{patterns: []httpPattern{
		{
			// fetch("...", { method: "POST" })
			re:          regexp.MustCompile(`(?s)\bfetch\(\s*["']([^"']+)["']\s*,[^)]*?method:\s*["']([A-Za-z]+)["']`),
			library:     "fetch",
			urlGroup:    1,
			methodGroup: 2,
			confidence:  0.85,
		},
		{
			// fetch(`${ORDER_SERVICE_URL}/orders`, { method: "PUT" })
			re:          regexp.MustCompile(`(?s)\bfetch\(\s*` + "`([^`]+)`" + `\s*,[^)]*?method:\s*["']([A-Za-z]+)["']`),
			library:     "fetch",
			urlGroup:    1,
			methodGroup: 2,
			confidence:  0.85,
		},
		{
			// bare fetch with a string or template literal defaults to GET
			re:       regexp.MustCompile(`\bfetch\(\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `]`),
			library:  "fetch",
			urlGroup: 1, defaultMethod: "GET",
			confidence: 0.80,
		},
		{
			re:          regexp.MustCompile(`\baxios\.(get|post|put|delete|patch)\(\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `]`),
			library:     "axios",
			methodGroup: 1, urlGroup: 2,
			confidence: 0.85,
		},
		{
			re:          regexp.MustCompile(`\b(?:client|api|http)\.(get|post|put|delete|patch)\(\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `]`),
			library:     "client",
			methodGroup: 1, urlGroup: 2,
			confidence: 0.70,
		},
	}}
}

func (d *JavaScriptHTTPDetector) Name() string { return "http-javascript" }

func (d *JavaScriptHTTPDetector) Detect(filePath, source string) []schemas.RawCallSite {
	sites := runHTTPPatterns(d.patterns, filePath, source)
	return dedupeByLocation(sites)
}

// JavaHTTPDetector matches the OkHttp, RestTemplate and WebClient builder
// idioms.
type JavaHTTPDetector struct {
	patterns []httpPattern
}

func NewJavaHTTPDetector() *JavaHTTPDetector {
	return &JavaHTTPDetector{patterns: []httpPattern{
		{
			re:          regexp.MustCompile(`new\s+Request\.Builder\(\)\s*\.(get|post|put|delete|patch)\(\s*"([^"]+)"`),
			library:     "OkHttp",
			methodGroup: 1, urlGroup: 2,
			confidence: 0.80,
		},
		{
			re:          regexp.MustCompile(`\brestTemplate\.(getForObject|getForEntity|postForObject|postForEntity|put|delete|exchange)\(\s*"([^"]+)"`),
			library:     "RestTemplate",
			methodGroup: 1, urlGroup: 2,
			confidence: 0.80,
		},
		{
			re:          regexp.MustCompile(`\bwebClient\.(get|post|put|delete)\(\)\s*\.uri\(\s*"([^"]+)"`),
			library:     "WebClient",
			methodGroup: 1, urlGroup: 2,
			confidence: 0.80,
		},
	}}
}

func (d *JavaHTTPDetector) Name() string { return "http-java" }

func (d *JavaHTTPDetector) Detect(filePath, source string) []schemas.RawCallSite {
	return runHTTPPatterns(d.patterns, filePath, source)
}

// dedupeByLocation drops repeated matches of the same file:line by
// overlapping patterns, keeping the first (highest-priority) one.
func dedupeByLocation(sites []schemas.RawCallSite) []schemas.RawCallSite {
	type loc struct {
		file string
		line int
		kind schemas.CallKind
	}
	seen := make(map[loc]bool, len(sites))
	out := sites[:0]
	for _, s := range sites {
		l := loc{s.File, s.Line, s.Kind}
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, s)
	}
	return out
}
