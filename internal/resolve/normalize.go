// Package resolve turns raw call sites into canonical service identities.
// Everything in here is heuristic by design: naming conventions, not
// compilation, are the evidence. False positives and negatives are expected
// and accounted for downstream by confidence scores and diagnostics.
package resolve

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	envSuffixes  = []string{"-base-url", "-url", "-host", "-endpoint", "-addr"}
	nameSuffixes = []string{"-client", "-api"}

	hostnameRe = regexp.MustCompile(`://([^/:?#]+)`)
	pathSegRe  = regexp.MustCompile(`^/?(?:api/)?(?:v\d+/)?([a-z][a-z0-9-]*)`)
)

// NormalizeIdentifier reduces an extracted identifier (PAYMENT_SERVICE_URL,
// PaymentServiceClient, payment_service) to repo-style dash-case:
// payment-service. It strips the env-var and client-class suffix
// conventions but keeps a trailing "-service", which is part of the
// display name.
func NormalizeIdentifier(identifier string) string {
	name := camelToDash(identifier)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.Trim(name, "-")

	for _, suf := range envSuffixes {
		if strings.HasSuffix(name, suf) && len(name) > len(suf) {
			name = strings.TrimSuffix(name, suf)
			break
		}
	}
	for _, suf := range nameSuffixes {
		if strings.HasSuffix(name, suf) && len(name) > len(suf) {
			name = strings.TrimSuffix(name, suf)
			break
		}
	}
	return strings.Trim(name, "-")
}

// CanonicalKey is the tolerant comparison key for service names: dash-case
// with the service-/svc- prefix and -service/-svc suffix conventions
// stripped, so "payment-service", "svc-payment" and "payment" all compare
// equal.
func CanonicalKey(name string) string {
	key := strings.ToLower(strings.ReplaceAll(name, "_", "-"))
	for _, pre := range []string{"service-", "svc-"} {
		if strings.HasPrefix(key, pre) && len(key) > len(pre) {
			key = strings.TrimPrefix(key, pre)
			break
		}
	}
	for _, suf := range []string{"-service", "-svc"} {
		if strings.HasSuffix(key, suf) && len(key) > len(suf) {
			key = strings.TrimSuffix(key, suf)
			break
		}
	}
	return key
}

// camelToDash splits camelCase boundaries with dashes. Identifiers that are
// already SCREAMING_SNAKE or dash-case pass through unchanged.
func camelToDash(s string) string {
	if s == strings.ToUpper(s) || !strings.ContainsFunc(s, unicode.IsUpper) {
		return s
	}
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) && i > 0 {
			prev := rune(s[i-1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) {
				b.WriteByte('-')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ServiceNameFromURL extracts a service name from a URL literal. Preference
// order: a hostname subdomain following the *-service convention, then the
// first path segment after an optional /api or version prefix. Returns ""
// when nothing recognizable is found; callers record those as unresolved.
func ServiceNameFromURL(rawURL string) string {
	if m := hostnameRe.FindStringSubmatch(rawURL); m != nil {
		host := m[1]
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		sub := strings.SplitN(host, ".", 2)[0]
		if strings.Contains(sub, "-service") || strings.Contains(sub, "service-") {
			return sub
		}
		// Strip the matched scheme+host so path extraction below sees only
		// the path.
		if i := strings.Index(rawURL, m[1]); i >= 0 {
			rawURL = rawURL[i+len(m[1]):]
		}
	}
	if m := pathSegRe.FindStringSubmatch(rawURL); m != nil {
		seg := m[1]
		switch seg {
		case "api", "http", "https":
			return ""
		}
		return seg
	}
	return ""
}

var testPathMarkers = []string{"/test/", "/tests/", "/fixtures/", "/__tests__/", "/testdata/", "/mocks/"}

// IsTestPath reports whether a file path sits under an obvious test or
// fixture directory.
func IsTestPath(filePath string) bool {
	p := "/" + strings.ToLower(filePath)
	for _, marker := range testPathMarkers {
		if strings.Contains(p, marker) {
			return true
		}
	}
	base := p[strings.LastIndexByte(p, '/')+1:]
	return strings.HasPrefix(base, "test_") || strings.Contains(base, ".test.") || strings.Contains(base, ".spec.")
}

// ServiceNameFromPath derives the service a file belongs to from its path:
// the segment after a services/, src/ or apps/ directory, or any segment
// following the *-service convention. The second return value reports
// whether the name was established by the directory layout; when false the
// name is just the repo-name fallback.
func ServiceNameFromPath(filePath, repoName string) (string, bool) {
	parts := strings.Split(filePath, "/")
	for i, part := range parts {
		switch part {
		case "services", "apps", "src", "app":
			if i+1 < len(parts)-1 { // next segment must be a directory, not the file itself
				return strings.ToLower(parts[i+1]), true
			}
		}
		if part != "" && (strings.Contains(part, "-service") || strings.Contains(part, "service-")) && i < len(parts)-1 {
			return strings.ToLower(part), true
		}
	}
	return strings.ToLower(repoName), false
}
