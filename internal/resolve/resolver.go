package resolve

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/applens/api/schemas"
)

// AmbiguityError reports an identifier that could not be bound to exactly
// one candidate. It is recorded as a diagnostic by the pipeline, never
// treated as fatal.
type AmbiguityError struct {
	Identifier string
	Candidates []string
	Reason     string
}

func (e *AmbiguityError) Error() string {
	if len(e.Candidates) > 0 {
		return fmt.Sprintf("identifier %q is ambiguous between %s", e.Identifier, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("identifier %q unresolved: %s", e.Identifier, e.Reason)
}

// Endpoint is a resolved call site. For HTTP both endpoints are bound; for
// Kafka only the sighting side is known (Target is zero) and the producer
// and consumer halves are joined by topic at graph build time.
type Endpoint struct {
	Source     schemas.Service
	Target     schemas.Service
	Kind       schemas.EdgeKind
	Role       schemas.CallKind
	Method     string
	URLPattern string
	Topic      string
	Evidence   string
	Confidence float64
}

// Resolver binds extracted identifiers to canonical service identities. The
// declared service names of every repository in the scan are registered up
// front and act as ground truth; identifiers that match none of them become
// "external" nodes scoped by normalized name alone.
type Resolver struct {
	log *zap.Logger

	mu    sync.RWMutex
	known []schemas.Service // first-seen order, ties broken by position
}

// New returns a Resolver with no registered repositories.
func New(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{log: logger.Named("resolve")}
}

// RegisterRepo declares a scanned repository's own service identity, making
// it a binding candidate for identifiers found in every other repository.
func (r *Resolver) RegisterRepo(repo schemas.RepoRef) schemas.Service {
	name := strings.ToLower(repo.Name())
	svc := schemas.Service{
		ID:   schemas.ServiceID(name, repo.FullName),
		Name: name,
		Repo: repo.FullName,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.known {
		if k.ID == svc.ID {
			return k
		}
	}
	r.known = append(r.known, svc)
	return svc
}

// SourceService identifies the service a call site belongs to, from the
// layout of its file path with the repository identity as ground truth.
func (r *Resolver) SourceService(repo schemas.RepoRef, filePath string) (schemas.Service, bool) {
	name, established := ServiceNameFromPath(filePath, repo.Name())
	svc := schemas.Service{
		ID:       schemas.ServiceID(name, repo.FullName),
		Name:     name,
		Repo:     repo.FullName,
		Language: schemas.LanguageForPath(filePath),
		PathHint: filePath,
	}
	return svc, established
}

// Resolve binds one raw call site to a resolved endpoint. A nil error with
// ok=false never happens; failures return *AmbiguityError so the caller can
// record them.
func (r *Resolver) Resolve(site schemas.RawCallSite, owner schemas.RepoRef) (Endpoint, error) {
	source, established := r.SourceService(owner, site.File)

	// Matches inside test fixtures that the directory layout cannot tie to
	// a real service are ignored rather than graphed as test doubles.
	if IsTestPath(site.File) && !established {
		return Endpoint{}, &AmbiguityError{
			Identifier: site.Identifier,
			Reason:     fmt.Sprintf("test fixture path %s has no canonical service", site.File),
		}
	}

	ep := Endpoint{
		Source:     source,
		Evidence:   fmt.Sprintf("%s:%d", site.File, site.Line),
		Confidence: site.Confidence,
	}

	switch site.Kind {
	case schemas.CallHTTP:
		target, err := r.resolveHTTPTarget(site.Identifier)
		if err != nil {
			return Endpoint{}, err
		}
		ep.Kind = schemas.EdgeHTTP
		ep.Role = schemas.CallHTTP
		ep.Target = target
		ep.Method = site.HTTPMethod
		ep.URLPattern = site.Identifier
		return ep, nil

	case schemas.CallKafkaProducer, schemas.CallKafkaConsumer:
		topic := strings.TrimSpace(site.Identifier)
		if topic == "" {
			return Endpoint{}, &AmbiguityError{Identifier: site.Identifier, Reason: "empty topic"}
		}
		ep.Kind = schemas.EdgeKafka
		ep.Role = site.Kind
		ep.Topic = topic
		return ep, nil

	default:
		return Endpoint{}, &AmbiguityError{Identifier: site.Identifier, Reason: fmt.Sprintf("unknown call kind %q", site.Kind)}
	}
}

// resolveHTTPTarget maps an HTTP identifier (URL literal or env-style
// token) to a service node.
func (r *Resolver) resolveHTTPTarget(identifier string) (schemas.Service, error) {
	var name string
	if strings.Contains(identifier, "://") || strings.HasPrefix(identifier, "/") {
		name = ServiceNameFromURL(identifier)
	} else {
		name = NormalizeIdentifier(identifier)
	}
	if name == "" {
		return schemas.Service{}, &AmbiguityError{Identifier: identifier, Reason: "no recognizable service name"}
	}

	if svc, ok := r.bindKnown(name); ok {
		return svc, nil
	}

	// No scanned repository claims this name: converge on a single external
	// node keyed by the normalized name alone.
	return schemas.Service{
		ID:   schemas.ServiceID(name, ""),
		Name: name,
		Repo: schemas.ExternalRepo,
	}, nil
}

// bindKnown matches a normalized name against registered repository
// services. Ties break by exact name, then longest common substring, then
// first-seen order.
func (r *Resolver) bindKnown(name string) (schemas.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := CanonicalKey(name)
	var candidates []schemas.Service
	for _, k := range r.known {
		kKey := CanonicalKey(k.Name)
		if kKey == key || strings.Contains(kKey, key) || strings.Contains(key, kKey) {
			candidates = append(candidates, k)
		}
	}
	switch len(candidates) {
	case 0:
		return schemas.Service{}, false
	case 1:
		return candidates[0], true
	}

	// Exact normalized-name match wins outright.
	for _, c := range candidates {
		if strings.EqualFold(c.Name, name) || CanonicalKey(c.Name) == key {
			return c, true
		}
	}
	// Longest common substring next; candidates is in first-seen order, so
	// the first best match also settles the final tie.
	best := candidates[0]
	bestLen := commonSubstringLen(CanonicalKey(best.Name), key)
	for _, c := range candidates[1:] {
		if l := commonSubstringLen(CanonicalKey(c.Name), key); l > bestLen {
			best, bestLen = c, l
		}
	}
	r.log.Debug("Ambiguous identifier bound by substring heuristic",
		zap.String("identifier", name),
		zap.String("chosen", best.Name),
		zap.Int("candidates", len(candidates)))
	return best, true
}

// commonSubstringLen returns the length of the longest common substring of
// a and b. Inputs are short service names, so the quadratic scan is fine.
func commonSubstringLen(a, b string) int {
	best := 0
	for i := 0; i < len(a); i++ {
		for j := 0; j < len(b); j++ {
			k := 0
			for i+k < len(a) && j+k < len(b) && a[i+k] == b[j+k] {
				k++
			}
			if k > best {
				best = k
			}
		}
	}
	return best
}
