// Package schemas holds the canonical data model shared by every component of
// the scanner: repository references, raw detector output, the dependency
// graph itself, and scan job records. Packages under internal/ depend on this
// package and never on each other's internals.
package schemas

import (
	"fmt"
	"path"
	"strings"
)

// Language identifies the source language of a scanned file. Detectors are
// registered per language; files whose language is unknown are skipped.
type Language string

const (
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangJava       Language = "java"
	LangUnknown    Language = "unknown"
)

// LanguageForPath maps a file path to a Language by extension.
func LanguageForPath(filePath string) Language {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".py":
		return LangPython
	case ".js", ".jsx":
		return LangJavaScript
	case ".ts", ".tsx":
		return LangTypeScript
	case ".java":
		return LangJava
	default:
		return LangUnknown
	}
}

// SourceExtensions is the set of file extensions the pipeline fetches and
// feeds to the detector set. Everything else in a repository is ignored.
var SourceExtensions = []string{".py", ".js", ".jsx", ".ts", ".tsx", ".java"}

// IsSourceFile reports whether the path carries one of SourceExtensions.
func IsSourceFile(filePath string) bool {
	ext := strings.ToLower(path.Ext(filePath))
	for _, e := range SourceExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// SkippedDirs are directory names that are never descended into when listing
// a repository tree. They hold vendored or generated content that would only
// pollute the graph.
var SkippedDirs = []string{".git", "node_modules", "__pycache__", ".venv", "venv", "target", ".idea", "vendor", "dist", "build"}

// PathIsSkipped reports whether any segment of the path is a skipped
// directory.
func PathIsSkipped(filePath string) bool {
	for _, seg := range strings.Split(filePath, "/") {
		for _, d := range SkippedDirs {
			if seg == d {
				return true
			}
		}
	}
	return false
}

// RepoRef identifies one repository to scan.
type RepoRef struct {
	FullName string `json:"full_name"` // "owner/name"
	Branch   string `json:"branch,omitempty"`
	CloneURL string `json:"clone_url,omitempty"`
}

// Owner returns the owner half of FullName, or "" if the name is not in
// owner/name form.
func (r RepoRef) Owner() string {
	if i := strings.IndexByte(r.FullName, '/'); i > 0 {
		return r.FullName[:i]
	}
	return ""
}

// Name returns the repository half of FullName.
func (r RepoRef) Name() string {
	if i := strings.IndexByte(r.FullName, '/'); i >= 0 {
		return r.FullName[i+1:]
	}
	return r.FullName
}

// Validate checks that the reference is in owner/name form.
func (r RepoRef) Validate() error {
	if r.Owner() == "" || r.Name() == "" {
		return fmt.Errorf("invalid repository reference %q: expected owner/name", r.FullName)
	}
	return nil
}

// FileRef is one entry in a repository's file listing.
type FileRef struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// CallKind tags the protocol role of a raw call site.
type CallKind string

const (
	CallHTTP          CallKind = "http"
	CallKafkaProducer CallKind = "kafka_producer"
	CallKafkaConsumer CallKind = "kafka_consumer"
)

// RawCallSite is the untyped output of a detector: a single lexical match in
// one source file, before any resolution to service identities. Identifier
// carries whatever the pattern recovered; a literal URL, an env-style token
// such as PAYMENT_SERVICE_URL, or a Kafka topic name.
type RawCallSite struct {
	Kind       CallKind `json:"kind"`
	Identifier string   `json:"identifier"`
	HTTPMethod string   `json:"http_method,omitempty"`
	Library    string   `json:"library"`
	File       string   `json:"file"`
	Line       int      `json:"line"`
	Confidence float64  `json:"confidence"`
}
