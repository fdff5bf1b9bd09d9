// Package analyzer extracts feature keys from source files.
//
// An Analyzer handles a set of file extensions and reports the feature keys
// it detects in a file, in detection order. The Registry routes files to
// analyzers and turns analyzer failures into AnalysisErrors so a bad file
// never aborts a scan.
package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Analyzer detects feature keys in one file.
type Analyzer interface {
	Name() string
	// Extensions lists handled extensions, lower case with the leading dot.
	Extensions() []string
	Analyze(ctx context.Context, path string, content []byte) ([]string, error)
}

// AnalysisError is a per-file failure. The file is skipped.
type AnalysisError struct {
	Path     string
	Analyzer string
	Err      error
}

func (e *AnalysisError) Error() string {
	if e.Analyzer == "" {
		return fmt.Sprintf("analyze %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("analyze %s (%s): %v", e.Path, e.Analyzer, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Registry maps file extensions to analyzers.
type Registry struct {
	analyzers []Analyzer
	byExt     map[string][]Analyzer
}

// NewRegistry creates a registry over the given analyzers. Analyzers run in
// the order given.
func NewRegistry(analyzers ...Analyzer) *Registry {
	r := &Registry{byExt: make(map[string][]Analyzer)}
	for _, a := range analyzers {
		r.analyzers = append(r.analyzers, a)
		for _, ext := range a.Extensions() {
			ext = strings.ToLower(ext)
			r.byExt[ext] = append(r.byExt[ext], a)
		}
	}
	return r
}

// Default returns a registry with the built-in JavaScript/TypeScript, CSS
// and HTML analyzers.
func Default() *Registry {
	return NewRegistry(JavaScript(), CSS(), HTML())
}

// ForFile returns the analyzers that handle path.
func (r *Registry) ForFile(path string) []Analyzer {
	return r.byExt[strings.ToLower(filepath.Ext(path))]
}

// Extensions returns every handled extension, sorted.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Names returns the registered analyzer names in run order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.analyzers))
	for i, a := range r.analyzers {
		names[i] = a.Name()
	}
	return names
}

// AnalyzeFile reads root/rel and runs every analyzer for it. Keys are
// de-duplicated, keeping first-detection order. Any analyzer error or panic
// is returned as an *AnalysisError.
func (r *Registry) AnalyzeFile(ctx context.Context, root, rel string) ([]string, error) {
	analyzers := r.ForFile(rel)
	if len(analyzers) == 0 {
		return nil, nil
	}
	content, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		return nil, &AnalysisError{Path: rel, Err: err}
	}

	var keys []string
	seen := make(map[string]bool)
	for _, a := range analyzers {
		found, err := runAnalyzer(ctx, a, rel, content)
		if err != nil {
			return nil, &AnalysisError{Path: rel, Analyzer: a.Name(), Err: err}
		}
		for _, k := range found {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys, nil
}

func runAnalyzer(ctx context.Context, a Analyzer, path string, content []byte) (keys []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analyzer panicked: %v", r)
		}
	}()
	return a.Analyze(ctx, path, content)
}

var securitySensitive = map[string]bool{
	"js.eval":           true,
	"js.new-function":   true,
	"js.innerhtml":      true,
	"js.document-write": true,
}

// SecuritySensitive reports whether a feature key marks code worth a
// security review.
func SecuritySensitive(key string) bool {
	return securitySensitive[key]
}

var languages = map[string]string{
	".js":   "JavaScript",
	".mjs":  "JavaScript",
	".cjs":  "JavaScript",
	".jsx":  "JavaScript",
	".ts":   "TypeScript",
	".tsx":  "TypeScript",
	".mts":  "TypeScript",
	".css":  "CSS",
	".scss": "SCSS",
	".less": "Less",
	".html": "HTML",
	".htm":  "HTML",
	".vue":  "Vue",
}

// LanguageFor names the language of path by extension, or "Other".
func LanguageFor(path string) string {
	if lang, ok := languages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "Other"
}

var manifestNames = []string{
	".browserslistrc",
	".babelrc",
	"babel.config.js",
	"package-lock.json",
	"package.json",
	"pnpm-lock.yaml",
	"tsconfig.json",
	"vite.config.js",
	"vite.config.ts",
	"webpack.config.js",
	"yarn.lock",
}

// DetectManifests lists the build manifests present at the workspace root.
func DetectManifests(root string) []string {
	var found []string
	for _, name := range manifestNames {
		if info, err := os.Stat(filepath.Join(root, name)); err == nil && !info.IsDir() {
			found = append(found, name)
		}
	}
	return found
}
