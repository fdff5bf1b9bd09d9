// Package compat resolves feature keys to cross-browser baseline verdicts.
//
// A lookup consults, in order, a curated static map, an alias into a
// browser-compat dataset, and a fuzzy match against a web-features
// catalogue. Keys none of them know resolve to unknown.
package compat

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sahilm/fuzzy"

	"github.com/seantiz/compatscan/internal/model"
)

// Sources recorded on a BaselineEntry.
const (
	SourceStatic      = "static"
	SourceCompatData  = "compat-data"
	SourceWebFeatures = "web-features"
	SourceNone        = "none"
)

// DefaultCacheSize is used when New is given a non-positive cache size.
const DefaultCacheSize = 1024

// minFuzzyQuery is the shortest normalized key that may be fuzzy matched.
const minFuzzyQuery = 3

// Resolver maps feature keys to BaselineEntry values. It is safe for
// concurrent use; the datasets are never mutated after New.
type Resolver struct {
	ds       *Dataset
	browsers []string
	cache    *lru.Cache[string, model.BaselineEntry]

	// candidates holds the fuzzy match strings; owners[i] is the index into
	// ds.Features that candidates[i] came from.
	candidates []string
	owners     []int
}

// New creates a Resolver over ds tracking browsers. An empty browser list
// tracks model.DefaultBrowsers.
func New(ds *Dataset, browsers []string, cacheSize int) (*Resolver, error) {
	if ds == nil {
		return nil, fmt.Errorf("compat: nil dataset")
	}
	if len(browsers) == 0 {
		browsers = model.DefaultBrowsers
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, model.BaselineEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create compat cache: %w", err)
	}

	r := &Resolver{
		ds:       ds,
		browsers: append([]string(nil), browsers...),
		cache:    cache,
	}
	for i, f := range ds.Features {
		r.candidates = append(r.candidates, strings.ToLower(f.ID))
		r.owners = append(r.owners, i)
		if f.Name != "" {
			r.candidates = append(r.candidates, strings.ToLower(f.Name))
			r.owners = append(r.owners, i)
		}
	}
	return r, nil
}

// Browsers returns the tracked browser identifiers.
func (r *Resolver) Browsers() []string {
	return append([]string(nil), r.browsers...)
}

// Lookup resolves key. The same key always yields the same entry; the
// returned value is a copy the caller may modify.
func (r *Resolver) Lookup(key string) model.BaselineEntry {
	if entry, ok := r.cache.Get(key); ok {
		cacheHitsTotal.Inc()
		lookupsTotal.WithLabelValues(entry.Source).Inc()
		return entry.Clone()
	}

	entry := r.resolve(key)
	r.cache.Add(key, entry)
	lookupsTotal.WithLabelValues(entry.Source).Inc()
	return entry.Clone()
}

func (r *Resolver) resolve(key string) model.BaselineEntry {
	if entry, ok := r.fromStatic(key); ok {
		return entry
	}
	if entry, ok := r.fromCompatData(key); ok {
		return entry
	}
	if entry, ok := r.fromWebFeatures(key); ok {
		return entry
	}

	browsers := make(map[string]string, len(r.browsers))
	for _, b := range r.browsers {
		browsers[b] = model.BaselineUnknown
	}
	return model.BaselineEntry{
		Feature:  key,
		Status:   model.BaselineUnknown,
		Browsers: browsers,
		Note:     fmt.Sprintf("no compatibility data for %q", key),
		Source:   SourceNone,
	}
}

func (r *Resolver) fromStatic(key string) (model.BaselineEntry, bool) {
	st, ok := r.ds.Static[key]
	if !ok {
		return model.BaselineEntry{}, false
	}
	browsers := make(map[string]string, len(r.browsers))
	for _, b := range r.browsers {
		if st.PerBrowser != nil {
			browsers[b] = normalizeStatus(st.PerBrowser[b])
		} else {
			browsers[b] = normalizeStatus(st.Global)
		}
	}
	return r.entry(key, browsers, SourceStatic, ""), true
}

func (r *Resolver) fromCompatData(key string) (model.BaselineEntry, bool) {
	path, ok := r.ds.Aliases[key]
	if !ok {
		return model.BaselineEntry{}, false
	}
	support, ok := r.ds.Compat[path]
	if !ok {
		return model.BaselineEntry{}, false
	}
	browsers := make(map[string]string, len(r.browsers))
	for _, b := range r.browsers {
		list, ok := support[b]
		if !ok {
			browsers[b] = model.BaselineUnknown
			continue
		}
		browsers[b] = classifySupport(list)
	}
	return r.entry(key, browsers, SourceCompatData, ""), true
}

func (r *Resolver) fromWebFeatures(key string) (model.BaselineEntry, bool) {
	f, ok := r.matchFeature(key)
	if !ok {
		return model.BaselineEntry{}, false
	}
	browsers := make(map[string]string, len(r.browsers))
	for _, b := range r.browsers {
		if versionPresent(f.Support[b]) {
			browsers[b] = model.BaselineSupported
		} else {
			browsers[b] = model.BaselineUnsupported
		}
	}
	note := fmt.Sprintf("matched web feature %q", f.ID)
	return r.entry(key, browsers, SourceWebFeatures, note), true
}

// matchFeature finds the web feature for key: an exact id match on the
// normalized key first, then the best fuzzy match that is not much longer
// than the query.
func (r *Resolver) matchFeature(key string) (WebFeature, bool) {
	query := normalizeKey(key)
	if query == "" {
		return WebFeature{}, false
	}
	for _, f := range r.ds.Features {
		if strings.EqualFold(f.ID, query) {
			return f, true
		}
	}
	if len(query) < minFuzzyQuery {
		return WebFeature{}, false
	}
	for _, m := range fuzzy.Find(query, r.candidates) {
		if len(m.Str) > 2*len(query) {
			continue
		}
		return r.ds.Features[r.owners[m.Index]], true
	}
	return WebFeature{}, false
}

func (r *Resolver) entry(key string, browsers map[string]string, source, note string) model.BaselineEntry {
	return model.BaselineEntry{
		Feature:  key,
		Status:   Aggregate(browsers),
		Browsers: browsers,
		Note:     note,
		Source:   source,
	}
}

// normalizeKey strips the namespace from a feature key and turns it into a
// slug: "js.array.findLast" becomes "array-findlast".
func normalizeKey(key string) string {
	if i := strings.Index(key, "."); i >= 0 {
		key = key[i+1:]
	}
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.ReplaceAll(key, ".", "-")
}
