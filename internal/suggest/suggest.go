// Package suggest produces remediation hints for a finished scan.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/seantiz/compatscan/internal/model"
)

// Request is the scan outcome a Generator works from.
type Request struct {
	Baseline map[string]model.BaselineEntry
	Security *model.SecuritySnapshot
}

// Response carries the generated hints.
type Response struct {
	Items []model.Suggestion `json:"items"`
}

// Generator produces suggestions. Implementations may fail; callers go
// through Safe.
type Generator interface {
	Suggest(ctx context.Context, req Request) (Response, error)
}

// Safe runs g and never fails: errors and panics are logged and yield no
// suggestions. A nil Generator yields none.
func Safe(ctx context.Context, g Generator, req Request, logger *slog.Logger) (items []model.Suggestion) {
	if g == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("suggestion generator panicked", "panic", fmt.Sprint(r))
			items = nil
		}
	}()
	resp, err := g.Suggest(ctx, req)
	if err != nil {
		logger.Warn("suggestion generator failed", "error", err)
		return nil
	}
	return resp.Items
}

// Rules is the built-in Generator. It suggests fallbacks for features that
// are not fully supported and review for security-sensitive usage.
type Rules struct{}

// Suggest implements Generator.
func (Rules) Suggest(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	keys := make([]string, 0, len(req.Baseline))
	for k := range req.Baseline {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var items []model.Suggestion
	for _, k := range keys {
		entry := req.Baseline[k]
		lagging := laggingBrowsers(entry)
		switch entry.Status {
		case model.BaselineUnsupported:
			items = append(items, model.Suggestion{
				Feature: k,
				Title:   fmt.Sprintf("Provide a fallback for %s", k),
				Detail:  fmt.Sprintf("Not available in %s. Polyfill it or guard it with feature detection.", strings.Join(lagging, ", ")),
			})
		case model.BaselinePartial:
			items = append(items, model.Suggestion{
				Feature: k,
				Title:   fmt.Sprintf("Test %s where support is partial", k),
				Detail:  fmt.Sprintf("Partial or prefixed support in %s.", strings.Join(lagging, ", ")),
			})
		}
	}

	if req.Security != nil {
		for _, f := range req.Security.Findings {
			if len(f.Files) == 0 {
				continue
			}
			items = append(items, model.Suggestion{
				Feature: f.Feature,
				Title:   fmt.Sprintf("Review use of %s", f.Feature),
				Detail:  fmt.Sprintf("Found in %d file(s), starting with %s.", len(f.Files), f.Files[0]),
			})
		}
	}
	return Response{Items: items}, nil
}

// laggingBrowsers lists, sorted, the browsers whose status matches the
// entry's global status.
func laggingBrowsers(entry model.BaselineEntry) []string {
	var out []string
	for b, s := range entry.Browsers {
		if s == entry.Status {
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out
}
