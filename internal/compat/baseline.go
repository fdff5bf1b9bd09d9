package compat

import (
	"strings"

	"github.com/seantiz/compatscan/internal/model"
)

// Rank orders baseline statuses from least to most restrictive. Unknown
// statuses rank 0.
func Rank(status string) int {
	switch status {
	case model.BaselineUnsupported:
		return 3
	case model.BaselinePartial:
		return 2
	case model.BaselineSupported:
		return 1
	default:
		return 0
	}
}

// Aggregate returns the most restrictive status across browsers. An empty
// map aggregates to unknown.
func Aggregate(browsers map[string]string) string {
	global := model.BaselineUnknown
	best := 0
	for _, status := range browsers {
		if r := Rank(status); r > best {
			best = r
			global = status
		}
	}
	return global
}

// Restrict narrows entry to the given browsers and recomputes its global
// status. Browsers the entry has no verdict for are reported unknown. An
// empty targets list returns a copy of entry unchanged.
func Restrict(entry model.BaselineEntry, targets []string) model.BaselineEntry {
	if len(targets) == 0 {
		return entry.Clone()
	}
	out := entry
	out.Browsers = make(map[string]string, len(targets))
	for _, b := range targets {
		status, ok := entry.Browsers[b]
		if !ok {
			status = model.BaselineUnknown
		}
		out.Browsers[b] = status
	}
	out.Status = Aggregate(out.Browsers)
	return out
}

// classifySupport reduces one browser's support history to a status. Only
// the current (first) statement counts.
func classifySupport(list SupportList) string {
	if len(list) == 0 {
		return model.BaselineUnsupported
	}
	stmt := list[0]
	if !versionPresent(stmt.VersionAdded) || versionPresent(stmt.VersionRemoved) {
		return model.BaselineUnsupported
	}
	if len(stmt.Flags) > 0 || stmt.Prefix != "" || stmt.AlternativeName != "" || stmt.PartialImplementation {
		return model.BaselinePartial
	}
	return model.BaselineSupported
}

// versionPresent interprets a version_added / version_removed value.
func versionPresent(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		s := strings.TrimSpace(val)
		return s != "" && !strings.EqualFold(s, "preview") && !strings.EqualFold(s, "false")
	default:
		return true
	}
}

// normalizeStatus maps dataset spellings onto the baseline statuses.
func normalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case model.BaselineSupported, "yes", "full":
		return model.BaselineSupported
	case model.BaselinePartial:
		return model.BaselinePartial
	case model.BaselineUnsupported, "no", "none":
		return model.BaselineUnsupported
	default:
		return model.BaselineUnknown
	}
}
