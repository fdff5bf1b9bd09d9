package model

// Baseline status values.
const (
	BaselineSupported   = "supported"
	BaselinePartial     = "partial"
	BaselineUnsupported = "unsupported"
	BaselineUnknown     = "unknown"
)

// Tracked browser identifiers.
const (
	BrowserChrome  = "chrome"
	BrowserEdge    = "edge"
	BrowserFirefox = "firefox"
	BrowserSafari  = "safari"
)

// DefaultBrowsers is the browser set tracked when nothing narrower is asked for.
var DefaultBrowsers = []string{BrowserChrome, BrowserEdge, BrowserFirefox, BrowserSafari}

// FeatureRecord maps a file path (relative to the workspace root) to the
// feature keys detected in it, in detection order.
type FeatureRecord map[string][]string

// BaselineEntry is the cross-browser verdict for one feature key.
type BaselineEntry struct {
	Feature  string            `json:"feature"`
	Status   string            `json:"status"`
	Browsers map[string]string `json:"browsers"`
	Note     string            `json:"note,omitempty"`
	Source   string            `json:"source"`
}

// Clone returns a deep copy of e.
func (e BaselineEntry) Clone() BaselineEntry {
	cp := e
	cp.Browsers = make(map[string]string, len(e.Browsers))
	for k, v := range e.Browsers {
		cp.Browsers[k] = v
	}
	return cp
}

// EnvironmentSnapshot summarizes the languages and manifests in a workspace.
type EnvironmentSnapshot struct {
	Languages map[string]int `json:"languages"`
	Manifests []string       `json:"manifests"`
}

// ArchitectureSnapshot summarizes how scanned files are laid out.
type ArchitectureSnapshot struct {
	TopLevel   map[string]int `json:"topLevel"`
	TotalFiles int            `json:"totalFiles"`
	TotalBytes int64          `json:"totalBytes"`
}

// SecurityFinding records where a security-sensitive feature was detected.
type SecurityFinding struct {
	Feature string   `json:"feature"`
	Files   []string `json:"files"`
}

// SecuritySnapshot lists security-sensitive feature usage.
type SecuritySnapshot struct {
	Findings []SecurityFinding `json:"findings"`
}

// Suggestion is one remediation hint attached to a scan result.
type Suggestion struct {
	Feature string `json:"feature,omitempty"`
	Title   string `json:"title"`
	Detail  string `json:"detail,omitempty"`
}

// Result is the terminal outcome of a job.
type Result struct {
	Cancelled    bool                     `json:"cancelled,omitempty"`
	Reason       string                   `json:"reason,omitempty"`
	Error        string                   `json:"error,omitempty"`
	Method       string                   `json:"method,omitempty"`
	FilesScanned int                      `json:"filesScanned"`
	FilesSkipped int                      `json:"filesSkipped"`
	Features     FeatureRecord            `json:"features,omitempty"`
	Baseline     map[string]BaselineEntry `json:"baseline,omitempty"`
	Environment  *EnvironmentSnapshot     `json:"environment,omitempty"`
	Architecture *ArchitectureSnapshot    `json:"architecture,omitempty"`
	Security     *SecuritySnapshot        `json:"security,omitempty"`
	Suggestions  []Suggestion             `json:"suggestions,omitempty"`
	DurationMS   int                      `json:"durationMs"`
}
