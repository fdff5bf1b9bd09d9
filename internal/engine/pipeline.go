package engine

import (
	"context"
	"log/slog"
	"math"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/seantiz/compatscan/internal/analyzer"
	"github.com/seantiz/compatscan/internal/compat"
	"github.com/seantiz/compatscan/internal/model"
	"github.com/seantiz/compatscan/internal/suggest"
	"github.com/seantiz/compatscan/internal/workspace"
)

// Stage progress checkpoints, reported on entering each stage.
const (
	ProgressQueued     = 0
	ProgressAcquire    = 20
	ProgressAnalyze    = 50
	ProgressSynthesize = 80
	ProgressDone       = 100
)

// Stage names.
const (
	StepClone      = "Cloning repository"
	StepUnpack     = "Unpacking archive"
	StepLocal      = "Resolving local path"
	StepAnalyze    = "Analyzing files"
	StepSynthesize = "Synthesizing report"
	StepCompleted  = "Completed"
)

// AcquireStep names the acquisition stage for a workspace method.
func AcquireStep(method string) string {
	switch method {
	case workspace.MethodClone:
		return StepClone
	case workspace.MethodArchive:
		return StepUnpack
	default:
		return StepLocal
	}
}

// AnalyzeProgress maps done of total analyzed files onto the analyze band.
func AnalyzeProgress(done, total int) int {
	if total <= 0 {
		return ProgressSynthesize
	}
	return ProgressAnalyze + int(math.Round(float64(done)/float64(total)*30))
}

// Acquirer resolves a payload into a workspace on disk.
type Acquirer interface {
	Acquire(ctx context.Context, p model.Payload) (*workspace.Workspace, error)
}

// Resolver classifies feature keys.
type Resolver interface {
	Lookup(key string) model.BaselineEntry
}

// PipelineConfig wires the scan pipeline's collaborators.
type PipelineConfig struct {
	Acquirer  Acquirer
	Resolver  Resolver
	Analyzers *analyzer.Registry
	Walk      analyzer.WalkOptions
	Suggester suggest.Generator
}

// Pipeline is the Runner for scan jobs: acquire a workspace, analyze its
// files, then synthesize the report.
type Pipeline struct {
	cfg    PipelineConfig
	logger *slog.Logger
}

// NewPipeline creates the scan runner. Without a walk extension allow-list
// the analyzers' extensions are used.
func NewPipeline(cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if cfg.Analyzers == nil {
		cfg.Analyzers = analyzer.Default()
	}
	if len(cfg.Walk.Extensions) == 0 {
		cfg.Walk.Extensions = cfg.Analyzers.Extensions()
	}
	return &Pipeline{cfg: cfg, logger: logger}
}

// Info implements Runner.
func (p *Pipeline) Info() RunnerInfo {
	return RunnerInfo{
		Kind:        model.KindScan,
		Description: "Scans a source tree for web platform features and reports their browser support.",
		Stages:      []string{"acquire", "analyze", "synthesize"},
	}
}

// Run implements Runner.
func (p *Pipeline) Run(ctx context.Context, exec *Execution) (*model.Result, error) {
	payload := exec.Payload()
	method := workspace.MethodFor(payload)

	if err := exec.Checkpoint(); err != nil {
		return nil, err
	}
	exec.Progress(ProgressAcquire, AcquireStep(method), 0)
	stageStart := time.Now()
	ws, err := p.cfg.Acquirer.Acquire(ctx, payload)
	stageDuration.WithLabelValues("acquire").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		if cerr := exec.Checkpoint(); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			exec.Logger().Warn("workspace cleanup failed", "error", err)
		}
	}()

	if err := exec.Checkpoint(); err != nil {
		return nil, err
	}
	exec.Progress(ProgressAnalyze, StepAnalyze, 0)
	stageStart = time.Now()
	files, features, skipped, err := p.analyze(ctx, exec, ws.Root, payload)
	stageDuration.WithLabelValues("analyze").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return nil, err
	}

	if err := exec.Checkpoint(); err != nil {
		return nil, err
	}
	exec.Progress(ProgressSynthesize, StepSynthesize, 0)
	stageStart = time.Now()
	result := p.synthesize(ctx, exec, ws.Root, files, features)
	stageDuration.WithLabelValues("synthesize").Observe(time.Since(stageStart).Seconds())
	result.Method = ws.Method
	result.FilesScanned = len(files) - skipped
	result.FilesSkipped = skipped

	if err := exec.Checkpoint(); err != nil {
		return nil, err
	}
	return result, nil
}

// analyze walks the workspace and runs the analyzers file by file,
// checking for cancellation before each file.
func (p *Pipeline) analyze(ctx context.Context, exec *Execution, root string, payload model.Payload) ([]analyzer.File, model.FeatureRecord, int, error) {
	opts := p.cfg.Walk
	opts.Exclude = append(append([]string{}, opts.Exclude...), payload.Exclude...)
	files, err := analyzer.Walk(ctx, root, opts)
	if err != nil {
		if cerr := exec.Checkpoint(); cerr != nil {
			return nil, nil, 0, cerr
		}
		return nil, nil, 0, err
	}

	features := make(model.FeatureRecord)
	skipped := 0
	start := time.Now()
	for i, f := range files {
		if err := exec.Checkpoint(); err != nil {
			return nil, nil, 0, err
		}
		keys, err := p.cfg.Analyzers.AnalyzeFile(ctx, root, f.Path)
		if err != nil {
			exec.Logger().Warn("file skipped", "path", f.Path, "error", err)
			skipped++
		} else if len(keys) > 0 {
			features[f.Path] = keys
		}

		done := i + 1
		perFile := time.Since(start) / time.Duration(done)
		eta := perFile * time.Duration(len(files)-done)
		exec.Progress(AnalyzeProgress(done, len(files)), StepAnalyze, eta)
	}
	return files, features, skipped, nil
}

// synthesize builds the snapshots, resolves each unique feature key once,
// and gathers suggestions.
func (p *Pipeline) synthesize(ctx context.Context, exec *Execution, root string, files []analyzer.File, features model.FeatureRecord) *model.Result {
	env := &model.EnvironmentSnapshot{
		Languages: make(map[string]int),
		Manifests: analyzer.DetectManifests(root),
	}
	arch := &model.ArchitectureSnapshot{TopLevel: make(map[string]int)}
	for _, f := range files {
		env.Languages[analyzer.LanguageFor(f.Path)]++
		arch.TopLevel[topLevel(f.Path)]++
		arch.TotalFiles++
		arch.TotalBytes += f.Size
	}

	sensitive := make(map[string][]string)
	unique := make(map[string]bool)
	for file, keys := range features {
		for _, k := range keys {
			unique[k] = true
			if analyzer.SecuritySensitive(k) {
				sensitive[k] = append(sensitive[k], file)
			}
		}
	}

	keys := make([]string, 0, len(unique))
	for k := range unique {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p.logger.Debug("resolving baseline", "job_id", exec.JobID(), "features", len(keys))
	targets := exec.Payload().Targets
	baseline := make(map[string]model.BaselineEntry, len(keys))
	for _, k := range keys {
		entry := p.cfg.Resolver.Lookup(k)
		if len(targets) > 0 {
			entry = compat.Restrict(entry, targets)
		}
		baseline[k] = entry
	}

	security := &model.SecuritySnapshot{Findings: []model.SecurityFinding{}}
	for _, k := range keys {
		locs, ok := sensitive[k]
		if !ok {
			continue
		}
		sort.Strings(locs)
		security.Findings = append(security.Findings, model.SecurityFinding{Feature: k, Files: locs})
	}

	suggestions := suggest.Safe(ctx, p.cfg.Suggester, suggest.Request{
		Baseline: baseline,
		Security: security,
	}, exec.Logger())

	return &model.Result{
		Features:     features,
		Baseline:     baseline,
		Environment:  env,
		Architecture: arch,
		Security:     security,
		Suggestions:  suggestions,
	}
}

// topLevel returns the first element of a slash-separated relative path,
// or "." for files at the root.
func topLevel(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return "."
	}
	if i := strings.Index(dir, "/"); i >= 0 {
		return dir[:i]
	}
	return dir
}

