package compat

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	staticFile   = "static.yaml"
	compatFile   = "compat-data.yaml"
	featuresFile = "web-features.yaml"
)

//go:embed data/*.yaml
var embedded embed.FS

// Dataset holds the three resolution sources consulted by a Resolver.
type Dataset struct {
	Static   map[string]StaticStatus
	Aliases  map[string]string
	Compat   map[string]map[string]SupportList
	Features []WebFeature
}

// StaticStatus is a curated verdict: either one global status or a
// per-browser map.
type StaticStatus struct {
	Global     string
	PerBrowser map[string]string
}

// UnmarshalYAML accepts a scalar status or a browser → status mapping.
func (s *StaticStatus) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		s.Global = node.Value
		return nil
	case yaml.MappingNode:
		return node.Decode(&s.PerBrowser)
	default:
		return fmt.Errorf("line %d: static status must be a string or a map", node.Line)
	}
}

// SupportStatement is one browser support record in the compat dataset.
// VersionAdded and VersionRemoved are a version string, true, false or null.
type SupportStatement struct {
	VersionAdded          any    `yaml:"version_added"`
	VersionRemoved        any    `yaml:"version_removed"`
	Flags                 []any  `yaml:"flags"`
	Prefix                string `yaml:"prefix"`
	AlternativeName       string `yaml:"alternative_name"`
	PartialImplementation bool   `yaml:"partial_implementation"`
}

// SupportList is the ordered support history for one browser, current first.
type SupportList []SupportStatement

// UnmarshalYAML accepts either a single statement or a list of them.
func (l *SupportList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var stmts []SupportStatement
		if err := node.Decode(&stmts); err != nil {
			return err
		}
		*l = stmts
		return nil
	}
	var stmt SupportStatement
	if err := node.Decode(&stmt); err != nil {
		return err
	}
	*l = SupportList{stmt}
	return nil
}

// WebFeature is one entry of the secondary feature catalogue.
type WebFeature struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Baseline any               `yaml:"baseline"`
	Support  map[string]string `yaml:"support"`
}

type staticDoc struct {
	Features map[string]StaticStatus `yaml:"features"`
}

type compatDoc struct {
	Aliases map[string]string                 `yaml:"aliases"`
	Entries map[string]map[string]SupportList `yaml:"entries"`
}

type featuresDoc struct {
	Features []WebFeature `yaml:"features"`
}

// LoadDataset reads the three dataset files from dir. An empty dir loads the
// datasets embedded in the binary; files missing from dir fall back to the
// embedded copy.
func LoadDataset(dir string) (*Dataset, error) {
	var (
		static   staticDoc
		compat   compatDoc
		features featuresDoc
	)

	var g errgroup.Group
	g.Go(func() error { return readYAML(dir, staticFile, &static) })
	g.Go(func() error { return readYAML(dir, compatFile, &compat) })
	g.Go(func() error { return readYAML(dir, featuresFile, &features) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Dataset{
		Static:   static.Features,
		Aliases:  compat.Aliases,
		Compat:   compat.Entries,
		Features: features.Features,
	}, nil
}

func readYAML(dir, name string, out any) error {
	data, err := readDataFile(dir, name)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func readDataFile(dir, name string) ([]byte, error) {
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
	}
	data, err := fs.ReadFile(embedded, "data/"+name)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s: %w", name, err)
	}
	return data, nil
}
