package analyzer

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExclude lists directory names never walked.
var DefaultExclude = []string{"node_modules", ".git", "dist", "build", "vendor", "coverage"}

// WalkOptions selects the files a scan analyzes.
type WalkOptions struct {
	// Extensions is the allow-list, lower case with the leading dot. Empty
	// allows every extension.
	Extensions []string
	// MaxFileBytes skips larger files. Zero means no limit.
	MaxFileBytes int64
	// Exclude holds directory or file names and glob patterns. Patterns
	// containing a slash match the slash-separated relative path; others
	// match any single path element.
	Exclude []string
}

// File is an eligible file found by Walk.
type File struct {
	Path string
	Size int64
}

// Walk lists the eligible files under root, sorted by relative path.
// Symlinks are not followed.
func Walk(ctx context.Context, root string, opts WalkOptions) ([]File, error) {
	allow := make(map[string]bool, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allow[ext] = true
	}

	var files []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if excluded(rel, opts.Exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if len(allow) > 0 && !allow[strings.ToLower(filepath.Ext(rel))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if opts.MaxFileBytes > 0 && info.Size() > opts.MaxFileBytes {
			return nil
		}
		files = append(files, File{Path: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func excluded(rel string, patterns []string) bool {
	base := rel[strings.LastIndex(rel, "/")+1:]
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(p, "/") {
			if ok, _ := filepath.Match(strings.TrimSuffix(p, "/"), rel); ok {
				return true
			}
			continue
		}
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}
