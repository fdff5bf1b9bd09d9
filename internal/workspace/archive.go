package workspace

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var errExtractLimit = errors.New("archive exceeds extraction size limit")

func (a *Acquirer) unpack(ctx context.Context, data []byte) (*Workspace, error) {
	dir, err := a.stage()
	if err != nil {
		return nil, err
	}

	switch {
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b}):
		err = extractTarGz(ctx, dir, data, a.opts.MaxExtractBytes)
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		err = extractZip(ctx, dir, data, a.opts.MaxExtractBytes)
	default:
		err = errors.New("archive is neither tar.gz nor zip")
	}
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &Workspace{Root: dir, staged: dir}, nil
}

// safeTarget joins name onto dir and rejects entries that escape it.
func safeTarget(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.Clean("/"+name))
	if !strings.HasPrefix(target, dir+string(filepath.Separator)) && target != dir {
		return "", fmt.Errorf("archive entry %q escapes extraction directory", name)
	}
	if strings.Contains(filepath.ToSlash(name), "../") || strings.HasSuffix(name, "..") {
		return "", fmt.Errorf("archive entry %q escapes extraction directory", name)
	}
	return target, nil
}

// extractTarGz unpacks a tar.gz into dir. Only directories and regular
// files are materialized; links and devices are skipped.
func extractTarGz(ctx context.Context, dir string, data []byte, limit int64) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	budget := limit
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		target, err := safeTarget(dir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			n, err := writeFile(target, tr, budget)
			if err != nil {
				return err
			}
			budget -= n
		}
	}
}

func extractZip(ctx context.Context, dir string, data []byte, limit int64) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	budget := limit
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := safeTarget(dir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", f.Name, err)
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		n, err := writeFile(target, rc, budget)
		rc.Close()
		if err != nil {
			return err
		}
		budget -= n
	}
	return nil
}

// writeFile copies at most budget bytes from r into path.
func writeFile(path string, r io.Reader, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create parent dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(r, budget+1))
	if err != nil {
		return n, fmt.Errorf("write file: %w", err)
	}
	if n > budget {
		return n, errExtractLimit
	}
	return n, nil
}
