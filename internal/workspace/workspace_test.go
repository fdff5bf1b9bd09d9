package workspace

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seantiz/compatscan/internal/model"
)

func newTestAcquirer(t *testing.T, opts Options) *Acquirer {
	t.Helper()
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	return NewAcquirer(opts, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	zw.Close()
	return buf.Bytes()
}

func TestMethodFor(t *testing.T) {
	tests := []struct {
		name    string
		payload model.Payload
		want    string
	}{
		{"remote", model.Payload{RemoteURL: "https://example.com/repo.git"}, MethodClone},
		{"archive", model.Payload{Archive: []byte{1}}, MethodArchive},
		{"local", model.Payload{LocalPath: "/src"}, MethodLocal},
		{"none", model.Payload{}, ""},
		{"several", model.Payload{LocalPath: "/src", RemoteURL: "https://example.com"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MethodFor(tt.payload); got != tt.want {
				t.Errorf("MethodFor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAcquireLocal(t *testing.T) {
	src := t.TempDir()
	a := newTestAcquirer(t, Options{})

	ws, err := a.Acquire(context.Background(), model.Payload{LocalPath: src})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ws.Method != MethodLocal {
		t.Errorf("Method = %q, want %q", ws.Method, MethodLocal)
	}
	if err := ws.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("Cleanup removed a local source directory: %v", err)
	}
}

func TestAcquireLocalRejections(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()
	file := filepath.Join(allowed, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := newTestAcquirer(t, Options{AllowedRoots: []string{allowed}})
	for name, path := range map[string]string{
		"outside roots": outside,
		"not a dir":     file,
		"missing":       filepath.Join(allowed, "nope"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.Acquire(context.Background(), model.Payload{LocalPath: path})
			var acqErr *AcquisitionError
			if !errors.As(err, &acqErr) {
				t.Fatalf("error = %v, want *AcquisitionError", err)
			}
			if acqErr.Method != MethodLocal {
				t.Errorf("Method = %q, want %q", acqErr.Method, MethodLocal)
			}
		})
	}

	sub := filepath.Join(allowed, "app")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Acquire(context.Background(), model.Payload{LocalPath: sub}); err != nil {
		t.Errorf("Acquire inside allowed root: %v", err)
	}
}

func TestAcquireNoSource(t *testing.T) {
	a := newTestAcquirer(t, Options{})
	_, err := a.Acquire(context.Background(), model.Payload{})
	if !errors.Is(err, ErrNoSource) {
		t.Errorf("error = %v, want ErrNoSource", err)
	}
}

func TestAcquireArchiveFormats(t *testing.T) {
	files := map[string]string{
		"index.js":      "const x = a?.b;",
		"css/site.css":  ".a:has(.b) {}",
		"nested/a/b.js": "export {}",
	}
	for name, data := range map[string][]byte{
		"tar.gz": tarGz(t, files),
		"zip":    zipArchive(t, files),
	} {
		t.Run(name, func(t *testing.T) {
			workDir := t.TempDir()
			a := newTestAcquirer(t, Options{WorkDir: workDir})

			ws, err := a.Acquire(context.Background(), model.Payload{Archive: data})
			if err != nil {
				t.Fatalf("Acquire: %v", err)
			}
			if ws.Method != MethodArchive {
				t.Errorf("Method = %q, want %q", ws.Method, MethodArchive)
			}
			for rel, want := range files {
				got, err := os.ReadFile(filepath.Join(ws.Root, rel))
				if err != nil {
					t.Fatalf("read %s: %v", rel, err)
				}
				if string(got) != want {
					t.Errorf("%s = %q, want %q", rel, got, want)
				}
			}

			if err := ws.Cleanup(); err != nil {
				t.Fatalf("Cleanup: %v", err)
			}
			if _, err := os.Stat(ws.Root); !os.IsNotExist(err) {
				t.Errorf("staging dir still present after Cleanup: %v", err)
			}
		})
	}
}

func TestAcquireArchivePathTraversal(t *testing.T) {
	workDir := t.TempDir()
	a := newTestAcquirer(t, Options{WorkDir: workDir})
	data := tarGz(t, map[string]string{"../../../etc/evil": "pwned"})

	_, err := a.Acquire(context.Background(), model.Payload{Archive: data})
	if err == nil {
		t.Fatal("expected error for path traversal archive entry")
	}
	if !strings.Contains(err.Error(), "escapes") {
		t.Errorf("error = %q, want to contain 'escapes'", err.Error())
	}

	entries, _ := os.ReadDir(workDir)
	if len(entries) != 0 {
		t.Errorf("staging dir left behind after failed unpack: %v", entries)
	}
}

func TestAcquireArchiveSizeLimit(t *testing.T) {
	a := newTestAcquirer(t, Options{MaxExtractBytes: 8})
	data := tarGz(t, map[string]string{"big.js": strings.Repeat("x", 64)})

	_, err := a.Acquire(context.Background(), model.Payload{Archive: data})
	if !errors.Is(err, errExtractLimit) {
		t.Errorf("error = %v, want errExtractLimit", err)
	}
}

func TestAcquireArchiveUnknownFormat(t *testing.T) {
	a := newTestAcquirer(t, Options{})
	_, err := a.Acquire(context.Background(), model.Payload{Archive: []byte("plain text")})
	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) || acqErr.Method != MethodArchive {
		t.Errorf("error = %v, want archive AcquisitionError", err)
	}
}

func TestCloneRejectsOptionLikeURL(t *testing.T) {
	a := newTestAcquirer(t, Options{})
	_, err := a.Acquire(context.Background(), model.Payload{RemoteURL: "--upload-pack=evil"})
	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) || acqErr.Method != MethodClone {
		t.Errorf("error = %v, want clone AcquisitionError", err)
	}
}

func TestCloneMissingGitBinary(t *testing.T) {
	workDir := t.TempDir()
	a := newTestAcquirer(t, Options{WorkDir: workDir, GitBinary: filepath.Join(workDir, "no-such-git")})

	_, err := a.Acquire(context.Background(), model.Payload{RemoteURL: "https://example.invalid/repo.git"})
	if err == nil {
		t.Fatal("expected error when git is missing")
	}
	entries, _ := os.ReadDir(workDir)
	if len(entries) != 0 {
		t.Errorf("staging dir left behind after failed clone: %v", entries)
	}
}
