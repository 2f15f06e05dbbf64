package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"basegraph.app/localizer/internal/model"
)

const localEntryExt = ".json"

var ErrInvalidKey = errors.New("invalid project or package key")

// LocalPackageDetailsStore keeps one JSON file per package under
// <root>/<project>/. Writes go through a temp file and a rename.
type LocalPackageDetailsStore struct {
	rootDir string
}

type localEntry struct {
	model.PackageDetails
	SHA256 string `json:"sha256"`
}

func NewLocalPackageDetailsStore(rootDir string) (*LocalPackageDetailsStore, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("package details root directory is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating package details root directory: %w", err)
	}
	return &LocalPackageDetailsStore{rootDir: rootDir}, nil
}

func (s *LocalPackageDetailsStore) Get(ctx context.Context, project, pkg string) (model.PackageDetails, error) {
	path, err := s.entryPath(project, pkg)
	if err != nil {
		return model.PackageDetails{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.PackageDetails{}, ErrNotFound
		}
		return model.PackageDetails{}, fmt.Errorf("reading package details: %w", err)
	}

	// A corrupt entry reads as missing so the next build overwrites it.
	var e localEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		slog.WarnContext(ctx, "discarding undecodable package details", "path", path, "error", err)
		return model.PackageDetails{}, ErrNotFound
	}
	if e.SHA256 != sha256Hash(e.Text) {
		slog.WarnContext(ctx, "discarding package details with checksum mismatch", "path", path)
		return model.PackageDetails{}, ErrNotFound
	}
	return e.PackageDetails, nil
}

func (s *LocalPackageDetailsStore) Put(ctx context.Context, project string, d model.PackageDetails) error {
	path, err := s.entryPath(project, d.Package)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating project directory: %w", err)
	}

	raw, err := json.Marshal(localEntry{PackageDetails: d, SHA256: sha256Hash(d.Text)})
	if err != nil {
		return fmt.Errorf("encoding package details %s: %w", d.Package, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".pkg-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming package details: %w", err)
	}
	return nil
}

func (s *LocalPackageDetailsStore) Delete(ctx context.Context, project, pkg string) error {
	path, err := s.entryPath(project, pkg)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing package details: %w", err)
	}
	return nil
}

func (s *LocalPackageDetailsStore) ListPackages(ctx context.Context, project string) ([]string, error) {
	if err := validateKey(project); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.rootDir, url.PathEscape(project)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing package details: %w", err)
	}

	var pkgs []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, localEntryExt) {
			continue
		}
		pkg, err := url.PathUnescape(strings.TrimSuffix(name, localEntryExt))
		if err != nil {
			continue
		}
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs, nil
}

// entryPath escapes both parts so that slash-qualified package names stay a
// single path element under the root.
func (s *LocalPackageDetailsStore) entryPath(project, pkg string) (string, error) {
	if err := validateKey(project); err != nil {
		return "", err
	}
	if err := validateKey(pkg); err != nil {
		return "", err
	}
	return filepath.Join(s.rootDir, url.PathEscape(project), url.PathEscape(pkg)+localEntryExt), nil
}

func validateKey(k string) error {
	if k == "" || k == "." || k == ".." {
		return ErrInvalidKey
	}
	return nil
}

func sha256Hash(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}
