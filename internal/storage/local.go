package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalStorage implements the Storage interface using local disk.
// Workspaces live under workDir and published files are copied into
// outputDir.
type LocalStorage struct {
	workDir       string
	outputDir     string
	publicBaseURL string
}

// NewLocalStorage creates a new LocalStorage instance.
// If workDir is empty, a directory under os.TempDir() is used. outputDir
// may be empty when publishing is delegated elsewhere (S3Storage).
// Both directories are created if they don't exist.
func NewLocalStorage(workDir, outputDir, publicBaseURL string) (*LocalStorage, error) {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "reelsmith")
	}

	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	return &LocalStorage{
		workDir:       workDir,
		outputDir:     outputDir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// WorkDir returns the workspace root.
func (s *LocalStorage) WorkDir() string {
	return s.workDir
}

// NewWorkspace creates <workDir>/<prefix>-<uuid>.
func (s *LocalStorage) NewWorkspace(ctx context.Context, prefix string) (*Workspace, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if prefix == "" {
		prefix = "job"
	}
	dir := filepath.Join(s.workDir, filepath.Base(prefix)+"-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// SweepWorkspaces removes workspaces last modified before olderThan ago,
// left behind by a crashed process. It returns the number removed.
func (s *LocalStorage) SweepWorkspaces(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.workDir)
	if err != nil {
		return 0, fmt.Errorf("list work directory: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.workDir, e.Name())); err != nil {
			return removed, fmt.Errorf("remove stale workspace %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Publish copies localPath to <outputDir>/<key>. The URL is built from the
// public base URL when set, otherwise it is a file:// URL.
func (s *LocalStorage) Publish(ctx context.Context, localPath, _ string, key string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if s.outputDir == "" {
		return "", fmt.Errorf("%w: no output directory configured", ErrUploadFailed)
	}
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(s.outputDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("%w: create output directory: %w", ErrUploadFailed, err)
	}
	if err := copyFile(localPath, dest); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + escapeKey(key), nil
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		abs = dest
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src) // #nosec G304 - src is inside a job workspace
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	tmp := dest + ".part"
	out, err := os.Create(tmp) // #nosec G304 - dest is inside the output directory
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("copy to %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	return os.Rename(tmp, dest)
}

// cleanKey normalizes an object key and rejects keys escaping the root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.TrimSpace(key))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", fmt.Errorf("%w: empty key", ErrUploadFailed)
	}
	return k, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
