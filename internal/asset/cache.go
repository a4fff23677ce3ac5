package asset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"
)

const (
	// DefaultKey is used when a caller supplies no cache key.
	DefaultKey = "default"
	// DefaultFreeSpaceFloor is the minimum free-space ratio kept on the cache
	// filesystem (0.10 means at most 90% full).
	DefaultFreeSpaceFloor = 0.10

	lockDir   = ".locks"
	tmpPrefix = ".tmp-"

	// staleTempAge is how old a partial download must be before Prune
	// removes it. It is far above the fetcher's retry budget.
	staleTempAge = time.Hour
)

// CacheObserver receives cache events, typically for metrics.
type CacheObserver interface {
	CacheHit()
	CacheMiss()
	CacheEvicted(n int)
}

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// Cache is a shared directory of downloaded background clips keyed by a
// caller-supplied identifier. Concurrent misses for one key share a single
// download, in-process through singleflight and across processes through a
// lock file. Entries are published by atomic rename.
type Cache struct {
	dir        string
	downloader Downloader
	ttl        time.Duration
	maxBytes   int64
	freeFloor  float64
	logger     *slog.Logger
	observer   CacheObserver
	statfs     statfsFunc
	now        func() time.Time
	group      singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL evicts entries not accessed for longer than d. Zero disables it.
func WithTTL(d time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = d }
}

// WithMaxBytes bounds the total size of cached entries. Zero disables it.
func WithMaxBytes(n int64) CacheOption {
	return func(c *Cache) { c.maxBytes = n }
}

// WithFreeSpaceFloor sets the minimum free-space ratio. Zero disables it.
func WithFreeSpaceFloor(ratio float64) CacheOption {
	return func(c *Cache) { c.freeFloor = ratio }
}

// WithCacheLogger sets the cache logger.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCacheObserver registers an observer for hits, misses and evictions.
func WithCacheObserver(o CacheObserver) CacheOption {
	return func(c *Cache) { c.observer = o }
}

// NewCache creates the cache directory if needed.
func NewCache(dir string, downloader Downloader, opts ...CacheOption) (*Cache, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("asset: cache directory is required")
	}
	c := &Cache{
		dir:        dir,
		downloader: downloader,
		freeFloor:  DefaultFreeSpaceFloor,
		logger:     slog.Default(),
		statfs:     realStatfs,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "asset-cache"))
	if err := os.MkdirAll(filepath.Join(dir, lockDir), 0o755); err != nil {
		return nil, fmt.Errorf("asset: create cache dir: %w", err)
	}
	return c, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// Get returns the local path of the entry for key, downloading rawURL on a
// miss. A hit refreshes the entry's access time.
func (c *Cache) Get(ctx context.Context, key, rawURL string) (string, error) {
	key = SanitizeKey(key)
	dest := filepath.Join(c.dir, key+Extension(rawURL, ".mp4"))

	if nonEmpty(dest) {
		c.touch(dest)
		c.hit()
		return dest, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.fill(context.WithoutCancel(ctx), key, rawURL, dest)
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug("joined in-flight download", slog.String("key", key))
	}
	return v.(string), nil
}

func (c *Cache) fill(ctx context.Context, key, rawURL, dest string) (string, error) {
	lock := flock.New(c.lockPath(key))
	if _, err := lock.TryLockContext(ctx, 100*time.Millisecond); err != nil {
		return "", fmt.Errorf("asset: lock %s: %w", key, err)
	}
	defer func() { _ = lock.Unlock() }()

	// Another process may have finished while we waited for the lock.
	if nonEmpty(dest) {
		c.touch(dest)
		c.hit()
		return dest, nil
	}
	c.miss()

	start := c.now()
	tmp := filepath.Join(c.dir, tmpPrefix+key+"-"+uuid.NewString())
	if err := c.downloader.Fetch(ctx, rawURL, tmp); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if !nonEmpty(tmp) {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: %s downloaded empty", ErrUnavailable, key)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("asset: publish cache entry: %w", err)
	}

	c.logger.Info("cached asset",
		slog.String("key", key),
		slog.String("url", redact(rawURL)),
		slog.Duration("duration", c.now().Sub(start)),
	)
	return dest, nil
}

// Evict removes every entry stored under key and reports how many files
// were removed.
func (c *Cache) Evict(key string) (int, error) {
	key = SanitizeKey(key)
	entries, _, err := c.scan()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.key != key {
			continue
		}
		if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.evicted(removed)
			return removed, fmt.Errorf("asset: evict %s: %w", key, err)
		}
		removed++
	}
	c.evicted(removed)
	return removed, nil
}

// PruneResult reports what a prune removed. StaleTemps counts abandoned
// partial downloads and is not included in Removed.
type PruneResult struct {
	Removed    int
	StaleTemps int
	FreedBytes int64
}

// Prune removes abandoned partial downloads, then entries idle longer than
// the TTL, then the least recently used entries until the size bound and
// free-space floor hold.
func (c *Cache) Prune(ctx context.Context) (PruneResult, error) {
	var res PruneResult
	if err := c.sweepTemps(ctx, &res); err != nil {
		return res, err
	}
	entries, total, err := c.scan()
	if err != nil {
		return res, err
	}

	remove := func(e entry) error {
		if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("asset: remove %s: %w", e.path, err)
		}
		total -= e.size
		res.Removed++
		res.FreedBytes += e.size
		c.logger.InfoContext(ctx, "pruned cache entry",
			slog.String("key", e.key),
			slog.Int64("size_bytes", e.size),
		)
		return nil
	}

	kept := entries[:0]
	for _, e := range entries {
		if c.ttl > 0 && c.now().Sub(e.accessed) > c.ttl {
			if err := remove(e); err != nil {
				c.evicted(res.Removed)
				return res, err
			}
			continue
		}
		kept = append(kept, e)
	}

	for _, e := range kept {
		freeOK, err := c.freeSpaceOK()
		if err != nil {
			c.evicted(res.Removed)
			return res, err
		}
		if (c.maxBytes <= 0 || total <= c.maxBytes) && freeOK {
			break
		}
		if err := remove(e); err != nil {
			c.evicted(res.Removed)
			return res, err
		}
	}

	c.evicted(res.Removed)
	return res, nil
}

// sweepTemps removes temp files left behind by downloads that died before
// their rename.
func (c *Cache) sweepTemps(ctx context.Context, res *PruneResult) error {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("asset: list cache: %w", err)
	}
	for _, d := range dirEntries {
		if d.IsDir() || !strings.HasPrefix(d.Name(), tmpPrefix) {
			continue
		}
		info, err := d.Info()
		if err != nil || c.now().Sub(info.ModTime()) < staleTempAge {
			continue
		}
		p := filepath.Join(c.dir, d.Name())
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("asset: remove %s: %w", p, err)
		}
		res.StaleTemps++
		res.FreedBytes += info.Size()
		c.logger.InfoContext(ctx, "removed stale partial download",
			slog.String("file", d.Name()),
			slog.Int64("size_bytes", info.Size()),
		)
	}
	return nil
}

// Run prunes the cache every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Prune(ctx); err != nil {
				c.logger.Warn("cache prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Entry describes one cached asset.
type Entry struct {
	Key        string    `json:"key"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	AccessedAt time.Time `json:"accessed_at"`
}

// Stats describes current cache usage.
type Stats struct {
	Entries      int     `json:"entries"`
	TotalBytes   int64   `json:"total_bytes"`
	MaxBytes     int64   `json:"max_bytes"`
	FreeBytes    uint64  `json:"free_bytes"`
	TotalFSBytes uint64  `json:"total_fs_bytes"`
	FreeRatio    float64 `json:"free_ratio"`
	Items        []Entry `json:"items"`
}

// Stats returns current cache usage and filesystem free-space info. Items
// are ordered most recently used first.
func (c *Cache) Stats() (Stats, error) {
	entries, total, err := c.scan()
	if err != nil {
		return Stats{}, err
	}
	totalFS, freeFS, err := c.statfs(c.dir)
	if err != nil {
		return Stats{}, fmt.Errorf("asset: statfs: %w", err)
	}
	ratio := 1.0
	if totalFS > 0 {
		ratio = float64(freeFS) / float64(totalFS)
	}
	items := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		items = append(items, Entry{Key: e.key, Path: e.path, SizeBytes: e.size, AccessedAt: e.accessed})
	}
	return Stats{
		Entries:      len(entries),
		TotalBytes:   total,
		MaxBytes:     c.maxBytes,
		FreeBytes:    freeFS,
		TotalFSBytes: totalFS,
		FreeRatio:    ratio,
		Items:        items,
	}, nil
}

type entry struct {
	key      string
	path     string
	size     int64
	accessed time.Time
}

// scan lists entries oldest first.
func (c *Cache) scan() ([]entry, int64, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("asset: list cache: %w", err)
	}
	var (
		entries []entry
		total   int64
	)
	for _, d := range dirEntries {
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		name := d.Name()
		entries = append(entries, entry{
			key:      strings.TrimSuffix(name, filepath.Ext(name)),
			path:     filepath.Join(c.dir, name),
			size:     info.Size(),
			accessed: info.ModTime(),
		})
		total += info.Size()
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].accessed.Before(entries[j].accessed)
	})
	return entries, total, nil
}

func (c *Cache) freeSpaceOK() (bool, error) {
	if c.freeFloor <= 0 {
		return true, nil
	}
	total, free, err := c.statfs(c.dir)
	if err != nil {
		return false, fmt.Errorf("asset: statfs: %w", err)
	}
	if total == 0 {
		return true, nil
	}
	return float64(free)/float64(total) >= c.freeFloor, nil
}

func (c *Cache) lockPath(key string) string {
	return filepath.Join(c.dir, lockDir, key+".lock")
}

func (c *Cache) touch(p string) {
	now := c.now()
	_ = os.Chtimes(p, now, now)
}

func (c *Cache) hit() {
	if c.observer != nil {
		c.observer.CacheHit()
	}
}

func (c *Cache) miss() {
	if c.observer != nil {
		c.observer.CacheMiss()
	}
}

func (c *Cache) evicted(n int) {
	if c.observer != nil && n > 0 {
		c.observer.CacheEvicted(n)
	}
}

// SanitizeKey maps a caller key to a safe file name. Characters outside
// [A-Za-z0-9_-] become '-', dots included since the stored name's extension
// follows the last dot. Leading and trailing '-' and '_' are trimmed, and an
// empty result yields DefaultKey.
func SanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(key) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-_")
	if out == "" {
		return DefaultKey
	}
	return out
}

var mediaExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".m4v": true, ".webm": true, ".mkv": true,
	".mp3": true, ".wav": true, ".m4a": true, ".aac": true,
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true,
}

// Extension returns the known media extension of rawURL's path, or fallback.
func Extension(rawURL, fallback string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if mediaExtensions[ext] {
		return ext
	}
	return fallback
}

func nonEmpty(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

func realStatfs(p string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(p, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
