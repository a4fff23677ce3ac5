package asset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDownloader struct {
	calls atomic.Int32
	delay time.Duration
	body  string
	err   error
}

func (s *stubDownloader) Fetch(_ context.Context, _ string, dest string) error {
	s.calls.Add(1)
	time.Sleep(s.delay)
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(dest, []byte(s.body), 0o600)
}

type countingObserver struct {
	mu                    sync.Mutex
	hits, misses, evicted int
}

func (o *countingObserver) CacheHit()          { o.mu.Lock(); o.hits++; o.mu.Unlock() }
func (o *countingObserver) CacheMiss()         { o.mu.Lock(); o.misses++; o.mu.Unlock() }
func (o *countingObserver) CacheEvicted(n int) { o.mu.Lock(); o.evicted += n; o.mu.Unlock() }

func noStatfs(string) (uint64, uint64, error) { return 0, 0, nil }

func newTestCache(t *testing.T, d Downloader, opts ...CacheOption) *Cache {
	t.Helper()
	c, err := NewCache(t.TempDir(), d, opts...)
	require.NoError(t, err)
	c.statfs = noStatfs
	return c
}

func writeEntry(t *testing.T, c *Cache, name string, size int, age time.Duration) string {
	t.Helper()
	p := filepath.Join(c.Dir(), name)
	require.NoError(t, os.WriteFile(p, make([]byte, size), 0o600))
	ts := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(p, ts, ts))
	return p
}

func TestCache_GetMissThenHit(t *testing.T) {
	d := &stubDownloader{body: "clip"}
	obs := &countingObserver{}
	c := newTestCache(t, d, WithCacheObserver(obs))

	p1, err := c.Get(context.Background(), "bg/01", "https://cdn.example.com/bg.mov?x=1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Dir(), "bg-01.mov"), p1)

	p2, err := c.Get(context.Background(), "bg/01", "https://cdn.example.com/bg.mov?x=1")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)

	assert.Equal(t, int32(1), d.calls.Load())
	assert.Equal(t, 1, obs.misses)
	assert.Equal(t, 1, obs.hits)
}

func TestCache_GetDefaultKey(t *testing.T) {
	c := newTestCache(t, &stubDownloader{body: "clip"})
	p, err := c.Get(context.Background(), "", "https://cdn.example.com/video")
	require.NoError(t, err)
	assert.Equal(t, "default.mp4", filepath.Base(p))
}

func TestCache_ConcurrentMissesDownloadOnce(t *testing.T) {
	d := &stubDownloader{body: "clip", delay: 50 * time.Millisecond}
	c := newTestCache(t, d)

	var wg sync.WaitGroup
	paths := make([]string, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.Get(context.Background(), "shared", "https://cdn.example.com/a.mp4")
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), d.calls.Load())
	for _, p := range paths {
		assert.Equal(t, paths[0], p)
	}
}

func TestCache_DownloadFailureLeavesNoEntry(t *testing.T) {
	d := &stubDownloader{err: errors.New("boom")}
	c := newTestCache(t, d)

	_, err := c.Get(context.Background(), "k", "https://cdn.example.com/a.mp4")
	require.Error(t, err)

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)

	left, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	for _, e := range left {
		assert.True(t, e.IsDir(), "unexpected leftover %s", e.Name())
	}
}

func TestCache_EmptyDownloadIsUnavailable(t *testing.T) {
	c := newTestCache(t, &stubDownloader{body: ""})
	_, err := c.Get(context.Background(), "k", "https://cdn.example.com/a.mp4")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCache_PruneTTL(t *testing.T) {
	obs := &countingObserver{}
	c := newTestCache(t, &stubDownloader{}, WithTTL(time.Hour), WithCacheObserver(obs))
	stale := writeEntry(t, c, "old.mp4", 10, 2*time.Hour)
	fresh := writeEntry(t, c, "new.mp4", 10, time.Minute)

	res, err := c.Prune(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, int64(10), res.FreedBytes)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.Equal(t, 1, obs.evicted)
}

func TestCache_PruneMaxBytesOldestFirst(t *testing.T) {
	c := newTestCache(t, &stubDownloader{}, WithMaxBytes(25))
	a := writeEntry(t, c, "a.mp4", 10, 3*time.Hour)
	b := writeEntry(t, c, "b.mp4", 10, 2*time.Hour)
	cc := writeEntry(t, c, "c.mp4", 10, time.Hour)

	res, err := c.Prune(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Removed)
	assert.NoFileExists(t, a)
	assert.FileExists(t, b)
	assert.FileExists(t, cc)
}

func TestCache_PruneFreeSpaceFloor(t *testing.T) {
	c := newTestCache(t, &stubDownloader{}, WithFreeSpaceFloor(0.5))
	a := writeEntry(t, c, "a.mp4", 30, 3*time.Hour)
	b := writeEntry(t, c, "b.mp4", 30, 2*time.Hour)
	cc := writeEntry(t, c, "c.mp4", 30, time.Hour)

	// Free space is whatever the entries leave of a 100 byte filesystem.
	c.statfs = func(string) (uint64, uint64, error) {
		_, used, err := c.scan()
		return 100, uint64(100 - used), err
	}

	res, err := c.Prune(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Removed)
	assert.NoFileExists(t, a)
	assert.NoFileExists(t, b)
	assert.FileExists(t, cc)
}

func TestCache_PruneSweepsStaleTemps(t *testing.T) {
	c := newTestCache(t, &stubDownloader{}, WithMaxBytes(1))
	fresh := writeEntry(t, c, ".tmp-k-123", 50, time.Minute)
	stale := writeEntry(t, c, ".tmp-k-456", 70, 3*time.Hour)
	lock := filepath.Join(c.Dir(), lockDir, "k.lock")
	require.NoError(t, os.WriteFile(lock, nil, 0o600))

	res, err := c.Prune(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Removed)
	assert.Equal(t, 1, res.StaleTemps)
	assert.Equal(t, int64(70), res.FreedBytes)
	assert.FileExists(t, fresh)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, lock)
}

func TestCache_Evict(t *testing.T) {
	obs := &countingObserver{}
	c := newTestCache(t, &stubDownloader{}, WithCacheObserver(obs))
	p := writeEntry(t, c, "bg-01.mp4", 10, time.Minute)
	other := writeEntry(t, c, "bg-02.mp4", 10, time.Minute)

	n, err := c.Evict("bg/01")
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.NoFileExists(t, p)
	assert.FileExists(t, other)
	assert.Equal(t, 1, obs.evicted)

	n, err = c.Evict("missing")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCache_Stats(t *testing.T) {
	c := newTestCache(t, &stubDownloader{}, WithMaxBytes(1000))
	c.statfs = func(string) (uint64, uint64, error) { return 200, 50, nil }
	writeEntry(t, c, "old.mp4", 10, 2*time.Hour)
	writeEntry(t, c, "new.mp4", 20, time.Minute)

	stats, err := c.Stats()
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(30), stats.TotalBytes)
	assert.Equal(t, int64(1000), stats.MaxBytes)
	assert.InDelta(t, 0.25, stats.FreeRatio, 1e-9)
	require.Len(t, stats.Items, 2)
	assert.Equal(t, "new", stats.Items[0].Key)
}

func TestCache_RunStopsOnCancel(t *testing.T) {
	c := newTestCache(t, &stubDownloader{}, WithTTL(time.Nanosecond))
	p := writeEntry(t, c, "x.mp4", 1, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(p)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewCache_RequiresDir(t *testing.T) {
	_, err := NewCache(" ", &stubDownloader{})
	assert.Error(t, err)
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", DefaultKey},
		{"   ", DefaultKey},
		{"bg01", "bg01"},
		{"bg/01", "bg-01"},
		{"../../etc/passwd", "etc-passwd"},
		{"a b.c", "a-b-c"},
		{"---", DefaultKey},
		{"clip.v2", "clip-v2"},
		{"_bg_", "bg"},
	}
	for _, tt := range tests {
		got := SanitizeKey(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Regexp(t, `^[A-Za-z0-9][A-Za-z0-9_-]*$`, got, tt.in)
	}
}

func TestCache_DottedKeyRoundTrips(t *testing.T) {
	d := &stubDownloader{body: "clip"}
	c := newTestCache(t, d)

	_, err := c.Get(context.Background(), "clip.v2", "https://cdn.example.com/bg.mp4")
	require.NoError(t, err)

	stats, err := c.Stats()
	require.NoError(t, err)
	require.Len(t, stats.Items, 1)
	assert.Equal(t, SanitizeKey("clip.v2"), stats.Items[0].Key)

	n, err := c.Evict("clip.v2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".mov", Extension("https://x/a/b.MOV?sig=1", ".mp4"))
	assert.Equal(t, ".mp4", Extension("https://x/a/b", ".mp4"))
	assert.Equal(t, ".bin", Extension("https://x/a/b.exe", ".bin"))
	assert.Equal(t, ".png", Extension("/tmp/logo.png", ""))
}
