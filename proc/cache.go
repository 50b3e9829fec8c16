package proc

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/leeineian/hibiki/sys"
)

const trackExt = ".m4a"

// Downloader fetches a track's audio into destPath, reporting whole-number
// percentages through progress as data arrives.
type Downloader interface {
	Download(ctx context.Context, id, destPath string, progress func(int)) error
}

// DownloadCache keeps downloaded audio files under a single directory, capped
// at a fixed number of tracks. One lock covers eviction and admission across
// every session.
type DownloadCache struct {
	mu        sync.Mutex
	dir       string
	maxTracks int
	dl        Downloader
	inflight  map[string]*Future[int, string]
}

func NewDownloadCache(dir string, maxTracks int, dl Downloader) *DownloadCache {
	if err := os.MkdirAll(dir, 0755); err != nil {
		sys.LogError("Failed to create track cache dir: %v", err)
	}
	return &DownloadCache{
		dir:       dir,
		maxTracks: maxTracks,
		dl:        dl,
		inflight:  make(map[string]*Future[int, string]),
	}
}

// TrackPath returns the canonical cache location for a track id.
func (c *DownloadCache) TrackPath(id string) string {
	return filepath.Join(c.dir, id+trackExt)
}

// Fetch returns a future resolving to the cached file path, downloading on a
// miss with progress updates from 0 to 100. Concurrent fetches for the same
// id share one in-flight download. The future resolves to "" on failure.
func (c *DownloadCache) Fetch(ctx context.Context, id string) *Future[int, string] {
	c.mu.Lock()

	if fut, ok := c.inflight[id]; ok {
		c.mu.Unlock()
		return fut
	}

	path := c.TrackPath(id)
	if _, err := os.Stat(path); err == nil {
		c.mu.Unlock()
		return ResolvedFuture[int](path)
	}

	fut := NewFuture(func(emit func(int)) string {
		partPath := path + ".part"
		emit(0)
		if err := c.dl.Download(ctx, id, partPath, emit); err != nil {
			sys.LogCache("Download failed for %s: %v", id, err)
			os.Remove(partPath)
			return ""
		}

		// Eviction and admission happen under one lock, at completion
		c.mu.Lock()
		c.evictOldest()
		err := os.Rename(partPath, path)
		c.mu.Unlock()
		if err != nil {
			sys.LogCache("Failed to finalize %s: %v", id, err)
			os.Remove(partPath)
			return ""
		}
		emit(100)
		return path
	})
	c.inflight[id] = fut
	c.mu.Unlock()

	fut.OnFinish(func(string) {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
	})

	return fut
}

// Count returns how many tracks currently sit in the cache directory.
func (c *DownloadCache) Count() int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == trackExt {
			count++
		}
	}
	return count
}

// evictOldest removes the oldest cached tracks until there is room for one
// more admission. Caller holds c.mu.
func (c *DownloadCache) evictOldest() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}

	type cached struct {
		path string
		mod  int64
	}
	var files []cached
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != trackExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, cached{filepath.Join(c.dir, e.Name()), info.ModTime().UnixNano()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mod < files[j].mod })

	for len(files) >= c.maxTracks {
		victim := files[0]
		files = files[1:]
		if err := os.Remove(victim.path); err != nil {
			sys.LogCache("Failed to evict %s: %v", victim.path, err)
			continue
		}
		sys.LogCache("Evicted %s", filepath.Base(victim.path))
	}
}
