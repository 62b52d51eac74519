package predict

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"rebarquality/ml"
)

// ArtifactCache keeps recently used artifacts in memory. Entries are keyed by
// file name and evicted when the watcher sees the file change.
type ArtifactCache struct {
	dir    string
	cache  *lru.Cache[string, *ml.Artifact]
	logger *zap.Logger
	load   func(path string) (*ml.Artifact, error)

	// genMu guards gens, a per-name count of file changes seen by the
	// watcher. A load is only cached if no change arrived while it ran.
	genMu sync.Mutex
	gens  map[string]uint64

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewArtifactCache(dir string, size int, logger *zap.Logger) (*ArtifactCache, error) {
	if size <= 0 {
		size = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, *ml.Artifact](size)
	if err != nil {
		return nil, err
	}
	return &ArtifactCache{
		dir:    dir,
		cache:  cache,
		logger: logger,
		load:   ml.LoadArtifact,
		gens:   make(map[string]uint64),
	}, nil
}

// Get returns the cached artifact for name, loading it from disk on a miss.
// A load that overlaps a change to the file is retried once and never cached
// stale.
func (c *ArtifactCache) Get(name string) (*ml.Artifact, error) {
	if a, ok := c.cache.Get(name); ok {
		return a, nil
	}
	var (
		a   *ml.Artifact
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		gen := c.generation(name)
		a, err = c.load(filepath.Join(c.dir, name))
		if err != nil {
			return nil, err
		}
		if c.addIfUnchanged(name, gen, a) {
			c.logger.Info("model loaded", zap.String("model", name), zap.Int("features", len(a.Schema.Columns)))
			return a, nil
		}
		c.logger.Debug("model changed while loading", zap.String("model", name))
	}
	return a, nil
}

func (c *ArtifactCache) generation(name string) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.gens[name]
}

func (c *ArtifactCache) addIfUnchanged(name string, gen uint64, a *ml.Artifact) bool {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	if c.gens[name] != gen {
		return false
	}
	c.cache.Add(name, a)
	return true
}

// Evict records a change to name and drops any cached copy.
func (c *ArtifactCache) Evict(name string) bool {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	c.gens[name]++
	return c.cache.Remove(name)
}

func (c *ArtifactCache) Len() int { return c.cache.Len() }

// Watch starts evicting entries on model directory changes. It returns once
// the watcher is registered; Close stops it.
func (c *ArtifactCache) Watch(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return err
	}
	c.watcher = watcher
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.run(ctx, watcher, c.stopCh, c.doneCh)
	c.logger.Info("watching model directory", zap.String("dir", c.dir))
	return nil
}

func (c *ArtifactCache) run(ctx context.Context, watcher *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("model watcher error", zap.Error(err))
		}
	}
}

func (c *ArtifactCache) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if filepath.Ext(name) != ml.ArtifactExt {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if c.Evict(name) {
		c.logger.Info("model evicted", zap.String("model", name), zap.String("op", event.Op.String()))
	}
}

// Close stops the watcher, if any, and waits for it to exit.
func (c *ArtifactCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher == nil {
		return nil
	}
	close(c.stopCh)
	<-c.doneCh
	err := c.watcher.Close()
	c.watcher = nil
	return err
}
