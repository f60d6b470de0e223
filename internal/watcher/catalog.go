// Package watcher keeps a live catalog of exported session artifacts in the
// sessions directory, using fsnotify with debouncing so half-written exports
// are not listed until they settle.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// sessionExt filters catalog entries to exported session artifacts.
const sessionExt = ".json"

// SessionFile is one catalog entry.
type SessionFile struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Catalog watches the sessions directory and maintains the list of session
// artifacts found in it.
type Catalog struct {
	dir         string
	debounce    time.Duration
	logger      *zap.Logger
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	files       map[string]SessionFile
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// WithDebounce overrides the settle delay before a changed file is listed.
func WithDebounce(d time.Duration) Option {
	return func(c *Catalog) { c.debounce = d }
}

// NewCatalog creates a catalog over dir. Call Start to begin watching.
func NewCatalog(dir string, opts ...Option) *Catalog {
	c := &Catalog{
		dir:         dir,
		debounce:    defaultDebounce,
		logger:      zap.NewNop(),
		files:       make(map[string]SessionFile),
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start creates the directory if needed, loads the files already present, and
// begins watching. It runs until ctx is cancelled or Stop is called.
func (c *Catalog) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		c.mu.Unlock()
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := watcher.Add(c.dir); err != nil {
		_ = watcher.Close()
		c.mu.Unlock()
		return err
	}
	c.watcher = watcher
	c.started = true
	c.mu.Unlock()

	c.SyncExisting()
	go c.run(ctx)
	return nil
}

func (c *Catalog) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return
		case <-c.done:
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				c.logger.Debug("session catalog watch error", zap.Error(err))
			}
		}
	}
}

func (c *Catalog) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !isSessionFile(path) {
		return
	}
	c.logger.Debug("session catalog event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		c.debounceAdd(path)
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		c.cancelDebounce(path)
		c.mu.Lock()
		delete(c.files, path)
		c.mu.Unlock()
	}
}

func isSessionFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), sessionExt)
}

// debounceAdd delays cataloging a changed file so exports in progress settle
// before they appear in the listing.
func (c *Catalog) debounceAdd(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.debounceMap[path]; ok {
		t.Stop()
	}
	t := time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		delete(c.debounceMap, path)
		c.mu.Unlock()
		c.addFile(path)
	})
	c.debounceMap[path] = t
}

func (c *Catalog) cancelDebounce(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.debounceMap[path]; ok {
		t.Stop()
		delete(c.debounceMap, path)
	}
}

func (c *Catalog) addFile(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	entry := SessionFile{
		Path:    path,
		Name:    filepath.Base(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	c.mu.Lock()
	c.files[path] = entry
	c.mu.Unlock()
	c.logger.Debug("session catalog updated", zap.String("path", path), zap.Int64("size", info.Size()))
}

// SyncExisting catalogs files already present in the directory. Start calls
// it once; it is safe to call again at any time.
func (c *Catalog) SyncExisting() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Debug("session catalog sync failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isSessionFile(e.Name()) {
			continue
		}
		c.addFile(filepath.Join(c.dir, e.Name()))
	}
}

// List returns the cataloged session files, newest first.
func (c *Catalog) List() []SessionFile {
	c.mu.Lock()
	out := make([]SessionFile, 0, len(c.files))
	for _, f := range c.files {
		out = append(out, f)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Dir returns the watched sessions directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Stop stops watching and releases resources.
func (c *Catalog) Stop() {
	c.mu.Lock()
	if !c.started || c.watcher == nil {
		c.mu.Unlock()
		return
	}
	for path, t := range c.debounceMap {
		t.Stop()
		delete(c.debounceMap, path)
	}
	_ = c.watcher.Close()
	c.watcher = nil
	c.started = false
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.done) })
}
