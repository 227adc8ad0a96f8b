// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package contextscan

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CACHE
// =============================================================================

type entry struct {
	opts    Options
	content string
	watcher *fsnotify.Watcher
	stale   bool
}

// Cache memoizes Scan per root folder and drops an entry when fsnotify
// reports a change below that folder. Roots that cannot be watched are
// rescanned on every call.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Scan returns the cached context for root, scanning when needed.
func (c *Cache) Scan(root string, opts Options) (string, error) {
	root = filepath.Clean(root)
	opts = opts.withDefaults()

	c.mu.Lock()
	if e, ok := c.entries[root]; ok && !e.stale && e.opts == opts {
		content := e.content
		c.mu.Unlock()
		return content, nil
	}
	c.mu.Unlock()

	content, err := Scan(root, opts)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return content, nil
	}
	e, ok := c.entries[root]
	if !ok {
		w, err := c.watch(root)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Printf("contextscan: not caching %s: %v", root, err)
			}
			return content, nil
		}
		e = &entry{watcher: w}
		c.entries[root] = e
	}
	e.opts, e.content, e.stale = opts, content, false
	return content, nil
}

// Invalidate drops the cached scan of root.
func (c *Cache) Invalidate(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[filepath.Clean(root)]; ok {
		e.stale = true
	}
}

// Close stops all watchers.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for root, e := range c.entries {
		e.watcher.Close()
		delete(c.entries, root)
	}
	return nil
}

func (c *Cache) watch(root string) (*fsnotify.Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, os.ErrInvalid
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	addRecursive(w, root)
	go c.processEvents(root, w)
	return w, nil
}

// addRecursive watches dir and its non-skipped subdirectories.
func addRecursive(w *fsnotify.Watcher, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != dir && IsSkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			log.Printf("contextscan: watch %s: %v", path, err)
		}
		return nil
	})
}

func (c *Cache) processEvents(root string, w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if IsSkipDir(filepath.Base(filepath.Dir(ev.Name))) {
				continue
			}
			if ev.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !IsSkipDir(info.Name()) {
					addRecursive(w, ev.Name)
				}
			}
			if ev.Op != fsnotify.Chmod {
				c.Invalidate(root)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("contextscan: watcher error: %v", err)
			c.Invalidate(root)
		}
	}
}
