package filesync

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/docsync/internal/filex"
)

type previewEntry struct {
	key  string
	data []byte
}

// previewCache keeps recently used previews in memory and a copy of each on
// disk so they survive restarts.
type previewCache struct {
	mu    sync.Mutex
	max   int
	dir   string
	order *list.List
	items map[string]*list.Element
}

func newPreviewCache(max int, dir string) *previewCache {
	return &previewCache{max: max, dir: dir, order: list.New(), items: make(map[string]*list.Element)}
}

func (c *previewCache) file(key string) string {
	s := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(s[:16])+".preview")
}

func (c *previewCache) put(key string, data []byte) error {
	c.mu.Lock()
	c.remember(key, data)
	c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o770); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.dir, err)
	}
	tmp := c.file(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o660); err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	return filex.CommitTemp(tmp, c.file(key))
}

func (c *previewCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		data := el.Value.(*previewEntry).data
		c.mu.Unlock()
		return data, true
	}
	c.mu.Unlock()

	data, err := os.ReadFile(c.file(key))
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	c.remember(key, data)
	c.mu.Unlock()
	return data, true
}

func (c *previewCache) remove(key string) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
	c.mu.Unlock()
	_ = filex.RemoveIfExists(c.file(key))
}

func (c *previewCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// remember must be called with mu held.
func (c *previewCache) remember(key string, data []byte) {
	if el, ok := c.items[key]; ok {
		el.Value.(*previewEntry).data = data
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&previewEntry{key: key, data: data})
	for c.order.Len() > c.max {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.items, last.Value.(*previewEntry).key)
	}
}

// PutPreview stores a rendered preview for remoteKey.
func (e *Engine) PutPreview(remoteKey string, data []byte) error {
	return e.previews.put(remoteKey, data)
}

// Preview returns the stored preview of remoteKey.
func (e *Engine) Preview(remoteKey string) ([]byte, bool) {
	return e.previews.get(remoteKey)
}
