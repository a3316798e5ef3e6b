// Package catalog holds item metadata (names, category, icon) supplied by
// the sync collaborator. The aggregator only uses it to decorate drop
// listings.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ItemInfo describes one item.
type ItemInfo struct {
	ItemID   int64  `json:"item_id"`
	Name     string `json:"name"`
	NameEN   string `json:"name_en,omitempty"`
	NameRU   string `json:"name_ru,omitempty"`
	NameCN   string `json:"name_cn,omitempty"`
	Category string `json:"category"`
	IconURL  string `json:"icon_url,omitempty"`
}

// Catalog is a concurrency-safe item lookup.
type Catalog struct {
	mu    sync.RWMutex
	items map[int64]ItemInfo
}

// New creates an empty Catalog.
func New() *Catalog {
	return &Catalog{items: make(map[int64]ItemInfo)}
}

// Load merges items into the catalog, replacing entries with the same id.
func (c *Catalog) Load(items []ItemInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		c.items[it.ItemID] = it
	}
}

// Get returns the metadata for id.
func (c *Catalog) Get(id int64) (ItemInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	return it, ok
}

// Name returns a display name for id, falling back to the numeric id.
func (c *Catalog) Name(id int64) string {
	if it, ok := c.Get(id); ok && it.Name != "" {
		return it.Name
	}
	return fmt.Sprintf("#%d", id)
}

// Len returns the number of known items.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

const itemsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["item_id", "name"],
    "properties": {
      "item_id":  {"type": "integer", "minimum": 1},
      "name":     {"type": "string", "minLength": 1},
      "name_en":  {"type": "string"},
      "name_ru":  {"type": "string"},
      "name_cn":  {"type": "string"},
      "category": {"type": "string"},
      "icon_url": {"type": "string"}
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("items.schema.json", itemsSchema)

// Decode validates data against the item list schema and decodes it.
func Decode(data []byte) ([]ItemInfo, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse items: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate items: %w", err)
	}
	var items []ItemInfo
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return items, nil
}

// LoadFile reads a JSON item list from path and merges it into c. It
// returns the number of items read.
func (c *Catalog) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read items file: %w", err)
	}
	items, err := Decode(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	c.Load(items)
	return len(items), nil
}
