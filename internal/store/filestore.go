// Package store persists items, lists, and settings, and keeps the
// rolling diagnostics log (spec §4.6/§6).
//
// FileStore follows the teacher's preference for a single authoritative
// on-disk representation (the teacher kept MongoDB as the source of
// truth for price history); here the spec calls for a full-file JSON
// document rather than a database, so the write path is adapted to an
// atomic temp-file-then-rename replace instead of collection inserts.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pricewatch/models"
)

var ErrStoreWriteFailed = errors.New("store: write failed")

// Document is the full persisted state: every tracked item and list plus
// global settings, written and read as one JSON document (spec §6).
//
// ItemOrder records item IDs in insertion order, separately from the
// Items map (whose Go iteration order is randomized): spec §4.6/§5
// guarantee a sweep visits items in the order they were added, so that
// order has to be tracked explicitly rather than recovered from the map.
type Document struct {
	Items     map[string]*models.Item `json:"items"`
	ItemOrder []string                `json:"itemOrder"`
	Lists     map[string]*models.List `json:"lists"`
	Settings  models.Settings         `json:"settings"`
}

// FileStore guards a single JSON file holding the full Document.
type FileStore struct {
	path string
	mu   sync.RWMutex
	doc  Document
}

// Open loads path if it exists, or seeds an empty Document otherwise.
func Open(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		doc: Document{
			Items:     map[string]*models.Item{},
			ItemOrder: []string{},
			Lists:     map[string]*models.List{},
			Settings:  models.Settings{AlertRules: models.DefaultAlertRules()},
		},
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}

	if err := json.Unmarshal(data, &fs.doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}
	if fs.doc.Items == nil {
		fs.doc.Items = map[string]*models.Item{}
	}
	if fs.doc.Lists == nil {
		fs.doc.Lists = map[string]*models.List{}
	}
	fs.reconcileOrderLocked()
	return fs, nil
}

// reconcileOrderLocked makes ItemOrder consistent with Items: drops IDs for
// items no longer present (e.g. deleted out-of-band in an edited file), and
// appends any item present in the map but missing from the order (e.g. a
// state file written before ItemOrder existed), in the arbitrary order the
// map yields them since no better information survives for those. Caller
// must hold fs.mu for writing, or call only before fs is shared.
func (fs *FileStore) reconcileOrderLocked() {
	seen := make(map[string]bool, len(fs.doc.ItemOrder))
	kept := make([]string, 0, len(fs.doc.ItemOrder))
	for _, id := range fs.doc.ItemOrder {
		if _, ok := fs.doc.Items[id]; ok && !seen[id] {
			kept = append(kept, id)
			seen[id] = true
		}
	}
	for id := range fs.doc.Items {
		if !seen[id] {
			kept = append(kept, id)
			seen[id] = true
		}
	}
	fs.doc.ItemOrder = kept
}

// Items returns every tracked item, in insertion order (spec §4.6, §5).
func (fs *FileStore) Items() []*models.Item {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]*models.Item, 0, len(fs.doc.ItemOrder))
	for _, id := range fs.doc.ItemOrder {
		if it, ok := fs.doc.Items[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

// Item returns a single item by ID, or nil if absent.
func (fs *FileStore) Item(id string) *models.Item {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.doc.Items[id]
}

// PutItem inserts or replaces an item. A new ID is appended to the
// insertion-order list; an existing ID keeps its original position.
func (fs *FileStore) PutItem(it *models.Item) error {
	fs.mu.Lock()
	if _, exists := fs.doc.Items[it.ID]; !exists {
		fs.doc.ItemOrder = append(fs.doc.ItemOrder, it.ID)
	}
	fs.doc.Items[it.ID] = it
	fs.mu.Unlock()
	return fs.flush()
}

// DeleteItem removes an item by ID.
func (fs *FileStore) DeleteItem(id string) error {
	fs.mu.Lock()
	delete(fs.doc.Items, id)
	for i, existing := range fs.doc.ItemOrder {
		if existing == id {
			fs.doc.ItemOrder = append(fs.doc.ItemOrder[:i], fs.doc.ItemOrder[i+1:]...)
			break
		}
	}
	fs.mu.Unlock()
	return fs.flush()
}

// Lists returns every tracked list, keyed by ID.
func (fs *FileStore) Lists() map[string]*models.List {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make(map[string]*models.List, len(fs.doc.Lists))
	for k, v := range fs.doc.Lists {
		out[k] = v
	}
	return out
}

// List returns a single list by ID, or nil if absent.
func (fs *FileStore) List(id string) *models.List {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.doc.Lists[id]
}

// PutList inserts or replaces a list.
func (fs *FileStore) PutList(l *models.List) error {
	fs.mu.Lock()
	fs.doc.Lists[l.ID] = l
	fs.mu.Unlock()
	return fs.flush()
}

// DeleteList removes a list by ID.
func (fs *FileStore) DeleteList(id string) error {
	fs.mu.Lock()
	delete(fs.doc.Lists, id)
	fs.mu.Unlock()
	return fs.flush()
}

// Settings returns a copy of the global settings.
func (fs *FileStore) Settings() models.Settings {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.doc.Settings
}

// PutSettings replaces the global settings.
func (fs *FileStore) PutSettings(s models.Settings) error {
	fs.mu.Lock()
	fs.doc.Settings = s
	fs.mu.Unlock()
	return fs.flush()
}

// flush atomically replaces the on-disk file with the current in-memory
// document: write to a sibling temp file, then rename, so a crash mid
// write never truncates the previous good file (spec §6, §7).
func (fs *FileStore) flush() error {
	fs.mu.RLock()
	data, err := json.MarshalIndent(fs.doc, "", "  ")
	fs.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}

	dir := filepath.Dir(fs.path)
	tmp, err := os.CreateTemp(dir, ".pricewatch-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStoreWriteFailed, err)
	}
	return nil
}
