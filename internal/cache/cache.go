// Package cache keeps rendered instances on disk, one slot per context.
//
// The on-disk layout is an explicit index rather than a naming convention:
//
//	<root>/index.json           key -> slot record
//	<root>/slots/<uuid>/        one slot
//	    .stencil-instance       ownership marker
//	    table.json              substitution table of the render
//	    <rendered root>/        the instance itself
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jorge-barreto/stencil/internal/ctxmodel"
	"github.com/jorge-barreto/stencil/internal/logging"
	"github.com/jorge-barreto/stencil/internal/render"
	"github.com/jorge-barreto/stencil/internal/state"
	"github.com/jorge-barreto/stencil/internal/subst"
)

const (
	MarkerFile = ".stencil-instance"
	TableFile  = "table.json"
	IndexFile  = "index.json"
	slotsDir   = "slots"
)

// Slot is the index record of one cached instance.
type Slot struct {
	Key         string            `json:"key"`
	ID          string            `json:"id"`
	Template    string            `json:"template"`
	RootName    string            `json:"root_name"`
	Fingerprint string            `json:"fingerprint"`
	Values      map[string]string `json:"values"`
	Created     time.Time         `json:"created"`
	Dirty       bool              `json:"dirty,omitempty"`
}

// Instance is a rendered instance held by the cache.
type Instance struct {
	Key    string
	Dir    string // slot directory
	Root   string // rendered root inside the slot
	Table  *subst.Table
	Model  *ctxmodel.Model
	Slot   Slot
	Reused bool
}

type marker struct {
	Key     string    `json:"key"`
	Created time.Time `json:"created"`
}

type indexFile struct {
	Slots map[string]*Slot `json:"slots"`
}

// Cache manages instance slots under a root directory. It is safe for
// concurrent use; operations on the same key are serialized.
type Cache struct {
	root     string
	renderer *render.Renderer

	mu    sync.Mutex // guards index
	index map[string]*Slot

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Open loads or creates the cache at root.
func Open(root string, r *render.Renderer) (*Cache, error) {
	if r == nil {
		r = &render.Renderer{}
	}
	if err := os.MkdirAll(filepath.Join(root, slotsDir), 0o755); err != nil {
		return nil, err
	}
	c := &Cache{
		root:     root,
		renderer: r,
		index:    make(map[string]*Slot),
		locks:    make(map[string]*sync.Mutex),
	}
	data, err := os.ReadFile(filepath.Join(root, IndexFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c, nil
		}
		return nil, err
	}
	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing cache index: %w", err)
	}
	if idx.Slots != nil {
		c.index = idx.Slots
	}
	return c, nil
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	return c.root
}

// Key derives the cache key for a template and context. Every input value
// participates, so contexts differing in a single flag never share a slot.
func Key(tmpl *render.Template, model *ctxmodel.Model) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s", tmpl.Dir, model.Identity())
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func (c *Cache) lock(key string) func() {
	c.locksMu.Lock()
	m, ok := c.locks[key]
	if !ok {
		m = &sync.Mutex{}
		c.locks[key] = m
	}
	c.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

func (c *Cache) slotDir(id string) string {
	return filepath.Join(c.root, slotsDir, id)
}

// saveIndex must be called with c.mu held.
func (c *Cache) saveIndex() error {
	data, err := json.MarshalIndent(indexFile{Slots: c.index}, "", "  ")
	if err != nil {
		return err
	}
	return state.WriteFileAtomic(filepath.Join(c.root, IndexFile), append(data, '\n'), 0o644)
}

// Lookup returns the index record for key.
func (c *Cache) Lookup(key string) (Slot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.index[key]
	if !ok {
		return Slot{}, false
	}
	return *s, true
}

// List returns every indexed slot ordered by creation time.
func (c *Cache) List() []Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Slot, 0, len(c.index))
	for _, s := range c.index {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// MarkDirty flags a slot so the next GetOrCreate renders it afresh.
func (c *Cache) MarkDirty(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.index[key]
	if !ok {
		return nil
	}
	s.Dirty = true
	return c.saveIndex()
}

// GetOrCreate returns the instance for model, rendering it when the slot is
// missing, dirty, unmarked or rendered from an older template.
func (c *Cache) GetOrCreate(ctx context.Context, tmpl *render.Template, model *ctxmodel.Model) (*Instance, error) {
	key := Key(tmpl, model)
	unlock := c.lock(key)
	defer unlock()
	log := logging.FromContext(ctx).With("key", key)

	fp, err := render.Fingerprint(tmpl)
	if err != nil {
		return nil, err
	}

	if slot, ok := c.Lookup(key); ok {
		inst, err := c.reuse(slot, fp, model)
		if err != nil {
			return nil, err
		}
		if inst != nil {
			log.Debug("reusing cached instance", "slot", slot.ID)
			return inst, nil
		}
		log.Info("discarding cached instance", "slot", slot.ID, "dirty", slot.Dirty)
		if err := c.removeLocked(ctx, key, removeOptions{}); err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()
	tmp := filepath.Join(c.root, slotsDir, ".tmp-"+id)
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			os.RemoveAll(tmp)
		}
	}()

	res, err := c.renderer.Render(ctx, tmpl, model, tmp)
	if err != nil {
		return nil, err
	}
	if err := res.Table.Save(filepath.Join(tmp, TableFile)); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	mk, err := json.Marshal(marker{Key: key, Created: now})
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(tmp, MarkerFile), mk, 0o644); err != nil {
		return nil, err
	}
	dir := c.slotDir(id)
	if err := os.Rename(tmp, dir); err != nil {
		return nil, err
	}
	ok = true

	slot := &Slot{
		Key:         key,
		ID:          id,
		Template:    tmpl.Dir,
		RootName:    res.RootName,
		Fingerprint: fp,
		Values:      model.Inputs(),
		Created:     now,
	}
	c.mu.Lock()
	c.index[key] = slot
	err = c.saveIndex()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	log.Info("cached new instance", "slot", id, "path", filepath.Join(dir, res.RootName))
	return &Instance{
		Key:   key,
		Dir:   dir,
		Root:  filepath.Join(dir, res.RootName),
		Table: res.Table,
		Model: model,
		Slot:  *slot,
	}, nil
}

// reuse returns the cached instance when it is still valid, or nil.
func (c *Cache) reuse(slot Slot, fingerprint string, model *ctxmodel.Model) (*Instance, error) {
	if slot.Dirty || slot.Fingerprint != fingerprint {
		return nil, nil
	}
	dir := c.slotDir(slot.ID)
	if _, err := os.Stat(filepath.Join(dir, MarkerFile)); err != nil {
		return nil, nil
	}
	root := filepath.Join(dir, slot.RootName)
	if _, err := os.Stat(root); err != nil {
		return nil, nil
	}
	table, err := subst.Load(filepath.Join(dir, TableFile))
	if err != nil {
		return nil, nil
	}
	return &Instance{
		Key:    slot.Key,
		Dir:    dir,
		Root:   root,
		Table:  table,
		Model:  model,
		Slot:   slot,
		Reused: true,
	}, nil
}

// Invalidate removes the instance for model. A missing instance is a no-op.
func (c *Cache) Invalidate(ctx context.Context, tmpl *render.Template, model *ctxmodel.Model, opts ...RemoveOption) error {
	return c.InvalidateKey(ctx, Key(tmpl, model), opts...)
}

// InvalidateKey removes the slot recorded under key.
func (c *Cache) InvalidateKey(ctx context.Context, key string, opts ...RemoveOption) error {
	unlock := c.lock(key)
	defer unlock()
	var o removeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return c.removeLocked(ctx, key, o)
}

// PurgeAll invalidates every indexed slot. It stops at the first slot that
// cannot be removed.
func (c *Cache) PurgeAll(ctx context.Context, opts ...RemoveOption) error {
	for _, s := range c.List() {
		if err := c.InvalidateKey(ctx, s.Key, opts...); err != nil {
			return err
		}
	}
	return nil
}

// removeLocked must be called with the key lock held.
func (c *Cache) removeLocked(ctx context.Context, key string, o removeOptions) error {
	slot, ok := c.Lookup(key)
	if !ok {
		return nil
	}
	dir := c.slotDir(slot.ID)
	if err := removeOwned(dir, o); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("removed cached instance", "key", key, "slot", slot.ID)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.index, key)
	return c.saveIndex()
}

// Warm renders several contexts concurrently, at most limit at a time.
// Instances are returned in the order of models.
func (c *Cache) Warm(ctx context.Context, tmpl *render.Template, models []*ctxmodel.Model, limit int) ([]*Instance, error) {
	out := make([]*Instance, len(models))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, m := range models {
		g.Go(func() error {
			inst, err := c.GetOrCreate(gctx, tmpl, m)
			if err != nil {
				return err
			}
			out[i] = inst
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
