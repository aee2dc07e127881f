package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorge-barreto/stencil/internal/ctxmodel"
	"github.com/jorge-barreto/stencil/internal/render"
)

const manifest = `name: demo
root: "{{project_name}}"
variables:
  - key: project_name
    default: robust-demo
  - key: add_extension
    type: bool
    default: false
`

func newTemplate(t *testing.T) *render.Template {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"stencil.yaml":               manifest,
		"{{project_name}}/README.md": "# {{project_name}}\n",
		"{{project_name}}/setup.cfg": "{% if add_extension %}\next = true\n{% endif %}\n",
	}
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	tmpl, err := render.Open(dir)
	require.NoError(t, err)
	return tmpl
}

func model(t *testing.T, tmpl *render.Template, raw map[string]any) *ctxmodel.Model {
	t.Helper()
	m, err := ctxmodel.Build(tmpl.Manifest, raw)
	require.NoError(t, err)
	return m
}

func openCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	return c
}

func TestGetOrCreate_Reuses(t *testing.T) {
	ctx := context.Background()
	tmpl := newTemplate(t)
	c := openCache(t)
	m := model(t, tmpl, nil)

	first, err := c.GetOrCreate(ctx, tmpl, m)
	require.NoError(t, err)
	assert.False(t, first.Reused)
	assert.Equal(t, "robust-demo", filepath.Base(first.Root))
	assert.FileExists(t, filepath.Join(first.Dir, MarkerFile))
	assert.FileExists(t, filepath.Join(first.Dir, TableFile))

	data, err := os.ReadFile(filepath.Join(first.Root, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "# robust-demo\n", string(data))

	second, err := c.GetOrCreate(ctx, tmpl, m)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Root, second.Root)
	assert.Equal(t, first.Table.Records, second.Table.Records)
}

func TestKey_Isolation(t *testing.T) {
	ctx := context.Background()
	tmpl := newTemplate(t)
	c := openCache(t)
	off := model(t, tmpl, map[string]any{"add_extension": false})
	on := model(t, tmpl, map[string]any{"add_extension": true})
	require.NotEqual(t, Key(tmpl, off), Key(tmpl, on))

	a, err := c.GetOrCreate(ctx, tmpl, off)
	require.NoError(t, err)
	b, err := c.GetOrCreate(ctx, tmpl, on)
	require.NoError(t, err)
	assert.NotEqual(t, a.Dir, b.Dir)

	cfg, err := os.ReadFile(filepath.Join(b.Root, "setup.cfg"))
	require.NoError(t, err)
	assert.Equal(t, "ext = true\n", string(cfg))

	require.NoError(t, c.Invalidate(ctx, tmpl, off))
	assert.NoDirExists(t, a.Dir)
	assert.DirExists(t, b.Dir)
	_, ok := c.Lookup(Key(tmpl, on))
	assert.True(t, ok)
}

func TestInvalidate_Missing(t *testing.T) {
	tmpl := newTemplate(t)
	c := openCache(t)
	assert.NoError(t, c.Invalidate(context.Background(), tmpl, model(t, tmpl, nil)))
}

func TestInvalidate_RefusesUnmarked(t *testing.T) {
	ctx := context.Background()
	tmpl := newTemplate(t)
	c := openCache(t)
	inst, err := c.GetOrCreate(ctx, tmpl, model(t, tmpl, nil))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(inst.Dir, MarkerFile)))

	err = c.InvalidateKey(ctx, inst.Key)
	var unsafe *UnsafeRemovalError
	require.ErrorAs(t, err, &unsafe)
	assert.Equal(t, inst.Dir, unsafe.Path)
	assert.DirExists(t, inst.Dir)

	declined := c.InvalidateKey(ctx, inst.Key, Confirm(func(string) (bool, error) { return false, nil }))
	require.ErrorAs(t, declined, &unsafe)
	assert.DirExists(t, inst.Dir)

	var asked string
	require.NoError(t, c.InvalidateKey(ctx, inst.Key, Confirm(func(p string) (bool, error) {
		asked = p
		return true, nil
	})))
	assert.Equal(t, inst.Dir, asked)
	assert.NoDirExists(t, inst.Dir)
	_, ok := c.Lookup(inst.Key)
	assert.False(t, ok)
}

func TestInvalidate_Force(t *testing.T) {
	ctx := context.Background()
	tmpl := newTemplate(t)
	c := openCache(t)
	inst, err := c.GetOrCreate(ctx, tmpl, model(t, tmpl, nil))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(inst.Dir, MarkerFile)))

	require.NoError(t, c.InvalidateKey(ctx, inst.Key, Force()))
	assert.NoDirExists(t, inst.Dir)
}

func TestInvalidate_ReadOnly(t *testing.T) {
	ctx := context.Background()
	tmpl := newTemplate(t)
	c := openCache(t)
	inst, err := c.GetOrCreate(ctx, tmpl, model(t, tmpl, nil))
	require.NoError(t, err)
	locked := filepath.Join(inst.Root, "locked")
	require.NoError(t, os.MkdirAll(locked, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(locked, "ro.txt"), []byte("x"), 0o444))
	require.NoError(t, os.Chmod(locked, 0o555))

	require.NoError(t, c.InvalidateKey(ctx, inst.Key))
	assert.NoDirExists(t, inst.Dir)
}

func TestGetOrCreate_StaleTemplate(t *testing.T) {
	ctx := context.Background()
	tmpl := newTemplate(t)
	c := openCache(t)
	m := model(t, tmpl, nil)
	first, err := c.GetOrCreate(ctx, tmpl, m)
	require.NoError(t, err)

	readme := filepath.Join(tmpl.ContentDir(), "README.md")
	require.NoError(t, os.WriteFile(readme, []byte("# {{project_name}} v2\n"), 0o644))

	second, err := c.GetOrCreate(ctx, tmpl, m)
	require.NoError(t, err)
	assert.False(t, second.Reused)
	assert.NotEqual(t, first.Dir, second.Dir)
	assert.NoDirExists(t, first.Dir)

	data, err := os.ReadFile(filepath.Join(second.Root, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "# robust-demo v2\n", string(data))
}

func TestMarkDirty(t *testing.T) {
	ctx := context.Background()
	tmpl := newTemplate(t)
	c := openCache(t)
	m := model(t, tmpl, nil)
	first, err := c.GetOrCreate(ctx, tmpl, m)
	require.NoError(t, err)

	require.NoError(t, c.MarkDirty(first.Key))
	slot, ok := c.Lookup(first.Key)
	require.True(t, ok)
	assert.True(t, slot.Dirty)

	second, err := c.GetOrCreate(ctx, tmpl, m)
	require.NoError(t, err)
	assert.False(t, second.Reused)
	assert.False(t, second.Slot.Dirty)
}

func TestGetOrCreate_Concurrent(t *testing.T) {
	ctx := context.Background()
	tmpl := newTemplate(t)
	c := openCache(t)
	m := model(t, tmpl, nil)

	var wg sync.WaitGroup
	roots := make([]string, 8)
	errs := make([]error, 8)
	for i := range roots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := c.GetOrCreate(ctx, tmpl, m)
			errs[i] = err
			if err == nil {
				roots[i] = inst.Root
			}
		}()
	}
	wg.Wait()
	for i := range roots {
		require.NoError(t, errs[i])
		assert.Equal(t, roots[0], roots[i])
	}
	entries, err := os.ReadDir(filepath.Join(c.Root(), slotsDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWarm(t *testing.T) {
	ctx := context.Background()
	tmpl := newTemplate(t)
	c := openCache(t)
	models := []*ctxmodel.Model{
		model(t, tmpl, map[string]any{"project_name": "alpha"}),
		model(t, tmpl, map[string]any{"project_name": "beta"}),
		model(t, tmpl, map[string]any{"project_name": "gamma", "add_extension": true}),
	}
	insts, err := c.Warm(ctx, tmpl, models, 2)
	require.NoError(t, err)
	require.Len(t, insts, 3)
	assert.Equal(t, "alpha", insts[0].Slot.RootName)
	assert.Equal(t, "beta", insts[1].Slot.RootName)
	assert.Equal(t, "gamma", insts[2].Slot.RootName)
	assert.Len(t, c.List(), 3)

	require.NoError(t, c.PurgeAll(ctx))
	assert.Empty(t, c.List())
	for _, inst := range insts {
		assert.NoDirExists(t, inst.Dir)
	}
}

func TestWarm_RenderError(t *testing.T) {
	tmpl := newTemplate(t)
	c := openCache(t)
	bad := model(t, tmpl, map[string]any{"project_name": "a/b"})
	_, err := c.Warm(context.Background(), tmpl, []*ctxmodel.Model{bad}, 1)
	var te *render.TemplateError
	require.True(t, errors.As(err, &te), "got %v", err)
	entries, err := os.ReadDir(filepath.Join(c.Root(), slotsDir))
	require.NoError(t, err)
	assert.Empty(t, entries, "failed render must not leave staging directories")
}

func TestOpen_PersistsIndex(t *testing.T) {
	ctx := context.Background()
	tmpl := newTemplate(t)
	root := t.TempDir()
	c, err := Open(root, nil)
	require.NoError(t, err)
	m := model(t, tmpl, map[string]any{"project_name": "persisted"})
	inst, err := c.GetOrCreate(ctx, tmpl, m)
	require.NoError(t, err)

	reopened, err := Open(root, nil)
	require.NoError(t, err)
	slot, ok := reopened.Lookup(inst.Key)
	require.True(t, ok)
	assert.Equal(t, "persisted", slot.Values["project_name"])
	assert.Equal(t, "false", slot.Values["add_extension"])

	again, err := reopened.GetOrCreate(ctx, tmpl, m)
	require.NoError(t, err)
	assert.True(t, again.Reused)
	assert.Equal(t, inst.Root, again.Root)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	tmpl := newTemplate(t)
	c := openCache(t)
	a, err := c.GetOrCreate(ctx, tmpl, model(t, tmpl, map[string]any{"project_name": "a"}))
	require.NoError(t, err)
	b, err := c.GetOrCreate(ctx, tmpl, model(t, tmpl, map[string]any{"project_name": "b"}))
	require.NoError(t, err)

	p, err := c.Verify()
	require.NoError(t, err)
	assert.True(t, p.Empty())

	orphan := filepath.Join(c.Root(), slotsDir, "stray")
	staging := filepath.Join(c.Root(), slotsDir, ".tmp-dead")
	require.NoError(t, os.MkdirAll(orphan, 0o755))
	require.NoError(t, os.MkdirAll(staging, 0o755))
	require.NoError(t, os.Remove(filepath.Join(a.Dir, MarkerFile)))
	require.NoError(t, os.RemoveAll(b.Dir))

	p, err = c.Verify()
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, p.Orphans)
	assert.Equal(t, []string{staging}, p.Staging)
	assert.Equal(t, []string{a.Dir}, p.Unmarked)
	assert.Equal(t, []string{b.Key}, p.Missing)
}
