package datastore_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pipecrate/internal/datastore"
	"github.com/vk/pipecrate/internal/testutil"
)

func openStore(t *testing.T) (*datastore.Local, string) {
	t.Helper()
	root := t.TempDir()
	store, err := datastore.OpenLocal(root)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, root
}

func TestFetchRootRelativePath(t *testing.T) {
	ctx, _ := testutil.Context(t)
	store, root := openStore(t)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub-01"), 0o755))
	want := filepath.Join(root, "sub-01", "anat.nii.gz")
	require.NoError(t, os.WriteFile(want, []byte("data"), 0o644))

	got, err := store.Fetch(ctx, "sub-01/anat.nii.gz")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Second fetch resolves from the index to the same path.
	again, err := store.Fetch(ctx, "sub-01/anat.nii.gz")
	require.NoError(t, err)
	assert.Equal(t, want, again)
}

func TestFetchMissing(t *testing.T) {
	ctx, _ := testutil.Context(t)
	store, _ := openStore(t)

	_, err := store.Fetch(ctx, "nope/missing.nii.gz")
	var nferr *datastore.NotFoundError
	require.ErrorAs(t, err, &nferr)
	assert.Equal(t, "nope/missing.nii.gz", nferr.Ref)
}

func TestPutThenFetch(t *testing.T) {
	ctx, _ := testutil.Context(t)
	store, root := openStore(t)

	local := filepath.Join(t.TempDir(), "mask.nii.gz")
	require.NoError(t, os.WriteFile(local, []byte("mask-v1"), 0o644))

	ref, err := store.Put(ctx, local, "derived/bet/mask.nii.gz")
	require.NoError(t, err)
	assert.Equal(t, "derived/bet/mask.nii.gz", ref)

	path, err := store.Fetch(ctx, ref)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, filepath.Join(root, "objects")), "stored under objects/, got %s", path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mask-v1", string(content))
}

func TestPutOverwriteKeepsLocation(t *testing.T) {
	ctx, _ := testutil.Context(t)
	store, _ := openStore(t)

	local := filepath.Join(t.TempDir(), "mask.nii.gz")
	require.NoError(t, os.WriteFile(local, []byte("v1"), 0o644))
	_, err := store.Put(ctx, local, "derived/mask.nii.gz")
	require.NoError(t, err)
	first, err := store.Fetch(ctx, "derived/mask.nii.gz")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(local, []byte("v2"), 0o644))
	_, err = store.Put(ctx, local, "derived/mask.nii.gz")
	require.NoError(t, err)
	second, err := store.Fetch(ctx, "derived/mask.nii.gz")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	content, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))
}

func TestPutDirectory(t *testing.T) {
	ctx, _ := testutil.Context(t)
	store, _ := openStore(t)

	series := filepath.Join(t.TempDir(), "series")
	require.NoError(t, os.MkdirAll(filepath.Join(series, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(series, "0001.dcm"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(series, "nested", "0002.dcm"), []byte("b"), 0o644))

	ref, err := store.Put(ctx, series, "derived/series")
	require.NoError(t, err)

	path, err := store.Fetch(ctx, ref)
	require.NoError(t, err)
	for _, rel := range []string{"0001.dcm", filepath.Join("nested", "0002.dcm")} {
		_, err := os.Stat(filepath.Join(path, rel))
		assert.NoError(t, err, rel)
	}
}

func TestIndexSurvivesReopen(t *testing.T) {
	ctx, _ := testutil.Context(t)
	root := t.TempDir()

	store, err := datastore.OpenLocal(root)
	require.NoError(t, err)
	local := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))
	_, err = store.Put(ctx, local, "derived/out.txt")
	require.NoError(t, err)
	first, err := store.Fetch(ctx, "derived/out.txt")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := datastore.OpenLocal(root)
	require.NoError(t, err)
	defer reopened.Close()
	second, err := reopened.Fetch(ctx, "derived/out.txt")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
