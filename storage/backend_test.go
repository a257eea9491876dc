package storage

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/progressive-cache/types"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	dir := t.TempDir()
	file, err := OpenFile(filepath.Join(dir, "files"), 0)
	require.NoError(t, err)

	bolt, err := OpenBolt(filepath.Join(dir, "cache.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	mr := miniredis.RunT(t)
	rds := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0)
	t.Cleanup(func() { _ = rds.Close() })

	return map[string]Backend{
		"memory": NewMemory(0),
		"file":   file,
		"bolt":   bolt,
		"redis":  rds,
	}
}

func TestBackendContract(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := b.Get("missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, b.Set("ns:key", `{"v":1}`))
			v, ok, err := b.Get("ns:key")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `{"v":1}`, v)

			require.NoError(t, b.Set("ns:key", `{"v":2}`))
			v, _, _ = b.Get("ns:key")
			assert.Equal(t, `{"v":2}`, v)

			require.NoError(t, b.Delete("ns:key"))
			require.NoError(t, b.Delete("ns:key"), "deleting an absent key is a no-op")
			_, ok, err = b.Get("ns:key")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestQuotaRejectsOversizedWrites(t *testing.T) {
	dir := t.TempDir()
	file, err := OpenFile(filepath.Join(dir, "files"), 200)
	require.NoError(t, err)
	bolt, err := OpenBolt(filepath.Join(dir, "cache.db"), 200)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	for name, b := range map[string]Backend{"memory": NewMemory(200), "file": file, "bolt": bolt} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Set("a", strings.Repeat("x", 50)))

			err := b.Set("b", strings.Repeat("x", 300))
			require.Error(t, err)
			assert.True(t, types.IsQuota(err))

			var q *types.QuotaError
			require.ErrorAs(t, err, &q)
			assert.Equal(t, "b", q.Key)

			_, ok, _ := b.Get("b")
			assert.False(t, ok, "rejected write must not be stored")

			require.NoError(t, b.Delete("a"))
			require.NoError(t, b.Set("b", strings.Repeat("x", 100)), "freed space is reusable")
		})
	}
}

func TestMemoryQuotaCountsOverwrites(t *testing.T) {
	m := NewMemory(10)
	require.NoError(t, m.Set("k", "12345678"))
	require.NoError(t, m.Set("k", "123456789"), "overwrite replaces the old size")
	assert.EqualValues(t, 10, m.Used())
}

func TestFileAndBoltSurviveReopen(t *testing.T) {
	dir := t.TempDir()

	f, err := OpenFile(filepath.Join(dir, "files"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Set("k", "v"))

	f2, err := OpenFile(filepath.Join(dir, "files"), 0)
	require.NoError(t, err)
	v, ok, err := f2.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	path := filepath.Join(dir, "cache.db")
	b, err := OpenBolt(path, 0)
	require.NoError(t, err)
	require.NoError(t, b.Set("k", "v"))
	require.NoError(t, b.Close())

	b2, err := OpenBolt(path, 0)
	require.NoError(t, err)
	defer b2.Close()
	v, ok, err = b2.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestOpen(t *testing.T) {
	b, err := Open(Config{Kind: KindNone})
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = Open(Config{Kind: KindMemory, Quota: 10})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)

	_, err = Open(Config{Kind: "floppy"})
	assert.Error(t, err)

	_, err = Open(Config{Kind: KindFile})
	assert.Error(t, err, "file backend needs a path")
}
