package catalog

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheLoadLatest(t *testing.T) {
	c := NewCache(t.TempDir(), 5)
	base := time.Unix(1700000000, 0)

	require.NoError(t, c.Write([]byte("old"), base))
	require.NoError(t, c.Write([]byte("new"), base.Add(time.Hour)))

	data, ts, err := c.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.True(t, ts.Equal(base.Add(time.Hour)))
}

func TestCachePrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, 2)
	base := time.Unix(1700000000, 0)

	for i := 0; i < 4; i++ {
		require.NoError(t, c.Write([]byte{byte('a' + i)}, base.Add(time.Duration(i)*time.Minute)))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	data, _, err := c.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, "d", string(data))
}

func TestCacheEmpty(t *testing.T) {
	c := NewCache(t.TempDir()+"/missing", 0)
	_, _, err := c.LoadLatest()
	assert.Error(t, err)
}

func TestCacheIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/catalog_notanumber.json", []byte("x"), 0644))
	require.NoError(t, os.WriteFile(dir+"/README", []byte("x"), 0644))

	c := NewCache(dir, 5)
	require.NoError(t, c.Write([]byte("real"), time.Unix(1700000000, 0)))

	data, _, err := c.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, "real", string(data))
}
