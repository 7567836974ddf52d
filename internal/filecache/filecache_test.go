package filecache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kitovu/kitovu/internal/digest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cachePath = "/data/kitovu/filecache.json"

func TestFileCache_LoadMissingIsEmpty(t *testing.T) {
	c := New(cachePath, WithFs(afero.NewMemMapFs()))
	require.NoError(t, c.Load())
	assert.Equal(t, 0, c.Len())

	_, ok := c.Lookup("/home/u/a.txt")
	assert.False(t, ok)
}

func TestFileCache_RecordPersistLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := New(cachePath, WithFs(fs))
	require.NoError(t, c.Load())

	c.Record("/home/u/b.txt", "smb", "12-2000")
	c.Record("/home/u/a.txt", "smb", "10-1000")
	c.Record("/home/u/a.txt", "moodle", "11-1100") // overwrite
	require.NoError(t, c.Persist())

	data, err := afero.ReadFile(fs, cachePath)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"/home/u/a.txt": {"plugin": "moodle", "digest": "11-1100"},
		"/home/u/b.txt": {"plugin": "smb", "digest": "12-2000"}
	}`, string(data))

	exists, err := afero.Exists(fs, cachePath+tmpSuffix)
	require.NoError(t, err)
	assert.False(t, exists, "temp file must not survive a persist")

	reloaded := New(cachePath, WithFs(fs))
	require.NoError(t, reloaded.Load())
	entry, ok := reloaded.Lookup("/home/u/a.txt")
	require.True(t, ok)
	assert.Equal(t, Entry{Backend: "moodle", Digest: digest.Digest("11-1100")}, entry)
	assert.Equal(t, []string{"/home/u/a.txt", "/home/u/b.txt"}, reloaded.Paths())
}

func TestFileCache_PersistIsDeterministic(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := New(cachePath, WithFs(fs))
	for _, p := range []string{"/z", "/a", "/m", "/b"} {
		c.Record(p, "local", "1-1")
	}
	require.NoError(t, c.Persist())
	first, err := afero.ReadFile(fs, cachePath)
	require.NoError(t, err)

	require.NoError(t, c.Load())
	require.NoError(t, c.Persist())
	second, err := afero.ReadFile(fs, cachePath)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFileCache_LoadMalformed(t *testing.T) {
	for name, content := range map[string]string{
		"not json":      "{nope",
		"wrong shape":   `["a", "b"]`,
		"missing plugin": `{"/a": {"digest": "1-1"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, cachePath, []byte(content), 0o644))

			c := New(cachePath, WithFs(fs))
			err := c.Load()
			require.Error(t, err)

			var ioErr *CacheIOError
			require.True(t, errors.As(err, &ioErr))
			assert.Equal(t, "decode", ioErr.Op)
			assert.ErrorIs(t, err, ErrMalformedCache)
		})
	}
}

func TestFileCache_LoadEntryWithoutDigest(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, cachePath, []byte(`{"/a": {"plugin": "smb"}}`), 0o644))

	c := New(cachePath, WithFs(fs))
	require.NoError(t, c.Load())

	entry, ok := c.Lookup("/a")
	require.True(t, ok)
	assert.Equal(t, Entry{Backend: "smb", Digest: digest.None}, entry)

	require.NoError(t, c.Persist())
	data, err := afero.ReadFile(fs, cachePath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"/a": {"plugin": "smb"}}`, string(data))
}

func TestFileCache_PersistFailureKeepsPreviousFile(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, cachePath, []byte(`{"/a":{"plugin":"smb","digest":"1-1"}}`), 0o644))

	c := New(cachePath, WithFs(afero.NewReadOnlyFs(base)))
	require.NoError(t, c.Load())
	c.Record("/b", "smb", "2-2")

	err := c.Persist()
	var ioErr *CacheIOError
	require.True(t, errors.As(err, &ioErr))

	data, err := afero.ReadFile(base, cachePath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"/a":{"plugin":"smb","digest":"1-1"}}`, string(data))
}

func TestFileCache_Lock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)

	first := New(path)
	require.NoError(t, first.Lock())

	second := New(path)
	assert.ErrorIs(t, second.Lock(), ErrCacheLocked)

	require.NoError(t, first.Unlock())
	_, err := os.Stat(path + lockSuffix)
	assert.NoError(t, err, "lock file is kept after unlocking")

	require.NoError(t, second.Lock())
	require.NoError(t, second.Unlock())

	// unlocking without holding the lock is a no-op
	assert.NoError(t, New(path).Unlock())
}
