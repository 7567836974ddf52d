package smb

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/kitovu/kitovu/internal/backend"
	"github.com/kitovu/kitovu/internal/digest"
	"github.com/kitovu/kitovu/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T, store *secrets.MemoryStore, opts map[string]string) *Backend {
	t.Helper()
	b := New(backend.Deps{Secrets: store}).(*Backend)
	require.NoError(t, b.Configure(opts))
	return b
}

func TestSMB_ConfigureDefaults(t *testing.T) {
	b := newBackend(t, secrets.NewMemoryStore(), map[string]string{"username": "jdoe"})
	assert.Equal(t, "svm-c213.hsr.ch", b.opts.Hostname)
	assert.Equal(t, "skripte", b.opts.Share)
	assert.Equal(t, "HSR", b.opts.Domain)
	assert.Equal(t, 445, b.opts.Port)
	assert.Equal(t, "jdoe\nHSR\nsvm-c213.hsr.ch", b.passwordIdentifier())

	b = newBackend(t, secrets.NewMemoryStore(), map[string]string{"username": "jdoe", "is_direct_tcp": "false"})
	assert.Equal(t, 139, b.opts.Port)

	b = newBackend(t, secrets.NewMemoryStore(), map[string]string{"username": "jdoe", "port": "1445"})
	assert.Equal(t, 1445, b.opts.Port)
}

func TestSMB_ConfigureInvalid(t *testing.T) {
	for name, opts := range map[string]map[string]string{
		"missing username": {},
		"bad sign option":  {"username": "jdoe", "sign_options": "sometimes"},
		"unknown option":   {"username": "jdoe", "password": "nope"},
		"bad port":         {"username": "jdoe", "port": "99999"},
	} {
		t.Run(name, func(t *testing.T) {
			b := New(backend.Deps{Secrets: secrets.NewMemoryStore()})
			assert.ErrorIs(t, b.Configure(opts), backend.ErrConfiguration)
		})
	}
}

func TestSMB_ConnectWithoutSecret(t *testing.T) {
	b := newBackend(t, secrets.NewMemoryStore(), map[string]string{"username": "jdoe"})
	err := b.Connect(context.Background())
	assert.ErrorIs(t, err, backend.ErrAuthentication)
}

func TestSMB_ConnectRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	store := secrets.NewMemoryStore()
	store.Set("smb", "jdoe\nHSR\n127.0.0.1", "secret")
	b := newBackend(t, store, map[string]string{
		"username": "jdoe",
		"hostname": "127.0.0.1",
		"port":     strconv.Itoa(port),
	})

	err = b.Connect(context.Background())
	assert.ErrorIs(t, err, backend.ErrConnectivity)
	assert.NoError(t, b.Disconnect(), "disconnect without a session is a no-op")
}

func TestSMB_NotConnected(t *testing.T) {
	b := newBackend(t, secrets.NewMemoryStore(), map[string]string{"username": "jdoe"})

	_, err := b.RemoteDigest(context.Background(), "a.txt")
	assert.ErrorIs(t, err, backend.ErrOperation)

	for _, err := range b.List(context.Background(), "dir") {
		assert.ErrorIs(t, err, backend.ErrOperation)
	}
}

func TestSMB_LocalDigest(t *testing.T) {
	b := newBackend(t, secrets.NewMemoryStore(), map[string]string{"username": "jdoe"})
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))
	mtime := time.Unix(1000, 500)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	d, err := b.LocalDigest(path)
	require.NoError(t, err)
	assert.Equal(t, digest.Digest("10-1000"), d)
}

func TestSMB_PathConversion(t *testing.T) {
	assert.Equal(t, "Informatik/Fachbereich", cleanRemote("/Informatik/Fachbereich/"))
	assert.Equal(t, "Informatik/Fachbereich", cleanRemote(`Informatik\Fachbereich`))
	assert.Equal(t, "", cleanRemote("/"))
	assert.Equal(t, `Informatik\Fachbereich\a.pdf`, toShare("Informatik/Fachbereich/a.pdf"))
	assert.Equal(t, "", toShare(""))
}
