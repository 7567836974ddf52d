// Package local implements a backend that mirrors another directory tree, such
// as a mounted network share.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kitovu/kitovu/internal/backend"
	"github.com/kitovu/kitovu/internal/digest"
	"github.com/spf13/afero"
)

const Name = "local"

const (
	hashNone   = "none"
	hashSHA256 = "sha256"
)

type options struct {
	Root string `option:"root" validate:"required"`
	Hash string `option:"hash" validate:"oneof=none sha256"`
}

// Backend serves files from Root on the remote filesystem. Local files are
// always read from the operating system filesystem.
type Backend struct {
	remote    afero.Fs
	local     afero.Fs
	opts      options
	root      afero.Fs
	connected bool
}

// New returns a backend reading the remote tree from the OS filesystem.
func New(backend.Deps) backend.Backend {
	return NewWithFs(afero.NewOsFs())
}

// NewWithFs returns a backend reading the remote tree from remote.
func NewWithFs(remote afero.Fs) *Backend {
	return &Backend{
		remote: remote,
		local:  afero.NewOsFs(),
		opts:   options{Hash: hashNone},
	}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Configure(opts map[string]string) error {
	return backend.DecodeOptions(Name, opts, &b.opts)
}

func (b *Backend) Connect(context.Context) error {
	info, err := b.remote.Stat(b.opts.Root)
	if err != nil {
		return backend.ConnectivityFault(Name, "connect", err)
	}
	if !info.IsDir() {
		return backend.ConfigurationFault(Name, "connect", fmt.Errorf("root %s is not a directory", b.opts.Root))
	}
	b.root = afero.NewBasePathFs(b.remote, b.opts.Root)
	b.connected = true
	return nil
}

func (b *Backend) Disconnect() error {
	b.connected = false
	b.root = nil
	return nil
}

func (b *Backend) List(ctx context.Context, remoteDir string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !b.connected {
			yield("", backend.OperationFault(Name, "list", remoteDir, errNotConnected))
			return
		}
		b.walk(ctx, cleanRemote(remoteDir), yield)
	}
}

// walk yields files in lexical order and reports whether iteration should continue.
func (b *Backend) walk(ctx context.Context, dir string, yield func(string, error) bool) bool {
	if err := ctx.Err(); err != nil {
		return yield("", err)
	}

	entries, err := afero.ReadDir(b.root, toNative(dir))
	if err != nil {
		return yield("", backend.OperationFault(Name, "list", dir, err))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		p := path.Join(dir, entry.Name())
		if entry.IsDir() {
			if !b.walk(ctx, p, yield) {
				return false
			}
			continue
		}
		if !entry.Mode().IsRegular() {
			continue
		}
		if !yield(p, nil) {
			return false
		}
	}
	return true
}

func (b *Backend) RemoteDigest(_ context.Context, remotePath string) (digest.Digest, error) {
	if !b.connected {
		return digest.None, backend.OperationFault(Name, "digest", remotePath, errNotConnected)
	}
	d, err := b.digest(b.root, toNative(cleanRemote(remotePath)))
	if err != nil {
		return digest.None, backend.OperationFault(Name, "digest", remotePath, err)
	}
	return d, nil
}

func (b *Backend) LocalDigest(localPath string) (digest.Digest, error) {
	return b.digest(b.local, localPath)
}

func (b *Backend) digest(fsys afero.Fs, name string) (digest.Digest, error) {
	info, err := fsys.Stat(name)
	if err != nil {
		return digest.None, err
	}
	if info.IsDir() {
		return digest.None, fmt.Errorf("%s is a directory", name)
	}

	if b.opts.Hash != hashSHA256 {
		return digest.FromStat(info.Size(), info.ModTime()), nil
	}

	f, err := fsys.Open(name)
	if err != nil {
		return digest.None, err
	}
	defer f.Close()
	return digest.FromReader(f)
}

func (b *Backend) Fetch(ctx context.Context, remotePath string, w io.Writer) (*time.Time, error) {
	if !b.connected {
		return nil, backend.OperationFault(Name, "fetch", remotePath, errNotConnected)
	}
	name := toNative(cleanRemote(remotePath))

	f, err := b.root.Open(name)
	if err != nil {
		return nil, backend.OperationFault(Name, "fetch", remotePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, backend.OperationFault(Name, "fetch", remotePath, err)
	}

	if _, err := io.Copy(w, contextReader{ctx: ctx, r: f}); err != nil {
		return nil, backend.OperationFault(Name, "fetch", remotePath, err)
	}

	mtime := info.ModTime()
	return &mtime, nil
}

var errNotConnected = errors.New("not connected")

func cleanRemote(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}

func toNative(p string) string {
	return filepath.FromSlash(p)
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ backend.Backend = (*Backend)(nil)
