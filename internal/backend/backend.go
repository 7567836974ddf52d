// Package backend defines the capability contract every remote source
// implements, the fault taxonomy backends report with, and the registry the
// sync engine resolves backends from.
package backend

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/kitovu/kitovu/internal/digest"
	"github.com/kitovu/kitovu/internal/secrets"
)

// Backend is a remote content source. The engine calls Configure, then
// Connect, then any number of List/RemoteDigest/LocalDigest/Fetch calls and
// finally Disconnect. Remote paths are slash separated.
type Backend interface {
	// Name is the registry name of the backend, stored with every cache entry.
	Name() string

	// Configure validates and stores connection specific options.
	Configure(options map[string]string) error

	// Connect establishes the session, resolving credentials on demand.
	Connect(ctx context.Context) error

	// List recursively yields the files (not directories) below remoteDir.
	List(ctx context.Context, remoteDir string) iter.Seq2[string, error]

	RemoteDigest(ctx context.Context, remotePath string) (digest.Digest, error)

	// LocalDigest computes the digest of a local file. A missing file is
	// reported with an error matching fs.ErrNotExist.
	LocalDigest(localPath string) (digest.Digest, error)

	// Fetch writes the content of remotePath to w and returns the original
	// modification time when the backend knows it.
	Fetch(ctx context.Context, remotePath string, w io.Writer) (*time.Time, error)

	// Disconnect releases the session established by Connect.
	Disconnect() error
}

// Deps are the collaborators handed to every backend factory.
type Deps struct {
	Secrets secrets.Store
}

// Factory creates an unconfigured backend.
type Factory func(deps Deps) Backend
