// Package digest defines the content identity token shared by backends, the
// file cache and the reconciliation state machine.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// Digest is an opaque token identifying the content of a file at a point in
// time. Digests produced by different backends are never comparable.
type Digest string

// None is the absent digest: no digest was ever captured, or the file does not exist.
const None Digest = ""

func (d Digest) IsNone() bool { return d == None }

func (d Digest) String() string { return string(d) }

// FromStat builds a "{size}-{mtime}" digest. The mtime is truncated to full
// seconds since resolution differs between client, server and filesystem.
func FromStat(size int64, mtime time.Time) Digest {
	return Digest(fmt.Sprintf("%d-%d", size, mtime.Unix()))
}

// FromReader hashes the content of r with SHA-256.
func FromReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return None, err
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}
