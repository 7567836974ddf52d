package sync

import (
	"errors"
	"fmt"

	"github.com/kitovu/kitovu/internal/digest"
)

var (
	ErrIntegrity        = errors.New("downloaded file does not match remote digest")
	ErrBackendMismatch  = errors.New("cache entry belongs to another backend")
	ErrNoSettings       = errors.New("no settings")
	ErrEmptyDigest      = errors.New("backend returned an empty digest")
	ErrOutsideRemoteDir = errors.New("listed path is outside the remote dir")
)

// IntegrityError is returned when a backend delivered bytes that do not match
// the digest it reported beforehand.
type IntegrityError struct {
	RemotePath string
	Expected   digest.Digest
	Actual     digest.Digest
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %v (expected %q, got %q)", e.RemotePath, ErrIntegrity, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }
