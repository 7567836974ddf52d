package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/kitovu/kitovu/internal/backend"
	"github.com/kitovu/kitovu/internal/digest"
	"github.com/kitovu/kitovu/internal/utils"
)

// tempPrefix marks partial downloads. The original name is kept as suffix so
// extension based digests still apply to the temp file.
const tempPrefix = ".kitovu-*-"

// download fetches remotePath next to localPath, verifies it against the
// remote digest and only then replaces localPath. It returns the file size.
func (e *Engine) download(ctx context.Context, b backend.Backend, remotePath, localPath string, remote digest.Digest) (int64, error) {
	if err := utils.EnsureParent(localPath); err != nil {
		return 0, fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), tempPrefix+filepath.Base(localPath))
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	mtime, err := b.Fetch(ctx, remotePath, tmp)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close temp file: %w", closeErr)
	}
	if err != nil {
		return 0, err
	}

	if mtime != nil {
		if err := os.Chtimes(tmpPath, *mtime, *mtime); err != nil {
			return 0, fmt.Errorf("set modification time: %w", err)
		}
	}

	actual, err := b.LocalDigest(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("digest downloaded file: %w", err)
	}
	if actual != remote {
		slog.Error("integrity check failed", "path", remotePath, "expected", remote, "actual", actual)
		return 0, &IntegrityError{RemotePath: remotePath, Expected: remote, Actual: actual}
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return 0, err
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		return 0, fmt.Errorf("move download into place: %w", err)
	}
	committed = true

	slog.Debug("download complete", "path", localPath, "size", humanize.Bytes(uint64(info.Size())))
	return info.Size(), nil
}
