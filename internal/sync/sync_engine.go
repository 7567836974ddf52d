// Package sync reconciles remote directories with local ones using a
// persistent digest cache.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kitovu/kitovu/internal/backend"
	"github.com/kitovu/kitovu/internal/filecache"
	"github.com/kitovu/kitovu/internal/settings"
	"golang.org/x/sync/errgroup"
)

// Config is everything a run needs besides its collaborators.
type Config struct {
	Settings *settings.Settings
	// Workers is the number of connections processed concurrently.
	Workers int
	// DryRun classifies and reports without fetching or touching the cache.
	DryRun bool
}

type Engine struct {
	config    *Config
	registry  *backend.Registry
	cache     *filecache.FileCache
	ignore    *IgnoreList
	reporters []Reporter

	reportMu sync.Mutex
	summary  *RunSummary
}

func NewEngine(cfg *Config, registry *backend.Registry, cache *filecache.FileCache, reporters ...Reporter) *Engine {
	return &Engine{
		config:    cfg,
		registry:  registry,
		cache:     cache,
		reporters: reporters,
	}
}

// Run syncs every configured connection once. Faults of a connection,
// subject or file are reported and skipped; the returned error is reserved
// for failures of the run itself. The cache is persisted exactly once, and
// not at all when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) (*RunSummary, error) {
	if e.config == nil || e.config.Settings == nil {
		return nil, ErrNoSettings
	}

	if err := e.cache.Lock(); err != nil {
		return nil, err
	}
	defer func() {
		if err := e.cache.Unlock(); err != nil {
			slog.Warn("failed to release cache lock", "path", e.cache.Path(), "error", err)
		}
	}()

	if err := e.cache.Load(); err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}

	e.ignore = NewIgnoreList(e.config.Settings.RootDir)
	e.ignore.Load()

	e.summary = newRunSummary(uuid.NewString(), e.config.DryRun)
	e.report(func(r Reporter) { r.RunStarted(e.summary.RunID, e.summary.StartedAt) })

	workers := e.config.Workers
	if workers < 1 {
		workers = 1
	}

	var eg errgroup.Group
	eg.SetLimit(workers)
	for _, conn := range e.config.Settings.SortedConnections() {
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			return e.syncConnection(ctx, conn)
		})
	}
	err := eg.Wait()
	if err == nil {
		err = ctx.Err()
	}

	summary := e.summary
	summary.FinishedAt = time.Now()

	if err != nil {
		summary.Cancelled = true
		slog.Warn("sync cancelled, cache not persisted", "run", summary.RunID, "error", err)
		e.report(func(r Reporter) { r.RunFinished(summary) })
		return summary, err
	}

	var persistErr error
	if !e.config.DryRun {
		if err := e.cache.Persist(); err != nil {
			persistErr = fmt.Errorf("persist cache: %w", err)
		}
	}

	e.report(func(r Reporter) { r.RunFinished(summary) })
	return summary, persistErr
}

// syncConnection only returns an error when the run is cancelled.
func (e *Engine) syncConnection(ctx context.Context, conn *settings.Connection) error {
	b, err := e.registry.New(conn.Backend)
	if err != nil {
		e.connectionFailed(conn, err)
		return nil
	}

	if err := b.Configure(conn.Options); err != nil {
		e.connectionFailed(conn, err)
		return nil
	}

	slog.Debug("connecting", "connection", conn.Name, "backend", conn.Backend)
	if err := b.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.connectionFailed(conn, err)
		return nil
	}
	defer func() {
		if err := b.Disconnect(); err != nil {
			slog.Warn("disconnect failed", "connection", conn.Name, "error", err)
		}
	}()

	for _, subject := range conn.Subjects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.syncSubject(ctx, b, conn, subject); err != nil {
			if errors.Is(err, errConnectionLost) {
				return nil
			}
			return err
		}
	}
	return nil
}

// errConnectionLost stops the remaining subjects of a connection whose
// listing failed with a connection scoped fault.
var errConnectionLost = errors.New("connection lost")

func (e *Engine) syncSubject(ctx context.Context, b backend.Backend, conn *settings.Connection, subject *settings.Subject) error {
	slog.Debug("listing", "connection", conn.Name, "subject", subject.Name, "remote", subject.RemoteDir)
	remoteRoot := cleanRemote(subject.RemoteDir)

	for remotePath, err := range b.List(ctx, subject.RemoteDir) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if backend.KindOf(err).ConnectionScoped() {
				e.connectionFailed(conn, err)
				return errConnectionLost
			}
			e.subjectFailed(conn, subject, err)
			return nil
		}

		rel, ok := relativeRemote(remoteRoot, remotePath)
		if !ok {
			e.fileFailed(conn, subject, remotePath, "", backend.OperationFault(conn.Backend, "list", remotePath, ErrOutsideRemoteDir))
			continue
		}
		if err := e.syncFile(ctx, b, conn, subject, remotePath, rel); err != nil {
			return err
		}
	}
	return nil
}

// syncFile only returns an error when the run is cancelled.
func (e *Engine) syncFile(ctx context.Context, b backend.Backend, conn *settings.Connection, subject *settings.Subject, remotePath, rel string) error {
	localPath := filepath.Join(subject.LocalDir, SanitizeRelPath(rel))
	result := FileResult{
		Connection: conn.Name,
		Subject:    subject.Name,
		RemotePath: remotePath,
		LocalPath:  localPath,
		Action:     ActionNone,
		DryRun:     e.config.DryRun,
	}

	if e.ignore.ShouldIgnore(subject, path.Base(rel), rel, localPath) {
		result.Action = ActionIgnore
		e.fileProcessed(result)
		return nil
	}

	entry, cached := e.cache.Lookup(localPath)
	if cached && entry.Backend != conn.Backend {
		e.fileFailed(conn, subject, remotePath, localPath,
			fmt.Errorf("%w: %s recorded by %q, handled by %q", ErrBackendMismatch, localPath, entry.Backend, conn.Backend))
		return nil
	}

	remote, err := b.RemoteDigest(ctx, remotePath)
	if err == nil && remote.IsNone() {
		err = backend.OperationFault(conn.Backend, "digest", remotePath, ErrEmptyDigest)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.fileFailed(conn, subject, remotePath, localPath, err)
		return nil
	}

	local, err := b.LocalDigest(localPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.fileFailed(conn, subject, remotePath, localPath, fmt.Errorf("local digest: %w", err))
		return nil
	}

	state, heal := Decide(remote, local, entry.Digest)
	result.State = state

	switch {
	case heal:
		result.Action = ActionHeal
		if !e.config.DryRun {
			e.cache.Record(localPath, conn.Backend, remote)
		}
	case state.NeedsDownload():
		result.Action = ActionDownload
		if state == StateBothChanged {
			slog.Warn("both changed, remote wins", "subject", subject.Name, "path", localPath)
		}
		if e.config.DryRun {
			break
		}
		size, err := e.download(ctx, b, remotePath, localPath, remote)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.fileFailed(conn, subject, remotePath, localPath, err)
			return nil
		}
		result.Size = size
		e.cache.Record(localPath, conn.Backend, remote)
	}

	e.fileProcessed(result)
	return nil
}

// cleanRemote normalizes a remote path to a rooted form so paths from
// backends with and without a leading slash compare equal. Remote paths are
// slash separated; a backslash is part of a name.
func cleanRemote(p string) string {
	return path.Clean("/" + p)
}

// relativeRemote returns remotePath relative to the cleaned remote root.
func relativeRemote(root, remotePath string) (string, bool) {
	p := cleanRemote(remotePath)
	if root == "/" {
		return strings.TrimPrefix(p, "/"), p != "/"
	}
	rel, ok := strings.CutPrefix(p, root+"/")
	return rel, ok && rel != ""
}

func (e *Engine) report(fn func(r Reporter)) {
	e.reportMu.Lock()
	defer e.reportMu.Unlock()
	for _, r := range e.reporters {
		fn(r)
	}
}

func (e *Engine) fileProcessed(result FileResult) {
	e.reportMu.Lock()
	e.summary.add(result)
	e.reportMu.Unlock()
	e.report(func(r Reporter) { r.FileProcessed(result) })
}

func (e *Engine) fileFailed(conn *settings.Connection, subject *settings.Subject, remotePath, localPath string, err error) {
	f := Failure{Connection: conn.Name, Subject: subject.Name, RemotePath: remotePath, LocalPath: localPath, Err: err}
	e.reportMu.Lock()
	e.summary.FileFailures++
	e.reportMu.Unlock()
	e.report(func(r Reporter) { r.FileFailed(f) })
}

func (e *Engine) subjectFailed(conn *settings.Connection, subject *settings.Subject, err error) {
	f := Failure{Connection: conn.Name, Subject: subject.Name, Err: err}
	e.reportMu.Lock()
	e.summary.SubjectFailures++
	e.reportMu.Unlock()
	e.report(func(r Reporter) { r.SubjectFailed(f) })
}

func (e *Engine) connectionFailed(conn *settings.Connection, err error) {
	f := Failure{Connection: conn.Name, Err: err}
	e.reportMu.Lock()
	e.summary.ConnectionFailures++
	e.reportMu.Unlock()
	e.report(func(r Reporter) { r.ConnectionFailed(f) })
}
