// Package history keeps a SQLite journal of sync runs.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kitovu/kitovu/internal/db"
	"github.com/kitovu/kitovu/internal/sync"
)

// FileName is the journal database inside the user data directory.
const FileName = "history.db"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL, -- RFC3339
    finished_at TEXT NOT NULL DEFAULT '',
    dry_run INTEGER NOT NULL DEFAULT 0,
    cancelled INTEGER NOT NULL DEFAULT 0,
    processed INTEGER NOT NULL DEFAULT 0,
    downloads INTEGER NOT NULL DEFAULT 0,
    downloaded_bytes INTEGER NOT NULL DEFAULT 0,
    healed INTEGER NOT NULL DEFAULT 0,
    ignored INTEGER NOT NULL DEFAULT 0,
    file_failures INTEGER NOT NULL DEFAULT 0,
    subject_failures INTEGER NOT NULL DEFAULT 0,
    connection_failures INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    scope TEXT NOT NULL,
    connection TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    remote_path TEXT NOT NULL DEFAULT '',
    local_path TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_run_files_run ON run_files(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Scopes of a journal entry.
const (
	ScopeFile       = "file"
	ScopeSubject    = "subject"
	ScopeConnection = "connection"
)

var ErrNoRuns = errors.New("no runs recorded")

// Run is one recorded sync run.
type Run struct {
	ID                 string `db:"id"`
	StartedAt          string `db:"started_at"`
	FinishedAt         string `db:"finished_at"`
	DryRun             bool   `db:"dry_run"`
	Cancelled          bool   `db:"cancelled"`
	Processed          int    `db:"processed"`
	Downloads          int    `db:"downloads"`
	DownloadedBytes    int64  `db:"downloaded_bytes"`
	Healed             int    `db:"healed"`
	Ignored            int    `db:"ignored"`
	FileFailures       int    `db:"file_failures"`
	SubjectFailures    int    `db:"subject_failures"`
	ConnectionFailures int    `db:"connection_failures"`
}

func (r *Run) Started() time.Time {
	t, _ := time.Parse(time.RFC3339, r.StartedAt)
	return t
}

// Finished is the zero time for runs that never finished.
func (r *Run) Finished() time.Time {
	t, _ := time.Parse(time.RFC3339, r.FinishedAt)
	return t
}

func (r *Run) Failures() int {
	return r.FileFailures + r.SubjectFailures + r.ConnectionFailures
}

// Entry is a file that was acted upon or a unit that failed during a run.
type Entry struct {
	Scope      string `db:"scope"`
	Connection string `db:"connection"`
	Subject    string `db:"subject"`
	RemotePath string `db:"remote_path"`
	LocalPath  string `db:"local_path"`
	State      string `db:"state"`
	Action     string `db:"action"`
	Error      string `db:"error"`
}

// Journal records runs as a sync.Reporter. Write failures are logged and
// never affect the sync itself.
type Journal struct {
	db    *sqlx.DB
	runID string
}

// Open opens the journal at path. Use ":memory:" for tests.
func Open(path string) (*Journal, error) {
	database, err := db.Open(db.WithPath(path), db.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &Journal{db: database}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) RunStarted(runID string, startedAt time.Time) {
	j.runID = runID
	_, err := j.db.Exec("INSERT INTO runs (id, started_at) VALUES (?, ?)", runID, startedAt.UTC().Format(time.RFC3339))
	j.logErr("record run start", err)
}

// FileProcessed records downloads, self-heals and kept local changes.
// Unchanged and ignored files are not journaled.
func (j *Journal) FileProcessed(res sync.FileResult) {
	if res.Action == sync.ActionIgnore {
		return
	}
	if res.Action == sync.ActionNone && res.State != sync.StateLocalChanged {
		return
	}
	j.insertEntry(Entry{
		Scope:      ScopeFile,
		Connection: res.Connection,
		Subject:    res.Subject,
		RemotePath: res.RemotePath,
		LocalPath:  res.LocalPath,
		State:      res.State.String(),
		Action:     string(res.Action),
	})
}

func (j *Journal) FileFailed(f sync.Failure) {
	j.insertEntry(failureEntry(ScopeFile, f))
}

func (j *Journal) SubjectFailed(f sync.Failure) {
	j.insertEntry(failureEntry(ScopeSubject, f))
}

func (j *Journal) ConnectionFailed(f sync.Failure) {
	j.insertEntry(failureEntry(ScopeConnection, f))
}

func (j *Journal) RunFinished(s *sync.RunSummary) {
	_, err := j.db.Exec(`UPDATE runs SET
		finished_at = ?, dry_run = ?, cancelled = ?, processed = ?, downloads = ?, downloaded_bytes = ?,
		healed = ?, ignored = ?, file_failures = ?, subject_failures = ?, connection_failures = ?
		WHERE id = ?`,
		s.FinishedAt.UTC().Format(time.RFC3339), s.DryRun, s.Cancelled, s.Processed(), s.Downloads, s.DownloadedBytes,
		s.Healed, s.Ignored, s.FileFailures, s.SubjectFailures, s.ConnectionFailures,
		s.RunID,
	)
	j.logErr("record run finish", err)
}

func failureEntry(scope string, f sync.Failure) Entry {
	e := Entry{
		Scope:      scope,
		Connection: f.Connection,
		Subject:    f.Subject,
		RemotePath: f.RemotePath,
		LocalPath:  f.LocalPath,
	}
	if f.Err != nil {
		e.Error = f.Err.Error()
	}
	return e
}

func (j *Journal) insertEntry(e Entry) {
	if j.runID == "" {
		return
	}
	_, err := j.db.NamedExec(`INSERT INTO run_files
		(run_id, scope, connection, subject, remote_path, local_path, state, action, error)
		VALUES (:run_id, :scope, :connection, :subject, :remote_path, :local_path, :state, :action, :error)`,
		struct {
			RunID string `db:"run_id"`
			Entry
		}{j.runID, e},
	)
	j.logErr("record run entry", err)
}

func (j *Journal) logErr(what string, err error) {
	if err != nil {
		slog.Warn("history write failed", "op", what, "run", j.runID, "error", err)
	}
}

// LastRun returns the most recently started run.
func (j *Journal) LastRun() (*Run, error) {
	var run Run
	err := j.db.Get(&run, "SELECT * FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, fmt.Errorf("query last run: %w", err)
	}
	return &run, nil
}

// Runs returns up to limit runs, newest first.
func (j *Journal) Runs(limit int) ([]*Run, error) {
	runs := []*Run{}
	if err := j.db.Select(&runs, "SELECT * FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?", limit); err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return runs, nil
}

// Files returns the journaled entries of a run in recording order.
func (j *Journal) Files(runID string) ([]*Entry, error) {
	entries := []*Entry{}
	err := j.db.Select(&entries, `SELECT scope, connection, subject, remote_path, local_path, state, action, error
		FROM run_files WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run entries: %w", err)
	}
	return entries, nil
}

var _ sync.Reporter = (*Journal)(nil)
