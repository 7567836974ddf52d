package sync

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// Action is what the engine did with a processed file.
type Action string

const (
	ActionNone     Action = "none"
	ActionDownload Action = "download"
	ActionHeal     Action = "heal"
	ActionIgnore   Action = "ignore"
)

// FileResult describes one processed file.
type FileResult struct {
	Connection string
	Subject    string
	RemotePath string
	LocalPath  string
	State      FileState
	Action     Action
	Size       int64
	DryRun     bool
}

// Failure describes a unit that was skipped. Subject and the paths are
// empty when the failure is scoped to a whole connection or subject.
type Failure struct {
	Connection string
	Subject    string
	RemotePath string
	LocalPath  string
	Err        error
}

// Reporter receives the outcome of a run. Calls are serialized by the engine.
type Reporter interface {
	RunStarted(runID string, startedAt time.Time)
	FileProcessed(result FileResult)
	FileFailed(failure Failure)
	SubjectFailed(failure Failure)
	ConnectionFailed(failure Failure)
	RunFinished(summary *RunSummary)
}

// RunSummary counts the outcome of a run.
type RunSummary struct {
	RunID              string
	StartedAt          time.Time
	FinishedAt         time.Time
	DryRun             bool
	Cancelled          bool
	States             map[FileState]int
	Downloads          int
	DownloadedBytes    int64
	Healed             int
	Ignored            int
	FileFailures       int
	SubjectFailures    int
	ConnectionFailures int
}

func newRunSummary(runID string, dryRun bool) *RunSummary {
	return &RunSummary{
		RunID:     runID,
		StartedAt: time.Now(),
		DryRun:    dryRun,
		States:    make(map[FileState]int),
	}
}

func (s *RunSummary) HasFailures() bool {
	return s.FileFailures+s.SubjectFailures+s.ConnectionFailures > 0
}

func (s *RunSummary) Processed() int {
	total := 0
	for _, n := range s.States {
		total += n
	}
	return total
}

func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s *RunSummary) add(result FileResult) {
	switch result.Action {
	case ActionIgnore:
		s.Ignored++
		return
	case ActionDownload:
		s.Downloads++
		s.DownloadedBytes += result.Size
	case ActionHeal:
		s.Healed++
	}
	s.States[result.State]++
}

// LogReporter writes the outcome of a run to slog.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) RunStarted(runID string, startedAt time.Time) {
	r.logger.Info("sync started", "run", runID, "at", startedAt.Format(time.RFC3339))
}

func (r *LogReporter) FileProcessed(res FileResult) {
	switch res.Action {
	case ActionIgnore:
		r.logger.Debug("ignored", "subject", res.Subject, "path", res.RemotePath)
	case ActionDownload:
		if res.DryRun {
			r.logger.Info("would download", "state", res.State, "subject", res.Subject, "path", res.LocalPath)
			return
		}
		r.logger.Info("downloaded", "state", res.State, "subject", res.Subject, "path", res.LocalPath, "size", humanize.Bytes(uint64(res.Size)))
	case ActionHeal:
		r.logger.Info("recorded existing file", "state", res.State, "subject", res.Subject, "path", res.LocalPath)
	default:
		if res.State == StateLocalChanged {
			r.logger.Info("local changes kept", "state", res.State, "subject", res.Subject, "path", res.LocalPath)
			return
		}
		r.logger.Debug("up to date", "state", res.State, "subject", res.Subject, "path", res.LocalPath)
	}
}

func (r *LogReporter) FileFailed(f Failure) {
	r.logger.Error("file failed", "connection", f.Connection, "subject", f.Subject, "path", f.RemotePath, "error", f.Err)
}

func (r *LogReporter) SubjectFailed(f Failure) {
	r.logger.Error("subject failed", "connection", f.Connection, "subject", f.Subject, "error", f.Err)
}

func (r *LogReporter) ConnectionFailed(f Failure) {
	r.logger.Error("connection failed", "connection", f.Connection, "error", f.Err)
}

func (r *LogReporter) RunFinished(s *RunSummary) {
	r.logger.Info("sync finished",
		"run", s.RunID,
		"processed", s.Processed(),
		"downloads", s.Downloads,
		"downloaded", humanize.Bytes(uint64(s.DownloadedBytes)),
		"healed", s.Healed,
		"ignored", s.Ignored,
		"failures", s.FileFailures+s.SubjectFailures+s.ConnectionFailures,
		"took", s.Duration().Round(time.Millisecond),
	)
}
