package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kitovu/kitovu/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_Empty(t *testing.T) {
	j := openJournal(t)
	_, err := j.LastRun()
	assert.ErrorIs(t, err, ErrNoRuns)

	runs, err := j.Runs(10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestJournal_RecordsRun(t *testing.T) {
	j := openJournal(t)
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	j.RunStarted("run-1", started)
	j.FileProcessed(sync.FileResult{Connection: "c", Subject: "s", RemotePath: "/s/a", LocalPath: "/l/a", State: sync.StateNew, Action: sync.ActionDownload})
	j.FileProcessed(sync.FileResult{Connection: "c", Subject: "s", RemotePath: "/s/b", State: sync.StateNoChanges, Action: sync.ActionNone})
	j.FileProcessed(sync.FileResult{Connection: "c", Subject: "s", RemotePath: "/s/c", State: sync.StateLocalChanged, Action: sync.ActionNone})
	j.FileProcessed(sync.FileResult{Connection: "c", Subject: "s", RemotePath: "/s/d", Action: sync.ActionIgnore})
	j.FileFailed(sync.Failure{Connection: "c", Subject: "s", RemotePath: "/s/e", Err: errors.New("boom")})
	j.SubjectFailed(sync.Failure{Connection: "c", Subject: "t", Err: errors.New("no such dir")})
	j.ConnectionFailed(sync.Failure{Connection: "d", Err: errors.New("bad password")})
	j.RunFinished(&sync.RunSummary{
		RunID:              "run-1",
		StartedAt:          started,
		FinishedAt:         started.Add(time.Minute),
		States:             map[sync.FileState]int{sync.StateNew: 1, sync.StateNoChanges: 1, sync.StateLocalChanged: 1},
		Downloads:          1,
		DownloadedBytes:    42,
		Ignored:            1,
		FileFailures:       1,
		SubjectFailures:    1,
		ConnectionFailures: 1,
	})

	run, err := j.LastRun()
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, started, run.Started())
	assert.Equal(t, started.Add(time.Minute), run.Finished())
	assert.Equal(t, 3, run.Processed)
	assert.Equal(t, 1, run.Downloads)
	assert.Equal(t, int64(42), run.DownloadedBytes)
	assert.Equal(t, 3, run.Failures())
	assert.False(t, run.Cancelled)

	entries, err := j.Files("run-1")
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, Entry{Scope: ScopeFile, Connection: "c", Subject: "s", RemotePath: "/s/a", LocalPath: "/l/a", State: "NEW", Action: "download"}, *entries[0])
	assert.Equal(t, "LOCAL_CHANGED", entries[1].State)
	assert.Equal(t, "boom", entries[2].Error)
	assert.Equal(t, ScopeSubject, entries[3].Scope)
	assert.Equal(t, ScopeConnection, entries[4].Scope)
}

func TestJournal_RunsNewestFirst(t *testing.T) {
	j := openJournal(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		j.RunStarted(id, base.Add(time.Duration(i)*time.Hour))
	}

	runs, err := j.Runs(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.True(t, runs[0].Finished().IsZero())
}

func TestJournal_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", FileName)
	j, err := Open(path)
	require.NoError(t, err)
	j.RunStarted("persisted", time.Now())
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	run, err := j.LastRun()
	require.NoError(t, err)
	assert.Equal(t, "persisted", run.ID)
}
