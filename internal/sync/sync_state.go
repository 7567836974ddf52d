package sync

import "github.com/kitovu/kitovu/internal/digest"

// FileState is the outcome of comparing the remote, local and cached digest of one file.
type FileState int

const (
	StateNew FileState = iota
	StateNoChanges
	StateLocalChanged
	StateRemoteChanged
	StateBothChanged
)

// AllStates lists every state in reporting order.
var AllStates = []FileState{StateNew, StateNoChanges, StateLocalChanged, StateRemoteChanged, StateBothChanged}

func (s FileState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateNoChanges:
		return "NO_CHANGES"
	case StateLocalChanged:
		return "LOCAL_CHANGED"
	case StateRemoteChanged:
		return "REMOTE_CHANGED"
	case StateBothChanged:
		return "BOTH_CHANGED"
	default:
		return "UNKNOWN"
	}
}

// NeedsDownload reports whether the remote copy replaces the local one.
// On BOTH_CHANGED the remote wins and the local edit is overwritten.
func (s FileState) NeedsDownload() bool {
	return s == StateNew || s == StateRemoteChanged || s == StateBothChanged
}

// Classify compares the three digests of a file. It has no side effects.
func Classify(remote, local, cached digest.Digest) FileState {
	if cached.IsNone() {
		return StateNew
	}

	localChanged := local != cached
	remoteChanged := remote != cached

	switch {
	case !remoteChanged && !localChanged:
		return StateNoChanges
	case remoteChanged && !localChanged:
		return StateRemoteChanged
	case !remoteChanged && localChanged:
		return StateLocalChanged
	default:
		return StateBothChanged
	}
}

// Decide classifies a file and reports whether its cache entry should be
// healed: a local file that was never recorded but already matches the
// remote is NO_CHANGES and gets recorded without being fetched.
func Decide(remote, local, cached digest.Digest) (FileState, bool) {
	if cached.IsNone() && !local.IsNone() && remote == local {
		return StateNoChanges, true
	}
	return Classify(remote, local, cached), false
}
