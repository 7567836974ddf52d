package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionStrings(t *testing.T) {
	assert.Equal(t, "kitovu", AppName)
	assert.Contains(t, Short(), Version)
	assert.Contains(t, Short(), Revision)
	assert.Contains(t, Detailed(), "/")
	assert.True(t, strings.HasPrefix(DetailedWithApp(), "kitovu "))
	assert.True(t, strings.HasPrefix(UserAgent(), "kitovu/"+Version))
}

func restore(t *testing.T) {
	v, r, b := Version, Revision, BuildDate
	t.Cleanup(func() { Version, Revision, BuildDate = v, r, b })
}

func TestApplyBuildInfo_FillsDefaults(t *testing.T) {
	restore(t)
	Version, Revision, BuildDate = devVersion, "HEAD", "unknown"

	applyBuildInfo("v9.9.9", map[string]string{
		"vcs.revision": "abcdef1234567890",
		"vcs.modified": "true",
		"vcs.time":     "2025-12-12T01:00:00Z",
	})

	assert.Equal(t, "9.9.9", Version)
	assert.Equal(t, "abcdef123456-dirty", Revision)
	assert.Equal(t, "2025-12-12T01:00:00Z", BuildDate)
}

func TestApplyBuildInfo_KeepsLdflags(t *testing.T) {
	restore(t)
	Version, Revision, BuildDate = "1.2.3", "deadbeef", "from-ldflags"

	applyBuildInfo("(devel)", map[string]string{"vcs.revision": "abcdef", "vcs.time": "2025-12-12T01:00:00Z"})

	assert.Equal(t, "1.2.3", Version)
	assert.Equal(t, "deadbeef", Revision)
	assert.Equal(t, "from-ldflags", BuildDate)
}
