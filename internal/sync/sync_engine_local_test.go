package sync

import (
	"os"
	"path/filepath"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/kitovu/kitovu/internal/backend/local"
	"github.com/kitovu/kitovu/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_LocalBackendRoundTrip(t *testing.T) {
	for _, hash := range []string{"none", "sha256"} {
		t.Run(hash, func(t *testing.T) {
			env := newTestEnv(t)
			remote := t.TempDir()
			require.NoError(t, os.MkdirAll(filepath.Join(remote, "lectures", "w1"), 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(remote, "lectures", "w1", "slides.pdf"), []byte("pdf"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(remote, "lectures", "notes.txt"), []byte("notes"), 0o644))

			env.registry.Register(local.Name, local.New)
			env.settings.Connections["mirror"] = &settings.Connection{
				Name:    "mirror",
				Backend: local.Name,
				Options: map[string]string{"root": remote, "hash": hash},
				Subjects: []*settings.Subject{{
					Name:      "Lectures",
					RemoteDir: "lectures",
					LocalDir:  env.local("Lectures"),
					Ignore:    mapset.NewSet[string](),
				}},
			}

			summary, _, err := env.run(Config{})
			require.NoError(t, err)
			assert.Equal(t, 2, summary.Downloads)
			assert.Equal(t, "pdf", env.readLocal("Lectures/w1/slides.pdf"))
			assert.Equal(t, "notes", env.readLocal("Lectures/notes.txt"))

			summary, _, err = env.run(Config{})
			require.NoError(t, err)
			assert.Zero(t, summary.Downloads)
			assert.Equal(t, 2, summary.States[StateNoChanges])
		})
	}
}
