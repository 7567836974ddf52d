package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/kitovu/kitovu/internal/settings"
	"github.com/kitovu/kitovu/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is the gitignore style rules file looked up in the root dir.
const IgnoreFileName = ".kitovuignore"

var defaultIgnoreLines = []string{
	// partial downloads
	".kitovu-*",
}

type IgnoreList struct {
	rootDir string
	ignore  *gitignore.GitIgnore
}

func NewIgnoreList(rootDir string) *IgnoreList {
	return &IgnoreList{rootDir: rootDir}
}

func (s *IgnoreList) Load() {
	ignorePath := filepath.Join(s.rootDir, IgnoreFileName)
	ignoreLines := append([]string(nil), defaultIgnoreLines...)

	if s.rootDir != "" && utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		} else {
			defer file.Close()
			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line != "" {
					ignoreLines = append(ignoreLines, line)
					rules++
				}
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
			} else {
				slog.Info("loaded ignore file", "path", ignorePath, "rules", rules)
			}
		}
	}

	s.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

// ShouldIgnore reports whether a remote file is skipped. name is the remote
// file name, rel its slash separated path below the subject's remote dir and
// localPath where it would be stored.
func (s *IgnoreList) ShouldIgnore(subject *settings.Subject, name, rel, localPath string) bool {
	if matchesName(subject.Ignore, name) {
		return true
	}
	if s.ignore == nil {
		return false
	}
	if s.ignore.MatchesPath(rel) {
		return true
	}
	if s.rootDir != "" {
		if r, err := filepath.Rel(s.rootDir, localPath); err == nil && !strings.HasPrefix(r, "..") {
			return s.ignore.MatchesPath(filepath.ToSlash(r))
		}
	}
	return false
}

// matchesName checks the subject's ignore entries, first literally and then as globs.
func matchesName(ignore mapset.Set[string], name string) bool {
	if ignore == nil {
		return false
	}
	if ignore.Contains(name) {
		return true
	}
	for _, pattern := range ignore.ToSlice() {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
