// Package settings loads the sync configuration: where local files live, which
// remote connections exist and which remote directories map onto which local
// directories.
package settings

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-playground/validator/v10"
	"github.com/kitovu/kitovu/internal/utils"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the settings file name inside the user config directory.
const DefaultFileName = "kitovu.yml"

var ErrInvalidSettings = errors.New("invalid settings")

// Error lists every problem found in a settings file.
type Error struct {
	Path     string
	Problems []string
}

func (e *Error) Error() string {
	where := e.Path
	if where == "" {
		where = "settings"
	}
	return fmt.Sprintf("%s: %s", where, strings.Join(e.Problems, "; "))
}

func (e *Error) Unwrap() error { return ErrInvalidSettings }

// Settings is the resolved configuration of one machine.
type Settings struct {
	RootDir      string
	GlobalIgnore []string
	Connections  map[string]*Connection
}

// Connection is one configured remote identity. Options are handed to the
// backend as-is; credentials are resolved by the backend when connecting.
type Connection struct {
	Name     string
	Backend  string
	Options  map[string]string
	Subjects []*Subject
}

// Subject maps one remote directory onto one local directory.
type Subject struct {
	Name      string
	RemoteDir string
	LocalDir  string
	Ignore    mapset.Set[string]
}

// SortedConnections returns the connections ordered by name.
func (s *Settings) SortedConnections() []*Connection {
	names := make([]string, 0, len(s.Connections))
	for name := range s.Connections {
		names = append(names, name)
	}
	sort.Strings(names)

	conns := make([]*Connection, 0, len(names))
	for _, name := range names {
		conns = append(conns, s.Connections[name])
	}
	return conns
}

type rawSettings struct {
	RootDir      string          `yaml:"root-dir" validate:"required"`
	GlobalIgnore []string        `yaml:"global-ignore"`
	Connections  []rawConnection `yaml:"connections" validate:"required,min=1,dive"`
	Subjects     []rawSubject    `yaml:"subjects" validate:"required,min=1,dive"`
}

type rawConnection struct {
	Name    string            `yaml:"name" validate:"required"`
	Plugin  string            `yaml:"plugin" validate:"required"`
	Options map[string]string `yaml:",inline"`
}

type rawSubject struct {
	Name    string      `yaml:"name" validate:"required"`
	Ignore  []string    `yaml:"ignore"`
	Sources []rawSource `yaml:"sources" validate:"required,min=1,dive"`
}

type rawSource struct {
	Connection string   `yaml:"connection" validate:"required"`
	RemoteDir  string   `yaml:"remote-dir" validate:"required"`
	LocalDir   string   `yaml:"local-dir"`
	Ignore     []string `yaml:"ignore"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(yamlName)
	return v
}

// Load reads and validates the settings file at path.
func Load(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		var serr *Error
		if errors.As(err, &serr) {
			serr.Path = path
		}
		return nil, err
	}
	return s, nil
}

// Parse decodes and validates settings from r.
func Parse(r io.Reader) (*Settings, error) {
	var raw rawSettings
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &Error{Problems: []string{"settings file is empty"}}
		}
		return nil, &Error{Problems: []string{err.Error()}}
	}

	if err := validate.Struct(&raw); err != nil {
		return nil, &Error{Problems: describeValidation(err)}
	}

	return raw.resolve()
}

func (raw *rawSettings) resolve() (*Settings, error) {
	var problems []string

	rootDir, err := utils.ResolvePath(raw.RootDir)
	if err != nil {
		return nil, &Error{Problems: []string{fmt.Sprintf("root-dir: %v", err)}}
	}

	s := &Settings{
		RootDir:      rootDir,
		GlobalIgnore: raw.GlobalIgnore,
		Connections:  make(map[string]*Connection, len(raw.Connections)),
	}

	for _, rc := range raw.Connections {
		if _, dup := s.Connections[rc.Name]; dup {
			problems = append(problems, fmt.Sprintf("connection %q defined twice", rc.Name))
			continue
		}
		options := rc.Options
		if options == nil {
			options = map[string]string{}
		}
		s.Connections[rc.Name] = &Connection{
			Name:    rc.Name,
			Backend: rc.Plugin,
			Options: options,
		}
	}

	localDirs := make(map[string]string)
	for _, rs := range raw.Subjects {
		for _, src := range rs.Sources {
			conn, ok := s.Connections[src.Connection]
			if !ok {
				problems = append(problems, fmt.Sprintf("subject %q: unknown connection %q", rs.Name, src.Connection))
				continue
			}

			localDir := filepath.Join(rootDir, rs.Name)
			if src.LocalDir != "" {
				if localDir, err = utils.ResolvePath(src.LocalDir); err != nil {
					problems = append(problems, fmt.Sprintf("subject %q: local-dir: %v", rs.Name, err))
					continue
				}
			}

			key := conn.Name + "\x00" + localDir
			if prev, dup := localDirs[key]; dup {
				problems = append(problems, fmt.Sprintf("subject %q: local-dir %s already used by subject %q on connection %q", rs.Name, localDir, prev, conn.Name))
				continue
			}
			localDirs[key] = rs.Name

			ignore := mapset.NewSet(raw.GlobalIgnore...)
			ignore.Append(rs.Ignore...)
			ignore.Append(src.Ignore...)

			conn.Subjects = append(conn.Subjects, &Subject{
				Name:      rs.Name,
				RemoteDir: src.RemoteDir,
				LocalDir:  localDir,
				Ignore:    ignore,
			})
		}
	}

	if len(problems) > 0 {
		return nil, &Error{Problems: problems}
	}
	return s, nil
}

func describeValidation(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "rawSettings.")
		switch fe.Tag() {
		case "required":
			problems = append(problems, fmt.Sprintf("missing key %s", field))
		case "min":
			problems = append(problems, fmt.Sprintf("%s must not be empty", field))
		default:
			problems = append(problems, fmt.Sprintf("%s failed %q check", field, fe.Tag()))
		}
	}
	return problems
}

func yamlName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
	if name == "" {
		return fld.Name
	}
	return name
}
