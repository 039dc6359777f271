// Package manifest loads the list of guest sessions to launch at startup.
//
// Manifests are YAML (.yaml, .yml) or TOML (.toml). Script entries are
// doublestar globs resolved against the manifest's directory:
//
//	sessions:
//	  - name: checkout
//	    scripts: ["scripts/**/*.js"]
//	    inject_after: 250ms
//	  - name: idle
//	    inline: "var ready = bindingReady();"
//	    skip_inject: true
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/guestbridge/internal/domain/session"
)

var (
	ErrUnknownFormat = errors.New("unknown manifest format")
	ErrInvalid       = errors.New("invalid manifest")
	ErrNoMatch       = errors.New("script pattern matched no files")
)

// Format is a manifest encoding
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Manifest lists sessions to create
type Manifest struct {
	Sessions []Entry `yaml:"sessions" toml:"sessions"`

	dir string
}

// Entry describes one session
type Entry struct {
	Name        string   `yaml:"name" toml:"name"`
	Scripts     []string `yaml:"scripts" toml:"scripts"`
	Inline      string   `yaml:"inline" toml:"inline"`
	InjectAfter string   `yaml:"inject_after" toml:"inject_after"`
	SkipInject  bool     `yaml:"skip_inject" toml:"skip_inject"`
}

// Launch is a resolved entry ready to hand to the session manager
type Launch struct {
	Name        string
	Paths       []string // Matched script files, in load order
	Sources     []string // Script bodies, same order as Paths, inline last
	InjectAfter time.Duration
	SkipInject  bool
}

// Options converts the launch into session creation options
func (l Launch) Options() session.CreateOptions {
	return session.CreateOptions{
		Name:        l.Name,
		Scripts:     l.Sources,
		InjectAfter: l.InjectAfter,
		SkipInject:  l.SkipInject,
	}
}

// FormatOf picks the format from a file extension
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Load reads and validates a manifest file
func Load(path string) (*Manifest, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest load failed (%s): %w", path, err)
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("manifest load failed (%s): %w", path, err)
	}
	return Parse(data, format, abs)
}

// Parse decodes a manifest. dir anchors relative script patterns.
func Parse(data []byte, format Format, dir string) (*Manifest, error) {
	var m Manifest

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("manifest parse failed: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("manifest parse failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	m.dir = dir
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks names, durations and glob syntax
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Sessions))

	for i, e := range m.Sessions {
		if e.Name != "" {
			if seen[e.Name] {
				return fmt.Errorf("%w: session %d: duplicate name %q", ErrInvalid, i, e.Name)
			}
			seen[e.Name] = true
		}

		if _, err := e.injectAfter(); err != nil {
			return fmt.Errorf("%w: session %d: %v", ErrInvalid, i, err)
		}

		for _, pattern := range e.Scripts {
			if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
				return fmt.Errorf("%w: session %d: bad script pattern %q", ErrInvalid, i, pattern)
			}
		}
	}
	return nil
}

// Resolve expands every entry's globs and reads the scripts. Files match
// in lexical order per pattern; a file matched twice loads once.
func (m *Manifest) Resolve() ([]Launch, error) {
	launches := make([]Launch, 0, len(m.Sessions))

	for i, e := range m.Sessions {
		delay, _ := e.injectAfter()
		launch := Launch{
			Name:        e.Name,
			InjectAfter: delay,
			SkipInject:  e.SkipInject,
		}

		seen := make(map[string]bool)
		for _, pattern := range e.Scripts {
			paths, err := m.expand(pattern)
			if err != nil {
				return nil, fmt.Errorf("session %d: %w", i, err)
			}
			for _, p := range paths {
				if seen[p] {
					continue
				}
				seen[p] = true

				src, err := os.ReadFile(p)
				if err != nil {
					return nil, fmt.Errorf("session %d: read script: %w", i, err)
				}
				launch.Paths = append(launch.Paths, p)
				launch.Sources = append(launch.Sources, string(src))
			}
		}

		if e.Inline != "" {
			launch.Sources = append(launch.Sources, e.Inline)
		}
		launches = append(launches, launch)
	}
	return launches, nil
}

func (m *Manifest) expand(pattern string) ([]string, error) {
	full := pattern
	if !filepath.IsAbs(full) {
		full = filepath.Join(m.dir, pattern)
	}

	paths, err := doublestar.FilepathGlob(full, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoMatch, pattern)
	}
	sort.Strings(paths)
	return paths, nil
}

func (e Entry) injectAfter() (time.Duration, error) {
	if e.InjectAfter == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(e.InjectAfter)
	if err != nil {
		return 0, fmt.Errorf("inject_after: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("inject_after: negative duration %s", d)
	}
	return d, nil
}
