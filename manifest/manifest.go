// Package manifest handles objrt.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/chazu/objrt/vm"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "objrt.toml"

// Manifest represents an objrt.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Runtime Runtime `toml:"runtime"`
	Modules Modules `toml:"modules"`
	Log     Log     `toml:"log"`

	// Dir is the directory containing the objrt.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Runtime configures the dispatch runtime.
type Runtime struct {
	DTable                string   `toml:"dtable"`
	TypeDependentDispatch bool     `toml:"type-dependent-dispatch"`
	ClassTableCapacity    int      `toml:"class-table-capacity"`
	ReclaimGrace          Duration `toml:"reclaim-grace"`
	ReclaimInterval       Duration `toml:"reclaim-interval"`
}

// Modules lists module image files. Paths may be glob patterns and are
// relative to the manifest directory.
type Modules struct {
	Paths []string `toml:"paths"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Duration is a time.Duration written as a string such as "500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Load parses an objrt.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}
	if _, err := vm.ParseDTableKind(m.Runtime.DTable); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.Runtime.ClassTableCapacity < 0 {
		return nil, fmt.Errorf("%s: class-table-capacity must not be negative", path)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Default returns the manifest used when no objrt.toml exists.
func Default() *Manifest {
	cfg := vm.DefaultConfig()
	return &Manifest{
		Runtime: Runtime{
			DTable:             string(cfg.DTable),
			ClassTableCapacity: cfg.ClassTableCapacity,
			ReclaimGrace:       Duration{cfg.ReclaimGrace},
			ReclaimInterval:    Duration{vm.DefaultReclaimInterval},
		},
		Modules: Modules{Paths: []string{"modules/*.objm"}},
		Dir:     ".",
	}
}

// FindAndLoad walks up from startDir to find an objrt.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// ModulePaths expands the configured module patterns into a sorted list of
// existing files.
func (m *Manifest) ModulePaths() ([]string, error) {
	var paths []string
	for _, p := range m.Modules.Paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(m.Dir, p)
		}
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("bad module pattern %q: %w", p, err)
		}
		paths = append(paths, matches...)
	}
	slices.Sort(paths)
	return slices.Compact(paths), nil
}

// VMConfig translates the [runtime] table into a vm.Config.
func (m *Manifest) VMConfig() vm.Config {
	cfg := vm.DefaultConfig()
	cfg.DTable, _ = vm.ParseDTableKind(m.Runtime.DTable)
	cfg.TypeDependentDispatch = m.Runtime.TypeDependentDispatch
	if m.Runtime.ClassTableCapacity > 0 {
		cfg.ClassTableCapacity = m.Runtime.ClassTableCapacity
	}
	cfg.ReclaimGrace = m.Runtime.ReclaimGrace.Duration
	cfg.ReclaimInterval = m.Runtime.ReclaimInterval.Duration
	return cfg
}

// LogPath returns the configured log file, relative paths resolved against
// the manifest directory. Empty means stderr.
func (m *Manifest) LogPath() string {
	if m.Log.File == "" || filepath.IsAbs(m.Log.File) {
		return m.Log.File
	}
	return filepath.Join(m.Dir, m.Log.File)
}
