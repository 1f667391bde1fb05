// Package config handles stackvm.toml configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"

	"github.com/chazu/stackvm/vm"
)

// FileName is the name of the configuration file.
const FileName = "stackvm.toml"

//go:embed schema.cue
var schemaSource string

// Config represents a stackvm.toml configuration.
type Config struct {
	Machine Machine `toml:"machine" json:"machine"`
	Server  Server  `toml:"server" json:"server"`
	Store   Store   `toml:"store" json:"store"`
	Log     Log     `toml:"log" json:"log"`

	// Dir is the directory containing the stackvm.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Machine configures program execution.
type Machine struct {
	StepLimit       int           `toml:"step-limit" json:"step-limit"`
	Trace           bool          `toml:"trace" json:"trace"`
	SpawnIterations int           `toml:"spawn-iterations" json:"spawn-iterations"`
	SpawnDelay      time.Duration `toml:"spawn-delay" json:"spawn-delay"`
}

// Server configures the network listeners.
type Server struct {
	Port     int `toml:"port" json:"port"`
	GRPCPort int `toml:"grpc-port" json:"grpc-port"`
}

// Store configures the submission history database.
type Store struct {
	Path string `toml:"path" json:"path"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	Path      string `toml:"path" json:"path"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Machine: Machine{
			SpawnIterations: vm.DefaultSpawnIterations,
			SpawnDelay:      vm.DefaultSpawnDelay,
		},
		Server: Server{
			Port:     4567,
			GRPCPort: 4568,
		},
		Store: Store{
			Path: filepath.Join(".stackvm", "history.db"),
		},
	}
}

// Load parses a stackvm.toml file from the given directory. Values the file
// leaves out keep their defaults.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration file at path. Dir is set to the
// directory containing it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes and validates configuration text.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a stackvm.toml file,
// then loads and returns the config. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
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

// Validate checks the configuration against the embedded CUE schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// MachineOptions returns the vm options for the [machine] section.
func (c *Config) MachineOptions() []vm.Option {
	return []vm.Option{
		vm.WithStepLimit(c.Machine.StepLimit),
		vm.WithTrace(c.Machine.Trace),
		vm.WithSpawnLoop(c.Machine.SpawnIterations, c.Machine.SpawnDelay),
	}
}

// StorePath returns the history database path, resolved against the config
// directory. Returns "" when history is disabled.
func (c *Config) StorePath() string {
	if c.Store.Path == "" || filepath.IsAbs(c.Store.Path) || c.Dir == "" {
		return c.Store.Path
	}
	return filepath.Join(c.Dir, c.Store.Path)
}

// LogPath returns the log file path for commonlog.Configure, or nil to log
// to stderr.
func (c *Config) LogPath() *string {
	if c.Log.Path == "" {
		return nil
	}
	path := c.Log.Path
	return &path
}
