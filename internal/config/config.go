// Package config handles corevm.toml runtime init manifests: the
// creator program name, strict-typechecking flag, allocator chunk sizes,
// and default rlimits a host process loads before bringing up the
// dataspace and interpreter.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is a runtime's init manifest.
type Config struct {
	Runtime Runtime `toml:"runtime"`
	Alloc   Alloc   `toml:"alloc"`
	Rlimits Rlimits `toml:"rlimits"`
	Swap    Swap    `toml:"swap"`

	// Dir is the directory containing the corevm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime configures the top-level creator object and typechecking mode.
type Runtime struct {
	Creator     string `toml:"creator"`
	StrictTypes bool   `toml:"strict_types"`
}

// Alloc configures the two-pool allocator's chunk sizes.
type Alloc struct {
	StaticChunkSize  int `toml:"static_chunk_size"`
	DynamicChunkSize int `toml:"dynamic_chunk_size"`
}

// Rlimits configures the default call-depth and tick budget new top-level
// calls start with when the driver does not override them.
type Rlimits struct {
	MaxDepth int   `toml:"max_depth"`
	Ticks    int64 `toml:"ticks"`
}

// Swap configures the swapstore-backed control/dataspace persistence path.
type Swap struct {
	Path string `toml:"path"`
}

// defaultStaticChunkSize and friends are the values Load and Default fill
// in for fields a manifest leaves at zero, so a manifest that omits the
// [alloc] or [rlimits] table still boots. They are not tied to the block
// sizes pkg/alloc uses internally.
const (
	defaultStaticChunkSize  = 1 << 20
	defaultDynamicChunkSize = 1 << 20
	defaultMaxDepth         = 256
	defaultTicks            = 10_000_000
)

// Default returns a Config with every zero-value field filled in the
// same way Load fills a manifest that omits its optional tables, for
// callers that run without a corevm.toml at all.
func Default() *Config {
	return &Config{
		Alloc: Alloc{
			StaticChunkSize:  defaultStaticChunkSize,
			DynamicChunkSize: defaultDynamicChunkSize,
		},
		Rlimits: Rlimits{
			MaxDepth: defaultMaxDepth,
			Ticks:    defaultTicks,
		},
	}
}

// Load parses a corevm.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "corevm.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if c.Alloc.StaticChunkSize == 0 {
		c.Alloc.StaticChunkSize = defaultStaticChunkSize
	}
	if c.Alloc.DynamicChunkSize == 0 {
		c.Alloc.DynamicChunkSize = defaultDynamicChunkSize
	}
	if c.Rlimits.MaxDepth == 0 {
		c.Rlimits.MaxDepth = defaultMaxDepth
	}
	if c.Rlimits.Ticks == 0 {
		c.Rlimits.Ticks = defaultTicks
	}

	return &c, nil
}

// FindAndLoad walks up from startDir looking for a corevm.toml file, the
// way a shell finds a .git directory, then loads it. Returns nil if none
// is found anywhere above startDir.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "corevm.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}
