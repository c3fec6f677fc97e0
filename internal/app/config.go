package app

import (
	"errors"
	"fmt"

	"github.com/specialistvlad/chunkflow/internal/chunk"
	"github.com/specialistvlad/chunkflow/internal/housekeeper"
)

// Commands.
const (
	CommandRun    = "run"
	CommandPlan   = "plan"
	CommandWorker = "worker"
)

// Isolation modes.
const (
	IsolationProcess = "process"
	IsolationNone    = "none"
)

// Chunk modes as written in flags and config files.
const (
	ChunkModePerPartition = "per-partition"
	ChunkModeCount        = "count"
	ChunkModeMax          = "max"
)

// DefaultPartitionPattern keys partitions by participant, optionally with
// the session, e.g. "sub-0001" or "sub-0001_ses-1".
const DefaultPartitionPattern = `(sub-[A-Za-z0-9]+(?:_ses-[A-Za-z0-9]+)?)`

// Version is stamped at build time and takes part in cache identities.
var Version = "dev"

// Config holds everything an App needs to run.
type Config struct {
	Command string

	GraphPath    string // graph file or directory of .hcl files
	ConfigPath   string // optional run settings file
	ManifestPath string // optional input manifest, part of the cache identity
	BaseDir      string // overrides the base_dir of the graph

	LogFormat       string
	LogLevel        string
	HealthcheckPort int

	Workers    int
	MemoryGB   float64
	Processors int
	Isolation  string
	Resume     bool

	ChunkMode      string
	Chunks         int
	Only           int
	ExcludeDefault bool

	Keep           string
	KeepCategories []string

	PartitionPattern string

	CacheDir     string
	CacheEntries int
	NoCache      bool
	S3           S3Config

	// pinned names the settings given on the command line or in the
	// environment. Config files do not override them.
	pinned map[string]bool
}

// S3Config points the cache at an S3-compatible bucket. An empty endpoint
// disables the remote.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Command:          CommandRun,
		LogFormat:        "json",
		LogLevel:         "info",
		MemoryGB:         4,
		Isolation:        IsolationProcess,
		ChunkMode:        ChunkModePerPartition,
		Keep:             string(housekeeper.KeepSome),
		PartitionPattern: DefaultPartitionPattern,
		CacheEntries:     16,
	}
}

// NewConfig validates cfg and returns a copy.
func NewConfig(cfg Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Pin marks a setting as explicitly given.
func (c *Config) Pin(name string) {
	if c.pinned == nil {
		c.pinned = make(map[string]bool)
	}
	c.pinned[name] = true
}

// Pinned reports whether a setting was explicitly given.
func (c *Config) Pinned(name string) bool {
	return c.pinned[name]
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Command {
	case CommandRun, CommandPlan:
		if c.GraphPath == "" {
			return errors.New("GraphPath is a required configuration field and cannot be empty")
		}
	case CommandWorker:
	default:
		return fmt.Errorf("unknown command %q", c.Command)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return errors.New("invalid log-format: must be 'text' or 'json'")
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		return errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	if c.Command == CommandWorker {
		return nil
	}

	if c.MemoryGB <= 0 {
		return fmt.Errorf("invalid memory-gb: must be positive, got %v", c.MemoryGB)
	}
	if c.Workers < 0 || c.Processors < 0 {
		return errors.New("invalid workers or processors: must not be negative")
	}
	if c.Isolation != IsolationProcess && c.Isolation != IsolationNone {
		return errors.New("invalid isolation: must be 'process' or 'none'")
	}
	if _, err := c.Strategy(); err != nil {
		return err
	}
	if c.Only < 0 {
		return fmt.Errorf("invalid only: chunk index must not be negative, got %d", c.Only)
	}
	if _, err := housekeeper.ParsePolicy(c.Keep); err != nil {
		return err
	}
	if c.CacheEntries < 0 {
		return errors.New("invalid cache-entries: must not be negative")
	}
	return nil
}

// Strategy returns the chunk strategy selected by ChunkMode and Chunks.
func (c *Config) Strategy() (chunk.Strategy, error) {
	var s chunk.Strategy
	switch c.ChunkMode {
	case ChunkModePerPartition:
		s = chunk.PerPartition()
	case ChunkModeCount:
		s = chunk.ByCount(c.Chunks)
	case ChunkModeMax:
		s = chunk.MaxPerChunk(c.Chunks)
	default:
		return s, fmt.Errorf("invalid chunk-mode %q: must be 'per-partition', 'count' or 'max'", c.ChunkMode)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("invalid chunks for chunk-mode %s: %w", c.ChunkMode, err)
	}
	return s, nil
}
