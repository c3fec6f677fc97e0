package app

import (
	"github.com/specialistvlad/chunkflow/internal/config"
)

// applyRunSettings copies the settings of a config file into cfg, leaving
// pinned settings alone. The names match the CLI flags.
func applyRunSettings(cfg *Config, run *config.RunSettings) {
	if run == nil {
		return
	}
	if s := run.Scheduler; s != nil {
		set(cfg, "workers", &cfg.Workers, s.Workers)
		set(cfg, "memory-gb", &cfg.MemoryGB, s.MemoryGB)
		set(cfg, "processors", &cfg.Processors, s.Processors)
		set(cfg, "isolation", &cfg.Isolation, s.Isolation)
		set(cfg, "resume", &cfg.Resume, s.Resume)
	}
	if c := run.Chunking; c != nil {
		set(cfg, "chunk-mode", &cfg.ChunkMode, c.Mode)
		set(cfg, "chunks", &cfg.Chunks, c.N)
		set(cfg, "only", &cfg.Only, c.Only)
		set(cfg, "exclude-default", &cfg.ExcludeDefault, c.ExcludeDefault)
	}
	if h := run.Housekeeping; h != nil {
		set(cfg, "keep", &cfg.Keep, h.Keep)
		if h.Categories != nil && !cfg.Pinned("keep-categories") {
			cfg.KeepCategories = h.Categories
		}
	}
	if p := run.Partition; p != nil {
		set(cfg, "partition-pattern", &cfg.PartitionPattern, p.Pattern)
	}
	if c := run.Cache; c != nil {
		set(cfg, "cache-dir", &cfg.CacheDir, c.Dir)
		set(cfg, "cache-entries", &cfg.CacheEntries, c.Entries)
		if c.S3 != nil && !cfg.Pinned("s3-endpoint") {
			cfg.S3 = S3Config(*c.S3)
		}
	}
}

func set[T any](cfg *Config, name string, dst *T, src *T) {
	if src == nil || cfg.Pinned(name) {
		return
	}
	*dst = *src
}
