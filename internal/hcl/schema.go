package hcl

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// fileRoot decodes every top-level block a file may contain.
type fileRoot struct {
	Graphs       []*graphBlock      `hcl:"graph,block"`
	Scheduler    *schedulerBlock    `hcl:"scheduler,block"`
	Chunking     *chunkingBlock     `hcl:"chunking,block"`
	Housekeeping *housekeepingBlock `hcl:"housekeeping,block"`
	Partition    *partitionBlock    `hcl:"partition,block"`
	Cache        *cacheBlock        `hcl:"cache,block"`
	Remain       hcl.Body           `hcl:",remain"`
}

type graphBlock struct {
	BaseDir *string           `hcl:"base_dir,optional"`
	Config  map[string]string `hcl:"config,optional"`
	Nodes   []*nodeBlock      `hcl:"node,block"`
}

type nodeBlock struct {
	Address   string        `hcl:"address,label"`
	Kind      *string       `hcl:"kind,optional"`
	MemoryGB  *float64      `hcl:"memory_gb,optional"`
	NProcs    *int          `hcl:"n_procs,optional"`
	Keep      *bool         `hcl:"keep,optional"`
	Category  *string       `hcl:"category,optional"`
	Params    cty.Value     `hcl:"params,optional"`
	DependsOn []string      `hcl:"depends_on,optional"`
	Inputs    []*inputBlock `hcl:"input,block"`
}

type inputBlock struct {
	Field  string    `hcl:"field,label"`
	From   *string   `hcl:"from,optional"`
	Output *string   `hcl:"output,optional"`
	Value  cty.Value `hcl:"value,optional"`
}

type schedulerBlock struct {
	Workers    *int     `hcl:"workers,optional"`
	MemoryGB   *float64 `hcl:"memory_gb,optional"`
	Processors *int     `hcl:"processors,optional"`
	Isolation  *string  `hcl:"isolation,optional"`
	Resume     *bool    `hcl:"resume,optional"`
}

type chunkingBlock struct {
	Mode           *string `hcl:"mode,optional"`
	N              *int    `hcl:"n,optional"`
	Only           *int    `hcl:"only,optional"`
	ExcludeDefault *bool   `hcl:"exclude_default,optional"`
}

type housekeepingBlock struct {
	Keep       *string  `hcl:"keep,optional"`
	Categories []string `hcl:"categories,optional"`
}

type partitionBlock struct {
	Pattern *string `hcl:"pattern,optional"`
}

type cacheBlock struct {
	Dir     *string  `hcl:"dir,optional"`
	Entries *int     `hcl:"entries,optional"`
	S3      *s3Block `hcl:"s3,block"`
}

type s3Block struct {
	Endpoint  string  `hcl:"endpoint"`
	Bucket    string  `hcl:"bucket"`
	Region    *string `hcl:"region,optional"`
	Prefix    *string `hcl:"prefix,optional"`
	AccessKey *string `hcl:"access_key,optional"`
	SecretKey *string `hcl:"secret_key,optional"`
	UseSSL    *bool   `hcl:"use_ssl,optional"`
}
