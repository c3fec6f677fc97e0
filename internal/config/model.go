package config

// Model is the merged content of all loaded files.
type Model struct {
	// Files lists the files that were read, in load order.
	Files []string
	// Source holds the raw bytes of Files concatenated in order. It feeds the
	// cache identity of the graph.
	Source []byte

	Graph *GraphSpec
	Run   *RunSettings
}

// GraphSpec describes an execution graph.
type GraphSpec struct {
	BaseDir string
	Config  map[string]string
	Nodes   []*NodeSpec
}

// NodeSpec describes one node.
type NodeSpec struct {
	Address   string
	Kind      string
	MemoryGB  float64
	NProcs    int
	Keep      bool
	Category  string
	Params    map[string]any
	Inputs    []*InputSpec
	DependsOn []string
}

// InputSpec binds one input field, either to a producer output or to a
// literal value.
type InputSpec struct {
	Field    string
	From     string
	Output   string
	Value    any
	HasValue bool
}

// RunSettings are the tunables a config file may set.
type RunSettings struct {
	Scheduler    *SchedulerSettings
	Chunking     *ChunkingSettings
	Housekeeping *HousekeepingSettings
	Partition    *PartitionSettings
	Cache        *CacheSettings
}

type SchedulerSettings struct {
	Workers    *int
	MemoryGB   *float64
	Processors *int
	Isolation  *string
	Resume     *bool
}

type ChunkingSettings struct {
	// Mode is one of "count", "per-partition" or "max".
	Mode           *string
	N              *int
	Only           *int
	ExcludeDefault *bool
}

type HousekeepingSettings struct {
	Keep       *string
	Categories []string
}

type PartitionSettings struct {
	Pattern *string
}

type CacheSettings struct {
	Dir     *string
	Entries *int
	S3      *S3Settings
}

type S3Settings struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}
