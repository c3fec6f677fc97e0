package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/specialistvlad/chunkflow/internal/app"
)

// EnvPrefix prefixes the environment variable of every flag, e.g.
// CHUNKFLOW_MEMORY_GB for --memory-gb.
const EnvPrefix = "CHUNKFLOW_"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Environment returns a lookup over the process environment backed by the
// dotenv file named by CHUNKFLOW_ENV_FILE, or ".env". Process variables win.
func Environment() LookupFunc {
	path := os.Getenv(EnvPrefix + "ENV_FILE")
	if path == "" {
		path = ".env"
	}
	dotenv, err := godotenv.Read(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Ignoring unreadable env file.", "path", path, "error", err)
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

// EnvKey returns the environment variable for a flag name.
func EnvKey(flagName string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// Parse processes command-line arguments against the process environment.
// It returns a populated Config, a boolean indicating if the program should
// exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	return ParseWithEnv(args, output, Environment())
}

// ParseWithEnv is Parse with an explicit environment.
func ParseWithEnv(args []string, output io.Writer, lookup LookupFunc) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	cfg := app.DefaultConfig()
	if len(args) > 0 {
		switch args[0] {
		case app.CommandRun, app.CommandPlan, app.CommandWorker:
			cfg.Command = args[0]
			args = args[1:]
		}
	}

	flagSet := flag.NewFlagSet("chunkflow "+cfg.Command, flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, `
chunkflow - partitions an execution graph into independently schedulable
chunks and runs them under a memory and processor budget.

Usage:
  chunkflow [run|plan] [options] GRAPH_PATH
  chunkflow worker [options]

Commands:
  run     Partition, plan and execute the graph (default).
  plan    Print partitions and chunks without executing nodes.
  worker  Serve one isolated task request on stdin/stdout.

Arguments:
  GRAPH_PATH
    Path to a single .hcl file or a directory containing .hcl files.

Every option can also be set through the environment, e.g. CHUNKFLOW_MEMORY_GB
for --memory-gb, including from a .env file.

Options:
`)
		flagSet.PrintDefaults()
	}

	graphFlag := flagSet.String("graph", "", "Path to the graph file or directory.")
	gFlag := flagSet.String("g", "", "Path to the graph file or directory (shorthand).")
	flagSet.StringVar(&cfg.ConfigPath, "config", "", "Path to an HCL file with run settings.")
	flagSet.StringVar(&cfg.ManifestPath, "manifest", "", "Path to the input manifest; part of the cache identity.")
	flagSet.StringVar(&cfg.BaseDir, "base-dir", "", "Working directory root; overrides base_dir of the graph.")

	flagSet.IntVar(&cfg.HealthcheckPort, "healthcheck-port", 0, "Port for the HTTP health and status server. 0 is disabled.")
	flagSet.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log output format. Options: 'text' or 'json'.")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	flagSet.IntVar(&cfg.Workers, "workers", 0, "Maximum concurrently running nodes. 0 uses the CPU count.")
	flagSet.Float64Var(&cfg.MemoryGB, "memory-gb", cfg.MemoryGB, "Memory budget in GB.")
	flagSet.IntVar(&cfg.Processors, "processors", 0, "Processor budget. 0 uses the CPU count.")
	flagSet.StringVar(&cfg.Isolation, "isolation", cfg.Isolation, "Node isolation. Options: 'process' or 'none'.")
	flagSet.BoolVar(&cfg.Resume, "resume", false, "Skip nodes that already have a result file.")

	flagSet.StringVar(&cfg.ChunkMode, "chunk-mode", cfg.ChunkMode, "Chunking. Options: 'per-partition', 'count' or 'max'.")
	flagSet.IntVar(&cfg.Chunks, "chunks", 0, "Chunk count for 'count', partitions per chunk for 'max'.")
	flagSet.IntVar(&cfg.Only, "only", 0, "Run only the chunk with this 1-based index. 0 runs all.")
	flagSet.BoolVar(&cfg.ExcludeDefault, "exclude-default", false, "Do not run the chunk of unpartitioned nodes.")

	flagSet.StringVar(&cfg.Keep, "keep", cfg.Keep, "Intermediate directories to keep. Options: 'all', 'some' or 'none'.")
	flagSet.Func("keep-categories", "Comma separated node categories kept under 'some'.", func(s string) error {
		cfg.KeepCategories = splitList(s)
		return nil
	})
	flagSet.StringVar(&cfg.PartitionPattern, "partition-pattern", cfg.PartitionPattern, "Regular expression whose first group keys a node's partition.")

	flagSet.StringVar(&cfg.CacheDir, "cache-dir", "", "Cache directory. Defaults to the base directory.")
	flagSet.IntVar(&cfg.CacheEntries, "cache-entries", cfg.CacheEntries, "Cache blobs kept in memory.")
	flagSet.BoolVar(&cfg.NoCache, "no-cache", false, "Disable the graph, partition and chunk cache.")
	flagSet.StringVar(&cfg.S3.Endpoint, "s3-endpoint", "", "S3-compatible endpoint mirroring the cache.")
	flagSet.StringVar(&cfg.S3.Region, "s3-region", "", "S3 region.")
	flagSet.StringVar(&cfg.S3.Bucket, "s3-bucket", "", "S3 bucket.")
	flagSet.StringVar(&cfg.S3.Prefix, "s3-prefix", "", "Key prefix inside the bucket.")
	flagSet.StringVar(&cfg.S3.AccessKey, "s3-access-key", "", "S3 access key.")
	flagSet.StringVar(&cfg.S3.SecretKey, "s3-secret-key", "", "S3 secret key.")
	flagSet.BoolVar(&cfg.S3.UseSSL, "s3-use-ssl", false, "Use TLS for the S3 endpoint.")

	var envErr error
	flagSet.VisitAll(func(f *flag.Flag) {
		v, ok := lookup(EnvKey(f.Name))
		if !ok || envErr != nil {
			return
		}
		if err := flagSet.Set(f.Name, v); err != nil {
			envErr = fmt.Errorf("invalid value %q for %s: %v", v, EnvKey(f.Name), err)
		}
	})
	if envErr != nil {
		return nil, false, &ExitError{Code: 2, Message: envErr.Error()}
	}

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	flagSet.Visit(func(f *flag.Flag) { cfg.Pin(f.Name) })
	slog.Debug("Arguments parsed successfully.")

	switch {
	case *graphFlag != "":
		cfg.GraphPath = *graphFlag
	case *gFlag != "":
		cfg.GraphPath = *gFlag
	case flagSet.NArg() > 0:
		cfg.GraphPath = flagSet.Arg(0)
	}
	slog.Debug("Graph path determined.", "path", cfg.GraphPath)

	if cfg.GraphPath == "" && cfg.Command != app.CommandWorker {
		slog.Debug("No graph path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "command", config.Command)
	return config, false, nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
