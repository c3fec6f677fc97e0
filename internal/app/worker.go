package app

import (
	"context"
	"io"

	"github.com/specialistvlad/chunkflow/internal/ctxlog"
	"github.com/specialistvlad/chunkflow/internal/diskstore"
	"github.com/specialistvlad/chunkflow/internal/isolation"
	"github.com/specialistvlad/chunkflow/internal/task"
)

// RunWorker serves one isolated task request read from in and replies on
// out. Logs go to logW so they never mix with the reply.
func RunWorker(ctx context.Context, cfg *Config, in io.Reader, out, logW io.Writer) error {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	ctx = ctxlog.WithLogger(ctx, logger)
	return isolation.Serve(ctx, in, out, task.NewRegistry(), diskstore.New())
}
