package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/specialistvlad/chunkflow/internal/app"
	"github.com/specialistvlad/chunkflow/internal/cli"
	"github.com/specialistvlad/chunkflow/internal/hcl"
)

// main is the entrypoint for the chunkflow application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	if err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error
// handling. Worker replies go to outW, logs to errW.
func run(ctx context.Context, in io.Reader, outW, errW io.Writer, args []string) (err error) {
	cfg, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application panicked: %v", r)
		}
	}()

	if cfg.Command == app.CommandWorker {
		return app.RunWorker(ctx, cfg, in, outW, errW)
	}

	a, err := app.NewApp(outW, errW, cfg, hcl.NewLoader())
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
