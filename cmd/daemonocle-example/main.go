// Command daemonocle-example is a minimal daemon for trying out the
// library: it appends a heartbeat line to its log file every few seconds
// until stopped.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jnrbsn/daemonocle"
	"github.com/jnrbsn/daemonocle/cli"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	opts := []daemonocle.Option{
		daemonocle.WithName("daemonocle-example"),
		daemonocle.WithWorker(worker),
		daemonocle.WithPIDFile(filepath.Join(os.TempDir(), "daemonocle-example.pid")),
		daemonocle.WithStdoutFile(filepath.Join(os.TempDir(), "daemonocle-example.log")),
		daemonocle.WithStderrFile(filepath.Join(os.TempDir(), "daemonocle-example.log")),
		daemonocle.WithShutdownHook(func(message string, code int) {
			fmt.Printf("shutting down: %s (exit code %d)\n", message, code)
		}),
	}

	if path := os.Getenv("DAEMONOCLE_EXAMPLE_CONFIG"); path != "" {
		cfg, err := cli.LoadConfig(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return err
		}
		extra, err := cfg.Options()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return err
		}
		opts = append(opts, extra...)
	}

	d, err := daemonocle.New(opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return cli.New(d).Execute()
}

func worker() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	logger.Info("worker started", "pid", os.Getpid())
	for {
		time.Sleep(5 * time.Second)
		logger.Info("heartbeat", "pid", os.Getpid())
	}
}
