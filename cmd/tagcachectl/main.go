package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/gozephyr/tagcache/internal/config"
	"github.com/gozephyr/tagcache/internal/logging"
)

var version = "dev"

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdout, os.Stderr))
}

// realMain returns the exit code so deferred cleanup runs before exiting
func realMain(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tagcachectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file (default: one in-memory node)")
	showVersion := fs.Bool("version", false, "Show version information")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "tagcachectl %s\n", version)
		return 0
	}
	if fs.NArg() == 0 {
		usage(stderr)
		return 2
	}

	loader := config.NewLoader()
	var (
		cfg *config.Config
		err error
	)
	if *configPath == "" {
		cfg, err = loader.Parse(nil)
	} else {
		cfg, err = loader.Load(*configPath)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to nodes", zap.Error(err))
		return 1
	}
	defer s.Close(context.Background())

	c, err := buildCache(s, cfg, logger)
	if err != nil {
		logger.Error("Failed to create cache", zap.Error(err))
		return 1
	}
	defer c.Close()

	if err := run(ctx, c, fs.Args(), stdout); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: tagcachectl [-config FILE] COMMAND [ARGS]

Commands:
  save [-tags a,b] [-ttl 60s] ID VALUE
  load ID
  meta ID
  remove ID
  clean MODE [TAG...]    modes: all, old, matchingTag, notMatchingTag, matchingAnyTag
  ids
  tags
  match [-any|-not] TAG...
  fill
  lock [-wait 100ms] KEY
  unlock KEY
  caps
`)
}
