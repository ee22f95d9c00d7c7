// Package main is the entry point for the skiff front-end shell: it spawns
// the text-editing engine process, wires the rpc core between the engine's
// pipes and the application state mirror, and runs until the engine exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"skiff/internal/engine"
	"skiff/internal/frontend"
	"skiff/internal/rpc"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	EnginePath string
	LogLevel   string
	Theme      string
	Files      []string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	logger, err := buildLogger(opts.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q: %v\n", opts.LogLevel, err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure is unreportable

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc, err := engine.Start(ctx, engine.Config{Path: opts.EnginePath}, logger.Named("engine"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start engine: %v\n", err)
		return 1
	}
	logger.Info("engine process running",
		zap.String("path", proc.Info().Path), zap.Int("pid", proc.Info().PID))

	// Construction order matters: the dispatcher exists before the core so
	// the handler is fixed at core construction, and the app is bound before
	// any traffic flows.
	app, dispatcher := frontend.New(logger.Named("frontend"))
	core := rpc.NewCore(proc, proc.Inbound(), dispatcher, rpc.WithLogger(logger.Named("rpc")))
	app.Bind(core)

	if err := startup(app, opts); err != nil {
		logger.Error("startup handshake failed", zap.Error(err))
		_ = proc.Stop()
		core.Close()
		return 1
	}

	// Signals ask the engine to exit; engine exit closes the inbound stream,
	// which shuts the core down and drains whatever was still pending.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Info("shutting down", zap.String("signal", sig.String()))
		_ = proc.Stop()
	}()

	<-core.Done()
	core.Close()

	if err := proc.Wait(); err != nil {
		logger.Error("engine exited with error", zap.Error(err))
		return 1
	}
	logger.Info("engine exited cleanly")
	return 0
}

// startup performs the initial handshake: announce the client, open a view
// per file argument (or one empty view), and pick a theme.
func startup(app *frontend.App, opts options) error {
	if err := app.ClientStarted(); err != nil {
		return err
	}
	if len(opts.Files) == 0 {
		if err := app.NewView(""); err != nil {
			return err
		}
	}
	for _, path := range opts.Files {
		if err := app.NewView(path); err != nil {
			return err
		}
	}
	if opts.Theme != "" {
		if err := app.SetTheme(opts.Theme); err != nil {
			return err
		}
	}
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.EnginePath, "engine", "xi-core", "Path to the engine executable")
	flag.StringVar(&opts.EnginePath, "e", "xi-core", "Path to the engine executable (shorthand)")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&opts.Theme, "theme", "InspiredGitHub", "Theme to request at startup")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Skiff - front-end shell for a text-editing engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: skiff [options] [files...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  skiff                       Open with one empty view\n")
		fmt.Fprintf(os.Stderr, "  skiff file.go               Open a file\n")
		fmt.Fprintf(os.Stderr, "  skiff -e ./my-engine -log-level debug\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("Skiff %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		os.Exit(0)
	}

	opts.Files = flag.Args()
	return opts
}
