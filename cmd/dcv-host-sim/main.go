// dcv-host-sim runs a DCV extension without DCV.
//
// It starts the extension binary given after the flags as a child process
// and serves it as a simulated DCV host over the child's stdin and stdout:
//
//	dcv-host-sim --config host.yaml -- ./dcv-extension-geometry --points 10:10
//
// The simulator answers every request kind from the host section of the
// configuration. Virtual channels are backed by a local relay that echoes
// what the extension writes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"dcvext/config"
	"dcvext/host"
	"dcvext/logger"
	"dcvext/middleware"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the parsed command line.
type options struct {
	configPath  string
	logLevel    string
	logOutput   string
	toggleFocus time.Duration
	command     []string
}

// parseFlags parses args, without the program name. It returns pflag.ErrHelp
// when help was requested.
func parseFlags(args []string) (*options, error) {
	opts := &options{}
	flagSet := pflag.NewFlagSet("dcv-host-sim", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to the YAML configuration file")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "override logger.level (debug, info, warn, error)")
	flagSet.StringVar(&opts.logOutput, "log-output", "stderr", "where the simulator logs")
	flagSet.DurationVar(&opts.toggleFocus, "toggle-focus", 0, "flip the client focus and emit StreamingViewsChanged at this interval")
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if opts.toggleFocus < 0 {
		return nil, fmt.Errorf("--toggle-focus must be >= 0")
	}
	opts.command = flagSet.Args()
	if len(opts.command) == 0 {
		return nil, fmt.Errorf("usage: dcv-host-sim [flags] -- <extension> [args...]")
	}
	return opts, nil
}

// loadConfig loads the configuration and applies the flag overrides.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logger.Level = opts.logLevel
	}
	cfg.Logger.Output = opts.logOutput
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run() error {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	args := opts.command

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger, "host_sim")
	if err != nil {
		return err
	}
	defer closeLog()

	sim, err := host.NewSimulator(cfg.Host,
		host.WithLogger(log),
		host.WithMaxFrameSize(cfg.Client.MaxFrameSize),
	)
	if err != nil {
		return err
	}
	defer sim.Close()
	sim.Use(middleware.LoggingMiddleware(log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start extension: %w", err)
	}
	log.Info("extension started", "path", args[0], "pid", cmd.Process.Pid)

	toggleCtx, cancelToggle := context.WithCancel(ctx)
	defer cancelToggle()
	if opts.toggleFocus > 0 {
		go toggle(toggleCtx, sim, cfg.Host, opts.toggleFocus, log)
	}

	serveErr := sim.Serve(ctx, stdout, stdin)
	cancelToggle()
	stdin.Close()
	if err := sim.Shutdown(cfg.Client.CloseTimeout); err != nil {
		log.Warn("shutdown", "error", err)
	}

	waitErr := cmd.Wait()
	log.Info("extension exited", "error", waitErr)
	if serveErr != nil {
		return serveErr
	}
	return waitErr
}

// toggle periodically flips the client focus.
func toggle(ctx context.Context, sim *host.Simulator, cfg config.HostConfig, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	views := cfg.StreamingViews()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		views.HasFocus = !views.HasFocus
		if err := sim.SetStreamingViews(views); err != nil {
			log.Warn("emit streaming views", "error", err)
		}
	}
}
