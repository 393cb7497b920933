// dcv-extension-geometry is an example DCV extension that follows the local
// cursor across the streaming views.
//
// It polls the cursor position, asks the host which streaming view contains
// it and, when one does, moves the remote cursor there. Streaming view
// changes pushed by the host are logged as they arrive.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"dcvext/client"
	"dcvext/config"
	"dcvext/cursor"
	"dcvext/logger"
	"dcvext/message"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, logLevel string
	var points []string
	var iterations int

	flagSet := pflag.NewFlagSet("dcv-extension-geometry", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML configuration file")
	flagSet.StringVar(&logLevel, "log-level", "", "override logger.level (debug, info, warn, error)")
	flagSet.StringSliceVar(&points, "points", nil, "replay these X:Y cursor positions instead of reading the OS cursor")
	flagSet.IntVar(&iterations, "iterations", -1, "number of polls, 0 polls until the session ends (default: geometry.iterations)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logger.Level = logLevel
	}
	if iterations >= 0 {
		cfg.Geometry.Iterations = iterations
	}

	var src cursor.Source = cursor.System()
	if len(points) > 0 {
		scripted, err := parsePoints(points)
		if err != nil {
			return err
		}
		src = cursor.NewScripted(scripted...)
	}

	log, closeLog, err := logger.New(cfg.Logger, "geometry")
	if err != nil {
		return err
	}
	defer closeLog()

	opts, err := client.OptionsFromConfig(cfg, log)
	if err != nil {
		return err
	}
	p := client.New(os.Stdin, os.Stdout, opts...)
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("geometry extension started")
	if err := follow(ctx, p, src, cfg.Geometry, log); err != nil {
		log.Error("geometry extension failed", "error", err)
		return err
	}
	log.Info("geometry extension finished")
	return nil
}

// parsePoints parses "X:Y" pairs.
func parsePoints(values []string) ([]message.Point, error) {
	pts := make([]message.Point, 0, len(values))
	for _, v := range values {
		xs, ys, ok := strings.Cut(v, ":")
		if !ok {
			return nil, fmt.Errorf("invalid point %q: want X:Y", v)
		}
		x, err := strconv.ParseInt(strings.TrimSpace(xs), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid point %q: %w", v, err)
		}
		y, err := strconv.ParseInt(strings.TrimSpace(ys), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid point %q: %w", v, err)
		}
		pts = append(pts, message.Point{X: int32(x), Y: int32(y)})
	}
	return pts, nil
}

func follow(ctx context.Context, p *client.Processor, src cursor.Source, cfg config.GeometryConfig, log *slog.Logger) error {
	manifest, err := p.GetManifest(ctx)
	if err != nil {
		return fmt.Errorf("get manifest: %w", err)
	}
	log.Info("extension manifest", "path", manifest)

	sub := p.Subscribe(0)
	defer sub.Unsubscribe()
	go func() {
		for ev := range sub.C {
			log.Info("host event", "kind", ev.Kind, "views", len(ev.StreamingViews.Views), "has_focus", ev.StreamingViews.HasFocus)
		}
	}()

	views, err := p.GetStreamingViews(ctx)
	if err != nil {
		return fmt.Errorf("get streaming views: %w", err)
	}
	log.Info("streaming views", "count", len(views.Views), "has_focus", views.HasFocus)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for i := 0; cfg.Iterations == 0 || i < cfg.Iterations; i++ {
		if err := poll(ctx, p, src, log); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-p.Done():
			return fmt.Errorf("session ended: %w", p.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// poll handles one cursor sample.
func poll(ctx context.Context, p *client.Processor, src cursor.Source, log *slog.Logger) error {
	pt, err := src.Position()
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}

	id, err := p.IsPointInsideStreamingViews(ctx, pt)
	if err != nil {
		return fmt.Errorf("is point inside streaming views: %w", err)
	}
	if id < 0 {
		log.Debug("cursor outside streaming views", "x", pt.X, "y", pt.Y)
		return nil
	}

	attrs := []any{"view_id", id, "x", pt.X, "y", pt.Y}
	if views, ok := p.StreamingViews(); ok {
		if view, ok := views.View(id); ok {
			remote := view.ToRemote(pt)
			attrs = append(attrs, "remote_x", remote.X, "remote_y", remote.Y)
		}
	}
	log.Info("cursor inside streaming view", attrs...)

	if err := p.SetCursorPoint(ctx, pt); err != nil {
		return fmt.Errorf("set cursor point: %w", err)
	}
	return nil
}
