// dcv-extension-virtual-channel is an example DCV extension that opens a
// virtual channel and exchanges messages over it.
//
// DCV starts the extension with the protocol on stdin and stdout. The
// extension asks for the DCV role and its manifest, creates the channel,
// connects to the relay the host returns, then writes "Extension message N"
// and reads the reply at a fixed interval before closing the channel.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"dcvext/client"
	"dcvext/config"
	"dcvext/logger"
	"dcvext/vchannel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, logLevel, name string
	var iterations int

	flagSet := pflag.NewFlagSet("dcv-extension-virtual-channel", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML configuration file")
	flagSet.StringVar(&logLevel, "log-level", "", "override logger.level (debug, info, warn, error)")
	flagSet.StringVar(&name, "name", "", "virtual channel name (default: virtual_channel.name)")
	flagSet.IntVar(&iterations, "iterations", 0, "number of messages to exchange (default: virtual_channel.iterations)")
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
	if name != "" {
		cfg.VirtualChannel.Name = name
	}
	if iterations > 0 {
		cfg.VirtualChannel.Iterations = iterations
	}

	log, closeLog, err := logger.New(cfg.Logger, "virtual_channel")
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

	log.Info("virtual channel extension started")
	if err := exchange(ctx, p, cfg, log); err != nil {
		log.Error("virtual channel extension failed", "error", err)
		return err
	}
	log.Info("virtual channel extension finished")
	return nil
}

func exchange(ctx context.Context, p *client.Processor, cfg *config.Config, log *slog.Logger) error {
	vcfg := cfg.VirtualChannel

	info, err := p.GetDcvInfo(ctx)
	if err != nil {
		return fmt.Errorf("get DCV info: %w", err)
	}
	log.Info("running next to DCV", "role", info.Role)

	manifest, err := p.GetManifest(ctx)
	if err != nil {
		return fmt.Errorf("get manifest: %w", err)
	}
	log.Info("extension manifest", "path", manifest)

	setup, err := p.SetupVirtualChannel(ctx, vcfg.Name, int64(os.Getpid()))
	if err != nil {
		return fmt.Errorf("setup virtual channel %q: %w", vcfg.Name, err)
	}
	vc, err := setup.WaitAcknowledged(ctx)
	if err != nil {
		return err
	}

	ch, err := vchannel.Connect(ctx, vc.RelayPath, vc.AuthToken, log)
	if err != nil {
		return err
	}
	defer ch.Close()
	// Reads on the relay ignore ctx.
	stopClose := context.AfterFunc(ctx, func() { ch.Close() })
	defer stopClose()

	readyCtx, cancel := ctx, context.CancelFunc(func() {})
	if cfg.Client.RequestTimeout > 0 {
		readyCtx, cancel = context.WithTimeout(ctx, cfg.Client.RequestTimeout)
	}
	_, err = setup.WaitReady(readyCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("wait for virtual channel %q: %w", vcfg.Name, err)
	}
	log.Info("virtual channel ready", "name", vcfg.Name, "relay_path", vc.RelayPath)

	buf := make([]byte, vcfg.ChunkSize)
	// A zero interval sends the next message as soon as the reply is read.
	var tick <-chan time.Time
	if vcfg.Interval > 0 {
		ticker := time.NewTicker(vcfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for i := 1; i <= vcfg.Iterations; i++ {
		msg := fmt.Sprintf("Extension message %d", i)
		if _, err := ch.Write([]byte(msg)); err != nil {
			return fmt.Errorf("write virtual channel: %w", err)
		}
		log.Debug("sent", "message", msg)

		n, err := ch.Read(buf)
		if err != nil {
			return fmt.Errorf("read virtual channel: %w", err)
		}
		log.Info("received", "bytes", n, "data", string(buf[:n]))

		if err := pause(ctx, p, tick); err != nil {
			return err
		}
	}

	closed, err := p.CloseVirtualChannel(ctx, vcfg.Name)
	if err != nil {
		return fmt.Errorf("close virtual channel %q: %w", vcfg.Name, err)
	}
	log.Info("virtual channel closed", "name", closed)
	return nil
}

// pause waits for the next tick. A nil tick only checks that the session is
// still up.
func pause(ctx context.Context, p *client.Processor, tick <-chan time.Time) error {
	if tick == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Done():
			return fmt.Errorf("session ended: %w", p.Err())
		default:
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.Done():
		return fmt.Errorf("session ended: %w", p.Err())
	case <-tick:
		return nil
	}
}
