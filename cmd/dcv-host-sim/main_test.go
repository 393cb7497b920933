package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcvext/client"
	"dcvext/host"
	"dcvext/message"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{
		"--config", "host.yaml", "--log-level", "debug", "--toggle-focus", "250ms",
		"--", "./dcv-extension-geometry", "--points", "10:10",
	})
	require.NoError(t, err)
	assert.Equal(t, "host.yaml", opts.configPath)
	assert.Equal(t, "debug", opts.logLevel)
	assert.Equal(t, "stderr", opts.logOutput)
	assert.Equal(t, 250*time.Millisecond, opts.toggleFocus)
	assert.Equal(t, []string{"./dcv-extension-geometry", "--points", "10:10"}, opts.command)
}

func TestParseFlagsErrors(t *testing.T) {
	_, err := parseFlags(nil)
	assert.ErrorContains(t, err, "usage")

	_, err = parseFlags([]string{"--toggle-focus", "-1s", "--", "ext"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host:\n  role: client\n  manifest_path: /opt/m.json\n"), 0o600))

	cfg, err := loadConfig(&options{configPath: path, logLevel: "warn", logOutput: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Equal(t, "stderr", cfg.Logger.Output)
	assert.Equal(t, "client", cfg.Host.Role)
	assert.Equal(t, "/opt/m.json", cfg.Host.ManifestPath)

	_, err = loadConfig(&options{configPath: path, logOutput: "stdout"})
	assert.Error(t, err)
}

func TestToggleFlipsFocus(t *testing.T) {
	cfg, err := loadConfig(&options{logOutput: "stderr"})
	require.NoError(t, err)
	sim, err := host.NewSimulator(cfg.Host)
	require.NoError(t, err)
	defer sim.Close()

	toHostR, toHostW := io.Pipe()
	toExtR, toExtW := io.Pipe()
	go sim.Serve(context.Background(), toHostR, toExtW)
	p := client.New(toExtR, toHostW)
	defer func() {
		p.Close()
		toHostW.Close()
		toExtW.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Serve is running once a request has been answered.
	_, err = p.GetDcvInfo(ctx)
	require.NoError(t, err)

	sub := p.Subscribe(4)
	defer sub.Unsubscribe()
	go toggle(ctx, sim, cfg.Host, 5*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	select {
	case ev := <-sub.C:
		assert.Equal(t, message.EventStreamingViewsChanged, ev.Kind)
		assert.Equal(t, !cfg.Host.ClientHasFocus, ev.StreamingViews.HasFocus)
	case <-ctx.Done():
		t.Fatal("no StreamingViewsChanged event")
	}
}
