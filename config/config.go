// Package config loads the YAML configuration shared by the extension
// binaries and the host simulator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"dcvext/message"
)

// Config is the top-level configuration.
type Config struct {
	Logger         LoggerConfig         `yaml:"logger"`
	Client         ClientConfig         `yaml:"client"`
	Middleware     MiddlewareConfig     `yaml:"middleware"`
	VirtualChannel VirtualChannelConfig `yaml:"virtual_channel"`
	Geometry       GeometryConfig       `yaml:"geometry"`
	Host           HostConfig           `yaml:"host"`
}

// LoggerConfig selects where and how logs are written. Extensions own stdout
// for the protocol, so Output may be "stderr" or a file path but never
// "stdout". "{name}" and "{pid}" in a path are replaced at startup.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"`
}

// ClientConfig tunes the request processor.
type ClientConfig struct {
	Correlation    string        `yaml:"correlation"` // request_id, kind
	RequestIDs     string        `yaml:"request_ids"` // counter, uuid
	RequestTimeout time.Duration `yaml:"request_timeout"`
	EventBuffer    int           `yaml:"event_buffer"`
	MaxFrameSize   uint32        `yaml:"max_frame_size"`
	CloseTimeout   time.Duration `yaml:"close_timeout"`
}

// MiddlewareConfig configures the blocking request path. Zero disables a
// middleware.
type MiddlewareConfig struct {
	RateLimit    float64       `yaml:"rate_limit"` // requests per second
	RateBurst    int           `yaml:"rate_burst"`
	RateReject   bool          `yaml:"rate_reject"` // fail instead of waiting when over the limit
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// VirtualChannelConfig drives the echo extension.
type VirtualChannelConfig struct {
	Name       string        `yaml:"name"`
	ChunkSize  int           `yaml:"chunk_size"`
	Iterations int           `yaml:"iterations"`
	Interval   time.Duration `yaml:"interval"`
}

// GeometryConfig drives the geometry extension. Zero iterations polls until
// the session ends.
type GeometryConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Iterations   int           `yaml:"iterations"`
}

// HostConfig is what the host simulator answers with.
type HostConfig struct {
	ManifestPath   string       `yaml:"manifest_path"`
	Role           string       `yaml:"role"` // server, client
	RelayPath      string       `yaml:"relay_path"`
	ClientHasFocus bool         `yaml:"client_has_focus"`
	Views          []ViewConfig `yaml:"views"`
}

// ViewConfig is one streaming view of the simulated host.
type ViewConfig struct {
	ID       int32   `yaml:"id"`
	X        int32   `yaml:"x"`
	Y        int32   `yaml:"y"`
	Width    int32   `yaml:"width"`
	Height   int32   `yaml:"height"`
	Zoom     float64 `yaml:"zoom"`
	OffsetX  int32   `yaml:"offset_x"`
	OffsetY  int32   `yaml:"offset_y"`
	HasFocus bool    `yaml:"has_focus"`
}

// StreamingViews converts the configured views.
func (h HostConfig) StreamingViews() message.StreamingViews {
	views := message.StreamingViews{HasFocus: h.ClientHasFocus}
	for _, v := range h.Views {
		views.Views = append(views.Views, message.StreamingView{
			ViewID:       v.ID,
			LocalArea:    message.Rect{X: v.X, Y: v.Y, Width: v.Width, Height: v.Height},
			ZoomFactor:   v.Zoom,
			RemoteOffset: message.Point{X: v.OffsetX, Y: v.OffsetY},
			HasFocus:     v.HasFocus,
		})
	}
	return views
}

// Defaults returns a Config with every field set to its default.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: filepath.Join(os.TempDir(), "dcvext_{name}_{pid}.log"),
		},
		Client: ClientConfig{
			Correlation:    "request_id",
			RequestIDs:     "counter",
			RequestTimeout: 10 * time.Second,
			EventBuffer:    16,
			MaxFrameSize:   16 << 20,
			CloseTimeout:   time.Second,
		},
		Middleware: MiddlewareConfig{
			RateBurst:    1,
			RetryBackoff: 100 * time.Millisecond,
		},
		VirtualChannel: VirtualChannelConfig{
			Name:       "echo",
			ChunkSize:  4096,
			Iterations: 100,
			Interval:   time.Second,
		},
		Geometry: GeometryConfig{
			PollInterval: 2 * time.Second,
			Iterations:   1000,
		},
		Host: HostConfig{
			ManifestPath:   filepath.Join(os.TempDir(), "dcvext", "manifest.json"),
			Role:           "server",
			RelayPath:      "dcvext-relay",
			ClientHasFocus: true,
			Views: []ViewConfig{
				{ID: 0, Width: 1920, Height: 1080, Zoom: 1, HasFocus: true},
			},
		},
	}
}

// Load reads a YAML config file over the defaults, applies env var
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps DCVEXT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DCVEXT_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("DCVEXT_LOG_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("DCVEXT_CHANNEL_NAME"); v != "" {
		cfg.VirtualChannel.Name = v
	}
	if v := os.Getenv("DCVEXT_CORRELATION"); v != "" {
		cfg.Client.Correlation = v
	}
}
