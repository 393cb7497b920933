package config

import (
	"fmt"
	"strings"

	"dcvext/message"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateClient(cfg, ve)
	validateMiddleware(cfg, ve)
	validateVirtualChannel(cfg, ve)
	validateGeometry(cfg, ve)
	validateHost(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q must be one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
	if strings.EqualFold(cfg.Logger.Output, "stdout") {
		ve.Add("logger.output cannot be stdout: it carries the extension protocol")
	}
}

func validateClient(cfg *Config, ve *ValidationError) {
	switch cfg.Client.Correlation {
	case "request_id", "kind":
	default:
		ve.Add("client.correlation %q must be request_id or kind", cfg.Client.Correlation)
	}
	switch cfg.Client.RequestIDs {
	case "counter", "uuid":
	default:
		ve.Add("client.request_ids %q must be counter or uuid", cfg.Client.RequestIDs)
	}
	if cfg.Client.RequestTimeout < 0 {
		ve.Add("client.request_timeout must be >= 0")
	}
	if cfg.Client.EventBuffer <= 0 {
		ve.Add("client.event_buffer must be > 0")
	}
	if cfg.Client.CloseTimeout <= 0 {
		ve.Add("client.close_timeout must be > 0")
	}
}

func validateMiddleware(cfg *Config, ve *ValidationError) {
	if cfg.Middleware.RateLimit < 0 {
		ve.Add("middleware.rate_limit must be >= 0")
	}
	if cfg.Middleware.RateLimit > 0 && cfg.Middleware.RateBurst <= 0 {
		ve.Add("middleware.rate_burst must be > 0 when rate_limit is set")
	}
	if cfg.Middleware.Retries < 0 {
		ve.Add("middleware.retries must be >= 0")
	}
	if cfg.Middleware.Retries > 0 && cfg.Middleware.RetryBackoff <= 0 {
		ve.Add("middleware.retry_backoff must be > 0 when retries is set")
	}
}

func validateVirtualChannel(cfg *Config, ve *ValidationError) {
	if cfg.VirtualChannel.Name == "" {
		ve.Add("virtual_channel.name is required")
	}
	if cfg.VirtualChannel.ChunkSize <= 0 {
		ve.Add("virtual_channel.chunk_size must be > 0")
	}
	if cfg.VirtualChannel.Iterations < 0 {
		ve.Add("virtual_channel.iterations must be >= 0")
	}
	if cfg.VirtualChannel.Interval <= 0 {
		ve.Add("virtual_channel.interval must be > 0")
	}
}

func validateGeometry(cfg *Config, ve *ValidationError) {
	if cfg.Geometry.PollInterval <= 0 {
		ve.Add("geometry.poll_interval must be > 0")
	}
	if cfg.Geometry.Iterations < 0 {
		ve.Add("geometry.iterations must be >= 0")
	}
}

func validateHost(cfg *Config, ve *ValidationError) {
	if _, err := message.ParseDcvRole(cfg.Host.Role); err != nil {
		ve.Add("host.role: %v", err)
	}
	if cfg.Host.RelayPath == "" {
		ve.Add("host.relay_path is required")
	}
	seen := make(map[int32]bool)
	for i, v := range cfg.Host.Views {
		if v.Width <= 0 || v.Height <= 0 {
			ve.Add("host.views[%d]: width and height must be > 0", i)
		}
		if v.Zoom <= 0 {
			ve.Add("host.views[%d]: zoom must be > 0", i)
		}
		if seen[v.ID] {
			ve.Add("host.views[%d]: duplicate id %d", i, v.ID)
		}
		seen[v.ID] = true
	}
}
