package client

import (
	"log/slog"

	"dcvext/config"
	"dcvext/middleware"
	"dcvext/transport"
)

// OptionsFromConfig translates the client and middleware sections of cfg into
// Processor options. Middleware order is logging, retry, rate limit, timeout:
// each retry is rate limited and timed on its own.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) ([]Option, error) {
	if logger == nil {
		logger = slog.Default()
	}
	correlation, err := transport.ParseCorrelation(cfg.Client.Correlation)
	if err != nil {
		return nil, err
	}
	ids, err := NewIDGenerator(cfg.Client.RequestIDs)
	if err != nil {
		return nil, err
	}

	mws := []middleware.Middleware{middleware.LoggingMiddleware(logger)}
	if m := cfg.Middleware; m.Retries > 0 {
		mws = append(mws, middleware.RetryMiddleware(m.Retries, m.RetryBackoff, logger))
	}
	if m := cfg.Middleware; m.RateLimit > 0 {
		if m.RateReject {
			mws = append(mws, middleware.RateLimitMiddleware(m.RateLimit, m.RateBurst))
		} else {
			mws = append(mws, middleware.ThrottleMiddleware(m.RateLimit, m.RateBurst))
		}
	}
	if cfg.Client.RequestTimeout > 0 {
		mws = append(mws, middleware.TimeoutMiddleware(cfg.Client.RequestTimeout))
	}

	return []Option{
		WithLogger(logger),
		WithCorrelation(correlation),
		WithIDGenerator(ids),
		WithMaxFrameSize(cfg.Client.MaxFrameSize),
		WithCloseTimeout(cfg.Client.CloseTimeout),
		WithEventBuffer(cfg.Client.EventBuffer),
		WithMiddleware(mws...),
	}, nil
}
