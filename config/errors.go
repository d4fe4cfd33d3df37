package config

import "errors"

// Errors reported by [Config.Validate] and [Load].
var (
	ErrNotFound         = errors.New("config: file not found")
	ErrInvalidURL       = errors.New("config: feed url must be an absolute http or https URL")
	ErrInvalidInterval  = errors.New("config: feed interval must be positive")
	ErrInvalidTimeout   = errors.New("config: feed timeout must be non-negative")
	ErrInvalidRateLimit = errors.New("config: feed rate limit must be non-negative")
	ErrInvalidPort      = errors.New("config: proxy port out of range")
	ErrInvalidDriver    = errors.New("config: unknown store driver")
	ErrMissingDSN       = errors.New("config: store dsn is required")
	ErrInvalidLogLevel  = errors.New("config: unknown log level")
	ErrInvalidLogFormat = errors.New("config: log format must be \"text\" or \"json\"")
	ErrInvalidProtocol  = errors.New("config: tracing protocol must be \"http/protobuf\" or \"grpc\"")
)
