package config

import "errors"

// Sentinel errors for the loader, mirroring pkg/config/errors.go's
// ErrConfigNotFound/ErrInvalidYAML pattern.
var (
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrInvalidYAML    = errors.New("invalid YAML")
)
