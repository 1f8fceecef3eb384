// Package config loads the livefeed YAML configuration.
//
// ${VAR} references are expanded from the environment before parsing, so
// secrets such as the bearer token or database password can stay out of the
// file. Zero values are filled from the Default* constants by
// LoadWithDefaults.
package config
