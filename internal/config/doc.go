// Package config handles configuration loading for meshmini.
//
// Configuration is read from an optional YAML file with ${VAR} environment
// expansion, then overridden by MMB_* environment variables (the same
// names as the documented tunables). Every tunable has a default, so a
// bare `meshmini serve` works with no file at all.
package config
