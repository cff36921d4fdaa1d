// Package config loads client settings.
//
// Settings are layered, later layers winning:
//
//  1. built-in defaults (DefaultConfig)
//  2. a YAML file (-config or TEMPINBOX_CONFIG)
//  3. TEMPINBOX_* environment variables
//  4. command line flags that were set explicitly
//
// Durations are Go duration strings ("500ms", "30s") in YAML, the
// environment and flags alike.
package config
