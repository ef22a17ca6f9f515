// Package config loads the walletkit YAML configuration, fills in defaults
// and applies WALLETKIT_* environment overrides. Secrets are referenced by
// environment variable name rather than stored in the file.
package config
