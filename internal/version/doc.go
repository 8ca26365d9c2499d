// Package version exposes build metadata injected via ldflags and a cobra
// `version` subcommand shared by the daemon binary.
package version
