// Package app wires the application together: logger, loaders, registry,
// store and the command implementations behind each CLI subcommand. It is
// decoupled from any specific entrypoint, so tests drive it directly.
package app
