// Package di wires the process graph with samber/do: configuration and
// assembly, the runtime store, the affinity cache, and the HTTP surface.
// Services resolve lazily and shut down in reverse dependency order.
package di

// Options are the process-level inputs, set from CLI flags before any
// service resolves.
type Options struct {
	// ConfigPath is the user config file.
	ConfigPath string
	// SystemPath is the optional system config overlay; empty uses built-in
	// provider templates.
	SystemPath string
	// Watch enables live reload of the user config.
	Watch bool
}
