package plugins

import (
	"github.com/go-logr/logr"

	"github.com/joshp123/gohome-skyport/internal/auth"
	"github.com/joshp123/gohome-skyport/internal/config"
	"github.com/joshp123/gohome-skyport/internal/core"
	"github.com/joshp123/gohome-skyport/internal/history"
)

// Deps are the shared services the server hands every plugin.
type Deps struct {
	Log     logr.Logger
	History *history.Store
	Blob    auth.BlobStore
}

// Factory builds a plugin instance from the loaded config.
type Factory func(*config.Config, Deps) (core.Plugin, bool)

var compiled []Factory

// Register adds a compiled-in plugin factory to the registry.
func Register(factory Factory) {
	compiled = append(compiled, factory)
}

// Compiled returns the configured plugin instances for this build.
func Compiled(cfg *config.Config, deps Deps) []core.Plugin {
	if cfg == nil {
		return nil
	}
	out := make([]core.Plugin, 0, len(compiled))
	for _, factory := range compiled {
		plugin, ok := factory(cfg, deps)
		if !ok {
			continue
		}
		out = append(out, plugin)
	}
	return out
}

// Close stops plugins that hold background workers.
func Close(plugins []core.Plugin, log logr.Logger) {
	for _, p := range plugins {
		closer, ok := p.(core.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			log.Error(err, "close plugin", "plugin", p.ID())
		}
	}
}
