package plugins

import (
	"github.com/joshp123/gohome-skyport/internal/config"
	"github.com/joshp123/gohome-skyport/internal/core"
	"github.com/joshp123/gohome-skyport/plugins/skyport"
)

func init() {
	Register(func(cfg *config.Config, deps Deps) (core.Plugin, bool) {
		pluginDeps := skyport.Deps{Log: deps.Log, Blob: deps.Blob}
		if deps.History != nil {
			pluginDeps.Recorder = deps.History
		}
		p, ok := skyport.NewPlugin(cfg, pluginDeps)
		if !ok {
			return nil, false
		}
		return p, true
	})
}
