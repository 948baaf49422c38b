package core

import (
	"fmt"
	"regexp"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// ValidatePlugins enforces basic plugin contract invariants at startup.
func ValidatePlugins(plugins []Plugin) error {
	seen := make(map[string]bool)
	for _, plugin := range plugins {
		id := plugin.ID()
		manifest := plugin.Manifest()
		if id == "" {
			return fmt.Errorf("plugin id is empty")
		}
		if !pluginIDPattern.MatchString(id) {
			return fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern.String())
		}
		if manifest.PluginID != id {
			return fmt.Errorf("plugin id mismatch: id=%q manifest=%q", id, manifest.PluginID)
		}
		if seen[id] {
			return fmt.Errorf("duplicate plugin id: %s", id)
		}
		seen[id] = true

		if caller, ok := plugin.(ServiceCaller); ok && plugin.Health() != HealthError {
			if err := caller.Services().Validate(); err != nil {
				return fmt.Errorf("plugin %s services: %w", id, err)
			}
		}
	}
	return nil
}

// FindCaller returns the service caller for a plugin id.
func FindCaller(plugins []Plugin, id string) (ServiceCaller, bool) {
	for _, plugin := range plugins {
		if plugin.ID() != id {
			continue
		}
		caller, ok := plugin.(ServiceCaller)
		return caller, ok
	}
	return nil, false
}
