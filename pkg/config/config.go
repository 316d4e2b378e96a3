// Package config loads and validates worunner's static configuration: the
// actor/tool permission matrix, the tag→required-tool vocabulary the Ops
// Control Loop uses for agent_mismatch detection, external service endpoints,
// and operational defaults (queue timing, retention).
package config

// Config is the umbrella configuration object returned by Initialize and
// threaded through the dispatcher, ops loop, and handlers.
type Config struct {
	configDir string

	// Defaults holds system-wide operational defaults.
	Defaults *Defaults

	// Queue controls the Ops Control Loop's scan cadence and stuck/retry
	// thresholds.
	Queue *QueueConfig

	// Retention controls the clarification-expiry sweep.
	Retention *RetentionConfig

	// Permissions is the actor→tool allow/deny matrix.
	Permissions *PermissionRegistry

	// TagRequirements maps a WO tag to the tool names an assigned actor must
	// have in ToolsAllowed for the tag to be servable. Consulted by the Ops
	// Control Loop's agent_mismatch archetype check.
	TagRequirements *TagRequirementRegistry

	// Actors holds per-actor role and tool-allowlist configuration.
	Actors *ActorRegistry

	// External holds outward HTTP endpoints (git host, sandbox, deploy,
	// verify proxy, agent redispatch endpoint).
	External *ExternalConfig
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ConfigStats summarizes loaded configuration for startup logging.
type ConfigStats struct {
	Actors          int
	PermissionRules int
	TagRules        int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Actors:          len(c.Actors.all),
		PermissionRules: len(c.Permissions.rules),
		TagRules:        len(c.TagRequirements.rules),
	}
}
