package config

// mergeTagRequirements merges built-in and user-declared tag→tool
// requirements. A tag declared in both is overridden entirely by the user's
// tool list (not unioned) — same override-wins shape as the teacher's
// mergeAgents/mergeMCPServers helpers.
func mergeTagRequirements(builtin, user map[string][]string) map[string][]string {
	merged := make(map[string][]string, len(builtin)+len(user))
	for tag, tools := range builtin {
		merged[tag] = tools
	}
	for tag, tools := range user {
		merged[tag] = tools
	}
	return merged
}
