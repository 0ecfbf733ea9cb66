// Package config provides configuration loading, merging, and path management.
//
// # Configuration Loading
//
// The Load function merges configuration from multiple sources in priority
// order:
//
//  1. Global config (~/.config/agentexec/ - XDG compatible)
//  2. Project config (agentexec.json/agentexec.jsonc and
//     .agentexec/agentexec.json/agentexec.jsonc in the working directory)
//  3. AGENTEXEC_CONFIG file
//  4. AGENTEXEC_CONFIG_CONTENT inline JSON
//  5. Environment variables
//
// A .env file in the working directory is loaded into the environment before
// any other source.
//
// # Supported Formats
//
// Both JSON and JSONC (JSON with Comments) are supported:
//   - agentexec.json - Standard JSON configuration
//   - agentexec.jsonc - JSON with comments, processed using tidwall/jsonc
//
// # Variable Interpolation
//
// Configuration files support two kinds of placeholder:
//   - {env:VAR_NAME} - Expands to environment variable values
//   - {file:path} - Expands to file contents (properly escaped for JSON)
//
// File paths in {file:path} placeholders support absolute paths, paths
// relative to the config file directory, and ~/ home expansion.
//
// Example configuration:
//
//	{
//	  // commands the model may run without asking
//	  "permission": {
//	    "allow": ["shell(git status)", "shell(ls)"],
//	    "deny": ["shell(rm -rf)"]
//	  },
//	  "truncation": {"thresholdBytes": 65536},
//	  "hooksPath": "{env:HOME}/.config/agentexec/hooks.yaml"
//	}
//
// # Environment Variable Overrides
//
// Environment variables beat every file source:
//   - AGENTEXEC_LOG_LEVEL - Log level
//   - AGENTEXEC_HOOKS - Path to the hook matcher YAML
//   - AGENTEXEC_PERMISSION - JSON string replacing the permission block
//   - AGENTEXEC_CONFIG - Path to a specific config file
//   - AGENTEXEC_CONFIG_CONTENT - Inline JSON configuration
//
// # Path Management
//
// The Paths type follows the XDG Base Directory Specification:
//   - Data: ~/.local/share/agentexec (XDG_DATA_HOME)
//   - Config: ~/.config/agentexec (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/agentexec (XDG_CACHE_HOME)
//   - State: ~/.local/state/agentexec (XDG_STATE_HOME)
//
// On Windows, these paths are adapted to use APPDATA as appropriate.
package config
