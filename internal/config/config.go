package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

// Config is the full configuration surface of the execution core.
type Config struct {
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `json:"logLevel,omitempty"`
	// Pretty enables the console log writer instead of JSON lines.
	Pretty bool `json:"pretty,omitempty"`

	Permission *PermissionConfig `json:"permission,omitempty"`
	Truncation *TruncationConfig `json:"truncation,omitempty"`
	Headless   *HeadlessConfig   `json:"headless,omitempty"`

	// HooksPath points at the YAML hook matcher configuration.
	HooksPath string `json:"hooksPath,omitempty"`

	// MCP lists MCP servers whose tools join the registry.
	MCP map[string]MCPServerConfig `json:"mcp,omitempty"`
}

// PermissionConfig is the allow/deny pattern surface plus the session
// allowlist seed.
type PermissionConfig struct {
	Allow        []string `json:"allow,omitempty"`
	Deny         []string `json:"deny,omitempty"`
	SessionAllow []string `json:"sessionAllow,omitempty"`
	// DefaultDeny turns on default-deny mode: every command segment must be
	// covered by the global or session allowlist.
	DefaultDeny bool `json:"defaultDeny,omitempty"`
}

// TruncationConfig controls oversized-output offloading.
type TruncationConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	ThresholdBytes int    `json:"thresholdBytes,omitempty"`
	ExcerptLines   int    `json:"excerptLines,omitempty"`
	Dir            string `json:"dir,omitempty"`
}

// HeadlessConfig selects how unattended runs answer confirmation requests.
type HeadlessConfig struct {
	// Mode is approve, deny or allowlist.
	Mode string `json:"mode,omitempty"`
	// Allow lists root commands auto-approved in allowlist mode.
	Allow []string `json:"allow,omitempty"`
	// AllowPaths lists file patterns whose edits are auto-approved in
	// allowlist mode. Relative patterns resolve against the working
	// directory.
	AllowPaths []string `json:"allowPaths,omitempty"`
}

// MCPServerConfig describes one MCP server to connect to.
type MCPServerConfig struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
	// Trusted servers skip the confirmation round-trip for their tools.
	Trusted bool `json:"trusted,omitempty"`
}

// Load assembles configuration from, in priority order: the XDG global
// config, the project config, an AGENTEXEC_CONFIG file, inline
// AGENTEXEC_CONFIG_CONTENT, then environment variables. A .env file in the
// project directory is loaded first so file contents can reference it.
func Load(directory string) (*Config, error) {
	if directory != "" {
		// Missing .env files are fine.
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}

	config := &Config{}
	loaded := make(map[string]bool)

	loadOnce := func(path, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "agentexec.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "agentexec.jsonc"), globalPath)

	if directory != "" {
		loadOnce(filepath.Join(directory, "agentexec.json"), directory)
		loadOnce(filepath.Join(directory, "agentexec.jsonc"), directory)
		projectDir := filepath.Join(directory, ".agentexec")
		loadOnce(filepath.Join(projectDir, "agentexec.json"), projectDir)
		loadOnce(filepath.Join(projectDir, "agentexec.jsonc"), projectDir)
	}

	if configPath := os.Getenv("AGENTEXEC_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	if content := os.Getenv("AGENTEXEC_CONFIG_CONTENT"); content != "" {
		var inline Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(content)), &inline); err == nil {
			merge(config, &inline)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// loadConfigFile loads a single JSONC config file with interpolation.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	merge(config, &fileConfig)
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}

		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")
		return escaped
	})

	return []byte(str)
}

// merge merges source into target; later sources win.
func merge(target, source *Config) {
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.Pretty {
		target.Pretty = true
	}
	if source.HooksPath != "" {
		target.HooksPath = source.HooksPath
	}

	if source.Permission != nil {
		if target.Permission == nil {
			target.Permission = &PermissionConfig{}
		}
		if len(source.Permission.Allow) > 0 {
			target.Permission.Allow = append(target.Permission.Allow, source.Permission.Allow...)
		}
		if len(source.Permission.Deny) > 0 {
			target.Permission.Deny = append(target.Permission.Deny, source.Permission.Deny...)
		}
		if len(source.Permission.SessionAllow) > 0 {
			target.Permission.SessionAllow = append(target.Permission.SessionAllow, source.Permission.SessionAllow...)
		}
		if source.Permission.DefaultDeny {
			target.Permission.DefaultDeny = true
		}
	}

	if source.Truncation != nil {
		if target.Truncation == nil {
			target.Truncation = &TruncationConfig{}
		}
		if source.Truncation.Enabled != nil {
			target.Truncation.Enabled = source.Truncation.Enabled
		}
		if source.Truncation.ThresholdBytes > 0 {
			target.Truncation.ThresholdBytes = source.Truncation.ThresholdBytes
		}
		if source.Truncation.ExcerptLines > 0 {
			target.Truncation.ExcerptLines = source.Truncation.ExcerptLines
		}
		if source.Truncation.Dir != "" {
			target.Truncation.Dir = source.Truncation.Dir
		}
	}

	if source.Headless != nil {
		target.Headless = source.Headless
	}

	if source.MCP != nil {
		if target.MCP == nil {
			target.MCP = make(map[string]MCPServerConfig)
		}
		for k, v := range source.MCP {
			target.MCP[k] = v
		}
	}
}

// applyEnvOverrides applies environment variable overrides, which beat every
// file source.
func applyEnvOverrides(config *Config) {
	if level := os.Getenv("AGENTEXEC_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if hooks := os.Getenv("AGENTEXEC_HOOKS"); hooks != "" {
		config.HooksPath = hooks
	}
	if permJSON := os.Getenv("AGENTEXEC_PERMISSION"); permJSON != "" {
		var perm PermissionConfig
		if err := json.Unmarshal([]byte(permJSON), &perm); err == nil {
			config.Permission = &perm
		}
	}
}

// Save writes the configuration to a file.
func Save(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
