package hook

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Stage names a hook lifecycle stage.
type Stage string

const (
	StageBefore Stage = "before"
	StageAfter  Stage = "after"
)

// Matcher selects tools by name: "*" matches all, and pipe-separated names
// like "shell|edit" match any of them.
type Matcher struct {
	Match string `yaml:"match"`
}

// Matches reports whether the matcher selects toolName.
func (m Matcher) Matches(toolName string) bool {
	match := strings.TrimSpace(m.Match)
	if match == "" || match == "*" {
		return true
	}
	for _, candidate := range strings.Split(match, "|") {
		if strings.TrimSpace(candidate) == toolName {
			return true
		}
	}
	return false
}

// Config is the YAML hook configuration: which tools fire hooks at each
// stage, and the round-trip timeout.
type Config struct {
	Timeout time.Duration `yaml:"timeout"`
	Before  []Matcher     `yaml:"before"`
	After   []Matcher     `yaml:"after"`
}

// Matches reports whether any matcher for the stage selects toolName.
// A stage with no matchers fires for every tool.
func (c *Config) Matches(stage Stage, toolName string) bool {
	var matchers []Matcher
	switch stage {
	case StageBefore:
		matchers = c.Before
	case StageAfter:
		matchers = c.After
	}
	if len(matchers) == 0 {
		return true
	}
	for _, m := range matchers {
		if m.Matches(toolName) {
			return true
		}
	}
	return false
}

// LoadConfig reads hook configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hook config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse hook config: %w", err)
	}
	return &cfg, nil
}
