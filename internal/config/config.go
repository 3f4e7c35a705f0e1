package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"squadboard/internal/issues"
	"squadboard/internal/sessionlog"
	"squadboard/internal/source"
)

// FileName is the config file looked up in a workspace.
const FileName = "squadboard.yml"

// Issue source kinds.
const (
	SourceNone   = "none"
	SourceFile   = "file"
	SourceGitHub = "github"
)

// Config models squadboard.yml.
type Config struct {
	Squad      SquadConfig      `yaml:"squad"`
	Issues     IssuesConfig     `yaml:"issues"`
	Completion CompletionConfig `yaml:"completion"`
	Server     ServerConfig     `yaml:"server"`
	Watch      WatchConfig      `yaml:"watch"`
}

type SquadConfig struct {
	Root            string `yaml:"root"`
	Folder          string `yaml:"folder"`
	RosterFile      string `yaml:"roster_file"`
	ActiveLogDir    string `yaml:"active_log_dir"`
	NarrativeLogDir string `yaml:"narrative_log_dir"`
	DecisionsFile   string `yaml:"decisions_file"`
	DecisionsDir    string `yaml:"decisions_dir"`
	DecisionGlob    string `yaml:"decision_glob"`
}

type IssuesConfig struct {
	Source      string              `yaml:"source"`
	File        string              `yaml:"file"`
	Repository  string              `yaml:"repository"`
	BaseURL     string              `yaml:"base_url"`
	TokenEnv    string              `yaml:"token_env"`
	ClosedTTL   string              `yaml:"closed_ttl"`
	LabelPrefix string              `yaml:"label_prefix"`
	Strategies  []string            `yaml:"strategies"`
	Aliases     map[string][]string `yaml:"aliases"`
}

type CompletionConfig struct {
	Patterns []string `yaml:"patterns"`
}

type ServerConfig struct {
	Addr         string          `yaml:"addr"`
	BasePath     string          `yaml:"base_path"`
	JWTSecretEnv string          `yaml:"jwt_secret_env"`
	Webhooks     []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one event-log subscriber. Empty Events means every type.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sq config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate checks enum fields, durations and patterns.
func (c *Config) Validate() error {
	if c.Squad.Folder != "" && strings.ContainsAny(c.Squad.Folder, `/\`) {
		return fmt.Errorf("config.squad.folder must be a single directory name, got %q", c.Squad.Folder)
	}
	switch c.Issues.Source {
	case "", SourceNone:
	case SourceFile:
		if strings.TrimSpace(c.Issues.File) == "" {
			return fmt.Errorf("config.issues.file is required when source is file")
		}
	case SourceGitHub:
		owner, name, ok := strings.Cut(c.Issues.Repository, "/")
		if c.Issues.Repository != "" && (!ok || owner == "" || name == "") {
			return fmt.Errorf("config.issues.repository must be owner/name, got %q", c.Issues.Repository)
		}
	default:
		return fmt.Errorf("config.issues.source must be none, file or github, got %q", c.Issues.Source)
	}
	if _, err := parseDuration("issues.closed_ttl", c.Issues.ClosedTTL); err != nil {
		return err
	}
	if _, err := parseDuration("watch.debounce", c.Watch.Debounce); err != nil {
		return err
	}
	if _, err := issues.ParseStrategies(c.Issues.Strategies); err != nil {
		return fmt.Errorf("config.issues.strategies: %w", err)
	}
	for member, aliases := range c.Issues.Aliases {
		if strings.TrimSpace(member) == "" {
			return fmt.Errorf("config.issues.aliases contains an empty member name")
		}
		for _, a := range aliases {
			if strings.TrimSpace(a) == "" {
				return fmt.Errorf("alias list for %s has an empty entry", member)
			}
		}
	}
	if _, err := sessionlog.NewCompletionMatcher(c.Completion.Patterns...); err != nil {
		return fmt.Errorf("config.completion.patterns: %w", err)
	}
	for i, hook := range c.Server.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.server.webhooks[%d].url is required", i)
		}
	}
	return nil
}

func parseDuration(field, v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config.%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config.%s must not be negative", field)
	}
	return d, nil
}

// ClosedTTL is the closed-issue cache lifetime; zero means the cache default.
func (c *Config) ClosedTTL() time.Duration {
	d, _ := parseDuration("issues.closed_ttl", c.Issues.ClosedTTL)
	return d
}

// Debounce is the watcher burst window; zero means the watcher default.
func (c *Config) Debounce() time.Duration {
	d, _ := parseDuration("watch.debounce", c.Watch.Debounce)
	return d
}

// Names maps the squad section onto source document names.
func (c *Config) Names() source.Names {
	return source.Names{
		RosterFile:      c.Squad.RosterFile,
		ActiveLogDir:    c.Squad.ActiveLogDir,
		NarrativeLogDir: c.Squad.NarrativeLogDir,
		DecisionsFile:   c.Squad.DecisionsFile,
		DecisionsDir:    c.Squad.DecisionsDir,
		DecisionGlob:    c.Squad.DecisionGlob,
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Template returns the YAML written by sq config init.
func Template() string {
	return defaultTemplate
}

// Default returns the config described by the default template.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("invalid config yaml: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders cfg back to YAML for sq config show.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const defaultTemplate = `squad:
  root: .
  # Leave empty to pick .squad, then .ai-team.
  folder: ""
  roster_file: team.md
  active_log_dir: orchestration-log
  narrative_log_dir: log
  decisions_file: decisions.md
  decisions_dir: decisions
  decision_glob: "**.md"

issues:
  source: none
  file: ""
  repository: ""
  token_env: GITHUB_TOKEN
  closed_ttl: 5m
  label_prefix: "squad:"
  strategies: [labels, assignees]
  aliases: {}

completion:
  patterns: []

server:
  addr: 127.0.0.1:8420
  base_path: /v0
  jwt_secret_env: SQUADBOARD_JWT_SECRET
  webhooks: []

watch:
  debounce: 300ms
`
