package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/fakeyudi/proctor/internal/incident"
)

// Config holds all configurable proctor settings.
type Config struct {
	CollectorURL   string              `json:"collector_url" yaml:"collector_url" toml:"collector_url"`
	Blocklist      []string            `json:"blocklist" yaml:"blocklist" toml:"blocklist"`
	ElementMarkers []string            `json:"element_markers" yaml:"element_markers" toml:"element_markers"`
	Cooldowns      map[string]Duration `json:"cooldowns" yaml:"cooldowns" toml:"cooldowns"` // keyed by incident type
	// DefaultCooldown applies to incident types absent from Cooldowns.
	DefaultCooldown    Duration `json:"default_cooldown" yaml:"default_cooldown" toml:"default_cooldown"`
	MinPasteLength     int      `json:"min_paste_length" yaml:"min_paste_length" toml:"min_paste_length"`
	MinAddedLines      int      `json:"min_added_lines" yaml:"min_added_lines" toml:"min_added_lines"`
	MinPasteGap        Duration `json:"min_paste_gap" yaml:"min_paste_gap" toml:"min_paste_gap"`
	HeartbeatInterval  Duration `json:"heartbeat_interval" yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	BlockCheckInterval Duration `json:"block_check_interval" yaml:"block_check_interval" toml:"block_check_interval"`
	CodeSampleInterval Duration `json:"code_sample_interval" yaml:"code_sample_interval" toml:"code_sample_interval"`
	SelfHealInterval   Duration `json:"self_heal_interval" yaml:"self_heal_interval" toml:"self_heal_interval"`
	Screenshots        string   `json:"screenshots" yaml:"screenshots" toml:"screenshots"` // "all" | "high" | "off"
	BridgeAddr         string   `json:"bridge_addr" yaml:"bridge_addr" toml:"bridge_addr"`
	// AllowedOrigins limits which page origins may attach to the bridge.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	OutputDir          string   `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	DefaultFormat      string   `json:"default_format" yaml:"default_format" toml:"default_format"` // "markdown" | "json"
	LogLevel           string   `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Screenshot capture policies.
const (
	ScreenshotsAll  = "all"
	ScreenshotsHigh = "high"
	ScreenshotsOff  = "off"
)

// DefaultCollectorURL is the hosted collector used when nothing else is configured.
const DefaultCollectorURL = "https://anti-cheating-livid.vercel.app/api"

// DefaultBlocklist lists AI-assistant destinations blocked during an exam.
// Entries match by substring against the hostname or the full URL.
var DefaultBlocklist = []string{
	"chat.openai.com",
	"openai.com",
	"chatgpt",
	"claude.ai",
	"anthropic.com",
	"v0.dev",
	"grok.x.ai",
	"x.ai",
	"gemini.google.com",
	"bard.google.com",
	"github.com/features/copilot",
	"copilot.github.com",
	"bing.com/chat",
	"perplexity.ai",
	"huggingface.co",
	"poe.com",
	"phind.com",
	"codeium.com",
	"tabnine.com",
	"deepai.org",
	"replicate.com",
	"gpt-4",
	"gpt-3",
	"ai.com",
	"cohere.ai",
	"writesonic.com",
	"jasper.ai",
	"copy.ai",
	"rytr.me",
	"ai21.com",
	"forefront.ai",
	"together.ai",
	"deepl.com",
	"llama.meta.com",
	"mistral.ai",
	"stability.ai",
	"midjourney.com",
	"character.ai",
	"inflection.ai",
	"deepmind.google",
	"ai.google",
	"ai.meta.com",
	"ai.facebook.com",
	"ai.microsoft.com",
	"codex.openai",
	"dall-e",
	"dalle",
	"chatbot.openai",
}

// DefaultElementMarkers are class/id/aria fragments that identify an AI chat
// UI embedded in an otherwise unblocked page.
var DefaultElementMarkers = []string{"chatgpt", "openai", "claude", "gemini", "gpt-"}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	cooldowns := make(map[string]Duration)
	for _, t := range incident.Types() {
		if t.Lifecycle() {
			cooldowns[string(t)] = 0
		}
	}
	return Config{
		CollectorURL:       DefaultCollectorURL,
		Blocklist:          append([]string(nil), DefaultBlocklist...),
		ElementMarkers:     append([]string(nil), DefaultElementMarkers...),
		Cooldowns:          cooldowns,
		DefaultCooldown:    Duration(30 * time.Second),
		MinPasteLength:     20,
		MinAddedLines:      5,
		MinPasteGap:        Duration(10 * time.Second),
		HeartbeatInterval:  Duration(15 * time.Second),
		BlockCheckInterval: Duration(time.Second),
		CodeSampleInterval: Duration(5 * time.Second),
		SelfHealInterval:   Duration(250 * time.Millisecond),
		Screenshots:        ScreenshotsAll,
		BridgeAddr:         "127.0.0.1:7823",
		OutputDir:          ".",
		DefaultFormat:      "markdown",
		LogLevel:           "info",
	}
}

// Cooldown returns the cooldown window for t.
func (c Config) Cooldown(t incident.Type) time.Duration {
	if d, ok := c.Cooldowns[string(t)]; ok {
		return d.Std()
	}
	return c.DefaultCooldown.Std()
}

// CaptureFor reports whether a screenshot should be attempted for t.
func (c Config) CaptureFor(t incident.Type) bool {
	switch c.Screenshots {
	case ScreenshotsOff:
		return false
	case ScreenshotsHigh:
		return t.HighSeverity()
	default:
		return true
	}
}

// globalNames are tried in order inside the config directory.
var globalNames = []string{"config.json", "config.yaml", "config.yml", "config.toml"}

// Dir returns ~/.config/proctor.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "proctor"), nil
}

// GlobalPath returns the first existing global config file, or the JSON path
// when none exists yet.
func GlobalPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	for _, name := range globalNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return filepath.Join(dir, globalNames[0]), nil
}

// LoadGlobal reads ~/.config/proctor/config.{json,yaml,yml,toml}.
// Returns defaults if no file is present.
func LoadGlobal() (*Config, error) {
	path, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return loadFile(path, true)
}

// ProjectFile is read from the current working directory.
const ProjectFile = ".proctorconfig"

// LoadProject reads .proctorconfig in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(ProjectFile, false)
}

// loadFile reads and parses a config file at path, choosing the decoder by
// extension. If returnDefaults is true, returns defaults when the file is
// absent; otherwise returns nil.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		_, err = toml.Decode(string(data), &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Load reads the global and project files, merges them and applies
// environment overrides.
func Load() (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Config{}, fmt.Errorf("loading global config: %w", err)
	}
	project, err := LoadProject()
	if err != nil {
		return Config{}, fmt.Errorf("loading project config: %w", err)
	}
	cfg := Merge(global, project)
	ApplyEnv(&cfg)
	return cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults. Cooldown maps merge per key.
func Merge(global, project *Config) Config {
	result := Defaults()
	for _, layer := range []*Config{global, project} {
		if layer != nil {
			overlay(&result, layer)
		}
	}
	return result
}

func overlay(dst, src *Config) {
	if src.CollectorURL != "" {
		dst.CollectorURL = src.CollectorURL
	}
	if len(src.Blocklist) > 0 {
		dst.Blocklist = src.Blocklist
	}
	if len(src.ElementMarkers) > 0 {
		dst.ElementMarkers = src.ElementMarkers
	}
	for k, v := range src.Cooldowns {
		dst.Cooldowns[k] = v
	}
	if src.DefaultCooldown != 0 {
		dst.DefaultCooldown = src.DefaultCooldown
	}
	if src.MinPasteLength != 0 {
		dst.MinPasteLength = src.MinPasteLength
	}
	if src.MinAddedLines != 0 {
		dst.MinAddedLines = src.MinAddedLines
	}
	if src.MinPasteGap != 0 {
		dst.MinPasteGap = src.MinPasteGap
	}
	if src.HeartbeatInterval != 0 {
		dst.HeartbeatInterval = src.HeartbeatInterval
	}
	if src.BlockCheckInterval != 0 {
		dst.BlockCheckInterval = src.BlockCheckInterval
	}
	if src.CodeSampleInterval != 0 {
		dst.CodeSampleInterval = src.CodeSampleInterval
	}
	if src.SelfHealInterval != 0 {
		dst.SelfHealInterval = src.SelfHealInterval
	}
	if src.Screenshots != "" {
		dst.Screenshots = src.Screenshots
	}
	if src.BridgeAddr != "" {
		dst.BridgeAddr = src.BridgeAddr
	}
	if len(src.AllowedOrigins) > 0 {
		dst.AllowedOrigins = src.AllowedOrigins
	}
	if src.OutputDir != "" {
		dst.OutputDir = src.OutputDir
	}
	if src.DefaultFormat != "" {
		dst.DefaultFormat = src.DefaultFormat
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
