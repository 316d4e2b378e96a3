package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// WorunnerYAMLConfig represents the complete worunner.yaml file structure.
type WorunnerYAMLConfig struct {
	Actors          []ActorConfig         `yaml:"actors"`
	Permissions     []PermissionRule            `yaml:"permissions"`
	TagRequirements map[string][]string   `yaml:"tag_requirements"`
	Defaults        *Defaults             `yaml:"defaults"`
	Queue           *QueueConfig          `yaml:"queue"`
	Retention       *RetentionConfig      `yaml:"retention"`
	External        *ExternalConfig       `yaml:"external"`
}

// Initialize loads, merges, and validates configuration, returning a
// ready-to-use Config.
//
// Steps performed:
//  1. Load worunner.yaml from configDir.
//  2. Expand environment variables.
//  3. Merge built-in defaults with user-declared values.
//  4. Build in-memory registries (actors, permissions, tag requirements).
//  5. Validate all configuration.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"actors", stats.Actors,
		"permission_rules", stats.PermissionRules,
		"tag_rules", stats.TagRules)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadWorunnerYAML()
	if err != nil {
		return nil, NewLoadError("worunner.yaml", err)
	}

	defaults := yamlCfg.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if err := mergo.Merge(defaults, DefaultDefaults()); err != nil {
		return nil, fmt.Errorf("failed to merge defaults: %w", err)
	}

	queueCfg := DefaultQueueConfig()
	if yamlCfg.Queue != nil {
		if err := mergo.Merge(queueCfg, yamlCfg.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	retentionCfg := DefaultRetentionConfig()
	if yamlCfg.Retention != nil {
		if err := mergo.Merge(retentionCfg, yamlCfg.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	externalCfg := &ExternalConfig{}
	if yamlCfg.External != nil {
		externalCfg = yamlCfg.External
	}

	tagRequirements := mergeTagRequirements(builtinTagRequirements(), yamlCfg.TagRequirements)

	return &Config{
		configDir:       configDir,
		Defaults:        defaults,
		Queue:           queueCfg,
		Retention:       retentionCfg,
		Permissions:     NewPermissionRegistry(yamlCfg.Permissions),
		TagRequirements: NewTagRequirementRegistry(tagRequirements),
		Actors:          NewActorRegistry(yamlCfg.Actors),
		External:        externalCfg,
	}, nil
}

func validate(cfg *Config) error {
	v := NewValidator(cfg)
	return v.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadWorunnerYAML() (*WorunnerYAMLConfig, error) {
	var cfg WorunnerYAMLConfig
	cfg.TagRequirements = make(map[string][]string)
	if err := l.loadYAML("worunner.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// builtinTagRequirements is the built-in portion of the tag→tool vocabulary;
// user YAML may add to or override these via mergeTagRequirements.
func builtinTagRequirements() map[string][]string {
	return map[string][]string{
		"local-filesystem": {"read_file", "sandbox_write_file"},
		"edge-function":    {"github_read_file", "deploy_edge_function"},
		"portal-frontend":  {"github_read_file", "github_push_files"},
		"schema":           {"apply_migration"},
		"deploy":           {"deploy_edge_function"},
	}
}
