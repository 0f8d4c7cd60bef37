// deployer/config/loader.go
package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// envAliases lists the environment variables consulted for a config key, in
// order. Only the keys listed here are readable from the environment.
var envAliases = map[string][]string{
	"project_id": {"GCP_PROJECT_ID", "PROJECT_ID"},
	"region":     {"GCP_REGION", "REGION"},
	"image_tag":  {"IMAGE_TAG"},
}

// NewFlagSet defines the deployer's full command-line surface. It is separate
// from Load so main can print usage and tests can drive Load with their own
// argument slices.
func NewFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("deployer", pflag.ContinueOnError)
	fs.String("project-id", "", "Google Cloud project ID (env GCP_PROJECT_ID)")
	fs.String("region", "us-central1", "Deployment region (env GCP_REGION)")
	fs.String("service-name", "bloocube-ai-service", "Cloud Run service name")
	fs.String("repository", "bloocube", "Artifact Registry repository")
	fs.String("image-tag", "latest", "Mutable image tag for this environment (env IMAGE_TAG)")
	fs.String("env", "production", "Deployment environment name")
	fs.String("config", "deployment.yaml", "Path to the deployment configuration file")
	fs.String("summary", "", "Optional path to write the final run report as YAML")
	fs.String("notify-email", "", "Email for the monitoring notification channel")
	fs.Bool("skip-build", false, "Skip the image build and push stage")
	fs.Bool("skip-secrets", false, "Skip secret provisioning")
	fs.Bool("force", false, "Skip the interactive confirmation prompt")
	return fs
}

// loader resolves one config key at a time with the precedence
// flag > environment > file > flag default. Viper owns the
// flag/env/default chain; the file layer is decoded separately with yaml.v3
// because viper lowercases nested map keys, which would corrupt env var names
// in the service spec.
type loader struct {
	fs *pflag.FlagSet
	v  *viper.Viper
}

func (l *loader) envValue(key string) string {
	for _, name := range envAliases[key] {
		if val := os.Getenv(name); val != "" {
			return val
		}
	}
	return ""
}

func (l *loader) resolveString(flagName, key, fileValue string) string {
	if !l.fs.Changed(flagName) && fileValue != "" && l.envValue(key) == "" {
		return fileValue
	}
	return l.v.GetString(key)
}

func (l *loader) resolveBool(flagName, key string, fileValue bool) bool {
	if l.fs.Changed(flagName) {
		return l.v.GetBool(key)
	}
	return fileValue || l.v.GetBool(key)
}

// Load resolves the deployment configuration from the parsed flag set, the
// environment, and the optional YAML deployment file, then fills every
// remaining gap from the built-in defaults so downstream stages never see a
// partially-populated spec.
func Load(logger zerolog.Logger, fs *pflag.FlagSet) (*DeploymentConfig, error) {
	v := viper.New()
	flagKeys := map[string]string{
		"project_id":   "project-id",
		"region":       "region",
		"service_name": "service-name",
		"repository":   "repository",
		"image_tag":    "image-tag",
		"environment":  "env",
		"summary_path": "summary",
		"notify_email": "notify-email",
		"skip_build":   "skip-build",
		"skip_secrets": "skip-secrets",
		"force":        "force",
	}
	for key, flagName := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
		}
	}
	for key, aliases := range envAliases {
		if err := v.BindEnv(append([]string{key}, aliases...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	cfg := &DeploymentConfig{}
	configPath, _ := fs.GetString("config")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
		logger.Info().Str("path", configPath).Msg("Loaded deployment config file")
	case os.IsNotExist(err):
		logger.Warn().Str("path", configPath).Msg("Config file not found, using flags, environment and defaults")
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	l := &loader{fs: fs, v: v}
	cfg.ProjectID = l.resolveString("project-id", "project_id", cfg.ProjectID)
	cfg.Region = l.resolveString("region", "region", cfg.Region)
	cfg.ServiceName = l.resolveString("service-name", "service_name", cfg.ServiceName)
	cfg.Repository = l.resolveString("repository", "repository", cfg.Repository)
	cfg.ImageTag = l.resolveString("image-tag", "image_tag", cfg.ImageTag)
	cfg.Environment = l.resolveString("env", "environment", cfg.Environment)
	cfg.SummaryPath = l.resolveString("summary", "summary_path", cfg.SummaryPath)
	cfg.NotifyEmail = l.resolveString("notify-email", "notify_email", cfg.NotifyEmail)
	cfg.SkipBuild = l.resolveBool("skip-build", "skip_build", cfg.SkipBuild)
	cfg.SkipSecrets = l.resolveBool("skip-secrets", "skip_secrets", cfg.SkipSecrets)
	cfg.Force = l.resolveBool("force", "force", cfg.Force)

	if cfg.SourcePath == "" {
		cfg.SourcePath = "."
	}
	if cfg.DockerfilePath == "" {
		cfg.DockerfilePath = "Dockerfile"
	}
	cfg.Service = mergeServiceSpec(DefaultServiceSpec(cfg.Environment), cfg.Service)
	cfg.Health = mergeHealthSpec(DefaultHealthSpec(), cfg.Health)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid deployment config: %w", err)
	}
	logger.Info().
		Str("project_id", cfg.ProjectID).
		Str("region", cfg.Region).
		Str("service", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Msg("Deployment configuration resolved")
	return cfg, nil
}

// mergeServiceSpec overlays the file-provided spec on the defaults. Cloud Run
// deploys are a full replace, so every field must come out populated.
func mergeServiceSpec(base, override ServiceSpec) ServiceSpec {
	if override.CPU != "" {
		base.CPU = override.CPU
	}
	if override.Memory != "" {
		base.Memory = override.Memory
	}
	if override.Concurrency > 0 {
		base.Concurrency = override.Concurrency
	}
	if override.TimeoutSeconds > 0 {
		base.TimeoutSeconds = override.TimeoutSeconds
	}
	if override.MinInstances > 0 {
		base.MinInstances = override.MinInstances
	}
	if override.MaxInstances > 0 {
		base.MaxInstances = override.MaxInstances
	}
	if override.Port > 0 {
		base.Port = override.Port
	}
	if override.ServiceAccount != "" {
		base.ServiceAccount = override.ServiceAccount
	}
	if override.VPCConnector != "" {
		base.VPCConnector = override.VPCConnector
	}
	for k, val := range override.EnvVars {
		base.EnvVars[k] = val
	}
	for k, val := range override.SecretEnvVars {
		base.SecretEnvVars[k] = val
	}
	return base
}

func mergeHealthSpec(base, override HealthSpec) HealthSpec {
	if len(override.Endpoints) > 0 {
		base.Endpoints = override.Endpoints
	}
	if override.Attempts > 0 {
		base.Attempts = override.Attempts
	}
	if override.Interval > 0 {
		base.Interval = override.Interval
	}
	if override.RequestTimeout > 0 {
		base.RequestTimeout = override.RequestTimeout
	}
	return base
}
