package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bloocube/ai-deployer/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadWithArgs(t *testing.T, args []string) (*config.DeploymentConfig, error) {
	t.Helper()
	fs := config.NewFlagSet()
	require.NoError(t, fs.Parse(args))
	return config.Load(zerolog.Nop(), fs)
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deployment.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWithArgs(t, []string{"--project-id", "proj-1"})
	require.NoError(t, err)

	assert.Equal(t, "proj-1", cfg.ProjectID)
	assert.Equal(t, "us-central1", cfg.Region)
	assert.Equal(t, "bloocube-ai-service", cfg.ServiceName)
	assert.Equal(t, "bloocube", cfg.Repository)
	assert.Equal(t, "latest", cfg.ImageTag)

	// The service spec must be fully populated without a config file.
	assert.Equal(t, "1000m", cfg.Service.CPU)
	assert.Equal(t, "2Gi", cfg.Service.Memory)
	assert.Equal(t, 80, cfg.Service.Concurrency)
	assert.Equal(t, 8001, cfg.Service.Port)
	assert.Equal(t, "openai-api-key", cfg.Service.SecretEnvVars["OPENAI_API_KEY"])
	assert.Equal(t, []string{"/health", "/ping", "/docs"}, cfg.Health.Endpoints)
	assert.Equal(t, 5, cfg.Health.Attempts)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
project_id: "file-project"
region: "europe-west1"
service:
  memory: "4Gi"
  env_vars:
    EXTRA: "1"
health:
  attempts: 3
  interval: 2s
`)
	cfg, err := loadWithArgs(t, []string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, "file-project", cfg.ProjectID)
	assert.Equal(t, "europe-west1", cfg.Region)
	assert.Equal(t, "4Gi", cfg.Service.Memory)
	// Unset file fields still come from defaults.
	assert.Equal(t, "1000m", cfg.Service.CPU)
	assert.Equal(t, "1", cfg.Service.EnvVars["EXTRA"])
	assert.Equal(t, "json", cfg.Service.EnvVars["LOG_FORMAT"])
	assert.Equal(t, 3, cfg.Health.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Health.Interval.Std())
}

func TestLoadFlagBeatsEnvBeatsFile(t *testing.T) {
	path := writeConfigFile(t, `
project_id: "file-project"
region: "file-region"
`)
	t.Setenv("GCP_PROJECT_ID", "env-project")
	t.Setenv("GCP_REGION", "env-region")

	cfg, err := loadWithArgs(t, []string{"--config", path, "--project-id", "flag-project"})
	require.NoError(t, err)

	assert.Equal(t, "flag-project", cfg.ProjectID, "explicit flag wins over env and file")
	assert.Equal(t, "env-region", cfg.Region, "env wins over file when the flag is unset")
}

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("GCP_PROJECT_ID", "env-only-project")
	t.Setenv("IMAGE_TAG", "v42")

	cfg, err := loadWithArgs(t, []string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
	require.NoError(t, err)

	assert.Equal(t, "env-only-project", cfg.ProjectID)
	assert.Equal(t, "v42", cfg.ImageTag)
}

func TestLoadRejectsMissingProject(t *testing.T) {
	_, err := loadWithArgs(t, []string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_id")
}

func TestValidateRejectsBadHealthBudget(t *testing.T) {
	cfg := &config.DeploymentConfig{
		ProjectID:   "proj-1",
		Region:      "us-central1",
		ServiceName: "svc",
		Repository:  "repo",
		ImageTag:    "latest",
		Health:      config.HealthSpec{Attempts: 0, Interval: config.Duration(time.Second)},
	}
	require.Error(t, cfg.Validate())
}

func TestImageRepoPath(t *testing.T) {
	cfg := &config.DeploymentConfig{
		ProjectID:   "proj-1",
		Region:      "us-central1",
		ServiceName: "bloocube-ai-service",
		Repository:  "bloocube",
	}
	assert.Equal(t, "us-central1-docker.pkg.dev", cfg.RegistryHost())
	assert.Equal(t, "us-central1-docker.pkg.dev/proj-1/bloocube/bloocube-ai-service", cfg.ImageRepoPath())
}

func TestServiceAccountEmail(t *testing.T) {
	cfg := &config.DeploymentConfig{
		ProjectID: "proj-1",
		Service:   config.ServiceSpec{ServiceAccount: "bloocube-ai-sa"},
	}
	assert.Equal(t, "bloocube-ai-sa@proj-1.iam.gserviceaccount.com", cfg.ServiceAccountEmail())
}
