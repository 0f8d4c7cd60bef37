// deployer/config/config.go
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// PlaceholderProjectID is the documented placeholder for an unconfigured
// target. Preflight refuses to run against it.
const PlaceholderProjectID = "your-project-id"

// DeploymentConfig is the immutable input to a single orchestrator run.
// It is constructed once by Load and passed through every stage; no stage
// mutates it.
type DeploymentConfig struct {
	ProjectID   string `yaml:"project_id,omitempty"`
	Region      string `yaml:"region,omitempty"`
	ServiceName string `yaml:"service_name,omitempty"`
	Repository  string `yaml:"repository,omitempty"`
	ImageTag    string `yaml:"image_tag,omitempty"`
	Environment string `yaml:"environment,omitempty"`

	SkipBuild   bool `yaml:"skip_build,omitempty"`
	SkipSecrets bool `yaml:"skip_secrets,omitempty"`
	Force       bool `yaml:"force,omitempty"`

	// SummaryPath, when set, is where the final report is written as YAML.
	// Advisory output only; never read back on later runs.
	SummaryPath string `yaml:"summary_path,omitempty"`

	// NotifyEmail is the address for the provisioned monitoring
	// notification channel. Empty disables the channel resource.
	NotifyEmail string `yaml:"notify_email,omitempty"`

	// SourcePath is the build context for the service image.
	SourcePath string `yaml:"source_path,omitempty"`
	// DockerfilePath is relative to SourcePath.
	DockerfilePath string `yaml:"dockerfile_path,omitempty"`

	Service ServiceSpec `yaml:"service,omitempty"`
	Health  HealthSpec  `yaml:"health,omitempty"`
}

// ServiceSpec is the desired running configuration for the Cloud Run service.
// Deploys are a full replace, not a patch, so every field must be populated;
// Load guarantees that by starting from DefaultServiceSpec.
type ServiceSpec struct {
	CPU            string            `yaml:"cpu,omitempty"`             // e.g. "1000m"
	Memory         string            `yaml:"memory,omitempty"`          // e.g. "2Gi"
	Concurrency    int               `yaml:"concurrency,omitempty"`     // e.g. 80
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty"` // e.g. 300
	MinInstances   int               `yaml:"min_instances,omitempty"`
	MaxInstances   int               `yaml:"max_instances,omitempty"`
	Port           int               `yaml:"port,omitempty"`
	ServiceAccount string            `yaml:"service_account,omitempty"` // account ID, not full email
	VPCConnector   string            `yaml:"vpc_connector,omitempty"`
	EnvVars        map[string]string `yaml:"env_vars,omitempty"`
	// SecretEnvVars maps a container env var name to a Secret Manager
	// secret ID; the latest version is mounted at deploy time.
	SecretEnvVars map[string]string `yaml:"secret_env_vars,omitempty"`
}

// HealthSpec configures the post-deploy endpoint validation.
type HealthSpec struct {
	Endpoints      []string `yaml:"endpoints,omitempty"`
	Attempts       int      `yaml:"attempts,omitempty"`
	Interval       Duration `yaml:"interval,omitempty"`
	RequestTimeout Duration `yaml:"request_timeout,omitempty"`
}

// Duration wraps time.Duration so "10s" in the deployment file parses
// directly to a duration.
type Duration time.Duration

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML keeps summary output human-readable.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultServiceSpec returns the fully-populated runtime configuration for the
// AI service in the given environment. The service itself listens on 8001
// (AI_SERVICE_PORT) rather than the Cloud Run default.
func DefaultServiceSpec(environment string) ServiceSpec {
	return ServiceSpec{
		CPU:            "1000m",
		Memory:         "2Gi",
		Concurrency:    80,
		TimeoutSeconds: 300,
		MinInstances:   0,
		MaxInstances:   10,
		Port:           8001,
		ServiceAccount: "bloocube-ai-sa",
		VPCConnector:   "bloocube-ai-conn",
		EnvVars: map[string]string{
			"AI_SERVICE_PORT": "8001",
			"LOG_FORMAT":      "json",
			"LOG_LEVEL":       "INFO",
			"ENVIRONMENT":     environment,
		},
		SecretEnvVars: map[string]string{
			"OPENAI_API_KEY":   "openai-api-key",
			"GEMINI_API_KEY":   "gemini-api-key",
			"JWT_SECRET":       "jwt-secret",
			"MONGODB_URL":      "mongodb-url",
			"REDIS_URL":        "redis-url",
			"BACKEND_API_KEY":  "backend-api-key",
			"PINECONE_API_KEY": "pinecone-api-key",
		},
	}
}

// DefaultHealthSpec covers the endpoints the AI service exposes when ready.
// /health is the contract; /ping and /docs catch partial startup.
func DefaultHealthSpec() HealthSpec {
	return HealthSpec{
		Endpoints:      []string{"/health", "/ping", "/docs"},
		Attempts:       5,
		Interval:       Duration(10 * time.Second),
		RequestTimeout: Duration(15 * time.Second),
	}
}

// RegistryHost returns the Artifact Registry host for the configured region.
func (c *DeploymentConfig) RegistryHost() string {
	return fmt.Sprintf("%s-docker.pkg.dev", c.Region)
}

// ImageRepoPath returns the fully qualified repository path the service image
// is pushed under: {region}-docker.pkg.dev/{project}/{repository}/{service}.
func (c *DeploymentConfig) ImageRepoPath() string {
	return fmt.Sprintf("%s/%s/%s/%s", c.RegistryHost(), c.ProjectID, c.Repository, c.ServiceName)
}

// ServiceAccountEmail expands the configured account ID to its full email.
func (c *DeploymentConfig) ServiceAccountEmail() string {
	return fmt.Sprintf("%s@%s.iam.gserviceaccount.com", c.Service.ServiceAccount, c.ProjectID)
}

// Validate checks the fields every stage depends on. Preflight re-checks the
// placeholder guard so the failure is reported as a stage result.
func (c *DeploymentConfig) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project_id is required (flag --project-id or env GCP_PROJECT_ID)")
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Repository == "" {
		return fmt.Errorf("repository is required")
	}
	if c.ImageTag == "" {
		return fmt.Errorf("image_tag is required")
	}
	if c.Health.Attempts <= 0 {
		return fmt.Errorf("health.attempts must be positive, got %d", c.Health.Attempts)
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be positive, got %s", c.Health.Interval.Std())
	}
	return nil
}
