// deployer/preflight/preflight.go
package preflight

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bloocube/ai-deployer/config"
	"github.com/rs/zerolog"
)

// PreflightError names the first unmet precondition. Nothing has been mutated
// when it is returned; the pipeline aborts immediately.
type PreflightError struct {
	Reason string
	Err    error
}

func (e *PreflightError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("preflight failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("preflight failed: %s", e.Reason)
}

func (e *PreflightError) Unwrap() error { return e.Err }

// CommandRunner abstracts the external CLI calls so tests can substitute
// canned results for gcloud/docker/git.
type CommandRunner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner is the production CommandRunner backed by os/exec.
type ExecRunner struct{}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Checker verifies the environment before any cloud mutation is attempted.
type Checker struct {
	runner CommandRunner
	logger zerolog.Logger

	// CommandTimeout bounds each external CLI call. A stalled command is
	// treated the same as a failed one.
	CommandTimeout time.Duration
}

func NewChecker(runner CommandRunner, logger zerolog.Logger) *Checker {
	return &Checker{
		runner:         runner,
		logger:         logger.With().Str("component", "Preflight").Logger(),
		CommandTimeout: 30 * time.Second,
	}
}

func (c *Checker) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.CommandTimeout)
	defer cancel()
	return c.runner.Run(ctx, name, args...)
}

// requiredTools are the CLIs later stages shell out to regardless of flags.
// docker is only demanded when the build stage will actually run.
var requiredTools = []string{"gcloud", "git"}

// Check runs every precondition in order and returns a PreflightError for the
// first one that fails.
func (c *Checker) Check(ctx context.Context, cfg *config.DeploymentConfig) error {
	if cfg.ProjectID == "" {
		return &PreflightError{Reason: "project ID is not set"}
	}
	if cfg.ProjectID == config.PlaceholderProjectID {
		return &PreflightError{Reason: fmt.Sprintf("project ID is the placeholder value %q", config.PlaceholderProjectID)}
	}

	tools := requiredTools
	if !cfg.SkipBuild {
		tools = append([]string{"docker"}, tools...)
	}
	for _, tool := range tools {
		if _, err := c.runner.LookPath(tool); err != nil {
			return &PreflightError{Reason: fmt.Sprintf("required tool %q not found in PATH", tool), Err: err}
		}
		c.logger.Debug().Str("tool", tool).Msg("Required tool found.")
	}

	if !cfg.SkipBuild {
		if out, err := c.run(ctx, "docker", "info"); err != nil {
			return &PreflightError{
				Reason: fmt.Sprintf("docker daemon not available: %s", strings.TrimSpace(string(out))),
				Err:    err,
			}
		}
		c.logger.Info().Msg("Docker daemon is available.")
	}

	account, err := c.activeAccount(ctx)
	if err != nil {
		return err
	}
	c.logger.Info().Str("account", account).Str("project_id", cfg.ProjectID).Msg("Preflight checks passed.")
	return nil
}

// activeAccount returns the currently authenticated gcloud identity.
func (c *Checker) activeAccount(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "gcloud", "auth", "list", "--filter=status:ACTIVE", "--format=value(account)")
	if err != nil {
		return "", &PreflightError{Reason: "failed to query gcloud auth state", Err: err}
	}
	account := strings.TrimSpace(string(out))
	if account == "" {
		return "", &PreflightError{Reason: "no active gcloud account; run 'gcloud auth login'"}
	}
	return account, nil
}
