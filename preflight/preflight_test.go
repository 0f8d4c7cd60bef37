package preflight_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bloocube/ai-deployer/config"
	"github.com/bloocube/ai-deployer/preflight"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner simulates the external CLIs without invoking anything. A command
// named in stallOn blocks until its context expires, like a hung process.
type fakeRunner struct {
	missingTools  map[string]bool
	activeAccount string
	dockerErr     error
	stallOn       string
	calls         []string
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if f.missingTools[name] {
		return "", errors.New("executable file not found in $PATH")
	}
	return "/usr/bin/" + name, nil
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if f.stallOn == name {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if name == "docker" {
		return []byte("docker info output"), f.dockerErr
	}
	if name == "gcloud" {
		return []byte(f.activeAccount + "\n"), nil
	}
	return nil, fmt.Errorf("unexpected command %s", name)
}

func testConfig(projectID string) *config.DeploymentConfig {
	return &config.DeploymentConfig{
		ProjectID:   projectID,
		Region:      "us-central1",
		ServiceName: "bloocube-ai-service",
	}
}

func TestCheckPasses(t *testing.T) {
	runner := &fakeRunner{activeAccount: "dev@bloocube.com"}
	checker := preflight.NewChecker(runner, zerolog.Nop())

	err := checker.Check(context.Background(), testConfig("proj-1"))
	require.NoError(t, err)
}

func TestCheckRejectsPlaceholderProject(t *testing.T) {
	runner := &fakeRunner{activeAccount: "dev@bloocube.com"}
	checker := preflight.NewChecker(runner, zerolog.Nop())

	err := checker.Check(context.Background(), testConfig(config.PlaceholderProjectID))

	var preflightErr *preflight.PreflightError
	require.ErrorAs(t, err, &preflightErr)
	assert.Contains(t, preflightErr.Reason, "placeholder")
	// The guard must fire before anything external is touched.
	assert.Empty(t, runner.calls, "no external command may run for a placeholder project")
}

func TestCheckRejectsEmptyProject(t *testing.T) {
	runner := &fakeRunner{}
	checker := preflight.NewChecker(runner, zerolog.Nop())

	var preflightErr *preflight.PreflightError
	require.ErrorAs(t, checker.Check(context.Background(), testConfig("")), &preflightErr)
	assert.Empty(t, runner.calls)
}

func TestCheckReportsFirstMissingTool(t *testing.T) {
	runner := &fakeRunner{missingTools: map[string]bool{"docker": true}, activeAccount: "dev@bloocube.com"}
	checker := preflight.NewChecker(runner, zerolog.Nop())

	err := checker.Check(context.Background(), testConfig("proj-1"))

	var preflightErr *preflight.PreflightError
	require.ErrorAs(t, err, &preflightErr)
	assert.Contains(t, preflightErr.Reason, `"docker"`)
}

func TestCheckRejectsUnavailableDockerDaemon(t *testing.T) {
	runner := &fakeRunner{activeAccount: "dev@bloocube.com", dockerErr: errors.New("cannot connect to the Docker daemon")}
	checker := preflight.NewChecker(runner, zerolog.Nop())

	err := checker.Check(context.Background(), testConfig("proj-1"))

	var preflightErr *preflight.PreflightError
	require.ErrorAs(t, err, &preflightErr)
	assert.Contains(t, preflightErr.Reason, "docker daemon")
}

func TestCheckSkipsDockerDaemonWithSkipBuild(t *testing.T) {
	runner := &fakeRunner{activeAccount: "dev@bloocube.com", dockerErr: errors.New("daemon down")}
	checker := preflight.NewChecker(runner, zerolog.Nop())

	cfg := testConfig("proj-1")
	cfg.SkipBuild = true
	require.NoError(t, checker.Check(context.Background(), cfg))
}

func TestCheckSkipBuildDoesNotRequireDocker(t *testing.T) {
	runner := &fakeRunner{missingTools: map[string]bool{"docker": true}, activeAccount: "dev@bloocube.com"}
	checker := preflight.NewChecker(runner, zerolog.Nop())

	cfg := testConfig("proj-1")
	cfg.SkipBuild = true
	require.NoError(t, checker.Check(context.Background(), cfg), "docker is only needed when the build stage runs")
}

func TestCheckStalledCommandFailsOnTimeout(t *testing.T) {
	runner := &fakeRunner{activeAccount: "dev@bloocube.com", stallOn: "docker"}
	checker := preflight.NewChecker(runner, zerolog.Nop())
	checker.CommandTimeout = 10 * time.Millisecond

	err := checker.Check(context.Background(), testConfig("proj-1"))

	var preflightErr *preflight.PreflightError
	require.ErrorAs(t, err, &preflightErr)
	require.ErrorIs(t, err, context.DeadlineExceeded, "a hung command must fail the check, not block it")
}

func TestCheckRejectsMissingGcloudIdentity(t *testing.T) {
	runner := &fakeRunner{activeAccount: ""}
	checker := preflight.NewChecker(runner, zerolog.Nop())

	err := checker.Check(context.Background(), testConfig("proj-1"))

	var preflightErr *preflight.PreflightError
	require.ErrorAs(t, err, &preflightErr)
	assert.Contains(t, preflightErr.Reason, "no active gcloud account")
}
