// deployer/docker/builder.go
package docker

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// BuildError is fatal: nothing has been published when it occurs.
type BuildError struct {
	Ref string
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("image build failed for %s: %v", e.Ref, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// PublishError is fatal. The two-tag publish is atomic from the caller's
// perspective: if either push fails the whole stage fails, even when the
// other tag made it to the registry.
type PublishError struct {
	Ref string
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("image publish failed for %s: %v", e.Ref, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Runner abstracts docker/git/gcloud invocations for tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ImageBuilder builds the service image once and publishes it under both of
// its tags.
type ImageBuilder struct {
	runner Runner
	logger zerolog.Logger

	// CommandTimeout bounds the quick git/gcloud calls; BuildTimeout bounds
	// each docker build and push, which legitimately run for minutes. A call
	// that exceeds its budget fails the stage like any other command failure.
	CommandTimeout time.Duration
	BuildTimeout   time.Duration
}

func NewImageBuilder(runner Runner, logger zerolog.Logger) *ImageBuilder {
	return &ImageBuilder{
		runner:         runner,
		logger:         logger.With().Str("component", "ImageBuilder").Logger(),
		CommandTimeout: time.Minute,
		BuildTimeout:   15 * time.Minute,
	}
}

func (b *ImageBuilder) run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return b.runner.Run(ctx, name, args...)
}

// ResolveRevision returns the short commit hash of the source tree at dir.
func (b *ImageBuilder) ResolveRevision(ctx context.Context, dir string) (string, error) {
	out, err := b.run(ctx, b.CommandTimeout, "git", "-C", dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve source revision in %s: %w (output: %s)", dir, err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// ConfigureRegistryAuth points the local Docker client at the Artifact
// Registry host. Safe to repeat.
func (b *ImageBuilder) ConfigureRegistryAuth(ctx context.Context, registryHost string) error {
	b.logger.Info().Str("registry", registryHost).Msg("Configuring Docker for Artifact Registry...")
	out, err := b.run(ctx, b.CommandTimeout, "gcloud", "auth", "configure-docker", registryHost, "--quiet")
	if err != nil {
		return fmt.Errorf("failed to configure Docker for %s: %w (output: %s)", registryHost, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// BuildAndPush builds the image from contextPath, tags the one artifact with
// both references and pushes both. Either push failing fails the stage.
func (b *ImageBuilder) BuildAndPush(ctx context.Context, ref ImageReference, dockerfilePath, contextPath string) error {
	b.logger.Info().
		Str("image", ref.EnvironmentRef()).
		Str("revision_image", ref.RevisionRef()).
		Str("context", contextPath).
		Msg("Building Docker image...")

	args := []string{"build", "-f", dockerfilePath}
	for _, tag := range ref.Refs() {
		args = append(args, "-t", tag)
	}
	args = append(args, contextPath)

	if out, err := b.run(ctx, b.BuildTimeout, "docker", args...); err != nil {
		return &BuildError{Ref: ref.EnvironmentRef(), Err: fmt.Errorf("%w (output: %s)", err, tail(out))}
	}
	b.logger.Info().Str("image", ref.EnvironmentRef()).Msg("Docker image built successfully.")

	for _, tag := range ref.Refs() {
		b.logger.Info().Str("image", tag).Msg("Pushing Docker image...")
		if out, err := b.run(ctx, b.BuildTimeout, "docker", "push", tag); err != nil {
			return &PublishError{Ref: tag, Err: fmt.Errorf("%w (output: %s)", err, tail(out))}
		}
		b.logger.Info().Str("image", tag).Msg("Docker image pushed successfully.")
	}
	return nil
}

// tail keeps command output in errors readable; docker build logs can run to
// thousands of lines.
func tail(out []byte) string {
	const keep = 2048
	s := strings.TrimSpace(string(out))
	if len(s) > keep {
		s = "..." + s[len(s)-keep:]
	}
	return s
}
