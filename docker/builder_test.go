package docker_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bloocube/ai-deployer/docker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records commands, fails those matching failOn and blocks those
// matching stallOn until the call's context expires.
type fakeRunner struct {
	calls   []string
	failOn  string
	stallOn string
	output  string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	if f.stallOn != "" && strings.Contains(call, f.stallOn) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.failOn != "" && strings.Contains(call, f.failOn) {
		return []byte("boom"), errors.New("exit status 1")
	}
	return []byte(f.output), nil
}

func testRef(t *testing.T) docker.ImageReference {
	t.Helper()
	ref, err := docker.NewImageReference("us-central1-docker.pkg.dev/proj-1/bloocube/bloocube-ai-service", "production", "4f9c1d2")
	require.NoError(t, err)
	return ref
}

func TestNewImageReferenceProducesTwoTags(t *testing.T) {
	ref := testRef(t)
	refs := ref.Refs()
	require.Len(t, refs, 2)
	assert.Equal(t, "us-central1-docker.pkg.dev/proj-1/bloocube/bloocube-ai-service:production", refs[0])
	assert.Equal(t, "us-central1-docker.pkg.dev/proj-1/bloocube/bloocube-ai-service:rev-4f9c1d2", refs[1])
}

func TestNewImageReferenceRejectsMissingRevision(t *testing.T) {
	_, err := docker.NewImageReference("repo", "latest", "  ")
	require.Error(t, err, "an unavailable source revision must fail fast, not publish a mistagged image")
}

func TestResolveRevision(t *testing.T) {
	runner := &fakeRunner{output: "4f9c1d2\n"}
	b := docker.NewImageBuilder(runner, zerolog.Nop())

	rev, err := b.ResolveRevision(context.Background(), "/src")
	require.NoError(t, err)
	assert.Equal(t, "4f9c1d2", rev)
	assert.Equal(t, []string{"git -C /src rev-parse --short HEAD"}, runner.calls)
}

func TestBuildAndPushBuildsOnceTagsTwicePushesBoth(t *testing.T) {
	runner := &fakeRunner{}
	b := docker.NewImageBuilder(runner, zerolog.Nop())
	ref := testRef(t)

	require.NoError(t, b.BuildAndPush(context.Background(), ref, "Dockerfile", "."))

	require.Len(t, runner.calls, 3)
	build := runner.calls[0]
	assert.Contains(t, build, "docker build")
	assert.Contains(t, build, "-t "+ref.EnvironmentRef())
	assert.Contains(t, build, "-t "+ref.RevisionRef())
	assert.Equal(t, "docker push "+ref.EnvironmentRef(), runner.calls[1])
	assert.Equal(t, "docker push "+ref.RevisionRef(), runner.calls[2])
}

func TestBuildFailureIsBuildError(t *testing.T) {
	runner := &fakeRunner{failOn: "docker build"}
	b := docker.NewImageBuilder(runner, zerolog.Nop())

	err := b.BuildAndPush(context.Background(), testRef(t), "Dockerfile", ".")

	var buildErr *docker.BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Len(t, runner.calls, 1, "nothing may be published after a failed build")
}

func TestEitherPushFailingFailsTheStage(t *testing.T) {
	ref := testRef(t)
	runner := &fakeRunner{failOn: "push " + ref.RevisionRef()}
	b := docker.NewImageBuilder(runner, zerolog.Nop())

	err := b.BuildAndPush(context.Background(), ref, "Dockerfile", ".")

	var publishErr *docker.PublishError
	require.ErrorAs(t, err, &publishErr)
	assert.Equal(t, ref.RevisionRef(), publishErr.Ref)
}

func TestStalledPushFailsOnTimeout(t *testing.T) {
	ref := testRef(t)
	runner := &fakeRunner{stallOn: "push " + ref.EnvironmentRef()}
	b := docker.NewImageBuilder(runner, zerolog.Nop())
	b.BuildTimeout = 10 * time.Millisecond

	err := b.BuildAndPush(context.Background(), ref, "Dockerfile", ".")

	var publishErr *docker.PublishError
	require.ErrorAs(t, err, &publishErr, "a push that never completes must fail the stage")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureRegistryAuth(t *testing.T) {
	runner := &fakeRunner{}
	b := docker.NewImageBuilder(runner, zerolog.Nop())

	require.NoError(t, b.ConfigureRegistryAuth(context.Background(), "us-central1-docker.pkg.dev"))
	assert.Equal(t, []string{"gcloud auth configure-docker us-central1-docker.pkg.dev --quiet"}, runner.calls)
}
