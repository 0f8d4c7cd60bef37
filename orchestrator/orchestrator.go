// deployer/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	runpb "cloud.google.com/go/run/apiv2/runpb"
	"github.com/bloocube/ai-deployer/cloudrun"
	"github.com/bloocube/ai-deployer/config"
	"github.com/bloocube/ai-deployer/docker"
	"github.com/bloocube/ai-deployer/health"
	"github.com/bloocube/ai-deployer/provision"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PreflightChecker verifies the environment before any mutation.
type PreflightChecker interface {
	Check(ctx context.Context, cfg *config.DeploymentConfig) error
}

// ResourceProvisioner ensures the declarative resource set exists.
type ResourceProvisioner interface {
	Apply(ctx context.Context, descriptors []provision.ResourceDescriptor) ([]provision.Result, error)
}

// ImagePublisher builds and pushes the two-tag service image.
type ImagePublisher interface {
	ResolveRevision(ctx context.Context, dir string) (string, error)
	ConfigureRegistryAuth(ctx context.Context, registryHost string) error
	BuildAndPush(ctx context.Context, ref docker.ImageReference, dockerfilePath, contextPath string) error
}

// ServiceDeployer replaces the running Cloud Run service definition.
type ServiceDeployer interface {
	Deploy(ctx context.Context, serviceName string, service *runpb.Service) (string, error)
}

// EndpointValidator polls the deployed endpoints after rollout.
type EndpointValidator interface {
	Validate(ctx context.Context, baseURL string, checks []health.EndpointCheck) []health.EndpointResult
}

// Orchestrator runs the five deployment stages in strict order. Every fatal
// stage error stops the pipeline; the Health stage only ever annotates the
// report.
type Orchestrator struct {
	cfg         *config.DeploymentConfig
	preflight   PreflightChecker
	provisioner ResourceProvisioner
	publisher   ImagePublisher
	deployer    ServiceDeployer
	validator   EndpointValidator
	logger      zerolog.Logger
}

func New(
	cfg *config.DeploymentConfig,
	preflight PreflightChecker,
	provisioner ResourceProvisioner,
	publisher ImagePublisher,
	deployer ServiceDeployer,
	validator EndpointValidator,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		preflight:   preflight,
		provisioner: provisioner,
		publisher:   publisher,
		deployer:    deployer,
		validator:   validator,
		logger:      logger.With().Str("component", "Orchestrator").Logger(),
	}
}

// Run executes the pipeline and always returns a complete report of whatever
// ran, alongside the first fatal error if there was one.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:       uuid.NewString(),
		ProjectID:   o.cfg.ProjectID,
		Region:      o.cfg.Region,
		ServiceName: o.cfg.ServiceName,
		Environment: o.cfg.Environment,
		StartedAt:   time.Now().UTC(),
	}
	defer func() { report.FinishedAt = time.Now().UTC() }()

	err := o.run(ctx, report)
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, report *Report) error {
	// --- Stage 1: Preflight ---
	if err := o.stageBoundary(ctx, report, StagePreflight); err != nil {
		return err
	}
	o.logger.Info().Msg("Stage 1/5: preflight checks.")
	if err := o.preflight.Check(ctx, o.cfg); err != nil {
		report.recordStage(StagePreflight, StageFailed, err.Error())
		return err
	}
	report.recordStage(StagePreflight, StageSuccess, "")

	// --- Stage 2: Resource Provisioner ---
	if err := o.stageBoundary(ctx, report, StageProvision); err != nil {
		return err
	}
	o.logger.Info().Msg("Stage 2/5: provisioning cloud resources.")
	results, err := o.provisioner.Apply(ctx, provision.Resources(o.cfg))
	report.recordResources(results)
	if err != nil {
		report.recordStage(StageProvision, StageFailed, err.Error())
		return err
	}
	report.recordStage(StageProvision, StageSuccess, "")

	// --- Stage 3: Image Builder/Publisher ---
	if err := o.stageBoundary(ctx, report, StageBuild); err != nil {
		return err
	}
	deployImage, err := o.buildStage(ctx, report)
	if err != nil {
		return err
	}

	// --- Stage 4: Service Deployer ---
	if err := o.stageBoundary(ctx, report, StageDeploy); err != nil {
		return err
	}
	o.logger.Info().Str("image", deployImage).Msg("Stage 4/5: deploying Cloud Run service.")
	service := cloudrun.BuildService(o.cfg, deployImage)
	serviceURL, err := o.deployer.Deploy(ctx, o.cfg.ServiceName, service)
	if err != nil {
		report.recordStage(StageDeploy, StageFailed, err.Error())
		return err
	}
	report.ServiceURL = serviceURL
	report.recordStage(StageDeploy, StageSuccess, serviceURL)

	// --- Stage 5: Health Validator (never fatal) ---
	if err := o.stageBoundary(ctx, report, StageHealth); err != nil {
		return err
	}
	o.logger.Info().Str("base_url", serviceURL).Msg("Stage 5/5: validating deployed endpoints.")
	checks := make([]health.EndpointCheck, 0, len(o.cfg.Health.Endpoints))
	for _, path := range o.cfg.Health.Endpoints {
		checks = append(checks, health.EndpointCheck{
			Path:     path,
			Attempts: o.cfg.Health.Attempts,
			Interval: o.cfg.Health.Interval.Std(),
		})
	}
	endpointResults := o.validator.Validate(ctx, serviceURL, checks)
	report.recordEndpoints(endpointResults)
	if warnings := health.Warnings(endpointResults); len(warnings) > 0 {
		report.Warnings = append(report.Warnings, warnings...)
		report.recordStage(StageHealth, StageWarning, fmt.Sprintf("%d of %d endpoints not yet healthy", len(warnings), len(checks)))
	} else {
		report.recordStage(StageHealth, StageSuccess, "")
	}

	return nil
}

// buildStage resolves the source revision, builds once and pushes both tags.
// It returns the image reference the deploy stage should pin. With skipBuild
// the stage is recorded as skipped and the existing environment tag is
// deployed instead of a pinned revision.
func (o *Orchestrator) buildStage(ctx context.Context, report *Report) (string, error) {
	if o.cfg.SkipBuild {
		existing := fmt.Sprintf("%s:%s", o.cfg.ImageRepoPath(), o.cfg.ImageTag)
		o.logger.Info().Str("image", existing).Msg("Stage 3/5: build skipped, deploying existing image.")
		report.recordStage(StageBuild, StageSkipped, "skip-build set")
		return existing, nil
	}

	o.logger.Info().Msg("Stage 3/5: building and publishing image.")
	revision, err := o.publisher.ResolveRevision(ctx, o.cfg.SourcePath)
	if err != nil {
		err = &docker.BuildError{Ref: o.cfg.ImageRepoPath(), Err: err}
		report.recordStage(StageBuild, StageFailed, err.Error())
		return "", err
	}
	ref, err := docker.NewImageReference(o.cfg.ImageRepoPath(), o.cfg.ImageTag, revision)
	if err != nil {
		report.recordStage(StageBuild, StageFailed, err.Error())
		return "", err
	}

	if err := o.publisher.ConfigureRegistryAuth(ctx, o.cfg.RegistryHost()); err != nil {
		err = &docker.PublishError{Ref: ref.EnvironmentRef(), Err: err}
		report.recordStage(StageBuild, StageFailed, err.Error())
		return "", err
	}

	dockerfile := filepath.Join(o.cfg.SourcePath, o.cfg.DockerfilePath)
	if err := o.publisher.BuildAndPush(ctx, ref, dockerfile, o.cfg.SourcePath); err != nil {
		report.recordStage(StageBuild, StageFailed, err.Error())
		return "", err
	}

	report.ImageRefs = ref.Refs()
	report.recordStage(StageBuild, StageSuccess, ref.RevisionRef())
	// Deploy pins the immutable revision tag; the environment tag is for
	// humans and for skip-build runs.
	return ref.RevisionRef(), nil
}

// stageBoundary honours external cancellation between stages.
func (o *Orchestrator) stageBoundary(ctx context.Context, report *Report, stage string) error {
	if err := ctx.Err(); err != nil {
		report.recordStage(stage, StageFailed, fmt.Sprintf("cancelled before stage started: %v", err))
		return fmt.Errorf("pipeline cancelled before %s stage: %w", stage, err)
	}
	return nil
}
