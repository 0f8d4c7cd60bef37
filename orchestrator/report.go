// deployer/orchestrator/report.go
package orchestrator

import (
	"fmt"
	"os"
	"time"

	"github.com/bloocube/ai-deployer/health"
	"github.com/bloocube/ai-deployer/provision"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// StageStatus is the per-stage outcome in the final report.
type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
	StageWarning StageStatus = "warning"
)

// Stage names, in pipeline order.
const (
	StagePreflight = "preflight"
	StageProvision = "provision"
	StageBuild     = "build"
	StageDeploy    = "deploy"
	StageHealth    = "health"
)

// StageReport records one stage's outcome.
type StageReport struct {
	Name   string      `yaml:"name"`
	Status StageStatus `yaml:"status"`
	Detail string      `yaml:"detail,omitempty"`
}

// ResourceReport is the report form of one provisioning result.
type ResourceReport struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Outcome string `yaml:"outcome"`
	Error   string `yaml:"error,omitempty"`
}

// EndpointReport is the report form of one health check result.
type EndpointReport struct {
	Path       string `yaml:"path"`
	State      string `yaml:"state"`
	Attempts   int    `yaml:"attempts"`
	LastStatus int    `yaml:"last_status,omitempty"`
}

// Report accumulates everything the pipeline did, so the operator knows
// exactly which resources were touched even when a stage aborted the run.
// It is advisory output only; no future run reads it back.
type Report struct {
	RunID       string    `yaml:"run_id"`
	ProjectID   string    `yaml:"project_id"`
	Region      string    `yaml:"region"`
	ServiceName string    `yaml:"service_name"`
	Environment string    `yaml:"environment"`
	StartedAt   time.Time `yaml:"started_at"`
	FinishedAt  time.Time `yaml:"finished_at"`

	Stages     []StageReport    `yaml:"stages"`
	Resources  []ResourceReport `yaml:"resources,omitempty"`
	ImageRefs  []string         `yaml:"image_refs,omitempty"`
	ServiceURL string           `yaml:"service_url,omitempty"`
	Endpoints  []EndpointReport `yaml:"endpoints,omitempty"`
	Warnings   []string         `yaml:"warnings,omitempty"`
}

func (r *Report) recordStage(name string, status StageStatus, detail string) {
	r.Stages = append(r.Stages, StageReport{Name: name, Status: status, Detail: detail})
}

func (r *Report) recordResources(results []provision.Result) {
	for _, res := range results {
		entry := ResourceReport{
			Name:    res.Resource.Name,
			Kind:    string(res.Resource.Kind),
			Outcome: string(res.Outcome),
		}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		r.Resources = append(r.Resources, entry)
	}
}

func (r *Report) recordEndpoints(results []health.EndpointResult) {
	for _, res := range results {
		r.Endpoints = append(r.Endpoints, EndpointReport{
			Path:       res.Path,
			State:      string(res.State),
			Attempts:   res.Attempts,
			LastStatus: res.LastStatus,
		})
	}
}

// Failed reports whether any stage ended fatally.
func (r *Report) Failed() bool {
	for _, stage := range r.Stages {
		if stage.Status == StageFailed {
			return true
		}
	}
	return false
}

// Log prints the final operator-facing summary, distinguishing "deployed but
// endpoint X not yet healthy" from "deployment failed at stage Y".
func (r *Report) Log(logger zerolog.Logger) {
	for _, stage := range r.Stages {
		event := logger.Info()
		switch stage.Status {
		case StageFailed:
			event = logger.Error()
		case StageWarning:
			event = logger.Warn()
		}
		event.Str("stage", stage.Name).Str("status", string(stage.Status)).Str("detail", stage.Detail).Msg("Stage result.")
	}
	for _, res := range r.Resources {
		logger.Info().Str("resource", res.Name).Str("kind", res.Kind).Str("outcome", res.Outcome).Msg("Resource result.")
	}
	for _, warning := range r.Warnings {
		logger.Warn().Msg(warning)
	}

	switch {
	case r.Failed():
		logger.Error().Str("run_id", r.RunID).Msg("Deployment failed; see stage results above for where it stopped.")
	case len(r.Warnings) > 0:
		logger.Warn().Str("run_id", r.RunID).Str("service_url", r.ServiceURL).Msg("Deployment succeeded, but some endpoints are not yet healthy.")
	default:
		logger.Info().Str("run_id", r.RunID).Str("service_url", r.ServiceURL).Msg("Deployment succeeded.")
	}
}

// WriteSummary dumps the report as YAML to path.
func (r *Report) WriteSummary(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run report to %s: %w", path, err)
	}
	return nil
}
