package orchestrator_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bloocube/ai-deployer/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWriteSummaryRoundTripsKeyFields(t *testing.T) {
	report := &orchestrator.Report{
		RunID:       "run-1",
		ProjectID:   "proj-1",
		Region:      "us-central1",
		ServiceName: "bloocube-ai-service",
		ServiceURL:  "https://bloocube-ai-service-xyz.a.run.app",
		Warnings:    []string{"endpoint /docs not healthy after 5 attempts (last status 503)"},
	}
	report.Stages = append(report.Stages, orchestrator.StageReport{
		Name:   orchestrator.StageDeploy,
		Status: orchestrator.StageSuccess,
	})

	path := filepath.Join(t.TempDir(), "summary.yaml")
	require.NoError(t, report.WriteSummary(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded orchestrator.Report
	require.NoError(t, yaml.Unmarshal(data, &loaded))
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, "https://bloocube-ai-service-xyz.a.run.app", loaded.ServiceURL)
	require.Len(t, loaded.Stages, 1)
	assert.Equal(t, orchestrator.StageDeploy, loaded.Stages[0].Name)
}

func TestFailed(t *testing.T) {
	report := &orchestrator.Report{}
	report.Stages = append(report.Stages, orchestrator.StageReport{Name: orchestrator.StagePreflight, Status: orchestrator.StageSuccess})
	assert.False(t, report.Failed())

	report.Stages = append(report.Stages, orchestrator.StageReport{Name: orchestrator.StageProvision, Status: orchestrator.StageFailed})
	assert.True(t, report.Failed())
}
