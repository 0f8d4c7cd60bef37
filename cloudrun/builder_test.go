package cloudrun_test

import (
	"testing"
	"time"

	runpb "cloud.google.com/go/run/apiv2/runpb"
	"github.com/bloocube/ai-deployer/cloudrun"
	"github.com/bloocube/ai-deployer/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDeployConfig() *config.DeploymentConfig {
	return &config.DeploymentConfig{
		ProjectID:   "proj-1",
		Region:      "us-central1",
		ServiceName: "bloocube-ai-service",
		Repository:  "bloocube",
		Environment: "production",
		Service: config.ServiceSpec{
			CPU:            "2000m",
			Memory:         "4Gi",
			Concurrency:    40,
			TimeoutSeconds: 120,
			MinInstances:   1,
			MaxInstances:   5,
			Port:           8001,
			ServiceAccount: "bloocube-ai-sa",
			VPCConnector:   "bloocube-ai-conn",
			EnvVars: map[string]string{
				"LOG_FORMAT":  "json",
				"ENVIRONMENT": "production",
			},
			SecretEnvVars: map[string]string{
				"OPENAI_API_KEY": "openai-api-key",
				"JWT_SECRET":     "jwt-secret",
			},
		},
	}
}

// Every explicitly set field must land in the template verbatim; a deploy is
// a full replace, so silent default substitution here would drift the
// running service.
func TestBuildServiceCarriesSpecExactly(t *testing.T) {
	cfg := testDeployConfig()
	service := cloudrun.BuildService(cfg, "repo/image:rev-4f9c1d2")

	template := service.Template
	require.NotNil(t, template)
	require.Len(t, template.Containers, 1)
	container := template.Containers[0]

	assert.Equal(t, "repo/image:rev-4f9c1d2", container.Image)
	assert.Equal(t, "2000m", container.Resources.Limits["cpu"])
	assert.Equal(t, "4Gi", container.Resources.Limits["memory"])
	require.Len(t, container.Ports, 1)
	assert.Equal(t, int32(8001), container.Ports[0].ContainerPort)

	assert.Equal(t, int32(40), template.MaxInstanceRequestConcurrency)
	assert.Equal(t, 120*time.Second, template.Timeout.AsDuration())
	require.NotNil(t, template.Scaling)
	assert.Equal(t, int32(1), template.Scaling.MinInstanceCount)
	assert.Equal(t, int32(5), template.Scaling.MaxInstanceCount)
	assert.Equal(t, "bloocube-ai-sa@proj-1.iam.gserviceaccount.com", template.ServiceAccount)
}

func TestBuildServiceEnvVars(t *testing.T) {
	service := cloudrun.BuildService(testDeployConfig(), "img")
	env := service.Template.Containers[0].Env

	// Plain vars first in sorted order, then secret-backed in sorted order.
	require.Len(t, env, 4)
	assert.Equal(t, "ENVIRONMENT", env[0].Name)
	assert.Equal(t, "production", env[0].GetValue())
	assert.Equal(t, "LOG_FORMAT", env[1].Name)

	assert.Equal(t, "JWT_SECRET", env[2].Name)
	require.NotNil(t, env[2].GetValueSource())
	assert.Equal(t, "jwt-secret", env[2].GetValueSource().SecretKeyRef.Secret)
	assert.Equal(t, "latest", env[2].GetValueSource().SecretKeyRef.Version)
	assert.Equal(t, "OPENAI_API_KEY", env[3].Name)
	assert.Equal(t, "openai-api-key", env[3].GetValueSource().SecretKeyRef.Secret)
}

func TestBuildServiceVPCConnector(t *testing.T) {
	service := cloudrun.BuildService(testDeployConfig(), "img")
	require.NotNil(t, service.Template.VpcAccess)
	assert.Equal(t,
		"projects/proj-1/locations/us-central1/connectors/bloocube-ai-conn",
		service.Template.VpcAccess.Connector)

	cfg := testDeployConfig()
	cfg.Service.VPCConnector = ""
	assert.Nil(t, cloudrun.BuildService(cfg, "img").Template.VpcAccess)
}

func TestBuildServiceRoutesAllTrafficToLatest(t *testing.T) {
	service := cloudrun.BuildService(testDeployConfig(), "img")
	require.Len(t, service.Traffic, 1)
	assert.Equal(t, runpb.TrafficTargetAllocationType_TRAFFIC_TARGET_ALLOCATION_TYPE_LATEST, service.Traffic[0].Type)
	assert.Equal(t, int32(100), service.Traffic[0].Percent)
}
