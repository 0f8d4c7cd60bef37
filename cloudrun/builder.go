// deployer/cloudrun/builder.go
package cloudrun

import (
	"fmt"
	"sort"
	"time"

	runpb "cloud.google.com/go/run/apiv2/runpb"
	"github.com/bloocube/ai-deployer/config"
	"google.golang.org/protobuf/types/known/durationpb"
)

// BuildService translates the deployment configuration into the full Cloud
// Run service definition. The result is applied wholesale on every deploy
// (replace semantics), which is why every field of config.ServiceSpec must be
// populated by the loader rather than left to platform defaults.
func BuildService(cfg *config.DeploymentConfig, imageRef string) *runpb.Service {
	spec := cfg.Service

	container := &runpb.Container{
		Image: imageRef,
		Resources: &runpb.ResourceRequirements{
			Limits: map[string]string{
				"cpu":    spec.CPU,
				"memory": spec.Memory,
			},
			CpuIdle: true,
		},
		Ports: []*runpb.ContainerPort{
			{ContainerPort: int32(spec.Port)},
		},
		Env: buildEnv(spec),
	}

	template := &runpb.RevisionTemplate{
		ServiceAccount:                cfg.ServiceAccountEmail(),
		Timeout:                       durationpb.New(time.Duration(spec.TimeoutSeconds) * time.Second),
		MaxInstanceRequestConcurrency: int32(spec.Concurrency),
		Scaling: &runpb.RevisionScaling{
			MinInstanceCount: int32(spec.MinInstances),
			MaxInstanceCount: int32(spec.MaxInstances),
		},
		Containers: []*runpb.Container{container},
	}

	if spec.VPCConnector != "" {
		template.VpcAccess = &runpb.VpcAccess{
			Connector: fmt.Sprintf("projects/%s/locations/%s/connectors/%s", cfg.ProjectID, cfg.Region, spec.VPCConnector),
			Egress:    runpb.VpcAccess_PRIVATE_RANGES_ONLY,
		}
	}

	return &runpb.Service{
		Template: template,
		Traffic: []*runpb.TrafficTarget{
			{
				Type:    runpb.TrafficTargetAllocationType_TRAFFIC_TARGET_ALLOCATION_TYPE_LATEST,
				Percent: 100,
			},
		},
	}
}

// buildEnv flattens plain and secret-backed env vars in sorted order so the
// template is deterministic across runs.
func buildEnv(spec config.ServiceSpec) []*runpb.EnvVar {
	env := make([]*runpb.EnvVar, 0, len(spec.EnvVars)+len(spec.SecretEnvVars))

	for _, name := range sortedKeys(spec.EnvVars) {
		env = append(env, &runpb.EnvVar{
			Name:   name,
			Values: &runpb.EnvVar_Value{Value: spec.EnvVars[name]},
		})
	}
	for _, name := range sortedKeys(spec.SecretEnvVars) {
		env = append(env, &runpb.EnvVar{
			Name: name,
			Values: &runpb.EnvVar_ValueSource{
				ValueSource: &runpb.EnvVarSource{
					SecretKeyRef: &runpb.SecretKeySelector{
						Secret:  spec.SecretEnvVars[name],
						Version: "latest",
					},
				},
			},
		})
	}
	return env
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
