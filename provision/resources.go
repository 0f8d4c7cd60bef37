// deployer/provision/resources.go
package provision

import (
	"fmt"

	"github.com/bloocube/ai-deployer/config"
)

// Kind identifies which ensurer handles a resource.
type Kind string

const (
	KindServiceAccount      Kind = "service-account"
	KindSecret              Kind = "secret"
	KindBucket              Kind = "bucket"
	KindConnector           Kind = "vpc-connector"
	KindSQLInstance         Kind = "sql-instance"
	KindRedisInstance       Kind = "redis-instance"
	KindNotificationChannel Kind = "notification-channel"
)

// ResourceDescriptor names one external resource and the state it should be
// created with when absent. Descriptors are independent of each other; no
// resource in this set depends on another's creation.
type ResourceDescriptor struct {
	Name string
	Kind Kind
	// Optional resources only warn on failure; required ones abort the run.
	Optional bool
	// Skip short-circuits to OutcomeSkipped without touching the platform.
	Skip bool
	// DesiredState carries kind-specific creation settings. It is only read
	// when the resource is absent; existing resources are never reconciled.
	DesiredState map[string]string
}

// SecretPlaceholder is the one-shot value new secrets are created with.
// Setting the real value is a deliberate manual step afterwards; the
// provisioner never overwrites an existing secret version.
const SecretPlaceholder = "CHANGE_ME"

var secretIDs = []string{
	"openai-api-key",
	"gemini-api-key",
	"jwt-secret",
	"mongodb-url",
	"redis-url",
	"backend-api-key",
	"pinecone-api-key",
}

// Resources returns the declarative resource set for one deployment target.
// Order here is the order of the final report, regardless of how the
// provisioner schedules the work.
func Resources(cfg *config.DeploymentConfig) []ResourceDescriptor {
	descriptors := []ResourceDescriptor{
		{
			Name: cfg.Service.ServiceAccount,
			Kind: KindServiceAccount,
		},
	}

	for _, id := range secretIDs {
		descriptors = append(descriptors, ResourceDescriptor{
			Name: id,
			Kind: KindSecret,
			Skip: cfg.SkipSecrets,
			DesiredState: map[string]string{
				"value": SecretPlaceholder,
			},
		})
	}

	descriptors = append(descriptors,
		ResourceDescriptor{
			Name: fmt.Sprintf("%s-bloocube-ai-artifacts", cfg.ProjectID),
			Kind: KindBucket,
			DesiredState: map[string]string{
				"location": cfg.Region,
			},
		},
		ResourceDescriptor{
			Name:     cfg.Service.VPCConnector,
			Kind:     KindConnector,
			Optional: true,
			DesiredState: map[string]string{
				"network":       "default",
				"ip_cidr_range": "10.8.0.0/28",
			},
		},
		ResourceDescriptor{
			Name:     "bloocube-pg",
			Kind:     KindSQLInstance,
			Optional: true,
			DesiredState: map[string]string{
				"database_version": "POSTGRES_15",
				"tier":             "db-f1-micro",
			},
		},
		ResourceDescriptor{
			Name:     "bloocube-cache",
			Kind:     KindRedisInstance,
			Optional: true,
			DesiredState: map[string]string{
				"tier":           "BASIC",
				"memory_size_gb": "1",
			},
		},
	)

	if cfg.NotifyEmail != "" {
		descriptors = append(descriptors, ResourceDescriptor{
			Name:     "bloocube-ai-alerts",
			Kind:     KindNotificationChannel,
			Optional: true,
			DesiredState: map[string]string{
				"email": cfg.NotifyEmail,
			},
		})
	}

	return descriptors
}
