// deployer/provision/gcp.go
package provision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	admin "cloud.google.com/go/iam/admin/apiv1"
	"cloud.google.com/go/iam/admin/apiv1/adminpb"
	monitoring "cloud.google.com/go/monitoring/apiv3/v2"
	"cloud.google.com/go/monitoring/apiv3/v2/monitoringpb"
	redis "cloud.google.com/go/redis/apiv1"
	"cloud.google.com/go/redis/apiv1/redispb"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"cloud.google.com/go/storage"
	vpcaccess "cloud.google.com/go/vpcaccess/apiv1"
	"cloud.google.com/go/vpcaccess/apiv1/vpcaccesspb"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	sqladmin "google.golang.org/api/sqladmin/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GCPClients aggregates the Google Cloud service clients the provisioner
// needs, one per resource kind.
type GCPClients struct {
	projectID string
	region    string

	iamAdmin   *admin.IamClient
	secrets    *secretmanager.Client
	buckets    *storage.Client
	connectors *vpcaccess.Client
	caches     *redis.CloudRedisClient
	sqlAdmin   *sqladmin.Service
	channels   *monitoring.NotificationChannelClient

	logger zerolog.Logger
}

// NewGCPClients creates all underlying clients up front so a credential
// problem surfaces before any resource is touched.
func NewGCPClients(ctx context.Context, projectID, region string, logger zerolog.Logger, opts ...option.ClientOption) (*GCPClients, error) {
	iamAdmin, err := admin.NewIamClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create IAM admin client: %w", err)
	}
	secrets, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	buckets, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Storage client: %w", err)
	}
	connectors, err := vpcaccess.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC Access client: %w", err)
	}
	caches, err := redis.NewCloudRedisClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Redis client: %w", err)
	}
	sqlAdmin, err := sqladmin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud SQL admin service: %w", err)
	}
	channels, err := monitoring.NewNotificationChannelClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitoring notification channel client: %w", err)
	}

	return &GCPClients{
		projectID:  projectID,
		region:     region,
		iamAdmin:   iamAdmin,
		secrets:    secrets,
		buckets:    buckets,
		connectors: connectors,
		caches:     caches,
		sqlAdmin:   sqlAdmin,
		channels:   channels,
		logger:     logger.With().Str("component", "GCPClients").Logger(),
	}, nil
}

// Close gracefully closes all underlying clients.
func (c *GCPClients) Close() error {
	var errs []error
	if err := c.iamAdmin.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close IAM admin client: %w", err))
	}
	if err := c.secrets.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close Secret Manager client: %w", err))
	}
	if err := c.buckets.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close Storage client: %w", err))
	}
	if err := c.connectors.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close VPC Access client: %w", err))
	}
	if err := c.caches.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close Cloud Redis client: %w", err))
	}
	if err := c.channels.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close notification channel client: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close one or more clients: %v", errs)
	}
	return nil
}

type ensurerFunc func(ctx context.Context, desc ResourceDescriptor) (Outcome, error)

func (f ensurerFunc) Ensure(ctx context.Context, desc ResourceDescriptor) (Outcome, error) {
	return f(ctx, desc)
}

// Ensurers maps every resource kind onto its GCP implementation.
func (c *GCPClients) Ensurers() map[Kind]Ensurer {
	return map[Kind]Ensurer{
		KindServiceAccount:      ensurerFunc(c.ensureServiceAccount),
		KindSecret:              ensurerFunc(c.ensureSecret),
		KindBucket:              ensurerFunc(c.ensureBucket),
		KindConnector:           ensurerFunc(c.ensureConnector),
		KindSQLInstance:         ensurerFunc(c.ensureSQLInstance),
		KindRedisInstance:       ensurerFunc(c.ensureRedisInstance),
		KindNotificationChannel: ensurerFunc(c.ensureNotificationChannel),
	}
}

func (c *GCPClients) ensureServiceAccount(ctx context.Context, desc ResourceDescriptor) (Outcome, error) {
	email := fmt.Sprintf("%s@%s.iam.gserviceaccount.com", desc.Name, c.projectID)
	resourceName := fmt.Sprintf("projects/%s/serviceAccounts/%s", c.projectID, email)

	_, err := c.iamAdmin.GetServiceAccount(ctx, &adminpb.GetServiceAccountRequest{Name: resourceName})
	if err == nil {
		return OutcomeAlreadyExists, nil
	}
	if !isNotFound(err) {
		return OutcomeFailed, fmt.Errorf("failed to check for service account %s: %w", email, err)
	}

	_, err = c.iamAdmin.CreateServiceAccount(ctx, &adminpb.CreateServiceAccountRequest{
		Name:      "projects/" + c.projectID,
		AccountId: desc.Name,
		ServiceAccount: &adminpb.ServiceAccount{
			DisplayName: "Bloocube AI service runtime account",
		},
	})
	if err != nil {
		if isAlreadyExists(err) {
			// Lost a race with a concurrent run; the end state is what we wanted.
			return OutcomeAlreadyExists, nil
		}
		return OutcomeFailed, fmt.Errorf("failed to create service account %s: %w", email, err)
	}
	return OutcomeCreated, nil
}

// ensureSecret creates an absent secret with its one-shot placeholder value.
// Existing secrets are left strictly untouched: no new version is ever added
// here, so a manually-set value can never be clobbered by a redeploy.
func (c *GCPClients) ensureSecret(ctx context.Context, desc ResourceDescriptor) (Outcome, error) {
	secretName := fmt.Sprintf("projects/%s/secrets/%s", c.projectID, desc.Name)

	_, err := c.secrets.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: secretName})
	if err == nil {
		return OutcomeAlreadyExists, nil
	}
	if !isNotFound(err) {
		return OutcomeFailed, fmt.Errorf("failed to check for secret %s: %w", desc.Name, err)
	}

	_, err = c.secrets.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   "projects/" + c.projectID,
		SecretId: desc.Name,
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
		},
	})
	if err != nil {
		if isAlreadyExists(err) {
			return OutcomeAlreadyExists, nil
		}
		return OutcomeFailed, fmt.Errorf("failed to create secret %s: %w", desc.Name, err)
	}

	_, err = c.secrets.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  secretName,
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(desc.DesiredState["value"])},
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to add placeholder version to secret %s: %w", desc.Name, err)
	}
	return OutcomeCreated, nil
}

func (c *GCPClients) ensureBucket(ctx context.Context, desc ResourceDescriptor) (Outcome, error) {
	bucket := c.buckets.Bucket(desc.Name)
	_, err := bucket.Attrs(ctx)
	if err == nil {
		return OutcomeAlreadyExists, nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return OutcomeFailed, fmt.Errorf("failed to check for bucket %s: %w", desc.Name, err)
	}

	attrs := &storage.BucketAttrs{Location: desc.DesiredState["location"]}
	if err := bucket.Create(ctx, c.projectID, attrs); err != nil {
		if isAlreadyExists(err) {
			return OutcomeAlreadyExists, nil
		}
		return OutcomeFailed, fmt.Errorf("failed to create bucket %s: %w", desc.Name, err)
	}
	return OutcomeCreated, nil
}

func (c *GCPClients) ensureConnector(ctx context.Context, desc ResourceDescriptor) (Outcome, error) {
	parent := fmt.Sprintf("projects/%s/locations/%s", c.projectID, c.region)
	name := fmt.Sprintf("%s/connectors/%s", parent, desc.Name)

	_, err := c.connectors.GetConnector(ctx, &vpcaccesspb.GetConnectorRequest{Name: name})
	if err == nil {
		return OutcomeAlreadyExists, nil
	}
	if !isNotFound(err) {
		return OutcomeFailed, fmt.Errorf("failed to check for VPC connector %s: %w", desc.Name, err)
	}

	op, err := c.connectors.CreateConnector(ctx, &vpcaccesspb.CreateConnectorRequest{
		Parent:      parent,
		ConnectorId: desc.Name,
		Connector: &vpcaccesspb.Connector{
			Network:     desc.DesiredState["network"],
			IpCidrRange: desc.DesiredState["ip_cidr_range"],
		},
	})
	if err != nil {
		if isAlreadyExists(err) {
			return OutcomeAlreadyExists, nil
		}
		return OutcomeFailed, fmt.Errorf("failed to create VPC connector %s: %w", desc.Name, err)
	}
	if _, err := op.Wait(ctx); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to wait for VPC connector %s creation: %w", desc.Name, err)
	}
	return OutcomeCreated, nil
}

// ensureSQLInstance submits the creation without polling it to completion;
// Cloud SQL instances take many minutes and nothing later in the pipeline
// blocks on the database being ready.
func (c *GCPClients) ensureSQLInstance(ctx context.Context, desc ResourceDescriptor) (Outcome, error) {
	_, err := c.sqlAdmin.Instances.Get(c.projectID, desc.Name).Context(ctx).Do()
	if err == nil {
		return OutcomeAlreadyExists, nil
	}
	if !isNotFound(err) {
		return OutcomeFailed, fmt.Errorf("failed to check for Cloud SQL instance %s: %w", desc.Name, err)
	}

	instance := &sqladmin.DatabaseInstance{
		Name:            desc.Name,
		Region:          c.region,
		DatabaseVersion: desc.DesiredState["database_version"],
		Settings:        &sqladmin.Settings{Tier: desc.DesiredState["tier"]},
	}
	if _, err := c.sqlAdmin.Instances.Insert(c.projectID, instance).Context(ctx).Do(); err != nil {
		if isAlreadyExists(err) {
			return OutcomeAlreadyExists, nil
		}
		return OutcomeFailed, fmt.Errorf("failed to create Cloud SQL instance %s: %w", desc.Name, err)
	}
	return OutcomeCreated, nil
}

func (c *GCPClients) ensureRedisInstance(ctx context.Context, desc ResourceDescriptor) (Outcome, error) {
	parent := fmt.Sprintf("projects/%s/locations/%s", c.projectID, c.region)
	name := fmt.Sprintf("%s/instances/%s", parent, desc.Name)

	_, err := c.caches.GetInstance(ctx, &redispb.GetInstanceRequest{Name: name})
	if err == nil {
		return OutcomeAlreadyExists, nil
	}
	if !isNotFound(err) {
		return OutcomeFailed, fmt.Errorf("failed to check for Redis instance %s: %w", desc.Name, err)
	}

	memoryGb, err := strconv.Atoi(desc.DesiredState["memory_size_gb"])
	if err != nil {
		return OutcomeFailed, fmt.Errorf("invalid memory_size_gb for Redis instance %s: %w", desc.Name, err)
	}
	tier := redispb.Instance_BASIC
	if desc.DesiredState["tier"] == "STANDARD_HA" {
		tier = redispb.Instance_STANDARD_HA
	}

	op, err := c.caches.CreateInstance(ctx, &redispb.CreateInstanceRequest{
		Parent:     parent,
		InstanceId: desc.Name,
		Instance: &redispb.Instance{
			Name:         name,
			Tier:         tier,
			MemorySizeGb: int32(memoryGb),
		},
	})
	if err != nil {
		if isAlreadyExists(err) {
			return OutcomeAlreadyExists, nil
		}
		return OutcomeFailed, fmt.Errorf("failed to create Redis instance %s: %w", desc.Name, err)
	}
	if _, err := op.Wait(ctx); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to wait for Redis instance %s creation: %w", desc.Name, err)
	}
	return OutcomeCreated, nil
}

// ensureNotificationChannel has no stable resource name to Get, so existence
// is a list-and-match on channel type plus email address.
func (c *GCPClients) ensureNotificationChannel(ctx context.Context, desc ResourceDescriptor) (Outcome, error) {
	email := desc.DesiredState["email"]
	parent := "projects/" + c.projectID

	it := c.channels.ListNotificationChannels(ctx, &monitoringpb.ListNotificationChannelsRequest{Name: parent})
	for {
		channel, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to list notification channels: %w", err)
		}
		if channel.Type == "email" && channel.Labels["email_address"] == email {
			return OutcomeAlreadyExists, nil
		}
	}

	_, err := c.channels.CreateNotificationChannel(ctx, &monitoringpb.CreateNotificationChannelRequest{
		Name: parent,
		NotificationChannel: &monitoringpb.NotificationChannel{
			Type:        "email",
			DisplayName: desc.Name,
			Labels:      map[string]string{"email_address": email},
		},
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to create notification channel %s: %w", desc.Name, err)
	}
	return OutcomeCreated, nil
}

// isNotFound matches both gRPC NotFound and REST 404 errors.
func isNotFound(err error) bool {
	if status.Code(err) == codes.NotFound {
		return true
	}
	var gapiErr *googleapi.Error
	return errors.As(err, &gapiErr) && gapiErr.Code == http.StatusNotFound
}

// isAlreadyExists matches both gRPC AlreadyExists and REST 409 errors.
func isAlreadyExists(err error) bool {
	if status.Code(err) == codes.AlreadyExists {
		return true
	}
	var gapiErr *googleapi.Error
	return errors.As(err, &gapiErr) && gapiErr.Code == http.StatusConflict
}
