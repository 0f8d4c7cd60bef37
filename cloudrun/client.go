// deployer/cloudrun/client.go
package cloudrun

import (
	"context"
	"fmt"
	"time"

	run "cloud.google.com/go/run/apiv2"
	runpb "cloud.google.com/go/run/apiv2/runpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DeployError is fatal. No implicit rollback happens: the previous revision
// keeps serving if the rollout never completed, and the immutable revision
// tag lets an operator roll back explicitly.
type DeployError struct {
	Service string
	Err     error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deploy failed for service %q: %v", e.Service, e.Err)
}

func (e *DeployError) Unwrap() error { return e.Err }

// Client provides methods for deploying services to Google Cloud Run.
type Client struct {
	runClient *run.ServicesClient
	projectID string
	region    string
	logger    zerolog.Logger

	// DeployTimeout bounds a whole Deploy call: the existence check, the
	// create or update RPC and the rollout wait. A stalled rollout fails
	// the stage instead of blocking the pipeline.
	DeployTimeout time.Duration
}

// NewClient creates a new Cloud Run client.
func NewClient(ctx context.Context, projectID, region string, logger zerolog.Logger, opts ...option.ClientOption) (*Client, error) {
	runClient, err := run.NewServicesClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Run services client: %w", err)
	}
	return &Client{
		runClient:     runClient,
		projectID:     projectID,
		region:        region,
		logger:        logger.With().Str("component", "CloudRunClient").Logger(),
		DeployTimeout: 10 * time.Minute,
	}, nil
}

// Close closes the Cloud Run client.
func (c *Client) Close() error {
	return c.runClient.Close()
}

func (c *Client) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.projectID, c.region)
}

func (c *Client) servicePath(serviceName string) string {
	return fmt.Sprintf("%s/services/%s", c.parent(), serviceName)
}

// Deploy creates the service if it does not exist or replaces its definition
// if it does, waits for the rollout and returns the externally reachable base
// URL. All serving traffic moves to the new revision via the LATEST traffic
// target in the service definition.
func (c *Client) Deploy(ctx context.Context, serviceName string, service *runpb.Service) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.DeployTimeout)
	defer cancel()

	_, err := c.GetService(ctx, serviceName)
	if err != nil {
		if status.Code(err) != codes.NotFound {
			return "", &DeployError{Service: serviceName, Err: fmt.Errorf("failed to check for existing service: %w", err)}
		}

		c.logger.Info().Str("service_name", serviceName).Msg("Cloud Run service does not exist, creating new service.")
		op, err := c.runClient.CreateService(ctx, &runpb.CreateServiceRequest{
			Parent:    c.parent(),
			ServiceId: serviceName,
			Service:   service,
		})
		if err != nil {
			return "", &DeployError{Service: serviceName, Err: fmt.Errorf("create failed: %w", err)}
		}
		resp, err := op.Wait(ctx)
		if err != nil {
			return "", &DeployError{Service: serviceName, Err: fmt.Errorf("create did not complete: %w", err)}
		}
		c.logger.Info().Str("service_name", serviceName).Str("service_url", resp.Uri).Msg("Cloud Run service created successfully.")
		return resp.Uri, nil
	}

	c.logger.Info().Str("service_name", serviceName).Msg("Cloud Run service exists, replacing service definition.")
	service.Name = c.servicePath(serviceName)
	op, err := c.runClient.UpdateService(ctx, &runpb.UpdateServiceRequest{Service: service})
	if err != nil {
		return "", &DeployError{Service: serviceName, Err: fmt.Errorf("update failed: %w", err)}
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return "", &DeployError{Service: serviceName, Err: fmt.Errorf("update did not complete: %w", err)}
	}
	c.logger.Info().Str("service_name", serviceName).Str("service_url", resp.Uri).Msg("Cloud Run service updated successfully.")
	return resp.Uri, nil
}

// GetService retrieves a Cloud Run service by name.
func (c *Client) GetService(ctx context.Context, serviceName string) (*runpb.Service, error) {
	return c.runClient.GetService(ctx, &runpb.GetServiceRequest{Name: c.servicePath(serviceName)})
}

// GetServiceURL retrieves the current URL of a deployed service.
func (c *Client) GetServiceURL(ctx context.Context, serviceName string) (string, error) {
	service, err := c.GetService(ctx, serviceName)
	if err != nil {
		return "", fmt.Errorf("failed to get service %q to retrieve URL: %w", serviceName, err)
	}
	if service.Uri == "" {
		return "", fmt.Errorf("service %q has no URI; it may not have finished deploying", serviceName)
	}
	return service.Uri, nil
}
