// deployer/health/validator.go
package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// State is the per-endpoint position in the Pending -> Checking ->
// {Healthy, Exhausted} machine.
type State string

const (
	StatePending   State = "pending"
	StateChecking  State = "checking"
	StateHealthy   State = "healthy"
	StateExhausted State = "exhausted"
)

// EndpointCheck is one path to poll with its retry budget.
type EndpointCheck struct {
	Path     string
	Attempts int
	Interval time.Duration
}

// EndpointResult is the final observation for one endpoint. An Exhausted
// result is a warning, never a pipeline failure: the AI service can
// legitimately cold-start slower than the retry budget.
type EndpointResult struct {
	Path       string
	State      State
	Attempts   int
	LastStatus int
	LastErr    string
}

// Validator polls the deployed service's endpoints until they respond 2xx or
// their retry budget runs out.
type Validator struct {
	client *http.Client
	logger zerolog.Logger
}

func NewValidator(requestTimeout time.Duration, logger zerolog.Logger) *Validator {
	return &Validator{
		client: &http.Client{Timeout: requestTimeout},
		logger: logger.With().Str("component", "HealthValidator").Logger(),
	}
}

// Validate polls all endpoints concurrently; each endpoint's own retry loop
// is strictly sequential with the configured interval between attempts.
// Results come back in input order regardless of completion order, and no
// error is ever returned: the summary is the whole output.
func (v *Validator) Validate(ctx context.Context, baseURL string, checks []EndpointCheck) []EndpointResult {
	results := make([]EndpointResult, len(checks))

	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check EndpointCheck) {
			defer wg.Done()
			results[i] = v.checkEndpoint(ctx, baseURL, check)
		}(i, check)
	}
	wg.Wait()

	for _, res := range results {
		event := v.logger.Info()
		if res.State != StateHealthy {
			event = v.logger.Warn()
		}
		event.
			Str("path", res.Path).
			Str("state", string(res.State)).
			Int("attempts", res.Attempts).
			Msg("Endpoint check finished.")
	}
	return results
}

func (v *Validator) checkEndpoint(ctx context.Context, baseURL string, check EndpointCheck) EndpointResult {
	result := EndpointResult{Path: check.Path, State: StatePending}
	url := strings.TrimRight(baseURL, "/") + check.Path

	attempt := func() error {
		result.State = StateChecking
		result.Attempts++

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := v.client.Do(req)
		if err != nil {
			result.LastErr = err.Error()
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		result.LastStatus = resp.StatusCode
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("endpoint %s returned status %d", check.Path, resp.StatusCode)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(check.Interval), uint64(check.Attempts-1)),
		ctx,
	)
	if err := backoff.Retry(attempt, policy); err != nil {
		if result.LastErr == "" {
			result.LastErr = err.Error()
		}
		result.State = StateExhausted
		return result
	}
	result.State = StateHealthy
	result.LastErr = ""
	return result
}

// Warnings lists the endpoints that never answered 2xx, for the final report.
func Warnings(results []EndpointResult) []string {
	var warnings []string
	for _, res := range results {
		if res.State != StateHealthy {
			warnings = append(warnings, fmt.Sprintf("endpoint %s not healthy after %d attempts (last status %d)", res.Path, res.Attempts, res.LastStatus))
		}
	}
	return warnings
}
