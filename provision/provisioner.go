// deployer/provision/provisioner.go
package provision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Outcome is the per-resource result of one provisioning pass.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeAlreadyExists Outcome = "already-exists"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeFailed        Outcome = "failed"
)

// Result pairs a descriptor with what happened to it.
type Result struct {
	Resource ResourceDescriptor
	Outcome  Outcome
	Err      error
}

// ProvisioningError is returned when a required resource could not be
// ensured. Optional resource failures never produce it.
type ProvisioningError struct {
	Resource string
	Kind     Kind
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed for required %s %q: %v", e.Kind, e.Resource, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Ensurer checks one resource for existence and creates it when absent.
// Implementations must treat "already exists" as success, never as an error.
type Ensurer interface {
	Ensure(ctx context.Context, desc ResourceDescriptor) (Outcome, error)
}

// Provisioner applies a descriptor set through per-kind ensurers with a
// bounded worker pool. Results keep the input order however the workers
// interleave.
type Provisioner struct {
	ensurers map[Kind]Ensurer
	logger   zerolog.Logger

	// Workers bounds how many resources are ensured at once.
	Workers int
	// RetryInterval paces re-attempts against platform eventual consistency.
	RetryInterval time.Duration
	RetryAttempts uint64
	// CallTimeout bounds a single ensure attempt, including any operation
	// wait inside it. A stalled platform call fails the attempt like any
	// other error.
	CallTimeout time.Duration
}

func NewProvisioner(ensurers map[Kind]Ensurer, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		ensurers:      ensurers,
		logger:        logger.With().Str("component", "Provisioner").Logger(),
		Workers:       4,
		RetryInterval: 2 * time.Second,
		RetryAttempts: 2,
		CallTimeout:   10 * time.Minute,
	}
}

// Apply ensures every descriptor and returns one Result per input, in input
// order. The returned error is non-nil only when a required resource failed;
// the result slice is complete either way so the caller can report partial
// progress.
func (p *Provisioner) Apply(ctx context.Context, descriptors []ResourceDescriptor) ([]Result, error) {
	results := make([]Result, len(descriptors))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < p.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.ensureOne(ctx, descriptors[i])
			}
		}()
	}

	for i := range descriptors {
		// The explicit Err check keeps dispatch deterministic: once
		// cancellation is observed, no further resource work starts.
		// In-flight ensures run to completion so no call is left
		// half-applied.
		if err := ctx.Err(); err != nil {
			results[i] = Result{Resource: descriptors[i], Outcome: OutcomeFailed, Err: err}
			continue
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			results[i] = Result{Resource: descriptors[i], Outcome: OutcomeFailed, Err: ctx.Err()}
		}
	}
	close(jobs)
	wg.Wait()

	var firstFatal error
	for _, res := range results {
		switch res.Outcome {
		case OutcomeFailed:
			if res.Resource.Optional {
				p.logger.Warn().
					Str("resource", res.Resource.Name).
					Str("kind", string(res.Resource.Kind)).
					Err(res.Err).
					Msg("Optional resource failed to provision. Continuing.")
			} else if firstFatal == nil {
				firstFatal = &ProvisioningError{
					Resource: res.Resource.Name,
					Kind:     res.Resource.Kind,
					Err:      res.Err,
				}
			}
		case OutcomeCreated:
			p.logger.Info().Str("resource", res.Resource.Name).Str("kind", string(res.Resource.Kind)).Msg("Resource created.")
		case OutcomeAlreadyExists:
			p.logger.Info().Str("resource", res.Resource.Name).Str("kind", string(res.Resource.Kind)).Msg("Resource already exists, skipping.")
		case OutcomeSkipped:
			p.logger.Info().Str("resource", res.Resource.Name).Str("kind", string(res.Resource.Kind)).Msg("Resource skipped by configuration.")
		}
	}
	return results, firstFatal
}

func (p *Provisioner) ensureOne(ctx context.Context, desc ResourceDescriptor) Result {
	if desc.Skip {
		return Result{Resource: desc, Outcome: OutcomeSkipped}
	}
	ensurer, ok := p.ensurers[desc.Kind]
	if !ok {
		return Result{
			Resource: desc,
			Outcome:  OutcomeFailed,
			Err:      fmt.Errorf("no ensurer registered for kind %q", desc.Kind),
		}
	}

	var outcome Outcome
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
		defer cancel()
		var err error
		outcome, err = ensurer.Ensure(attemptCtx, desc)
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.RetryInterval), p.RetryAttempts),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return Result{Resource: desc, Outcome: OutcomeFailed, Err: err}
	}
	return Result{Resource: desc, Outcome: outcome}
}
