package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ip-rotator/pkg/gateway"
	"ip-rotator/pkg/ratelimit"
	"ip-rotator/pkg/regions"
	"ip-rotator/pkg/retry"
)

const discardTimeout = time.Minute

// Endpoint is one region's provisioned forwarding path.
type Endpoint struct {
	ID      string
	Region  string
	Address string
	// Reused is set when the endpoint was discovered rather than created.
	Reused bool
}

// Config represents the configuration shared by every region task.
type Config struct {
	// Target is the origin every endpoint forwards to, without trailing slash.
	Target string
	// Name identifies the resources owned by the pool.
	Name string
	// Retry bounds retries of rate-limited control-plane calls.
	Retry retry.Policy
	// Verbose raises per-region failures from debug to warn level.
	Verbose bool
}

// Provisioner obtains and removes endpoints one region at a time.
// It is safe for concurrent use by one goroutine per region.
type Provisioner struct {
	config  Config
	factory gateway.Factory
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// New creates a Provisioner. limiter may be nil to disable pacing.
func New(config Config, factory gateway.Factory, limiter *ratelimit.Limiter, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		config:  config,
		factory: factory,
		limiter: limiter,
		logger:  logger,
	}
}

// Provision returns an endpoint for region or nil when the region could not
// provide one. Unless force is set, an existing resource carrying the pool
// name is reused as-is. Failures are logged and never propagated.
func (p *Provisioner) Provision(ctx context.Context, region string, force bool) *Endpoint {
	logger := p.logger.With("region", region)

	if err := regions.Validate(region); err != nil {
		p.report(logger, "Skipping region", "error", err)
		return nil
	}

	api, err := p.factory.ForRegion(ctx, region)
	if err != nil {
		p.report(logger, "Could not reach control plane", "error", err)
		return nil
	}

	if !force {
		existing, err := p.find(ctx, api, logger)
		if err != nil {
			p.report(logger, "Could not get list of APIs", "error", err)
			return nil
		}
		if existing != nil {
			logger.Debug("Found existing API", "id", existing.ID)
			return &Endpoint{
				ID:      existing.ID,
				Region:  region,
				Address: api.Address(existing.ID),
				Reused:  true,
			}
		}
	}

	var apiID string
	err = p.call(ctx, api, logger, "create rest API", func(ctx context.Context) error {
		id, err := api.CreateAPI(ctx, p.config.Name)
		apiID = id
		return err
	})
	if err != nil {
		p.report(logger, "Could not create new API", "error", err)
		return nil
	}

	if err := p.configure(ctx, api, logger, apiID); err != nil {
		p.report(logger, "Could not configure new API", "id", apiID, "error", err)
		p.discard(ctx, api, logger, apiID)
		return nil
	}

	logger.Debug("Created API", "id", apiID)
	return &Endpoint{
		ID:      apiID,
		Region:  region,
		Address: api.Address(apiID),
	}
}

// Teardown deletes the pool's resources in region, or every resource when all
// is set, and returns the ids that were deleted. A failed deletion does not
// stop the remaining ones.
func (p *Provisioner) Teardown(ctx context.Context, region string, all bool) []string {
	logger := p.logger.With("region", region)

	if err := regions.Validate(region); err != nil {
		p.report(logger, "Skipping region", "error", err)
		return nil
	}

	api, err := p.factory.ForRegion(ctx, region)
	if err != nil {
		p.report(logger, "Could not reach control plane", "error", err)
		return nil
	}

	apis, err := p.listAll(ctx, api, logger)
	if err != nil {
		p.report(logger, "Could not get list of APIs", "error", err)
		return nil
	}

	var deleted []string
	for _, item := range apis {
		if !all && item.Name != p.config.Name {
			continue
		}

		id := item.ID
		err := p.call(ctx, api, logger, "delete rest API", func(ctx context.Context) error {
			return api.DeleteAPI(ctx, id)
		})
		if err != nil {
			p.report(logger, "Could not delete API", "id", id, "error", err)
			continue
		}

		logger.Debug("Deleted rest API", "id", id)
		deleted = append(deleted, id)
	}

	return deleted
}

// find returns the first resource named after the pool, or nil.
func (p *Provisioner) find(ctx context.Context, api gateway.API, logger *slog.Logger) (*gateway.RestAPI, error) {
	apis, err := p.listAll(ctx, api, logger)
	if err != nil {
		return nil, err
	}
	for i := range apis {
		if apis[i].Name == p.config.Name {
			return &apis[i], nil
		}
	}
	return nil, nil
}

// listAll follows continuation positions until the listing is exhausted.
func (p *Provisioner) listAll(ctx context.Context, api gateway.API, logger *slog.Logger) ([]gateway.RestAPI, error) {
	var (
		all      []gateway.RestAPI
		position string
	)

	for {
		var page gateway.Page
		err := p.call(ctx, api, logger, "list rest APIs", func(ctx context.Context) error {
			var err error
			page, err = api.ListAPIs(ctx, position)
			return err
		})
		if err != nil {
			return nil, err
		}

		all = append(all, page.Items...)
		if page.Position == "" || page.Position == position {
			return all, nil
		}
		position = page.Position
	}
}

// configure wires the root and greedy resources to the target and publishes
// the result under gateway.StageName.
func (p *Provisioner) configure(ctx context.Context, api gateway.API, logger *slog.Logger, apiID string) error {
	var rootID, proxyID string

	err := p.call(ctx, api, logger, "get resources", func(ctx context.Context) error {
		var err error
		rootID, err = api.RootResourceID(ctx, apiID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to get root resource: %w", err)
	}

	err = p.call(ctx, api, logger, "create resource", func(ctx context.Context) error {
		var err error
		proxyID, err = api.CreateResource(ctx, apiID, rootID, gateway.ProxyPathPart)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create proxy resource: %w", err)
	}

	resources := []struct {
		id  string
		uri string
	}{
		{id: rootID, uri: p.config.Target},
		{id: proxyID, uri: p.config.Target + "/{proxy}"},
	}

	for _, res := range resources {
		err = p.call(ctx, api, logger, "put method", func(ctx context.Context) error {
			return api.PutMethod(ctx, apiID, res.id, gateway.MethodParameters())
		})
		if err != nil {
			return fmt.Errorf("failed to put method on %s: %w", res.id, err)
		}

		integration := gateway.Integration{
			URI:               res.uri,
			RequestParameters: gateway.IntegrationParameters(),
		}
		err = p.call(ctx, api, logger, "put integration", func(ctx context.Context) error {
			return api.PutIntegration(ctx, apiID, res.id, integration)
		})
		if err != nil {
			return fmt.Errorf("failed to put integration on %s: %w", res.id, err)
		}
	}

	err = p.call(ctx, api, logger, "create deployment", func(ctx context.Context) error {
		return api.CreateDeployment(ctx, apiID, gateway.StageName)
	})
	if err != nil {
		return fmt.Errorf("failed to deploy stage %s: %w", gateway.StageName, err)
	}

	return nil
}

// discard removes a half-configured API. It survives cancellation of ctx so
// an interrupted run does not leave resources behind.
func (p *Provisioner) discard(ctx context.Context, api gateway.API, logger *slog.Logger, apiID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()

	err := p.call(ctx, api, logger, "delete rest API", func(ctx context.Context) error {
		return api.DeleteAPI(ctx, apiID)
	})
	if err != nil {
		p.report(logger, "Could not delete half-configured API", "id", apiID, "error", err)
		return
	}
	logger.Debug("Deleted half-configured API", "id", apiID)
}

// call paces and retries a single control-plane operation.
func (p *Provisioner) call(ctx context.Context, api gateway.API, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	return p.config.Retry.Do(ctx, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx, api.Region()); err != nil {
			return err
		}
		return fn(ctx)
	}, func(err error, wait time.Duration) {
		p.report(logger, "Too many requests, backing off", "op", op, "wait", wait)
	})
}

func (p *Provisioner) report(logger *slog.Logger, msg string, args ...any) {
	if p.config.Verbose {
		logger.Warn(msg, args...)
		return
	}
	logger.Debug(msg, args...)
}
