package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ip-rotator/pkg/gateway"
	"ip-rotator/pkg/provision"
	"ip-rotator/pkg/regions"
	"ip-rotator/pkg/retry"
	"ip-rotator/pkg/router"
)

const (
	defaultClientTimeout = 30 * time.Second
	// teardownTimeout bounds deletion once Close's own context has ended.
	teardownTimeout = 2 * time.Minute
)

var (
	// ErrInvalidTarget is returned by New for targets that are not absolute http(s) URLs.
	ErrInvalidTarget = errors.New("invalid target URL schema")
	// ErrAlreadyStarted is returned by Start when the pool has not been closed since the last run.
	ErrAlreadyStarted = errors.New("pool already started")
)

// Config represents the configuration of a pool.
type Config struct {
	// Target is the origin every endpoint forwards to.
	Target string
	// HostHeader overrides the Host presented to the origin. Defaults to the target's host.
	HostHeader string
	// Regions to provision into. Defaults to regions.Default.
	Regions []string
	// ClearAllOnTeardown deletes every API in each region on Close, not only the pool's.
	ClearAllOnTeardown bool
	// WaitAllRegions makes Start wait for every region instead of the first success.
	WaitAllRegions bool
	// Verbose raises per-region failures to warn level.
	Verbose bool
	// Retry bounds retries of rate-limited control-plane calls.
	Retry retry.Policy
}

// Recorder is notified about endpoints the pool provisions and deletes.
type Recorder interface {
	EndpointProvisioned(ctx context.Context, poolName, runID string, ep provision.Endpoint) error
	EndpointsDeleted(ctx context.Context, region string, ids []string) error
}

// Pool provisions one endpoint per region and routes requests through them.
// The embedded Router provides Do, Get, Post and the other request methods.
type Pool struct {
	*router.Router

	config      Config
	name        string
	hostHeader  string
	regions     []string
	provisioner *provision.Provisioner
	client      router.Doer
	recorder    Recorder
	logger      *slog.Logger

	mu        sync.RWMutex
	endpoints []string
	active    bool

	// runMu serializes Start and Close.
	runMu sync.Mutex
	run   *run
}

// run tracks one provisioning run and its background region tasks.
type run struct {
	id        string
	cancel    context.CancelFunc
	done      chan struct{}
	activated chan struct{}
	once      sync.Once
}

func (r *run) activate() {
	r.once.Do(func() { close(r.activated) })
}

// Name derives the pool name used to recognize resources created for target.
func Name(target string) string {
	return "IP Rotator for " + target
}

// New creates a pool for cfg. No network calls are made until Start.
func New(cfg Config, factory gateway.Factory, opts ...Option) (*Pool, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: defaultClientTimeout}
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = retry.DefaultPolicy()
	}

	target := strings.TrimSuffix(cfg.Target, "/")
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, cfg.Target)
	}
	cfg.Target = target

	hostHeader := cfg.HostHeader
	if hostHeader == "" {
		hostHeader = u.Host
	}

	list := cfg.Regions
	if len(list) == 0 {
		list = regions.Default
	}
	list = regions.Normalize(list)
	if bad := regions.Invalid(list); len(bad) > 0 {
		o.logger.Warn("Invalid regions in catalog will be skipped", "regions", bad)
	}

	name := Name(target)
	p := &Pool{
		config:     cfg,
		name:       name,
		hostHeader: hostHeader,
		regions:    list,
		client:     o.client,
		recorder:   o.recorder,
		logger:     o.logger,
	}
	p.provisioner = provision.New(provision.Config{
		Target:  target,
		Name:    name,
		Retry:   cfg.Retry,
		Verbose: cfg.Verbose,
	}, factory, o.limiter, o.logger)
	p.Router = router.New(p, o.client, hostHeader)

	return p, nil
}

// Start runs one provisioning run. With WaitAllRegions it returns once every
// region finished. Otherwise it returns on the first provisioned endpoint, or
// once every region failed, while the remaining regions keep provisioning in
// the background. A pool without endpoints after Start is not an error.
//
// The run is not bound to ctx: cancelling ctx only stops the wait. Close
// waits for or cancels the background work.
func (p *Pool) Start(ctx context.Context, force bool) error {
	p.runMu.Lock()
	if p.run != nil {
		p.runMu.Unlock()
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		id:        uuid.NewString(),
		cancel:    cancel,
		done:      make(chan struct{}),
		activated: make(chan struct{}),
	}
	p.run = r
	p.runMu.Unlock()

	p.logger.Info("Starting IP rotating APIs", "regions", len(p.regions), "run", r.id, "force", force)
	go p.provisionAll(runCtx, r, force)

	ready := r.activated
	if p.config.WaitAllRegions {
		ready = r.done
	}

	select {
	case <-ready:
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// provisionAll fans out one task per region and merges results in
// completion order.
func (p *Pool) provisionAll(ctx context.Context, r *run, force bool) {
	defer close(r.done)
	defer r.cancel()

	results := make(chan *provision.Endpoint, len(p.regions))
	var wg sync.WaitGroup
	for _, region := range p.regions {
		wg.Add(1)
		go func(region string) {
			defer wg.Done()
			results <- p.provisioner.Provision(ctx, region, force)
		}(region)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	launched := 0
	for ep := range results {
		if ep == nil {
			continue
		}
		launched++
		p.add(ctx, r, *ep)
	}

	p.logger.Info("API launched", "regions", launched, "of", len(p.regions), "run", r.id)
}

func (p *Pool) add(ctx context.Context, r *run, ep provision.Endpoint) {
	p.mu.Lock()
	p.endpoints = append(p.endpoints, ep.Address)
	first := !p.active
	p.active = true
	p.mu.Unlock()

	r.activate()
	if first {
		p.logger.Info("First API setup", "endpoint", ep.Address, "region", ep.Region)
	} else {
		p.logger.Debug("API added", "endpoint", ep.Address, "region", ep.Region)
	}

	if p.recorder != nil {
		if err := p.recorder.EndpointProvisioned(ctx, p.name, r.id, ep); err != nil {
			p.logger.Error("Failed to record endpoint", "endpoint", ep.Address, "error", err)
		}
	}
}

// Wait blocks until the current run has finished every region or ctx ends.
func (p *Pool) Wait(ctx context.Context) error {
	p.runMu.Lock()
	r := p.run
	p.runMu.Unlock()
	if r == nil {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for in-flight provisioning (cancelling it if ctx ends first),
// deletes the pool's APIs in every region and resets the pool. When ctx has
// ended, deletion still runs on a detached context bounded by a timeout.
// Deletion failures are logged. The pool may be started again afterwards.
func (p *Pool) Close(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if r := p.run; r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			p.logger.Debug("Cancelling in-flight provisioning", "run", r.id)
			r.cancel()
			<-r.done
		}
		p.run = nil
	}

	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
	}
	p.teardownAll(ctx)

	p.mu.Lock()
	p.endpoints = nil
	p.active = false
	p.mu.Unlock()

	if c, ok := p.client.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	return nil
}

func (p *Pool) teardownAll(ctx context.Context) {
	all := p.config.ClearAllOnTeardown

	var wg sync.WaitGroup
	for _, region := range p.regions {
		wg.Add(1)
		go func(region string) {
			defer wg.Done()
			deleted := p.provisioner.Teardown(ctx, region, all)
			if len(deleted) == 0 || p.recorder == nil {
				return
			}
			if err := p.recorder.EndpointsDeleted(ctx, region, deleted); err != nil {
				p.logger.Error("Failed to record deleted endpoints", "region", region, "error", err)
			}
		}(region)
	}
	wg.Wait()

	p.logger.Info("All created APIs for IP rotating have been deleted", "all", all)
}

// Use starts the pool, runs fn and closes the pool, even when fn fails or ctx
// is cancelled.
func (p *Pool) Use(ctx context.Context, fn func(ctx context.Context, p *Pool) error) error {
	if err := p.Start(ctx, false); err != nil {
		if errors.Is(err, ErrAlreadyStarted) {
			return err
		}
		return errors.Join(err, p.Close(context.WithoutCancel(ctx)))
	}

	err := fn(ctx, p)
	return errors.Join(err, p.Close(context.WithoutCancel(ctx)))
}

// Endpoints returns a snapshot of the provisioned endpoint addresses.
func (p *Pool) Endpoints() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// Active reports whether at least one endpoint has been provisioned.
func (p *Pool) Active() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Target() string {
	return p.config.Target
}

func (p *Pool) HostHeader() string {
	return p.hostHeader
}

func (p *Pool) Regions() []string {
	return append([]string(nil), p.regions...)
}
