// Package gatewaytest provides an in-memory control plane with fault
// injection for exercising provisioning and teardown without a cloud account.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"ip-rotator/pkg/gateway"
	"ip-rotator/pkg/regions"
)

// Operation names used for call counting and fault injection.
const (
	OpList        = "list"
	OpCreate      = "create"
	OpRoot        = "root"
	OpResource    = "resource"
	OpMethod      = "method"
	OpIntegration = "integration"
	OpDeploy      = "deploy"
	OpDelete      = "delete"
)

// API is a forwarding resource held by the fake.
type API struct {
	ID           string
	Name         string
	Resources    map[string]string // resource id -> path part
	Methods      map[string]map[string]bool
	Integrations map[string]gateway.Integration
	Stages       []string
}

// Fake is a gateway.Factory backed by memory.
type Fake struct {
	// PageSize bounds ListAPIs pages. Zero means 2, which forces pagination.
	PageSize int

	mu          sync.Mutex
	regions     map[string]*Region
	unreachable map[string]bool
	nextID      int
}

var _ gateway.Factory = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		regions:     make(map[string]*Region),
		unreachable: make(map[string]bool),
	}
}

// ForRegion returns the region's fake control plane. Invalid identifiers fail
// the same way the real factory does.
func (f *Fake) ForRegion(_ context.Context, region string) (gateway.API, error) {
	if !regions.Valid(region) {
		return nil, fmt.Errorf("%w: %q", gateway.ErrInvalidRegion, region)
	}
	return f.Region(region), nil
}

// Region returns the state of region, creating it on first use.
func (f *Fake) Region(region string) *Region {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.regions[region]
	if !ok {
		r = &Region{
			fake:      f,
			name:      region,
			apis:      make(map[string]*API),
			calls:     make(map[string]int),
			rateLimit: make(map[string]int),
			failures:  make(map[string]error),
		}
		f.regions[region] = r
	}
	return r
}

// SetUnreachable makes every call in region fail with gateway.ErrUnreachable.
func (f *Fake) SetUnreachable(region string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable[region] = true
}

func (f *Fake) isUnreachable(region string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unreachable[region]
}

func (f *Fake) newID(region string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("%s-%04d", region, f.nextID)
}

func (f *Fake) pageSize() int {
	if f.PageSize <= 0 {
		return 2
	}
	return f.PageSize
}

// Region is the fake control plane of one region.
type Region struct {
	fake *Fake
	name string

	mu        sync.Mutex
	apis      map[string]*API
	order     []string
	calls     map[string]int
	rateLimit map[string]int
	failures  map[string]error
	gate      chan struct{}
}

var _ gateway.API = (*Region)(nil)

// Seed adds an existing API named name and returns its id.
func (r *Region) Seed(name string) string {
	id := r.fake.newID(r.name)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(id, name)
	return id
}

// RateLimit makes the next n calls of op fail with gateway.ErrRateLimited.
func (r *Region) RateLimit(op string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimit[op] = n
}

// Fail makes every call of op fail with err.
func (r *Region) Fail(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = err
}

// Hold blocks CreateAPI and ListAPIs until the returned function is called.
func (r *Region) Hold() (release func()) {
	gate := make(chan struct{})
	r.mu.Lock()
	r.gate = gate
	r.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Calls returns how many times op was invoked, failed attempts included.
func (r *Region) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// APIs returns a snapshot of the region's APIs in creation order.
func (r *Region) APIs() []API {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]API, 0, len(r.apis))
	for _, id := range r.order {
		out = append(out, *r.apis[id])
	}
	return out
}

// Names returns the names of the region's APIs.
func (r *Region) Names() []string {
	var names []string
	for _, a := range r.APIs() {
		names = append(names, a.Name)
	}
	return names
}

func (r *Region) Region() string {
	return r.name
}

func (r *Region) Address(apiID string) string {
	return fmt.Sprintf("%s.gateway.test", apiID)
}

func (r *Region) ListAPIs(ctx context.Context, position string) (gateway.Page, error) {
	if err := r.enter(ctx, OpList, true); err != nil {
		return gateway.Page{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := 0
	if position != "" {
		if _, err := fmt.Sscanf(position, "%d", &start); err != nil {
			return gateway.Page{}, fmt.Errorf("bad position %q", position)
		}
	}
	end := start + r.fake.pageSize()
	if end > len(r.order) {
		end = len(r.order)
	}

	var page gateway.Page
	for _, id := range r.order[start:end] {
		page.Items = append(page.Items, gateway.RestAPI{ID: id, Name: r.apis[id].Name})
	}
	if end < len(r.order) {
		page.Position = fmt.Sprintf("%d", end)
	}
	return page, nil
}

func (r *Region) CreateAPI(ctx context.Context, name string) (string, error) {
	if err := r.enter(ctx, OpCreate, true); err != nil {
		return "", err
	}

	id := r.fake.newID(r.name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(id, name)
	return id, nil
}

func (r *Region) RootResourceID(ctx context.Context, apiID string) (string, error) {
	if err := r.enter(ctx, OpRoot, false); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apis[apiID]; !ok {
		return "", fmt.Errorf("rest API %s not found", apiID)
	}
	return apiID + "-root", nil
}

func (r *Region) CreateResource(ctx context.Context, apiID, parentID, pathPart string) (string, error) {
	if err := r.enter(ctx, OpResource, false); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	api, ok := r.apis[apiID]
	if !ok {
		return "", fmt.Errorf("rest API %s not found", apiID)
	}
	id := fmt.Sprintf("%s-res%d", apiID, len(api.Resources))
	api.Resources[id] = pathPart
	return id, nil
}

func (r *Region) PutMethod(ctx context.Context, apiID, resourceID string, params map[string]bool) error {
	if err := r.enter(ctx, OpMethod, false); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	api, ok := r.apis[apiID]
	if !ok {
		return fmt.Errorf("rest API %s not found", apiID)
	}
	api.Methods[resourceID] = params
	return nil
}

func (r *Region) PutIntegration(ctx context.Context, apiID, resourceID string, integration gateway.Integration) error {
	if err := r.enter(ctx, OpIntegration, false); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	api, ok := r.apis[apiID]
	if !ok {
		return fmt.Errorf("rest API %s not found", apiID)
	}
	api.Integrations[resourceID] = integration
	return nil
}

func (r *Region) CreateDeployment(ctx context.Context, apiID, stage string) error {
	if err := r.enter(ctx, OpDeploy, false); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	api, ok := r.apis[apiID]
	if !ok {
		return fmt.Errorf("rest API %s not found", apiID)
	}
	api.Stages = append(api.Stages, stage)
	return nil
}

func (r *Region) DeleteAPI(ctx context.Context, apiID string) error {
	if err := r.enter(ctx, OpDelete, false); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apis[apiID]; !ok {
		return fmt.Errorf("rest API %s not found", apiID)
	}
	delete(r.apis, apiID)
	for i, id := range r.order {
		if id == apiID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *Region) addLocked(id, name string) {
	r.apis[id] = &API{
		ID:           id,
		Name:         name,
		Resources:    make(map[string]string),
		Methods:      make(map[string]map[string]bool),
		Integrations: make(map[string]gateway.Integration),
	}
	r.order = append(r.order, id)
}

// enter records the call and applies injected faults. Calls on a done
// context fail like SDK calls do. Gated operations wait for Hold to be
// released first.
func (r *Region) enter(ctx context.Context, op string, gated bool) error {
	r.mu.Lock()
	r.calls[op]++
	gate := r.gate
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if gated && gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if r.fake.isUnreachable(r.name) {
		return fmt.Errorf("%w: dial %s: connection refused", gateway.ErrUnreachable, r.name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err, ok := r.failures[op]; ok {
		return err
	}
	if r.rateLimit[op] > 0 {
		r.rateLimit[op]--
		return fmt.Errorf("%w: %s in %s", gateway.ErrRateLimited, op, r.name)
	}
	return nil
}
