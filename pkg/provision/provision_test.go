package provision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ip-rotator/pkg/gateway"
	"ip-rotator/pkg/gateway/gatewaytest"
	"ip-rotator/pkg/ratelimit"
	"ip-rotator/pkg/retry"
)

const (
	testTarget = "https://origin.example"
	testName   = "IP Rotator for https://origin.example"
)

func newTestProvisioner(fake *gatewaytest.Fake) *Provisioner {
	cfg := Config{
		Target: testTarget,
		Name:   testName,
		Retry: retry.Policy{
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   1,
			MaxAttempts:  20,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, fake, ratelimit.NewLimiter(ratelimit.Config{}), logger)
}

func TestProvision_CreatesAndConfigures(t *testing.T) {
	fake := gatewaytest.New()
	p := newTestProvisioner(fake)

	ep := p.Provision(context.Background(), "eu-west-1", false)
	require.NotNil(t, ep)
	assert.False(t, ep.Reused)
	assert.Equal(t, "eu-west-1", ep.Region)
	assert.Equal(t, ep.ID+".gateway.test", ep.Address)

	apis := fake.Region("eu-west-1").APIs()
	require.Len(t, apis, 1)
	api := apis[0]
	assert.Equal(t, testName, api.Name)
	assert.Equal(t, []string{gateway.StageName}, api.Stages)

	require.Len(t, api.Resources, 1)
	for _, part := range api.Resources {
		assert.Equal(t, gateway.ProxyPathPart, part)
	}

	require.Len(t, api.Methods, 2)
	for _, params := range api.Methods {
		assert.Equal(t, gateway.MethodParameters(), params)
	}

	var uris []string
	for _, integ := range api.Integrations {
		uris = append(uris, integ.URI)
		assert.Equal(t, "method.request.header.X-Host", integ.RequestParameters["integration.request.header.Host"])
		assert.Equal(t, "method.request.header.X-Forwarded-Header", integ.RequestParameters["integration.request.header.X-Forwarded-For"])
	}
	assert.ElementsMatch(t, []string{testTarget, testTarget + "/{proxy}"}, uris)
}

func TestProvision_IsIdempotentWithoutForce(t *testing.T) {
	fake := gatewaytest.New()
	p := newTestProvisioner(fake)
	ctx := context.Background()

	first := p.Provision(ctx, "us-east-1", false)
	second := p.Provision(ctx, "us-east-1", false)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.Address, second.Address)
	assert.True(t, second.Reused)
	assert.Equal(t, 1, fake.Region("us-east-1").Calls(gatewaytest.OpCreate))
	assert.Len(t, fake.Region("us-east-1").APIs(), 1)
}

func TestProvision_ForceCreatesNew(t *testing.T) {
	fake := gatewaytest.New()
	p := newTestProvisioner(fake)
	ctx := context.Background()

	first := p.Provision(ctx, "us-east-1", false)
	second := p.Provision(ctx, "us-east-1", true)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Address, second.Address)
	assert.Len(t, fake.Region("us-east-1").APIs(), 2)
}

func TestProvision_FollowsPagination(t *testing.T) {
	fake := gatewaytest.New()
	region := fake.Region("ap-south-1")
	for i := 0; i < 5; i++ {
		region.Seed("someone else's API")
	}
	ownID := region.Seed(testName)

	p := newTestProvisioner(fake)
	ep := p.Provision(context.Background(), "ap-south-1", false)

	require.NotNil(t, ep)
	assert.Equal(t, ownID, ep.ID)
	assert.True(t, ep.Reused)
	assert.Equal(t, 3, region.Calls(gatewaytest.OpList))
	assert.Zero(t, region.Calls(gatewaytest.OpCreate))
}

func TestProvision_RetriesRateLimitedCreate(t *testing.T) {
	tests := []struct {
		name        string
		rateLimited int
	}{
		{name: "once", rateLimited: 1},
		{name: "five times", rateLimited: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := gatewaytest.New()
			fake.Region("sa-east-1").RateLimit(gatewaytest.OpCreate, tt.rateLimited)

			ep := newTestProvisioner(fake).Provision(context.Background(), "sa-east-1", false)

			require.NotNil(t, ep)
			assert.Equal(t, tt.rateLimited+1, fake.Region("sa-east-1").Calls(gatewaytest.OpCreate))
			assert.Len(t, fake.Region("sa-east-1").APIs(), 1)
		})
	}
}

func TestProvision_GivesUpWhenThrottlingPersists(t *testing.T) {
	fake := gatewaytest.New()
	fake.Region("sa-east-1").RateLimit(gatewaytest.OpCreate, 1000)

	ep := newTestProvisioner(fake).Provision(context.Background(), "sa-east-1", false)

	assert.Nil(t, ep)
	assert.Equal(t, 20, fake.Region("sa-east-1").Calls(gatewaytest.OpCreate))
}

func TestProvision_Failures(t *testing.T) {
	tests := []struct {
		name   string
		region string
		setup  func(f *gatewaytest.Fake)
	}{
		{
			name:   "unreachable",
			region: "eu-north-1",
			setup:  func(f *gatewaytest.Fake) { f.SetUnreachable("eu-north-1") },
		},
		{
			name:   "invalid region",
			region: "me-south-1ap-northeast-3",
			setup:  func(*gatewaytest.Fake) {},
		},
		{
			name:   "create rejected",
			region: "eu-north-1",
			setup: func(f *gatewaytest.Fake) {
				f.Region("eu-north-1").Fail(gatewaytest.OpCreate, errors.New("access denied"))
			},
		},
		{
			name:   "list rejected",
			region: "eu-north-1",
			setup: func(f *gatewaytest.Fake) {
				f.Region("eu-north-1").Fail(gatewaytest.OpList, errors.New("access denied"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := gatewaytest.New()
			tt.setup(fake)

			assert.NotPanics(t, func() {
				assert.Nil(t, newTestProvisioner(fake).Provision(context.Background(), tt.region, false))
			})
		})
	}
}

func TestProvision_DiscardsHalfConfiguredAPI(t *testing.T) {
	fake := gatewaytest.New()
	region := fake.Region("eu-west-2")
	region.Fail(gatewaytest.OpDeploy, errors.New("stage quota exceeded"))

	ep := newTestProvisioner(fake).Provision(context.Background(), "eu-west-2", false)

	assert.Nil(t, ep)
	assert.Equal(t, 1, region.Calls(gatewaytest.OpCreate))
	assert.Equal(t, 1, region.Calls(gatewaytest.OpDelete))
	assert.Empty(t, region.APIs())
}

func TestTeardown(t *testing.T) {
	tests := []struct {
		name      string
		all       bool
		wantNames []string
		wantCount int
	}{
		{name: "own resources only", all: false, wantNames: []string{"foreign-a", "foreign-b"}, wantCount: 2},
		{name: "everything", all: true, wantNames: nil, wantCount: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := gatewaytest.New()
			region := fake.Region("us-west-2")
			region.Seed(testName)
			region.Seed("foreign-a")
			region.Seed(testName)
			region.Seed("foreign-b")

			deleted := newTestProvisioner(fake).Teardown(context.Background(), "us-west-2", tt.all)

			assert.Len(t, deleted, tt.wantCount)
			assert.Equal(t, tt.wantNames, region.Names())
		})
	}
}

func TestTeardown_RetriesAndContinues(t *testing.T) {
	fake := gatewaytest.New()
	region := fake.Region("us-west-1")
	region.Seed(testName)
	region.Seed(testName)
	region.RateLimit(gatewaytest.OpDelete, 2)

	deleted := newTestProvisioner(fake).Teardown(context.Background(), "us-west-1", false)

	assert.Len(t, deleted, 2)
	assert.Equal(t, 4, region.Calls(gatewaytest.OpDelete))
	assert.Empty(t, region.APIs())
}

func TestTeardown_DeleteErrorsAreAbsorbed(t *testing.T) {
	fake := gatewaytest.New()
	region := fake.Region("us-west-1")
	region.Seed(testName)
	region.Seed(testName)
	region.Fail(gatewaytest.OpDelete, errors.New("conflict"))

	deleted := newTestProvisioner(fake).Teardown(context.Background(), "us-west-1", false)

	assert.Empty(t, deleted)
	assert.Equal(t, 2, region.Calls(gatewaytest.OpDelete))
}
