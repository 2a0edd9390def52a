package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/apigateway/types"
	"github.com/aws/smithy-go"

	"ip-rotator/pkg/regions"
)

const listPageSize = 500

type awsFactory struct {
	config Config
	logger *slog.Logger
	// newClient builds the client of one region.
	newClient func(ctx context.Context, region string) (*awsAPI, error)

	mu      sync.Mutex
	clients map[string]*awsAPI
}

func newAWSFactory(config Config, logger *slog.Logger) *awsFactory {
	f := &awsFactory{
		config:  config,
		logger:  logger,
		clients: make(map[string]*awsAPI),
	}
	f.newClient = f.loadClient
	return f
}

// ForRegion returns the API Gateway control plane of region, creating the
// client on first use. Clients of different regions are built concurrently.
func (f *awsFactory) ForRegion(ctx context.Context, region string) (API, error) {
	if !regions.Valid(region) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRegion, region)
	}

	f.mu.Lock()
	c, ok := f.clients[region]
	f.mu.Unlock()
	if ok {
		return c, nil
	}

	c, err := f.newClient(ctx, region)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// Double-check
	if existing, ok := f.clients[region]; ok {
		return existing, nil
	}
	f.clients[region] = c
	f.logger.Debug("created API Gateway client", "region", region)

	return c, nil
}

func (f *awsFactory) loadClient(ctx context.Context, region string) (*awsAPI, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		// Throttling is retried by the caller's policy, not by the SDK.
		config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if f.config.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			f.config.AccessKeyID,
			f.config.SecretAccessKey,
			f.config.SessionToken,
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for region %s: %w", region, err)
	}

	return &awsAPI{
		region: region,
		client: apigateway.NewFromConfig(cfg),
	}, nil
}

type awsAPI struct {
	region string
	client *apigateway.Client
}

var _ API = (*awsAPI)(nil)

func (a *awsAPI) Region() string {
	return a.region
}

func (a *awsAPI) Address(apiID string) string {
	return fmt.Sprintf("%s.execute-api.%s.amazonaws.com", apiID, a.region)
}

func (a *awsAPI) ListAPIs(ctx context.Context, position string) (Page, error) {
	input := &apigateway.GetRestApisInput{Limit: aws.Int32(listPageSize)}
	if position != "" {
		input.Position = aws.String(position)
	}

	out, err := a.client.GetRestApis(ctx, input)
	if err != nil {
		return Page{}, classify(err)
	}

	page := Page{
		Items:    make([]RestAPI, 0, len(out.Items)),
		Position: aws.ToString(out.Position),
	}
	for _, item := range out.Items {
		page.Items = append(page.Items, RestAPI{
			ID:   aws.ToString(item.Id),
			Name: aws.ToString(item.Name),
		})
	}

	return page, nil
}

func (a *awsAPI) CreateAPI(ctx context.Context, name string) (string, error) {
	out, err := a.client.CreateRestApi(ctx, &apigateway.CreateRestApiInput{
		Name: aws.String(name),
		EndpointConfiguration: &types.EndpointConfiguration{
			Types: []types.EndpointType{types.EndpointTypeRegional},
		},
	})
	if err != nil {
		return "", classify(err)
	}
	return aws.ToString(out.Id), nil
}

func (a *awsAPI) RootResourceID(ctx context.Context, apiID string) (string, error) {
	out, err := a.client.GetResources(ctx, &apigateway.GetResourcesInput{RestApiId: aws.String(apiID)})
	if err != nil {
		return "", classify(err)
	}

	for _, res := range out.Items {
		if aws.ToString(res.Path) == "/" {
			return aws.ToString(res.Id), nil
		}
	}
	if len(out.Items) > 0 {
		return aws.ToString(out.Items[0].Id), nil
	}

	return "", fmt.Errorf("rest API %s has no root resource", apiID)
}

func (a *awsAPI) CreateResource(ctx context.Context, apiID, parentID, pathPart string) (string, error) {
	out, err := a.client.CreateResource(ctx, &apigateway.CreateResourceInput{
		RestApiId: aws.String(apiID),
		ParentId:  aws.String(parentID),
		PathPart:  aws.String(pathPart),
	})
	if err != nil {
		return "", classify(err)
	}
	return aws.ToString(out.Id), nil
}

func (a *awsAPI) PutMethod(ctx context.Context, apiID, resourceID string, params map[string]bool) error {
	_, err := a.client.PutMethod(ctx, &apigateway.PutMethodInput{
		RestApiId:         aws.String(apiID),
		ResourceId:        aws.String(resourceID),
		HttpMethod:        aws.String("ANY"),
		AuthorizationType: aws.String("NONE"),
		RequestParameters: params,
	})
	return classify(err)
}

func (a *awsAPI) PutIntegration(ctx context.Context, apiID, resourceID string, integration Integration) error {
	_, err := a.client.PutIntegration(ctx, &apigateway.PutIntegrationInput{
		RestApiId:             aws.String(apiID),
		ResourceId:            aws.String(resourceID),
		HttpMethod:            aws.String("ANY"),
		Type:                  types.IntegrationTypeHttpProxy,
		IntegrationHttpMethod: aws.String("ANY"),
		Uri:                   aws.String(integration.URI),
		ConnectionType:        types.ConnectionTypeInternet,
		RequestParameters:     integration.RequestParameters,
	})
	return classify(err)
}

func (a *awsAPI) CreateDeployment(ctx context.Context, apiID, stage string) error {
	_, err := a.client.CreateDeployment(ctx, &apigateway.CreateDeploymentInput{
		RestApiId: aws.String(apiID),
		StageName: aws.String(stage),
	})
	return classify(err)
}

func (a *awsAPI) DeleteAPI(ctx context.Context, apiID string) error {
	_, err := a.client.DeleteRestApi(ctx, &apigateway.DeleteRestApiInput{RestApiId: aws.String(apiID)})
	return classify(err)
}

// classify maps SDK errors onto ErrRateLimited and ErrUnreachable, keeping the
// original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var tooMany *types.TooManyRequestsException
	if errors.As(err, &tooMany) {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ThrottlingException", "Throttling":
			return fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	return err
}
