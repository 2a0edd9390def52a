package gateway

import (
	"context"
	"errors"
)

// System represents the control-plane backend that hosts the endpoints.
type System string

const (
	SystemAWS System = "aws"
)

const (
	// StageName is the deployment stage every endpoint is published under.
	StageName = "proxy-stage"

	// HeaderForwarded carries the spoofed client address. The integration
	// maps it onto X-Forwarded-For towards the origin.
	HeaderForwarded = "X-Forwarded-Header"
	// HeaderHost carries the Host header presented to the origin.
	HeaderHost = "X-Host"

	// ProxyPathPart is the greedy path resource capturing arbitrary sub-paths.
	ProxyPathPart = "{proxy+}"
)

var (
	// ErrRateLimited is returned when the control plane asks the caller to slow down.
	ErrRateLimited = errors.New("control plane rate limited")
	// ErrUnreachable is returned when the control plane could not be contacted.
	ErrUnreachable = errors.New("control plane unreachable")
	// ErrInvalidRegion is returned by factories for malformed region identifiers.
	ErrInvalidRegion = errors.New("invalid region")
)

// Config represents the configuration for a control-plane backend
type Config struct {
	System          System
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// RestAPI is a forwarding resource as listed by the control plane.
type RestAPI struct {
	ID   string
	Name string
}

// Page is one page of a resource listing. An empty Position means the
// listing is exhausted.
type Page struct {
	Items    []RestAPI
	Position string
}

// Integration describes how a resource forwards requests to the origin.
type Integration struct {
	URI               string
	RequestParameters map[string]string
}

// API is the control plane of a single region.
type API interface {
	Region() string
	ListAPIs(ctx context.Context, position string) (Page, error)
	CreateAPI(ctx context.Context, name string) (string, error)
	RootResourceID(ctx context.Context, apiID string) (string, error)
	CreateResource(ctx context.Context, apiID, parentID, pathPart string) (string, error)
	PutMethod(ctx context.Context, apiID, resourceID string, params map[string]bool) error
	PutIntegration(ctx context.Context, apiID, resourceID string, integration Integration) error
	CreateDeployment(ctx context.Context, apiID, stage string) error
	DeleteAPI(ctx context.Context, apiID string) error
	// Address returns the network address the deployed API is reachable at.
	Address(apiID string) string
}

// Factory hands out per-region control planes.
type Factory interface {
	ForRegion(ctx context.Context, region string) (API, error)
}

// MethodParameters are the request parameters declared on every proxied method.
func MethodParameters() map[string]bool {
	return map[string]bool{
		"method.request.path.proxy":                  true,
		"method.request.header." + HeaderForwarded: true,
		"method.request.header." + HeaderHost:      true,
	}
}

// IntegrationParameters maps the synthetic headers onto the ones the origin sees.
func IntegrationParameters() map[string]string {
	return map[string]string{
		"integration.request.path.proxy":             "method.request.path.proxy",
		"integration.request.header.X-Forwarded-For": "method.request.header." + HeaderForwarded,
		"integration.request.header.Host":            "method.request.header." + HeaderHost,
	}
}
