// Package ipinfo looks up the egress address a request leaves from.
package ipinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"ip-rotator/pkg/fetch"
)

// DefaultURL echoes the caller's address as JSON.
const DefaultURL = "https://ipinfo.io"

type IPInfoResponse struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	Anycast  bool   `json:"anycast"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Loc      string `json:"loc"`
	Org      string `json:"org"`
	Postal   string `json:"postal"`
	Timezone string `json:"timezone"`
}

// Lookup asks baseURL, through r, for the address the request arrived from.
func Lookup(ctx context.Context, r fetch.Requester, baseURL, token string) (IPInfoResponse, error) {
	url := strings.TrimSuffix(baseURL, "/") + "/json"
	if token != "" {
		url += "?token=" + token
	}

	res, err := fetch.Fetch(ctx, r, url, fetch.Options{Headers: []string{"Accept: application/json"}})
	if err != nil {
		return IPInfoResponse{}, err
	}
	if res.Response.StatusCode != http.StatusOK {
		return IPInfoResponse{}, fmt.Errorf("unexpected status %d from %s", res.Response.StatusCode, baseURL)
	}

	var info IPInfoResponse
	if err := json.Unmarshal(res.Body, &info); err != nil {
		return IPInfoResponse{}, fmt.Errorf("failed to decode IP info: %w", err)
	}
	return info, nil
}

// ParseOrg splits the "org" field ("AS16509 Amazon.com, Inc.") into the AS
// number and the AS name. If it can't be parsed, the whole string is the name.
func ParseOrg(org string) (asn, name string) {
	parts := strings.SplitN(org, " ", 2)
	if len(parts) == 2 && strings.HasPrefix(parts[0], "AS") {
		return strings.TrimPrefix(parts[0], "AS"), parts[1]
	}
	return "", org
}
