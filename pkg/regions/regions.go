package regions

import (
	"fmt"
	"regexp"
)

// Default is the ordered set of regions a pool provisions into when the
// configuration does not name its own.
var Default = []string{
	"us-east-1", "us-east-2", "us-west-1", "us-west-2",
	"eu-west-1", "eu-west-2", "eu-west-3", "eu-north-1",
	"eu-central-1", "ca-central-1", "ap-south-1", "me-south-1",
	"ap-northeast-3", "ap-northeast-2", "ap-southeast-1",
	"ap-southeast-2", "ap-northeast-1", "sa-east-1",
	"ap-east-1", "af-south-1", "eu-south-1",
}

var regionPattern = regexp.MustCompile(`^[a-z]{2}(-gov)?-[a-z]+-[0-9]+$`)

// Valid reports whether region looks like a control-plane region identifier.
func Valid(region string) bool {
	return regionPattern.MatchString(region)
}

// Validate returns an error naming region if it is not a valid identifier.
func Validate(region string) error {
	if !Valid(region) {
		return fmt.Errorf("invalid region identifier %q", region)
	}
	return nil
}

// Normalize drops duplicate entries while keeping the first occurrence order.
// Invalid identifiers are kept so that they fail on their own at provisioning
// time instead of aborting the whole pool.
func Normalize(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, r := range list {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Invalid returns the entries of list that fail validation.
func Invalid(list []string) []string {
	var bad []string
	for _, r := range list {
		if !Valid(r) {
			bad = append(bad, r)
		}
	}
	return bad
}
