// Package identity resolves the AWS caller identity of the process running
// share commands. The full ARN goes into the audit log; a normalized short
// name is attached to log output so operators can tell whose credentials a
// grant was applied with.
package identity

import (
	"fmt"
	"regexp"
	"strings"
)

// nonAlphanumeric matches any character that is not a lowercase letter or digit.
var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeARN extracts the trailing identifier from an AWS ARN and normalizes
// it to a friendly name:
//   - Extract the last path segment of the ARN resource
//   - Strip @domain from email addresses (SSO identities)
//   - Lowercase
//   - Replace runs of non-alphanumeric characters with a single hyphen
//   - Trim leading and trailing hyphens
func NormalizeARN(arn string) (string, error) {
	if arn == "" {
		return "", fmt.Errorf("empty ARN")
	}

	// AWS ARNs have the format: arn:partition:service:region:account:resource.
	// The resource part may contain slashes (user/dana, assumed-role/Role/session).
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) < 6 {
		return "", fmt.Errorf("malformed ARN: expected at least 6 colon-separated fields, got %d", len(parts))
	}

	resource := parts[5]
	if resource == "" {
		return "", fmt.Errorf("malformed ARN: empty resource field")
	}

	// "user/dana" -> "dana", "assumed-role/Role/session" -> "session",
	// "root" -> "root".
	segments := strings.Split(resource, "/")
	identifier := segments[len(segments)-1]

	if identifier == "" {
		return "", fmt.Errorf("malformed ARN: empty trailing identifier")
	}

	if idx := strings.Index(identifier, "@"); idx > 0 {
		identifier = identifier[:idx]
	}

	identifier = strings.ToLower(identifier)
	identifier = nonAlphanumeric.ReplaceAllString(identifier, "-")
	identifier = strings.Trim(identifier, "-")

	if identifier == "" {
		return "", fmt.Errorf("ARN normalized to empty string: %s", arn)
	}

	return identifier, nil
}
