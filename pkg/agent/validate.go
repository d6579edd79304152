package agent

import (
	"fmt"
	"strings"

	"github.com/agentfabric/fabric/pkg/config"
)

// placeholderMarkers are substrings that betray a user_id nobody set:
// template leftovers, framework defaults, test fixtures. Matched
// case-insensitively against the whole ID.
var placeholderMarkers = []string{
	"user_id",
	"userid",
	"placeholder",
	"example",
	"anonymous",
	"unknown",
	"default",
	"undefined",
	"null",
	"none",
	"test",
	"dummy",
	"fake",
	"xxx",
	"<",
	">",
}

// ValidateUserID rejects empty and placeholder user IDs before any
// per-user resource is created. allowTestIDs suppresses the marker
// check for test environments.
func ValidateUserID(userID string, allowTestIDs bool) error {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return &config.ValidationError{
			Component: "agent_registry", ID: "(empty)", Field: "user_id",
			Err: config.ErrMissingRequiredField,
		}
	}
	if allowTestIDs {
		return nil
	}

	lower := strings.ToLower(trimmed)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return &config.ValidationError{
				Component: "agent_registry", ID: userID, Field: "user_id",
				Err: fmt.Errorf("%w: placeholder marker %q", config.ErrInvalidValue, marker),
			}
		}
	}
	return nil
}
