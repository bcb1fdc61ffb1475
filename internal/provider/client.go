// Package provider talks to the external access-control provider that holds
// the real bindings, and wraps it with classification, retry and idempotency.
package provider

import (
	"context"

	"github.com/odyssey-erp/odyssey-access/internal/authority"
)

// Binding is the provider's record of a principal's level on a resource.
type Binding struct {
	ID         string          `json:"id"`
	ResourceID string          `json:"resource_id"`
	Email      string          `json:"email"`
	Level      authority.Level `json:"level"`
}

// Client is the raw provider surface. Implementations return *Error for
// classified failures.
type Client interface {
	Grant(ctx context.Context, resourceID, email string, level authority.Level) (string, error)
	Revoke(ctx context.Context, resourceID, email string) error
	Update(ctx context.Context, resourceID, email string, level authority.Level) (string, error)
	ListBindings(ctx context.Context, resourceID string) ([]Binding, error)
}
