package notifier

import (
	"context"

	"github.com/churnguard/intervention-engine/internal/domain"
)

// Notifier is the outbound delivery port for executed interventions.
// Dry-run cycles never reach it.
type Notifier interface {
	Send(ctx context.Context, intervention domain.Intervention) (*Delivery, error)
}

// Delivery stores transport call metadata for audit and logging.
type Delivery struct {
	StatusCode int
	Body       string
	MessageID  string
}
