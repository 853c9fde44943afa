package port

import (
	"context"

	"github.com/berfenger/surplus2evse/internal/core/domain"
)

// EvseClient drives the charging station. Apply errors are *domain.ApplyError.
type EvseClient interface {
	Apply(ctx context.Context, cmd domain.EvseCommand) error
	Status(ctx context.Context) (domain.EvseStatus, error)
}
