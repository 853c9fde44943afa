package port

import (
	"context"

	"github.com/berfenger/surplus2evse/internal/core/domain"
)

// MeterClient reads the grid meter cumulative energy counters.
// Errors are *domain.FetchError.
type MeterClient interface {
	Fetch(ctx context.Context) (domain.MeterReading, error)
}
