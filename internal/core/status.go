package core

import (
	"context"

	"github.com/dkeye/Chorus/internal/domain"
)

// StatusReader is implemented by stores that keep a faster presence copy
// next to the primary one.
type StatusReader interface {
	Status(ctx context.Context, id domain.UserID) (domain.UserStatus, error)
}
