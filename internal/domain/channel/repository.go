package channel

import "context"

type Repository interface {
	GetActive(ctx context.Context) (Settings, bool, error)
}
