package cache

import (
	"context"

	"github.com/agensia/notify-dispatch/internal/domain/channel"
	basecache "github.com/agensia/notify-dispatch/internal/platform/cache"
)

const channelSettingsKey = "channel:settings:active"

// ChannelSettingsRepository caches the active channel settings row, which is
// read on every dispatch run but changes rarely. Lifecycle operations call
// Invalidate so a freshly connected channel is picked up immediately.
type ChannelSettingsRepository struct {
	next  channel.Repository
	cache *basecache.Store
}

func NewChannelSettingsRepository(next channel.Repository, cache *basecache.Store) *ChannelSettingsRepository {
	return &ChannelSettingsRepository{next: next, cache: cache}
}

func (r *ChannelSettingsRepository) GetActive(ctx context.Context) (channel.Settings, bool, error) {
	v, err := r.cache.GetOrLoad(ctx, channelSettingsKey, func(ctx context.Context) (any, error) {
		settings, exists, err := r.next.GetActive(ctx)
		if err != nil {
			return nil, err
		}
		return cachedChannelSettings{value: settings, exists: exists}, nil
	})
	if err != nil {
		return channel.Settings{}, false, err
	}

	cached, _ := v.(cachedChannelSettings)
	return cached.value, cached.exists, nil
}

func (r *ChannelSettingsRepository) Invalidate(ctx context.Context) {
	r.cache.Delete(ctx, channelSettingsKey)
}

type cachedChannelSettings struct {
	value  channel.Settings
	exists bool
}
