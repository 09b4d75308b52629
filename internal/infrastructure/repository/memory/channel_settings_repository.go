package memory

import (
	"context"
	"sync"

	"github.com/agensia/notify-dispatch/internal/domain/channel"
	"github.com/agensia/notify-dispatch/internal/domain/dispatch"
)

type ChannelSettingsRepository struct {
	mu       sync.RWMutex
	settings channel.Settings
	present  bool
}

func NewChannelSettingsRepository(settings channel.Settings, present bool) *ChannelSettingsRepository {
	return &ChannelSettingsRepository{settings: settings, present: present}
}

func (r *ChannelSettingsRepository) GetActive(_ context.Context) (channel.Settings, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.settings, r.present, nil
}

func (r *ChannelSettingsRepository) Set(settings channel.Settings, present bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settings = settings
	r.present = present
}

// RecipientResolver is a map-backed target resolver for tests.
type RecipientResolver struct {
	mu    sync.RWMutex
	items map[string]dispatch.Target
}

func NewRecipientResolver(targets []dispatch.Target) *RecipientResolver {
	items := make(map[string]dispatch.Target, len(targets))
	for _, target := range targets {
		items[target.Reference] = target
	}

	return &RecipientResolver{items: items}
}

func (r *RecipientResolver) Resolve(_ context.Context, reference string) (dispatch.Target, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target, ok := r.items[reference]
	return target, ok, nil
}
