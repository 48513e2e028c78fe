package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"notifyd/pkg/logx"
)

// RegistryStore is the slice of persistence the registry needs. A nil
// store keeps the registry memory-only.
type RegistryStore interface {
	PutChannel(ctx context.Context, c Channel) error
	DeleteChannel(ctx context.Context, id string) error
	ListChannels(ctx context.Context) ([]Channel, error)
	PutActionType(ctx context.Context, t ActionType) error
	ListActionTypes(ctx context.Context) ([]ActionType, error)
}

// Registry owns channel and action-type definitions: an in-memory map
// with write-through persistence. It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	log   logx.Logger
	store RegistryStore

	channels    map[string]Channel
	actionTypes map[string]ActionType
}

func NewRegistry(store RegistryStore, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:         log,
		store:       store,
		channels:    map[string]Channel{},
		actionTypes: map[string]ActionType{},
	}
}

// Load hydrates the registry from the store. Call once on startup.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	channels, err := r.store.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	types, err := r.store.ListActionTypes(ctx)
	if err != nil {
		return fmt.Errorf("load action types: %w", err)
	}

	r.mu.Lock()
	for _, c := range channels {
		r.channels[c.ID] = c
	}
	for _, t := range types {
		r.actionTypes[t.ID] = t
	}
	r.mu.Unlock()

	r.log.Debug("registry loaded",
		logx.Int("channels", len(channels)),
		logx.Int("action_types", len(types)))
	return nil
}

// CreateChannel upserts a channel definition.
func (r *Registry) CreateChannel(ctx context.Context, c Channel) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.PutChannel(ctx, c); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.channels[c.ID] = c
	r.mu.Unlock()
	r.log.Debug("channel created", logx.String("id", c.ID), logx.String("name", c.Name))
	return nil
}

// DeleteChannel removes a channel. Deleting an unknown channel is a no-op.
func (r *Registry) DeleteChannel(ctx context.Context, id string) error {
	if r.store != nil {
		if err := r.store.DeleteChannel(ctx, id); err != nil {
			return err
		}
	}
	r.mu.Lock()
	delete(r.channels, id)
	r.mu.Unlock()
	r.log.Debug("channel deleted", logx.String("id", id))
	return nil
}

// ListChannels returns all channels sorted by id.
func (r *Registry) ListChannels() []Channel {
	r.mu.RLock()
	out := make([]Channel, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasChannel reports whether the channel id is known.
func (r *Registry) HasChannel(id string) bool {
	r.mu.RLock()
	_, ok := r.channels[id]
	r.mu.RUnlock()
	return ok
}

// RegisterActionTypes upserts a batch of action types.
func (r *Registry) RegisterActionTypes(ctx context.Context, types []ActionType) error {
	for _, t := range types {
		if t.ID == "" {
			return fmt.Errorf("action type without id")
		}
		if r.store != nil {
			if err := r.store.PutActionType(ctx, t); err != nil {
				return err
			}
		}
	}
	r.mu.Lock()
	for _, t := range types {
		r.actionTypes[t.ID] = t
	}
	r.mu.Unlock()
	r.log.Debug("action types registered", logx.Int("count", len(types)))
	return nil
}

// ListActionTypes returns all action types sorted by id.
func (r *Registry) ListActionTypes() []ActionType {
	r.mu.RLock()
	out := make([]ActionType, 0, len(r.actionTypes))
	for _, t := range r.actionTypes {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
