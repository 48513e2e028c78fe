package notify

import (
	"context"
	"testing"

	"notifyd/pkg/logx"
)

type memStore struct {
	channels map[string]Channel
	types    map[string]ActionType
}

func newMemStore() *memStore {
	return &memStore{channels: map[string]Channel{}, types: map[string]ActionType{}}
}

func (m *memStore) PutChannel(_ context.Context, c Channel) error {
	m.channels[c.ID] = c
	return nil
}

func (m *memStore) DeleteChannel(_ context.Context, id string) error {
	delete(m.channels, id)
	return nil
}

func (m *memStore) ListChannels(_ context.Context) ([]Channel, error) {
	out := make([]Channel, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) PutActionType(_ context.Context, t ActionType) error {
	m.types[t.ID] = t
	return nil
}

func (m *memStore) ListActionTypes(_ context.Context) ([]ActionType, error) {
	out := make([]ActionType, 0, len(m.types))
	for _, t := range m.types {
		out = append(out, t)
	}
	return out, nil
}

func TestRegistryChannels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newMemStore()
	r := NewRegistry(st, logx.Nop())

	if err := r.CreateChannel(ctx, Channel{ID: "b", Name: "B"}); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if err := r.CreateChannel(ctx, Channel{ID: "a", Name: "A"}); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if err := r.CreateChannel(ctx, Channel{ID: "", Name: "bad"}); err == nil {
		t.Fatal("expected validation error")
	}

	got := r.ListChannels()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("channels = %+v, want sorted [a b]", got)
	}
	if !r.HasChannel("a") || r.HasChannel("zzz") {
		t.Fatal("HasChannel mismatch")
	}

	if err := r.DeleteChannel(ctx, "a"); err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}
	if r.HasChannel("a") {
		t.Fatal("deleted channel still present")
	}
	if _, ok := st.channels["a"]; ok {
		t.Fatal("delete did not reach the store")
	}
}

func TestRegistryLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newMemStore()
	st.channels["x"] = Channel{ID: "x", Name: "X"}
	st.types["reply"] = ActionType{ID: "reply"}

	r := NewRegistry(st, logx.Nop())
	if err := r.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !r.HasChannel("x") {
		t.Fatal("loaded channel missing")
	}
	if got := r.ListActionTypes(); len(got) != 1 || got[0].ID != "reply" {
		t.Fatalf("action types = %+v", got)
	}
}

func TestRegistryMemoryOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewRegistry(nil, logx.Nop())
	if err := r.Load(ctx); err != nil {
		t.Fatalf("Load with nil store: %v", err)
	}
	if err := r.CreateChannel(ctx, Channel{ID: "m", Name: "M"}); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if !r.HasChannel("m") {
		t.Fatal("memory-only channel missing")
	}
}

func TestRegistryActionTypes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := NewRegistry(newMemStore(), logx.Nop())

	types := []ActionType{
		{ID: "b", Actions: []Action{{ID: "ok", Title: "OK"}}},
		{ID: "a"},
	}
	if err := r.RegisterActionTypes(ctx, types); err != nil {
		t.Fatalf("RegisterActionTypes: %v", err)
	}
	if err := r.RegisterActionTypes(ctx, []ActionType{{}}); err == nil {
		t.Fatal("expected error for missing id")
	}

	got := r.ListActionTypes()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("action types = %+v, want sorted [a b]", got)
	}
}
