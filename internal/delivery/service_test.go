package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"notifyd/internal/notify"
	"notifyd/pkg/logx"
)

type captureSink struct {
	mu    sync.Mutex
	got   []notify.Notification
	fails atomic.Int32 // number of calls that should fail first
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Deliver(_ context.Context, n notify.Notification) error {
	if c.fails.Load() > 0 {
		c.fails.Add(-1)
		return errors.New("transient")
	}
	c.mu.Lock()
	c.got = append(c.got, n)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) delivered() []notify.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Notification(nil), c.got...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSubmitDeliversAndTracksActive(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	s := New(Config{Enabled: true, Workers: 1, RatePerSec: 1000}, []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	n := notify.Notification{ID: 9, Title: "hello"}
	if err := s.Submit(context.Background(), n); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, func() bool { return len(sink.delivered()) == 1 })
	waitFor(t, func() bool { return len(s.Active()) == 1 })

	active := s.Active()
	if active[0].ID != 9 || active[0].Title != "hello" {
		t.Fatalf("active = %+v", active[0])
	}

	hist := s.Snapshot()
	if len(hist) != 1 || hist[0].ID != 9 || hist[0].Sink != "capture" {
		t.Fatalf("history = %+v", hist)
	}

	s.Remove(9)
	if got := s.Active(); len(got) != 0 {
		t.Fatalf("active after remove = %+v", got)
	}
}

func TestSubmitDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)
	if err := s.Submit(context.Background(), notify.Notification{ID: 1}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	sink.fails.Store(2)
	s := New(Config{
		Enabled:    true,
		Workers:    1,
		RatePerSec: 1000,
		RetryMax:   3,
		RetryBase:  time.Millisecond,
	}, []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Submit(context.Background(), notify.Notification{ID: 4, Title: "retry me"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, func() bool { return len(sink.delivered()) == 1 })
}

func TestDedupWindowSuppressesRepeat(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	s := New(Config{
		Enabled:     true,
		Workers:     1,
		RatePerSec:  1000,
		DedupWindow: time.Minute,
	}, []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	n := notify.Notification{ID: 1, ChannelID: "alerts", Title: "disk full", Body: "/var 98%"}
	if err := s.Submit(context.Background(), n); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Same content under a different ID must be suppressed.
	n.ID = 2
	if err := s.Submit(context.Background(), n); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, func() bool { return len(sink.delivered()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := sink.delivered(); len(got) != 1 {
		t.Fatalf("delivered %d notifications, want 1", len(got))
	}
}

func TestRedeliveryReplacesActiveEntry(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	s := New(Config{Enabled: true, Workers: 1, RatePerSec: 1000}, []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Submit(context.Background(), notify.Notification{ID: 5, Title: "v1"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, func() bool { return len(s.Active()) == 1 })

	if err := s.Submit(context.Background(), notify.Notification{ID: 5, Title: "v2"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, func() bool {
		a := s.Active()
		return len(a) == 1 && a[0].Title == "v2"
	})
}

func TestRemoveAll(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	s := New(Config{Enabled: true, Workers: 2, RatePerSec: 1000}, []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	for id := int32(1); id <= 3; id++ {
		if err := s.Submit(context.Background(), notify.Notification{ID: id, Title: "n"}); err != nil {
			t.Fatalf("Submit(%d): %v", id, err)
		}
	}
	waitFor(t, func() bool { return len(sink.delivered()) == 3 })

	s.RemoveAll()
	if got := s.Active(); len(got) != 0 {
		t.Fatalf("active after RemoveAll = %+v", got)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	s := New(Config{Enabled: true, Workers: 1, RatePerSec: 1000}, []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())

	if err := s.Submit(context.Background(), notify.Notification{ID: 8, Title: "drain"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)

	if got := sink.delivered(); len(got) != 1 {
		t.Fatalf("delivered %d notifications after Stop, want 1", len(got))
	}
	if err := s.Submit(context.Background(), notify.Notification{ID: 9}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit after Stop = %v, want ErrStopped", err)
	}
}
