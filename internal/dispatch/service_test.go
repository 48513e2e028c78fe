package dispatch

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"notifyd/internal/notify"
	"notifyd/internal/schedule"
	"notifyd/internal/storage"
	"notifyd/pkg/logx"
)

type captureDeliverer struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (c *captureDeliverer) Submit(_ context.Context, n notify.Notification) error {
	c.mu.Lock()
	c.got = append(c.got, n)
	c.mu.Unlock()
	return nil
}

func (c *captureDeliverer) delivered() []notify.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Notification(nil), c.got...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func atSchedule(at time.Time, repeating bool) *schedule.Schedule {
	return &schedule.Schedule{At: &schedule.ScheduleAt{Date: at, Repeating: repeating}}
}

func TestScheduleFiresOneShot(t *testing.T) {
	t.Parallel()
	out := &captureDeliverer{}
	s := New(Config{}, nil, out, logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	n := notify.Notification{
		ID:       1,
		Title:    "ping",
		Schedule: atSchedule(time.Now().Add(50*time.Millisecond), false),
	}
	if err := s.Schedule(context.Background(), n); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := s.Pending(); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("pending = %+v", got)
	}

	waitFor(t, func() bool { return len(out.delivered()) == 1 })
	waitFor(t, func() bool { return len(s.Pending()) == 0 })
}

func TestSchedulePastOneShotFiresImmediately(t *testing.T) {
	t.Parallel()
	out := &captureDeliverer{}
	s := New(Config{}, nil, out, logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	n := notify.Notification{
		ID:       2,
		Title:    "late",
		Schedule: atSchedule(time.Now().Add(-time.Hour), false),
	}
	if err := s.Schedule(context.Background(), n); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := out.delivered(); len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("delivered = %+v", got)
	}
	if got := s.Pending(); len(got) != 0 {
		t.Fatalf("past one-shot must not stay pending: %+v", got)
	}
}

func TestCancelStopsTimer(t *testing.T) {
	t.Parallel()
	out := &captureDeliverer{}
	s := New(Config{}, nil, out, logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	n := notify.Notification{
		ID:       3,
		Schedule: atSchedule(time.Now().Add(80*time.Millisecond), false),
	}
	if err := s.Schedule(context.Background(), n); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.Cancel(context.Background(), 3)

	if got := s.Pending(); len(got) != 0 {
		t.Fatalf("pending after cancel = %+v", got)
	}
	time.Sleep(200 * time.Millisecond)
	if got := out.delivered(); len(got) != 0 {
		t.Fatalf("canceled notification fired: %+v", got)
	}
}

func TestCancelAll(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, &captureDeliverer{}, logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	for id := int32(1); id <= 4; id++ {
		n := notify.Notification{ID: id, Schedule: atSchedule(time.Now().Add(time.Hour), false)}
		if err := s.Schedule(context.Background(), n); err != nil {
			t.Fatalf("Schedule(%d): %v", id, err)
		}
	}
	s.CancelAll(context.Background())
	if got := s.Pending(); len(got) != 0 {
		t.Fatalf("pending after CancelAll = %+v", got)
	}
}

func TestEveryScheduleRearms(t *testing.T) {
	t.Parallel()
	out := &captureDeliverer{}
	s := New(Config{}, nil, out, logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	// The finest interval unit is one second; two fires prove re-arming.
	ev := schedule.EverySecond
	n := notify.Notification{
		ID:       5,
		Title:    "tick",
		Schedule: &schedule.Schedule{Every: &schedule.ScheduleEvery{Interval: ev, Count: 1}},
	}
	if err := s.Schedule(context.Background(), n); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitFor(t, func() bool { return len(out.delivered()) >= 2 })
	if got := s.Pending(); len(got) != 1 {
		t.Fatalf("repeating schedule must stay pending: %+v", got)
	}
}

func TestRescheduleReplaces(t *testing.T) {
	t.Parallel()
	out := &captureDeliverer{}
	s := New(Config{}, nil, out, logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	n := notify.Notification{ID: 6, Title: "v1", Schedule: atSchedule(time.Now().Add(60*time.Millisecond), false)}
	if err := s.Schedule(context.Background(), n); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	n.Title = "v2"
	n.Schedule = atSchedule(time.Now().Add(120*time.Millisecond), false)
	if err := s.Schedule(context.Background(), n); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	waitFor(t, func() bool { return len(out.delivered()) >= 1 })
	time.Sleep(200 * time.Millisecond)
	got := out.delivered()
	if len(got) != 1 || got[0].Title != "v2" {
		t.Fatalf("delivered = %+v, want single v2", got)
	}
}

// gateDeliverer holds each delivery open until released, so a Cancel can
// land while the fire is in flight.
type gateDeliverer struct {
	captureDeliverer
	entered chan int32
	release chan struct{}
}

func (g *gateDeliverer) Submit(ctx context.Context, n notify.Notification) error {
	g.entered <- n.ID
	<-g.release
	return g.captureDeliverer.Submit(ctx, n)
}

func TestCancelDuringDeliveryStopsRearm(t *testing.T) {
	t.Parallel()
	out := &gateDeliverer{entered: make(chan int32, 1), release: make(chan struct{})}
	s := New(Config{}, nil, out, logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	n := notify.Notification{
		ID:       7,
		Title:    "tick",
		Schedule: &schedule.Schedule{Every: &schedule.ScheduleEvery{Interval: schedule.EverySecond, Count: 1}},
	}
	if err := s.Schedule(context.Background(), n); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	<-out.entered
	s.Cancel(context.Background(), 7)
	close(out.release)

	waitFor(t, func() bool { return len(out.delivered()) == 1 })
	time.Sleep(1300 * time.Millisecond)
	if got := s.Pending(); len(got) != 0 {
		t.Fatalf("canceled repeating notification was rearmed: %+v", got)
	}
	if got := out.delivered(); len(got) != 1 {
		t.Fatalf("canceled repeating notification fired again: %d deliveries", len(got))
	}
}

func TestRestoreFromStorage(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "store")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	recs := []storage.PendingRecord{
		{Notification: notify.Notification{ID: 10, Title: "future", Schedule: atSchedule(future, false)}, NextFire: future.UnixMilli()},
		{Notification: notify.Notification{ID: 11, Title: "missed", Schedule: atSchedule(time.Now().Add(-time.Minute), false)}, NextFire: time.Now().Add(-time.Minute).UnixMilli()},
		{Notification: notify.Notification{ID: 12, Title: "ancient", Schedule: atSchedule(time.Now().Add(-48*time.Hour), false)}, NextFire: time.Now().Add(-48 * time.Hour).UnixMilli()},
	}
	for _, rec := range recs {
		if err := st.SavePending(ctx, rec); err != nil {
			t.Fatalf("SavePending: %v", err)
		}
	}

	out := &captureDeliverer{}
	s := New(Config{Grace: time.Hour}, st, out, logx.Nop(), nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(ctx)
	defer st.Close()

	// Future record stays armed.
	pending := s.Pending()
	if len(pending) != 1 || pending[0].ID != 10 {
		t.Fatalf("pending = %+v", pending)
	}
	// Missed-within-grace fired on restore, ancient one was dropped.
	got := out.delivered()
	if len(got) != 1 || got[0].ID != 11 {
		t.Fatalf("delivered = %+v", got)
	}

	// Storage reflects the triage.
	left, err := st.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(left) != 1 || left[0].ID() != 10 {
		t.Fatalf("stored = %+v", left)
	}
}

func TestScheduleRequiresSchedule(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, &captureDeliverer{}, logx.Nop(), nil)
	err := s.Schedule(context.Background(), notify.Notification{ID: 1})
	if err != ErrNotSchedule {
		t.Fatalf("err = %v, want ErrNotSchedule", err)
	}
}
