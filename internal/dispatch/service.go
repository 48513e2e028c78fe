package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/internal/storage"
	"notifyd/pkg/logx"
)

var (
	ErrNeverFires  = errors.New("dispatch: schedule never fires")
	ErrTooMany     = errors.New("dispatch: too many pending notifications")
	ErrNotSchedule = errors.New("dispatch: notification has no schedule")
)

// Deliverer receives fired notifications. *delivery.Service satisfies it.
type Deliverer interface {
	Submit(ctx context.Context, n notify.Notification) error
}

// Service owns the pending set and its runtime timers.
//
// It is safe for concurrent use.
type Service struct {
	mu  sync.Mutex
	cfg Config
	loc *time.Location

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	out   Deliverer

	recs map[int32]storage.PendingRecord

	// Runtime timers with per-ID versions so stale callbacks no-op.
	tmu    sync.Mutex
	timers map[int32]*time.Timer
	vers   map[int32]uint64

	c       *cron.Cron
	started bool
}

func New(cfg Config, store storage.Store, out Deliverer, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		bus:    bus,
		store:  store,
		out:    out,
		recs:   map[int32]storage.PendingRecord{},
		timers: map[int32]*time.Timer{},
		vers:   map[int32]uint64{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.applyLocked(cfg)
	restart := s.started && oldTZ != newTZ
	s.mu.Unlock()

	if restart {
		// Calendar patterns resolve against the new zone; recompute
		// every armed instant.
		s.rearmAll()
	}
}

func (s *Service) applyLocked(cfg Config) {
	if strings.TrimSpace(cfg.JanitorSpec) == "" {
		cfg.JanitorSpec = "@every 10m"
	}
	if cfg.Grace <= 0 {
		cfg.Grace = time.Hour
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 1000
	}
	s.cfg = cfg
	s.loc = loadLocation(cfg.Timezone, s.log)
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start restores pending notifications from storage and arms timers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	loc := s.loc
	spec := s.cfg.JanitorSpec
	s.mu.Unlock()

	if s.store != nil {
		recs, err := s.store.ListPending(ctx)
		if err != nil {
			s.mu.Lock()
			s.started = false
			s.mu.Unlock()
			return fmt.Errorf("restore pending: %w", err)
		}
		restored, dropped := 0, 0
		for _, rec := range recs {
			if s.restore(ctx, rec) {
				restored++
			} else {
				dropped++
			}
		}
		s.log.Info("pending restored", logx.Int("armed", restored), logx.Int("dropped", dropped))
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, s.sweep); err != nil {
		s.log.Warn("janitor spec rejected", logx.String("spec", spec), logx.Err(err))
	}
	c.Start()

	s.mu.Lock()
	s.c = c
	s.mu.Unlock()
	return nil
}

// Stop halts the janitor and all runtime timers. Pending records stay
// in storage so they resume on the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.started = false
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[int32]*time.Timer{}
	s.tmu.Unlock()
}

// Schedule validates, persists and arms a notification.
//
// A one-shot whose instant already passed is delivered immediately.
// Re-scheduling an existing ID replaces the previous entry.
func (s *Service) Schedule(ctx context.Context, n notify.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if n.Schedule == nil {
		return ErrNotSchedule
	}

	s.mu.Lock()
	loc := s.loc
	maxPending := s.cfg.MaxPending
	_, replacing := s.recs[n.ID]
	if !replacing && len(s.recs) >= maxPending {
		s.mu.Unlock()
		return ErrTooMany
	}
	s.mu.Unlock()

	now := time.Now().In(loc)
	next := n.Schedule.NextTrigger(now)
	if next.IsZero() {
		if !n.Schedule.Repeats() && n.Schedule.At != nil {
			// Past one-shot: platform convention is to show it right away.
			s.fireNow(ctx, n)
			return nil
		}
		return ErrNeverFires
	}

	rec := storage.PendingRecord{
		Notification: n,
		NextFire:     next.UnixMilli(),
	}
	if n.Schedule.Interval != nil {
		rec.Pattern = n.Schedule.Interval.Interval.String()
	}

	if s.store != nil {
		if err := s.store.SavePending(ctx, rec); err != nil {
			return fmt.Errorf("persist pending: %w", err)
		}
	}

	s.mu.Lock()
	s.recs[n.ID] = rec
	s.mu.Unlock()

	s.arm(n.ID, next)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduled, ID: n.ID})
	}
	s.log.Debug("scheduled",
		logx.Int("id", int(n.ID)),
		logx.Time("next", next),
		logx.Bool("repeats", n.Schedule.Repeats()))
	return nil
}

// Cancel withdraws pending notifications by ID. Unknown IDs are ignored.
func (s *Service) Cancel(ctx context.Context, ids ...int32) {
	for _, id := range ids {
		s.mu.Lock()
		_, ok := s.recs[id]
		delete(s.recs, id)
		s.mu.Unlock()
		if !ok {
			continue
		}

		s.disarm(id)
		if s.store != nil {
			if err := s.store.DeletePending(ctx, id); err != nil {
				s.log.Warn("cancel persist failed", logx.Int("id", int(id)), logx.Err(err))
			}
		}
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeCanceled, ID: id})
		}
	}
}

// CancelAll withdraws every pending notification.
func (s *Service) CancelAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]int32, 0, len(s.recs))
	for id := range s.recs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	s.Cancel(ctx, ids...)
}

// Pending lists the armed notifications, ordered by fire instant then ID.
func (s *Service) Pending() []notify.Pending {
	s.mu.Lock()
	out := make([]notify.Pending, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, notify.Pending{
			ID:             rec.Notification.ID,
			Title:          rec.Notification.Title,
			Body:           rec.Notification.Body,
			Schedule:       rec.Notification.Schedule,
			NextFireMillis: rec.NextFire,
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextFireMillis != out[j].NextFireMillis {
			return out[i].NextFireMillis < out[j].NextFireMillis
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// restore re-arms one stored record. Missed one-shots within the grace
// window fire immediately; older ones are dropped.
func (s *Service) restore(ctx context.Context, rec storage.PendingRecord) bool {
	n := rec.Notification
	if n.Schedule == nil {
		s.dropStored(ctx, rec.ID())
		return false
	}

	s.mu.Lock()
	loc := s.loc
	grace := s.cfg.Grace
	s.mu.Unlock()

	now := time.Now().In(loc)
	at := time.UnixMilli(rec.NextFire).In(loc)

	if at.After(now) {
		s.mu.Lock()
		s.recs[n.ID] = rec
		s.mu.Unlock()
		s.arm(n.ID, at)
		return true
	}

	// Fire instant passed while we were down.
	if n.Schedule.Repeats() {
		next := n.Schedule.NextTrigger(now)
		if next.IsZero() {
			s.dropStored(ctx, rec.ID())
			return false
		}
		rec.NextFire = next.UnixMilli()
		if s.store != nil {
			_ = s.store.SavePending(ctx, rec)
		}
		s.mu.Lock()
		s.recs[n.ID] = rec
		s.mu.Unlock()
		s.arm(n.ID, next)
		return true
	}

	s.dropStored(ctx, rec.ID())
	if now.Sub(at) <= grace {
		s.fireNow(ctx, n)
		return true
	}
	s.log.Debug("stale one-shot dropped", logx.Int("id", int(rec.ID())), logx.Time("was_due", at))
	return false
}

func (s *Service) dropStored(ctx context.Context, id int32) {
	if s.store == nil {
		return
	}
	if err := s.store.DeletePending(ctx, id); err != nil {
		s.log.Warn("drop persist failed", logx.Int("id", int(id)), logx.Err(err))
	}
}

func (s *Service) arm(id int32, at time.Time) {
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	s.tmu.Lock()
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
	}
	ver := s.vers[id] + 1
	s.vers[id] = ver
	s.timers[id] = time.AfterFunc(delay, func() {
		// A replaced or canceled timer must ignore its callback.
		s.tmu.Lock()
		if s.vers[id] != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, id)
		s.tmu.Unlock()
		s.fire(id)
	})
	s.tmu.Unlock()
}

func (s *Service) disarm(id int32) {
	s.tmu.Lock()
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
	}
	s.vers[id]++
	s.tmu.Unlock()
}

func (s *Service) fire(id int32) {
	s.mu.Lock()
	rec, ok := s.recs[id]
	loc := s.loc
	s.mu.Unlock()
	if !ok {
		return
	}
	n := rec.Notification

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeFired, ID: id})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.out != nil {
		if err := s.out.Submit(ctx, n); err != nil {
			s.log.Warn("delivery submit failed", logx.Int("id", int(id)), logx.Err(err))
		}
	}

	if n.Schedule != nil && n.Schedule.Repeats() {
		now := time.Now().In(loc)
		next := n.Schedule.NextTrigger(now)
		if !next.IsZero() {
			fired := rec.NextFire
			rec.NextFire = next.UnixMilli()
			s.mu.Lock()
			cur, live := s.recs[id]
			stale := !live || cur.NextFire != fired
			if !stale {
				s.recs[id] = rec
			}
			s.mu.Unlock()
			if stale {
				// Canceled or rescheduled while delivering; the entry is
				// no longer ours to rearm.
				return
			}
			if s.store != nil {
				if err := s.store.SavePending(ctx, rec); err != nil {
					s.log.Warn("rearm persist failed", logx.Int("id", int(id)), logx.Err(err))
				}
			}
			s.arm(id, next)
			return
		}
	}

	// One-shot (or a repeat that ran out): forget it, unless a concurrent
	// reschedule already took the ID over.
	s.mu.Lock()
	cur, live := s.recs[id]
	stale := !live || cur.NextFire != rec.NextFire
	if !stale {
		delete(s.recs, id)
	}
	s.mu.Unlock()
	if !stale {
		s.dropStored(ctx, id)
	}
}

func (s *Service) fireNow(ctx context.Context, n notify.Notification) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeFired, ID: n.ID})
	}
	if s.out != nil {
		if err := s.out.Submit(ctx, n); err != nil {
			s.log.Warn("delivery submit failed", logx.Int("id", int(n.ID)), logx.Err(err))
		}
	}
}

// rearmAll recomputes every armed instant, used after a timezone change.
func (s *Service) rearmAll() {
	s.mu.Lock()
	loc := s.loc
	recs := make([]storage.PendingRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	now := time.Now().In(loc)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, rec := range recs {
		n := rec.Notification
		if n.Schedule == nil {
			continue
		}
		next := n.Schedule.NextTrigger(now)
		if next.IsZero() {
			continue
		}
		if next.UnixMilli() == rec.NextFire {
			continue
		}
		rec.NextFire = next.UnixMilli()
		if s.store != nil {
			_ = s.store.SavePending(ctx, rec)
		}
		s.mu.Lock()
		s.recs[n.ID] = rec
		s.mu.Unlock()
		s.arm(n.ID, next)
	}
	s.log.Info("timers rearmed", logx.String("tz", loc.String()), logx.Int("count", len(recs)))
}

// sweep drops stored records whose fire instant was missed by more than
// the grace window and which have no runtime timer. Normally a no-op;
// it guards against records orphaned by a crash between persist and arm.
func (s *Service) sweep() {
	s.mu.Lock()
	loc := s.loc
	grace := s.cfg.Grace
	recs := make([]storage.PendingRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	now := time.Now().In(loc)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	swept := 0
	for _, rec := range recs {
		due := time.UnixMilli(rec.NextFire).In(loc)
		if now.Sub(due) <= grace {
			continue
		}
		s.tmu.Lock()
		_, armed := s.timers[rec.ID()]
		s.tmu.Unlock()
		if armed {
			continue
		}
		s.mu.Lock()
		delete(s.recs, rec.ID())
		s.mu.Unlock()
		s.dropStored(ctx, rec.ID())
		swept++
	}
	if swept > 0 {
		s.log.Info("stale pending swept", logx.Int("count", swept))
	}
}
