package delivery

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("delivery disabled")
	ErrQueueFull = errors.New("delivery queue full")
	ErrStopped   = errors.New("delivery stopped")
)

type job struct {
	n notify.Notification
	// dedupKey is computed at enqueue time for cheap per-worker processing.
	dedupKey string
}

// Service implements the async delivery pipeline:
// queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	sinks []Sink
	bus   eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	workerWG sync.WaitGroup
	runCtx   context.Context
	runStop  context.CancelFunc
	stopDone chan struct{} // non-nil while stopping

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	// Delivered-but-not-removed notifications, insertion ordered.
	amu    sync.Mutex
	active []notify.Active

	// In-memory history (for status surfaces)
	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sinks []Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sinks: sinks,
		log:   log,
		bus:   bus,
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 500
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent. A disabled service starts nothing but still
// accepts Apply.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.runCtx, s.runStop = context.WithCancel(context.Background())
	q := s.queue
	rc := s.runCtx
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			s.workerLoop(rc, q)
		}()
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	cancel := s.runStop
	// If not running, nothing to do.
	if q == nil {
		s.mu.Unlock()
		return
	}
	// If already stopping, wait.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	// Block new submissions.
	s.accepting = false
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without leaking state.
	go func() {
		defer close(done)
		// Wait for in-flight enqueues to finish, then close the queue so workers can drain.
		s.sendWG.Wait()
		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		s.workerWG.Wait()

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.runCtx = nil
		s.runStop = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Force-stop workers mid-send.
		if cancel != nil {
			cancel()
		}
	}
}

// Submit enqueues a fired notification for delivery.
func (s *Service) Submit(ctx context.Context, n notify.Notification) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	dedupWindow := s.cfg.DedupWindow
	dedupMax := s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(n)
	if dedupWindow > 0 && key != "" {
		if !s.dedupAllow(key, dedupWindow, dedupMax) {
			s.log.Debug("delivery deduped", logx.Int("id", int(n.ID)), logx.String("key", key))
			return nil
		}
	}

	select {
	case q <- job{n: n, dedupKey: key}:
		return nil
	default:
		s.log.Warn("delivery queue full, dropping", logx.Int("id", int(n.ID)))
		return ErrQueueFull
	}
}

// Active returns the delivered-but-not-removed notifications,
// oldest first.
func (s *Service) Active() []notify.Active {
	s.amu.Lock()
	out := append([]notify.Active(nil), s.active...)
	s.amu.Unlock()
	return out
}

// Remove dismisses delivered notifications by ID. Unknown IDs are
// ignored.
func (s *Service) Remove(ids ...int32) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.amu.Lock()
	kept := s.active[:0]
	for _, a := range s.active {
		if _, ok := drop[a.ID]; ok {
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{Type: eventbus.TypeRemoved, ID: a.ID})
			}
			continue
		}
		kept = append(kept, a)
	}
	s.active = kept
	s.amu.Unlock()
}

// RemoveAll dismisses every delivered notification.
func (s *Service) RemoveAll() {
	s.amu.Lock()
	s.active = nil
	s.amu.Unlock()
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRemoved})
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) markActive(n notify.Notification) {
	a := notify.Active{
		ID:           n.ID,
		Title:        n.Title,
		Body:         n.Body,
		Group:        n.Group,
		GroupSummary: n.GroupSummary,
		ActionTypeID: n.ActionTypeID,
		Schedule:     n.Schedule,
		Sound:        n.Sound,
	}
	s.mu.Lock()
	maxActive := s.cfg.MaxActive
	s.mu.Unlock()

	s.amu.Lock()
	// Re-delivery of the same ID replaces the old entry.
	kept := s.active[:0]
	for _, old := range s.active {
		if old.ID != a.ID {
			kept = append(kept, old)
		}
	}
	s.active = append(kept, a)
	if maxActive > 0 && len(s.active) > maxActive {
		s.active = s.active[len(s.active)-maxActive:]
	}
	s.amu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliverWithRetry(ctx, j)
		}
	}
}

func (s *Service) deliverWithRetry(runCtx context.Context, j job) {
	// config snapshot for this send
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sinks := s.sinks
	log := s.log
	bus := s.bus
	s.mu.Unlock()

	if len(sinks) == 0 {
		return
	}

	maxAttempts := 1
	if cfg.RetryMax > 0 {
		maxAttempts = 1 + cfg.RetryMax
	}

	delivered := false
	for _, sink := range sinks {
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			// Rate limit (honor cancellation).
			if lim != nil {
				if err := lim.Wait(runCtx); err != nil {
					return
				}
			}

			// Bound per-send call. Keep tight to avoid hanging workers.
			callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
			err := sink.Deliver(callCtx, j.n)
			cancel()
			if err == nil {
				delivered = true
				s.appendHistory(HistoryItem{At: time.Now(), ID: j.n.ID, Title: j.n.Title, Sink: sink.Name()})
				if bus != nil {
					bus.Publish(eventbus.Event{Type: eventbus.TypeDelivered, ID: j.n.ID, Detail: sink.Name()})
				}
				lastErr = nil
				break
			}
			lastErr = err
			log.Debug("delivery failed",
				logx.Any("err", err),
				logx.String("sink", sink.Name()),
				logx.Int("attempt", attempt),
				logx.Int("max", maxAttempts))

			if attempt >= maxAttempts {
				break
			}

			delay := retryDelay(cfg, attempt)
			if delay <= 0 {
				continue
			}
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-runCtx.Done():
				if !t.Stop() {
					<-t.C
				}
				return
			}
		}
		if lastErr != nil {
			log.Warn("delivery gave up",
				logx.Any("err", lastErr),
				logx.String("sink", sink.Name()),
				logx.Int("id", int(j.n.ID)))
		}
	}

	if delivered {
		s.markActive(j.n)
	}
}

func dedupKey(n notify.Notification) string {
	if n.Title == "" && n.Body == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.ChannelID))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(n.Title))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(n.Body))
	if n.Schedule != nil && n.Schedule.Interval != nil {
		_, _ = h.Write([]byte("|"))
		_, _ = h.Write([]byte(n.Schedule.Interval.Interval.Key()))
	}
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration, max int) bool {
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if s.dedup == nil {
		s.dedup = map[string]time.Time{}
	}
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}

	s.dedup[key] = now.Add(window)

	// Prune expired and cap.
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for max > 0 && len(s.dedup) > max {
		// Remove entries with earliest expiry until within cap.
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		if minKey == "" {
			break
		}
		delete(s.dedup, minKey)
	}
	return true
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	j := 0.7 + rng.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
