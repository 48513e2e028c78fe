package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"notifyd/pkg/logx"
)

// reloadSettle is how long a change must be quiet before reloading, so a
// half-written file is not parsed mid-save.
const reloadSettle = 250 * time.Millisecond

// Manager loads the config file and republishes it to subscribers when it
// changes on disk. JSON and YAML files are accepted; decoding is strict,
// unknown keys are an error.
type Manager struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	// subsMu also covers sends, so publish never races a close in
	// Unsubscribe.
	subsMu sync.Mutex
	subs   []chan *Config

	validate func(ctx context.Context, cfg *Config) error

	settleMu sync.Mutex
	settle   *time.Timer
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop()}
}

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs a hook Watch runs against every parsed candidate.
// A rejected candidate is dropped and the previous config stays live.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validate = fn
}

// Parse reads and strictly decodes the config file without committing it.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, err := asJSON(m.path, raw)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	switch err := dec.Decode(&struct{}{}); err {
	case io.EOF:
	case nil:
		return nil, fmt.Errorf("config %s: trailing data after document", m.path)
	default:
		return nil, err
	}
	return &cfg, nil
}

// Load parses the file and makes the result current.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s != ch {
			continue
		}
		m.subs[i] = m.subs[len(m.subs)-1]
		m.subs[len(m.subs)-1] = nil
		m.subs = m.subs[:len(m.subs)-1]
		close(ch)
		return
	}
}

// publish pushes cfg to every subscriber. A full buffer loses its oldest
// entry so the subscriber always wakes to the newest config.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	stuck := 0
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			stuck++
		}
	}
	if stuck > 0 {
		m.log.Debug("config publish skipped stuck subscribers", logx.Int("count", stuck))
	}
}

// scheduleReload (re)starts the settle timer; reload runs once the file
// has been quiet for reloadSettle.
func (m *Manager) scheduleReload(ctx context.Context) {
	m.settleMu.Lock()
	defer m.settleMu.Unlock()
	if m.settle != nil {
		m.settle.Stop()
	}
	m.settle = time.AfterFunc(reloadSettle, func() { m.reload(ctx) })
}

// reload parses the file and, when it carries new valid content, commits
// and publishes it. Parse or validation failures keep the previous config.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}

	h := hashConfig(cfg)
	m.mu.RLock()
	same := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if same {
		m.log.Debug("config reload skipped, content unchanged", logx.String("path", m.path))
		return
	}

	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected, keeping previous", logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path))
}

// retryDelay is a jittered exponential backoff for watcher restarts.
type retryDelay struct {
	cur, base, max time.Duration
	rng            *rand.Rand
}

func newRetryDelay(base, max time.Duration) *retryDelay {
	return &retryDelay{
		cur:  base,
		base: base,
		max:  max,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *retryDelay) reset() { r.cur = r.base }

func (r *retryDelay) next() time.Duration {
	wait := r.cur + time.Duration(r.rng.Int63n(int64(r.cur/2)+1))
	r.cur *= 2
	if r.cur > r.max {
		r.cur = r.max
	}
	return wait
}

// Watch reloads and publishes the config whenever the file changes,
// until ctx is canceled. The directory is watched rather than the file so
// rename-based atomic saves keep working, and a dead watcher is recreated
// with backoff.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)
	retry := newRetryDelay(250*time.Millisecond, 5*time.Second)

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			m.log.Warn("config watch setup failed", logx.String("dir", dir), logx.Err(err))
			if !sleepCtx(ctx, retry.next()) {
				return nil
			}
			continue
		}

		retry.reset()
		m.log.Debug("config watcher running", logx.String("path", m.path))
		m.watchEvents(ctx, w, file)
		_ = w.Close()

		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher stopped, restarting", logx.String("dir", dir))
		if !sleepCtx(ctx, retry.next()) {
			return nil
		}
	}
	return nil
}

// watchEvents consumes one watcher until it breaks or ctx ends.
func (m *Manager) watchEvents(ctx context.Context, w *fsnotify.Watcher, file string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			// Match on basename; editors rewrite via temp file + rename
			// and the event path form varies by platform.
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				m.scheduleReload(ctx)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "overflow") {
				// Events were lost; the file may have changed unseen.
				m.log.Warn("config watch overflow, forcing reload", logx.Err(err))
				m.scheduleReload(ctx)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
			if strings.Contains(msg, "closed") {
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
