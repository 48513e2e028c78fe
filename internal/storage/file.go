package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"notifyd/internal/notify"
	"notifyd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (full state, rewritten on compaction)
//   - <prefix>.journal.jsonl (append-only ops replayed over the snapshot)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	pending     map[int32]PendingRecord
	channels    map[string]notify.Channel
	actionTypes map[string]notify.ActionType

	writes int
}

const compactEvery = 256

type journalRecord struct {
	Op         string             `json:"op"`
	Pending    *PendingRecord     `json:"pending,omitempty"`
	PendingID  int32              `json:"pendingId,omitempty"`
	Channel    *notify.Channel    `json:"channel,omitempty"`
	ChannelID  string             `json:"channelId,omitempty"`
	ActionType *notify.ActionType `json:"actionType,omitempty"`
}

type snapshot struct {
	Pending     map[string]PendingRecord     `json:"pending,omitempty"`
	Channels    map[string]notify.Channel    `json:"channels,omitempty"`
	ActionTypes map[string]notify.ActionType `json:"actionTypes,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		pending:      map[int32]PendingRecord{},
		channels:     map[string]notify.Channel{},
		actionTypes:  map[string]notify.ActionType{},
	}
	_ = s.loadSnapshot(snapPath)
	_ = s.replayJournal(journalPath)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journalFile = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	// Leave a compacted snapshot behind so the next start replays nothing.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("compact on close failed", logx.Err(err))
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) SavePending(ctx context.Context, rec PendingRecord) error {
	_ = ctx
	if rec.ID() == 0 {
		return errors.New("pending record without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[rec.ID()] = rec
	return s.appendLocked(journalRecord{Op: "put_pending", Pending: &rec})
}

func (s *fileStore) DeletePending(ctx context.Context, id int32) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return nil
	}
	delete(s.pending, id)
	return s.appendLocked(journalRecord{Op: "del_pending", PendingID: id})
}

func (s *fileStore) ListPending(ctx context.Context) ([]PendingRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingRecord, 0, len(s.pending))
	for _, rec := range s.pending {
		out = append(out, rec)
	}
	return out, nil
}

func (s *fileStore) PutChannel(ctx context.Context, c notify.Channel) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[c.ID] = c
	return s.appendLocked(journalRecord{Op: "put_channel", Channel: &c})
}

func (s *fileStore) DeleteChannel(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; !ok {
		return nil
	}
	delete(s.channels, id)
	return s.appendLocked(journalRecord{Op: "del_channel", ChannelID: id})
}

func (s *fileStore) ListChannels(ctx context.Context) ([]notify.Channel, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c)
	}
	return out, nil
}

func (s *fileStore) PutActionType(ctx context.Context, t notify.ActionType) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionTypes[t.ID] = t
	return s.appendLocked(journalRecord{Op: "put_action_type", ActionType: &t})
}

func (s *fileStore) ListActionTypes(ctx context.Context) ([]notify.ActionType, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.ActionType, 0, len(s.actionTypes))
	for _, t := range s.actionTypes {
		out = append(out, t)
	}
	return out, nil
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := snapshot{
		Pending:     make(map[string]PendingRecord, len(s.pending)),
		Channels:    s.channels,
		ActionTypes: s.actionTypes,
	}
	for id, rec := range s.pending {
		snap.Pending[strconv.FormatInt(int64(id), 10)] = rec
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for idStr, rec := range snap.Pending {
		id, err := strconv.ParseInt(idStr, 10, 32)
		if err != nil {
			continue
		}
		s.pending[int32(id)] = rec
	}
	for id, c := range snap.Channels {
		s.channels[id] = c
	}
	for id, t := range snap.ActionTypes {
		s.actionTypes[id] = t
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Op {
		case "put_pending":
			if rec.Pending != nil && rec.Pending.ID() != 0 {
				s.pending[rec.Pending.ID()] = *rec.Pending
			}
		case "del_pending":
			delete(s.pending, rec.PendingID)
		case "put_channel":
			if rec.Channel != nil && rec.Channel.ID != "" {
				s.channels[rec.Channel.ID] = *rec.Channel
			}
		case "del_channel":
			delete(s.channels, rec.ChannelID)
		case "put_action_type":
			if rec.ActionType != nil && rec.ActionType.ID != "" {
				s.actionTypes[rec.ActionType.ID] = *rec.ActionType
			}
		}
	}
	return sc.Err()
}
