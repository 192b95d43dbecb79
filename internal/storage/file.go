package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"bongobot/internal/birthday"
	logx "bongobot/pkg/logx"
)

// document is the on-disk shape:
//
//	{"guilds": {"<tenant>": {"channelId": ..., "entries": [...], "announcedOn": ...}}}
type document struct {
	Guilds map[string]*docRegistry `json:"guilds"`
}

type docRegistry struct {
	ChannelID   *string           `json:"channelId"`
	Entries     []birthday.Record `json:"entries"`
	AnnouncedOn *string           `json:"announcedOn"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// MarshalDocument encodes registries in the document format.
func MarshalDocument(regs map[string]*birthday.Registry) ([]byte, error) {
	doc := document{Guilds: make(map[string]*docRegistry, len(regs))}
	for id, r := range regs {
		if r == nil {
			continue
		}
		entries := r.Entries
		if entries == nil {
			entries = []birthday.Record{}
		}
		doc.Guilds[id] = &docRegistry{
			ChannelID:   nullable(r.ChannelID),
			Entries:     entries,
			AnnouncedOn: nullable(r.AnnouncedOn),
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// UnmarshalDocument decodes the document format. Records written without an
// "md" key get it recomputed.
func UnmarshalDocument(b []byte) (map[string]*birthday.Registry, error) {
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	out := make(map[string]*birthday.Registry, len(doc.Guilds))
	for id, g := range doc.Guilds {
		if g == nil {
			continue
		}
		reg := &birthday.Registry{
			ChannelID:   deref(g.ChannelID),
			Entries:     make([]birthday.Record, 0, len(g.Entries)),
			AnnouncedOn: deref(g.AnnouncedOn),
		}
		for _, e := range g.Entries {
			if e.MD == "" {
				e.MD = birthday.MonthDayKey(e.Month, e.Day)
			}
			reg.Entries = append(reg.Entries, e)
		}
		out[id] = reg
	}
	return out, nil
}

// fileStore keeps the whole document in memory and rewrites it on every Save.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	regs   map[string]*birthday.Registry
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{log: log, path: path}
	s.regs = s.load()
	return s, nil
}

// load reads the document. A missing or unreadable document yields an empty
// store; corrupt bytes are kept next to it for manual recovery.
func (s *fileStore) load() map[string]*birthday.Registry {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]*birthday.Registry{}
	}
	if err != nil {
		s.log.Warn("birthday store unreadable; starting empty", logx.String("path", s.path), logx.Err(err))
		return map[string]*birthday.Registry{}
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return map[string]*birthday.Registry{}
	}
	regs, err := UnmarshalDocument(b)
	if err != nil {
		aside := s.path + ".corrupt"
		_ = os.WriteFile(aside, b, 0o600)
		s.log.Warn("birthday store corrupt; starting empty", logx.String("path", s.path), logx.String("kept", aside), logx.Err(err))
		return map[string]*birthday.Registry{}
	}
	s.log.Debug("birthday store loaded", logx.String("path", s.path), logx.Int("tenants", len(regs)))
	return regs
}

func (s *fileStore) Get(_ context.Context, tenantID string) (*birthday.Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.regs[tenantID].Clone(), nil
}

func (s *fileStore) Save(_ context.Context, tenantID string, reg *birthday.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, had := s.regs[tenantID]
	s.regs[tenantID] = reg.Clone()
	if err := s.writeLocked(); err != nil {
		if had {
			s.regs[tenantID] = prev
		} else {
			delete(s.regs, tenantID)
		}
		return err
	}
	return nil
}

func (s *fileStore) Tenants(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.regs))
	for id := range s.regs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// writeLocked writes the document to a temp file in the same directory and
// renames it into place, so readers never see a partial document.
func (s *fileStore) writeLocked() error {
	b, err := MarshalDocument(s.regs)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
