package journal

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"paysweep/internal/sweep"
)

// Entry is one finished sweep as kept for operators. Entries are never read
// back by the sweep itself.
type Entry struct {
	RunID            string          `json:"runId"`
	Chain            string          `json:"chain,omitempty"`
	StartedAt        time.Time       `json:"startedAt"`
	FinishedAt       time.Time       `json:"finishedAt"`
	ProcessedRecords int             `json:"processedRecords"`
	ExecutedPayments int             `json:"executedPayments"`
	Outcomes         []sweep.Outcome `json:"perRecordOutcome"`
	Error            string          `json:"error,omitempty"`
	ExpiresAt        time.Time       `json:"expiresAt"`
}

// FromResult converts a sweep result and its run error into an entry.
func FromResult(res sweep.Result, runErr error, retention time.Duration) Entry {
	e := Entry{
		RunID:            res.RunID,
		Chain:            res.Chain,
		StartedAt:        res.StartedAt,
		FinishedAt:       res.FinishedAt,
		ProcessedRecords: res.ProcessedRecords,
		ExecutedPayments: res.ExecutedPayments,
		Outcomes:         res.Outcomes,
		ExpiresAt:        res.FinishedAt.Add(retention),
	}
	if e.Outcomes == nil {
		e.Outcomes = []sweep.Outcome{}
	}
	if runErr != nil {
		e.Error = runErr.Error()
	}
	return e
}

// Store abstracts journal persistence. Latest returns nil when empty; List
// returns newest first.
type Store interface {
	Save(ctx context.Context, entry Entry) error
	Latest(ctx context.Context) (*Entry, error)
	List(ctx context.Context, limit int) ([]Entry, error)
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Entry
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Entry),
		now:  time.Now,
	}
}

func (m *MemoryStore) Save(_ context.Context, entry Entry) error {
	if entry.RunID == "" {
		return errors.New("journal entry has no run id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[entry.RunID] = entry
	return nil
}

func (m *MemoryStore) Latest(ctx context.Context) (*Entry, error) {
	return latestOf(m.List(ctx, 1))
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newest(m.data, m.now(), limit), nil
}

// FileStore persists entries to disk. Suitable for single-instance deployments.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Entry
	now  func() time.Time
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]Entry),
		now:  time.Now,
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Save stores the entry and drops expired ones before writing the file.
func (f *FileStore) Save(_ context.Context, entry Entry) error {
	if entry.RunID == "" {
		return errors.New("journal entry has no run id")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	for id, e := range f.data {
		if now.After(e.ExpiresAt) {
			delete(f.data, id)
		}
	}
	f.data[entry.RunID] = entry
	return f.persist()
}

func (f *FileStore) Latest(ctx context.Context) (*Entry, error) {
	return latestOf(f.List(ctx, 1))
}

func (f *FileStore) List(_ context.Context, limit int) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return newest(f.data, f.now(), limit), nil
}

func newest(data map[string]Entry, now time.Time, limit int) []Entry {
	out := make([]Entry, 0, len(data))
	for _, e := range data {
		if now.After(e.ExpiresAt) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FinishedAt.Equal(out[j].FinishedAt) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func latestOf(entries []Entry, err error) (*Entry, error) {
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}
