package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"gpusweep/internal/logging"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const entriesPrefix = "/gpusweep/journal/"

// Outcome values recorded per region
const (
	OutcomeCreated = "created"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
	OutcomeDeleted = "deleted"
)

// Entry records what happened to one region during a sweep run
type Entry struct {
	RunID       string    `json:"run_id"`
	Region      string    `json:"region"`
	Instance    string    `json:"instance"`
	Outcome     string    `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	CommandsRun int       `json:"commands_run,omitempty"`
	Time        time.Time `json:"time"`
}

// Journal stores per-region sweep outcomes
type Journal interface {
	// Record appends an entry
	Record(ctx context.Context, entry Entry) error
	// List returns all entries ordered by time
	List(ctx context.Context) ([]Entry, error)
	// Close closes any connections
	Close() error
}

// EtcdJournal stores entries in etcd
type EtcdJournal struct {
	client *clientv3.Client
}

// NewEtcdJournal creates a new etcd-backed journal
func NewEtcdJournal(endpoints []string) (*EtcdJournal, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdJournal{client: cli}, nil
}

// Record appends an entry under a time-ordered key
func (j *EtcdJournal) Record(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	key := fmt.Sprintf("%s%d/%s/%s", entriesPrefix, entry.Time.UnixNano(), entry.RunID, entry.Region)
	if _, err := j.client.Put(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to store journal entry: %w", err)
	}
	return nil
}

// List returns all entries ordered by time
func (j *EtcdJournal) List(ctx context.Context) ([]Entry, error) {
	resp, err := j.client.Get(ctx, entriesPrefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	entries := make([]Entry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var entry Entry
		if err := json.Unmarshal(kv.Value, &entry); err != nil {
			logging.Logger().Warn("skipping unreadable journal entry",
				zap.ByteString("key", kv.Key),
				zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close closes the etcd client
func (j *EtcdJournal) Close() error {
	return j.client.Close()
}

// MemoryJournal keeps entries in memory (no persistence)
type MemoryJournal struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryJournal creates a new in-memory journal
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Record appends an entry
func (j *MemoryJournal) Record(ctx context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

// List returns all entries ordered by time
func (j *MemoryJournal) List(ctx context.Context) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := make([]Entry, len(j.entries))
	copy(entries, j.entries)
	sort.SliceStable(entries, func(i, k int) bool {
		return entries[i].Time.Before(entries[k].Time)
	})
	return entries, nil
}

// Close is a no-op for the in-memory journal
func (j *MemoryJournal) Close() error {
	return nil
}

// NewJournal creates the appropriate journal based on etcd availability
func NewJournal(endpoints []string) Journal {
	if len(endpoints) == 0 {
		logging.Logger().Info("No etcd endpoints configured, using in-memory journal")
		return NewMemoryJournal()
	}

	j, err := NewEtcdJournal(endpoints)
	if err != nil {
		logging.Logger().Warn("Failed to connect to etcd, falling back to in-memory journal",
			zap.Error(err))
		return NewMemoryJournal()
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := j.client.Get(ctx, entriesPrefix, clientv3.WithPrefix(), clientv3.WithLimit(1)); err != nil {
		logging.Logger().Warn("etcd connection test failed, falling back to in-memory journal",
			zap.Error(err))
		safeClose(j)
		return NewMemoryJournal()
	}

	logging.Logger().Info("Connected to etcd for journal storage",
		zap.Strings("endpoints", endpoints))
	return j
}

func safeClose(j Journal) {
	if err := j.Close(); err != nil {
		logging.Logger().Warn("failed to close journal", zap.Error(err))
	}
}
