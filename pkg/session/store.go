// Package session persists analysis sessions: which runs were loaded, how
// derived signals were produced, and which comparisons were configured.
// Snapshots are plain key-value structures, so a session can be rebuilt
// without the UI that created it.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vjranagit/tsdiff/pkg/types"
)

const (
	sessionPrefix = "session/"
	archivePrefix = "archive/"
)

// RunEntry records one loaded run and its display state
type RunEntry struct {
	Path          string                   `json:"path"`
	DisplayName   string                   `json:"display_name"`
	TimeOffset    float64                  `json:"time_offset,omitempty"`
	SignalDisplay map[string]types.Display `json:"signal_display,omitempty"`
	// ArchiveID points at an archived copy of the run's data, letting a
	// snapshot survive the source CSV moving or changing.
	ArchiveID string `json:"archive_id,omitempty"`
}

// DerivedEntry records a derived signal's provenance, enough to recompute
// it against reloaded runs.
type DerivedEntry struct {
	Name      string   `json:"name"`
	Operation string   `json:"operation"`
	Sources   []string `json:"sources"` // SignalRef string form
}

// Snapshot is one serializable session
type Snapshot struct {
	ID       string                `json:"id,omitempty"`
	Name     string                `json:"name"`
	SavedAt  time.Time             `json:"saved_at"`
	Runs     []RunEntry            `json:"runs"`
	Derived  []DerivedEntry        `json:"derived,omitempty"`
	Compares []types.CompareConfig `json:"compares,omitempty"`
}

// Info summarizes a stored session for listings
type Info struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	SavedAt time.Time `json:"saved_at"`
	Runs    int       `json:"runs"`
}

// Store is the badger-backed session database. Values are stored
// zstd-compressed.
type Store struct {
	db    *badger.DB
	codec *Codec
}

// Open opens (or creates) the store at path
func Open(path string, compressionLevel int) (*Store, error) {
	opts := badger.DefaultOptions(filepath.Join(path, "sessions"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	codec, err := NewCodec(compressionLevel)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, codec: codec}, nil
}

// Save stores a snapshot, assigning an ID when it has none
func (s *Store) Save(ctx context.Context, snap *Snapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	value := s.codec.Compress(raw)

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionPrefix+snap.ID), value)
	})
	if err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return snap.ID, nil
}

// Load retrieves a snapshot by ID
func (s *Store) Load(ctx context.Context, id string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	decompressed, err := s.codec.Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("decompress session %s: %w", id, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(decompressed, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &snap, nil
}

// List returns summaries of every stored session, newest first
func (s *Store) List(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var infos []Info
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(sessionPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				raw, err := s.codec.Decompress(val)
				if err != nil {
					return err
				}
				var snap Snapshot
				if err := json.Unmarshal(raw, &snap); err != nil {
					return err
				}
				infos = append(infos, Info{
					ID:      snap.ID,
					Name:    snap.Name,
					SavedAt: snap.SavedAt,
					Runs:    len(snap.Runs),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SavedAt.After(infos[j].SavedAt) })
	return infos, nil
}

// Delete removes a session
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionPrefix + id))
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	s.codec.Close()
	return s.db.Close()
}
