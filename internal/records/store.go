// Package records maps analysis ids to persisted AnalysisRecords over a key-value store.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jonathan/resume-analyzer/internal/kv"
	"github.com/jonathan/resume-analyzer/internal/schemas"
	"github.com/jonathan/resume-analyzer/internal/types"
)

// KeyPrefix namespaces record keys inside a shared key-value store
const KeyPrefix = "resume:"

// Key returns the storage key for a record id
func Key(id string) string {
	return KeyPrefix + id
}

// Store is the only reader and writer of persisted analysis records
type Store struct {
	kv     kv.Store
	logger *slog.Logger
}

// NewStore creates a Store over the given key-value backend
func NewStore(backend kv.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: backend, logger: logger}
}

// Put writes rec under Key(rec.ID). Records are immutable, so writing an id twice fails.
func (s *Store) Put(ctx context.Context, rec *types.AnalysisRecord) error {
	if rec == nil || rec.ID == "" {
		return types.NewError(types.KindPersistenceFailed, "record has no id", nil)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return types.NewError(types.KindPersistenceFailed, "failed to encode record", err)
	}

	if err := s.kv.Insert(ctx, Key(rec.ID), data); err != nil {
		if errors.Is(err, kv.ErrKeyExists) {
			return types.NewError(types.KindPersistenceFailed,
				fmt.Sprintf("record %s already exists", rec.ID), err)
		}
		return types.NewError(types.KindPersistenceFailed,
			fmt.Sprintf("failed to write record %s", rec.ID), err)
	}
	return nil
}

// Get loads the record stored under id
func (s *Store) Get(ctx context.Context, id string) (*types.AnalysisRecord, error) {
	data, err := s.kv.Get(ctx, Key(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, types.NewError(types.KindNotFound, fmt.Sprintf("no analysis with id %s", id), nil)
		}
		return nil, fmt.Errorf("failed to read record %s: %w", id, err)
	}

	rec, err := decode(data)
	if err != nil {
		return nil, types.NewError(types.KindCorruptRecord, fmt.Sprintf("record %s is unreadable", id), err)
	}
	if rec.ID != id {
		return nil, types.NewError(types.KindCorruptRecord,
			fmt.Sprintf("record stored under %s carries id %q", id, rec.ID), nil)
	}
	return rec, nil
}

// List returns every readable record, newest first. Unreadable entries are skipped.
func (s *Store) List(ctx context.Context) ([]types.AnalysisRecord, error) {
	entries, err := s.kv.List(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	out := make([]types.AnalysisRecord, 0, len(entries))
	for _, e := range entries {
		rec, err := decode(e.Value)
		if err != nil {
			s.logger.Warn("skipping unreadable record", "key", e.Key, "error", err)
			continue
		}
		if Key(rec.ID) != e.Key {
			s.logger.Warn("skipping record with mismatched id", "key", e.Key, "id", rec.ID)
			continue
		}
		out = append(out, *rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return strings.Compare(out[i].ID, out[j].ID) < 0
	})
	return out, nil
}

func decode(data []byte) (*types.AnalysisRecord, error) {
	if err := schemas.ValidateRecord(string(data)); err != nil {
		return nil, err
	}

	var envelope struct {
		Feedback json.RawMessage `json:"feedback"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	if err := schemas.ValidateFeedback(string(envelope.Feedback)); err != nil {
		return nil, fmt.Errorf("feedback: %w", err)
	}

	var rec types.AnalysisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
