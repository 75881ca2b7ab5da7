package journal

import (
	"context"
	"sort"
	"sync"

	"github.com/brojonat/mintmarket/service/market"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]market.OperationRecord
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]market.OperationRecord)}
}

func (s *MemoryStore) Save(ctx context.Context, rec market.OperationRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = copyRecord(rec)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (market.OperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return market.OperationRecord{}, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) List(ctx context.Context, params ListParams) ([]market.OperationRecord, error) {
	s.mu.RLock()
	out := make([]market.OperationRecord, 0)
	for _, rec := range s.records {
		if params.matches(rec) {
			out = append(out, copyRecord(rec))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit := params.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func copyRecord(rec market.OperationRecord) market.OperationRecord {
	if rec.TokenID != nil {
		id := *rec.TokenID
		rec.TokenID = &id
	}
	if rec.Price != nil {
		p := *rec.Price
		rec.Price = &p
	}
	if rec.SettledAt != nil {
		at := *rec.SettledAt
		rec.SettledAt = &at
	}
	return rec
}
