package reconciler

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"
)

// Store persists event records.
type Store interface {
	// Get returns ErrEventNotFound when the event was never recorded.
	Get(ctx context.Context, eventID string) (*Record, error)
	// Create returns ErrDuplicateEvent when the id is already recorded.
	Create(ctx context.Context, rec *Record) error
	Update(ctx context.Context, rec *Record) error
	Stats(ctx context.Context, since time.Time) (Stats, error)
	// DeleteProcessed removes processed records received before cutoff.
	DeleteProcessed(ctx context.Context, cutoff time.Time) (int64, error)
}

// MemoryStore is a Store for tests and single-process use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, eventID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	rec.Payload = slices.Clone(rec.Payload)
	return &rec, nil
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.EventID]; ok {
		return ErrDuplicateEvent
	}
	s.records[rec.EventID] = *rec
	return nil
}

func (s *MemoryStore) Update(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.EventID]; !ok {
		return ErrEventNotFound
	}
	s.records[rec.EventID] = *rec
	return nil
}

func (s *MemoryStore) Stats(_ context.Context, since time.Time) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Since: since, ByType: make(map[string]int)}
	var (
		timed int
		total time.Duration
	)
	for _, rec := range s.records {
		if rec.ReceivedAt.Before(since) {
			continue
		}
		st.Total++
		st.ByType[rec.Type]++
		switch rec.Status {
		case StatusProcessed:
			st.Processed++
		case StatusFailed:
			st.Failed++
		case StatusPending, StatusQueued:
			st.Pending++
		}
		if rec.ProcessingStartedAt != nil && rec.ProcessedAt != nil {
			timed++
			total += rec.ProcessedAt.Sub(*rec.ProcessingStartedAt)
		}
	}
	if timed > 0 {
		st.AvgProcessingTime = total / time.Duration(timed)
	}
	st.SuccessRate = successRate(st.Processed, st.Total)
	return st, nil
}

func (s *MemoryStore) DeleteProcessed(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.records {
		if rec.Status == StatusProcessed && rec.ReceivedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// successRate is the processed share in percent, rounded to two decimals.
func successRate(processed, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(processed)/float64(total)*10000) / 100
}
