package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage keeps jobs in process memory. Used by tests and by the
// service when no database is configured.
type MemoryStorage struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	now  func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{jobs: make(map[uuid.UUID]*Job), now: time.Now}
}

// WithClock overrides time.Now for claim decisions.
func (s *MemoryStorage) WithClock(now func() time.Time) *MemoryStorage {
	s.now = now
	return s
}

func (s *MemoryStorage) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStorage) Claim(_ context.Context, queues []string, lockFor time.Duration) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var best *Job
	for _, j := range s.jobs {
		due := j.Status == JobStatusPending ||
			(j.Status == JobStatusRunning && j.LockedUntil != nil && !j.LockedUntil.After(now))
		if !due || j.RunAt.After(now) || !slices.Contains(queues, j.Queue) {
			continue
		}
		if best == nil || j.RunAt.Before(best.RunAt) {
			best = j
		}
	}
	if best == nil {
		return nil, ErrNoJob
	}

	until := now.Add(lockFor)
	best.Status = JobStatusRunning
	best.LockedUntil = &until
	best.Attempts++
	cp := *best
	return &cp, nil
}

func (s *MemoryStorage) Complete(_ context.Context, id uuid.UUID) error {
	return s.update(id, func(j *Job) {
		j.Status = JobStatusCompleted
		j.LockedUntil = nil
	})
}

func (s *MemoryStorage) Retry(_ context.Context, id uuid.UUID, runAt time.Time, errMsg string) error {
	return s.update(id, func(j *Job) {
		j.Status = JobStatusPending
		j.RunAt = runAt
		j.LockedUntil = nil
		j.Error = errMsg
	})
}

func (s *MemoryStorage) Bury(_ context.Context, id uuid.UUID, errMsg string) error {
	return s.update(id, func(j *Job) {
		j.Status = JobStatusDead
		j.LockedUntil = nil
		j.Error = errMsg
	})
}

// Get returns a copy of a stored job.
func (s *MemoryStorage) Get(id uuid.UUID) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Jobs returns copies of all jobs with the given status.
func (s *MemoryStorage) Jobs(status JobStatus) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if j.Status == status {
			out = append(out, *j)
		}
	}
	return out
}

func (s *MemoryStorage) update(id uuid.UUID, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	fn(j)
	return nil
}
