// Package job keeps the state of long running API requests in memory.
package job

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newthinker/quantsim/internal/core"
)

// Status represents job status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Done reports whether the job has finished either way.
func (s Status) Done() bool {
	return s == StatusComplete || s == StatusFailed
}

// Job represents an async job.
type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Result    any       `json:"result,omitempty"`
	Err       error     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store manages async jobs. At most maxSize jobs are kept; finished jobs
// older than ttl are dropped on the next Create.
type Store struct {
	jobs    map[string]*Job
	order   []string // insertion order for eviction
	maxSize int
	ttl     time.Duration
	mu      sync.RWMutex
	now     func() time.Time
}

// NewStore creates a new job store.
func NewStore(maxSize int, ttl time.Duration) *Store {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Store{
		jobs:    make(map[string]*Job),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Create creates a new pending job and returns a copy of it.
func (s *Store) Create(jobType string) Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expire(now)

	j := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Evict the oldest finished job first, else the oldest job
	if len(s.jobs) >= s.maxSize {
		victim := 0
		for i, id := range s.order {
			if s.jobs[id].Status.Done() {
				victim = i
				break
			}
		}
		s.remove(victim)
	}

	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)
	return *j
}

// expire drops finished jobs not updated within ttl. Callers hold mu.
func (s *Store) expire(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for i := 0; i < len(s.order); {
		j := s.jobs[s.order[i]]
		if j.Status.Done() && now.Sub(j.UpdatedAt) > s.ttl {
			s.remove(i)
			continue
		}
		i++
	}
}

func (s *Store) remove(i int) {
	delete(s.jobs, s.order[i])
	s.order = append(s.order[:i], s.order[i+1:]...)
}

// Get retrieves a copy of the job with the given ID.
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, core.Errorf(core.ErrJobNotFound, "%s", id)
	}
	return *j, nil
}

// Update modifies a job using an update function.
func (s *Store) Update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return core.Errorf(core.ErrJobNotFound, "%s", id)
	}

	fn(j)
	j.UpdatedAt = s.now()
	return nil
}

// List returns all jobs, newest first.
func (s *Store) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		result = append(result, *s.jobs[s.order[i]])
	}
	return result
}
