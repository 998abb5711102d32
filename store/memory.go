package store

import (
	"context"
	"sync"
	"time"

	"github.com/Mikkicon/bellflow/models"
)

// entry holds an archived job with the time it was last saved.
type entry struct {
	job     *models.ScrapeJob
	savedAt time.Time
}

// MemoryStore is an in-process archive. It is safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewMemoryStore creates a MemoryStore holding at most maxEntries jobs for
// ttl each. A background goroutine evicts expired entries every 5 minutes
// until Close.
func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	s := &MemoryStore{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go s.cleanupLoop(5 * time.Minute)
	return s
}

// Save stores a copy of job. When full, the oldest entry is evicted.
func (s *MemoryStore) Save(_ context.Context, job *models.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.store[job.JobID]; !exists && len(s.store) >= s.maxEntries {
		var oldestID string
		var oldest time.Time
		for id, e := range s.store {
			if oldestID == "" || e.savedAt.Before(oldest) {
				oldestID, oldest = id, e.savedAt
			}
		}
		delete(s.store, oldestID)
	}

	s.store[job.JobID] = &entry{job: job.Clone(), savedAt: s.now()}
	return nil
}

// Load returns the archived job if present and not expired.
func (s *MemoryStore) Load(_ context.Context, jobID string) (*models.ScrapeJob, bool, error) {
	s.mu.RLock()
	e, ok := s.store[jobID]
	s.mu.RUnlock()

	if !ok || s.now().Sub(e.savedAt) > s.ttl {
		return nil, false, nil
	}
	return e.job.Clone(), true, nil
}

// Len returns the number of archived jobs, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.store)
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *MemoryStore) evictExpired() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.store {
		if e.savedAt.Before(cutoff) {
			delete(s.store, k)
			n++
		}
	}
	return n
}
