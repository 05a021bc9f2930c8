package deliverylog

import (
	"context"
	"slices"
	"sync"
	"time"

	"promise-service.io/promise/internal/domain"
)

// MemoryStore keeps attempts in process. It backs tests and local runs
// without PostgreSQL.
type MemoryStore struct {
	mu     sync.RWMutex
	byKey  map[Key]Attempt
	rows   []Attempt
	nextID int64
	now    func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{byKey: make(map[Key]Attempt), now: now}
}

func (s *MemoryStore) Record(_ context.Context, a Attempt) (Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[a.Key]; ok {
		return existing, false, nil
	}
	s.nextID++
	a.ID = s.nextID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.byKey[a.Key] = a
	s.rows = append(s.rows, a)
	return a, true, nil
}

func (s *MemoryStore) Find(_ context.Context, key Key) (Attempt, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byKey[key]
	return a, ok, nil
}

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *MemoryStore) filter(keep func(Attempt) bool) []Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Attempt, 0)
	for _, a := range s.rows {
		if keep(a) {
			out = append(out, a)
		}
	}
	newestFirst(out)
	return out
}

func newestFirst(rows []Attempt) {
	slices.SortStableFunc(rows, func(a, b Attempt) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
}

func (s *MemoryStore) FindByMeeting(_ context.Context, meetingID int64) ([]Attempt, error) {
	return s.filter(func(a Attempt) bool { return a.MeetingID == meetingID }), nil
}

func (s *MemoryStore) FindByUser(_ context.Context, userID int64) ([]Attempt, error) {
	return s.filter(func(a Attempt) bool { return a.UserID == userID }), nil
}

func (s *MemoryStore) FindByTrace(_ context.Context, traceID string) ([]Attempt, error) {
	return s.filter(func(a Attempt) bool { return a.TraceID == traceID }), nil
}

func (s *MemoryStore) SuccessRate(_ context.Context, channel domain.Channel, w Window) (float64, error) {
	var ok, total int64
	for _, a := range s.filter(func(a Attempt) bool {
		return (channel == "" || a.Channel == channel) &&
			!a.CreatedAt.Before(w.From) && a.CreatedAt.Before(w.To)
	}) {
		total++
		if a.IsSuccess() {
			ok++
		}
	}
	return rate(ok, total), nil
}

func (s *MemoryStore) MeetingSuccessRate(ctx context.Context, meetingID int64) (float64, error) {
	rows, _ := s.FindByMeeting(ctx, meetingID)
	var ok int64
	for _, a := range rows {
		if a.IsSuccess() {
			ok++
		}
	}
	return rate(ok, int64(len(rows))), nil
}

func (s *MemoryStore) RecentFailures(_ context.Context, channel domain.Channel, limit int) ([]Attempt, error) {
	out := s.filter(func(a Attempt) bool {
		return !a.IsSuccess() && (channel == "" || a.Channel == channel)
	})
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var deleted int64
	for _, a := range s.rows {
		if a.CreatedAt.Before(cutoff) {
			delete(s.byKey, a.Key)
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	s.rows = kept
	return deleted, nil
}
