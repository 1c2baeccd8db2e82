package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps calls in process memory. It backs the service when no
// DATABASE_URL is configured and doubles as the test double for the
// orchestrator and the API.
type MemoryStore struct {
	mu          sync.RWMutex
	calls       map[string]*Call
	transcripts map[string][]TranscriptEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		calls:       make(map[string]*Call),
		transcripts: make(map[string][]TranscriptEntry),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) CreateCall(ctx context.Context, id, phone string) error {
	return s.CreateCallWithMeta(ctx, id, CallMeta{Phone: phone})
}

func (s *MemoryStore) CreateCallWithMeta(_ context.Context, id string, meta CallMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[id] = &Call{
		ID:          id,
		PhoneNumber: meta.Phone,
		LeadID:      meta.LeadID,
		Step:        meta.Step,
		WebhookURL:  meta.WebhookURL,
		Context:     meta.Context,
		Status:      "active",
		StartedAt:   time.Now(),
	}
	return nil
}

func (s *MemoryStore) SetAnsweredAt(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	c.AnsweredAt = &at
	return nil
}

func (s *MemoryStore) UpdateCallResult(_ context.Context, id, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	c.CallResult = result
	return nil
}

func (s *MemoryStore) EndCall(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	c.EndedAt = &now
	c.DurationSeconds = int(now.Sub(c.StartedAt).Seconds())
	c.Status = "completed"
	c.EndReason = reason
	return nil
}

func (s *MemoryStore) SetAudioPath(_ context.Context, id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	c.AudioPath = path
	return nil
}

func (s *MemoryStore) AddTranscript(_ context.Context, id, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[id] = append(s.transcripts[id], TranscriptEntry{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	return nil
}

func (s *MemoryStore) GetCall(_ context.Context, id string) (*Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetTranscripts(_ context.Context, id string) ([]TranscriptEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.transcripts[id]
	out := make([]TranscriptEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryStore) CallHistory(_ context.Context, page, limit int) ([]Call, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	s.mu.RLock()
	var ended []Call
	for _, c := range s.calls {
		if c.Status != "active" {
			ended = append(ended, *c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(ended, func(i, j int) bool {
		return ended[i].StartedAt.After(ended[j].StartedAt)
	})

	total := len(ended)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return ended[start:end], total, nil
}

func (s *MemoryStore) ClearHistory(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.calls {
		if c.Status != "active" {
			delete(s.calls, id)
			delete(s.transcripts, id)
		}
	}
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	dayStart := time.Now().Truncate(24 * time.Hour)
	var durSum, durCount int
	for _, c := range s.calls {
		st.TotalCalls++
		if c.Status == "active" {
			st.ActiveCalls++
		}
		if !c.StartedAt.Before(dayStart) {
			st.TodayCalls++
		}
		if c.EndedAt != nil {
			durSum += c.DurationSeconds
			durCount++
		}
	}
	if durCount > 0 {
		st.AvgDurationSeconds = durSum / durCount
	}
	return st, nil
}
