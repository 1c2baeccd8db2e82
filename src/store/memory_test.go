package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCallLifecycle(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	meta := CallMeta{Phone: "5511999990000", LeadID: "l1", Step: "qualify", WebhookURL: "https://x", Context: "c"}
	if err := s.CreateCallWithMeta(ctx, "c1", meta); err != nil {
		t.Fatalf("CreateCallWithMeta: %v", err)
	}

	call, err := s.GetCall(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if call.Status != "active" || call.PhoneNumber != meta.Phone || call.LeadID != "l1" {
		t.Fatalf("call = %+v", call)
	}

	if err := s.SetAnsweredAt(ctx, "c1", time.Now()); err != nil {
		t.Fatalf("SetAnsweredAt: %v", err)
	}
	if err := s.AddTranscript(ctx, "c1", "caller", "oi"); err != nil {
		t.Fatalf("AddTranscript: %v", err)
	}
	if err := s.UpdateCallResult(ctx, "c1", "answered"); err != nil {
		t.Fatalf("UpdateCallResult: %v", err)
	}
	if err := s.EndCall(ctx, "c1", "hangup"); err != nil {
		t.Fatalf("EndCall: %v", err)
	}

	call, err = s.GetCall(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if call.Status != "completed" || call.EndReason != "hangup" || call.AnsweredAt == nil {
		t.Fatalf("ended call = %+v", call)
	}

	entries, err := s.GetTranscripts(ctx, "c1")
	if err != nil || len(entries) != 1 || entries[0].Content != "oi" {
		t.Fatalf("transcripts = %v, err %v", entries, err)
	}
}

func TestMemoryNotFound(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, err := s.GetCall(ctx, "nope"); err != ErrNotFound {
		t.Fatalf("GetCall err = %v, want ErrNotFound", err)
	}
	if err := s.EndCall(ctx, "nope", "x"); err != ErrNotFound {
		t.Fatalf("EndCall err = %v, want ErrNotFound", err)
	}
}

func TestMemoryHistoryPagingAndClear(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		s.CreateCall(ctx, id, "5511")
		// Stagger start times so ordering is deterministic.
		s.mu.Lock()
		s.calls[id].StartedAt = time.Now().Add(time.Duration(i) * time.Minute)
		s.mu.Unlock()
		s.EndCall(ctx, id, "hangup")
	}
	s.CreateCall(ctx, "live", "5522") // stays active, excluded from history

	calls, total, err := s.CallHistory(ctx, 1, 2)
	if err != nil {
		t.Fatalf("CallHistory: %v", err)
	}
	if total != 3 || len(calls) != 2 {
		t.Fatalf("page 1 = %d calls, total %d", len(calls), total)
	}
	// Newest first.
	if calls[0].ID != "c" || calls[1].ID != "b" {
		t.Fatalf("order = %s, %s", calls[0].ID, calls[1].ID)
	}

	calls, _, err = s.CallHistory(ctx, 2, 2)
	if err != nil || len(calls) != 1 || calls[0].ID != "a" {
		t.Fatalf("page 2 = %v, err %v", calls, err)
	}

	if err := s.ClearHistory(ctx); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if _, total, _ := s.CallHistory(ctx, 1, 10); total != 0 {
		t.Fatalf("history not cleared: total %d", total)
	}
	if _, err := s.GetCall(ctx, "live"); err != nil {
		t.Fatal("active call removed by ClearHistory")
	}
}

func TestMemoryStats(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	s.CreateCall(ctx, "a", "5511")
	s.CreateCall(ctx, "b", "5522")
	s.EndCall(ctx, "b", "hangup")

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalCalls != 2 || st.ActiveCalls != 1 || st.TodayCalls != 2 {
		t.Fatalf("stats = %+v", st)
	}
}
