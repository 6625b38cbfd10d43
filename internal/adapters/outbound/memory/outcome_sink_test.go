package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
)

func outcome(seq int) entity.SubmissionOutcome {
	return entity.SubmissionOutcome{Network: "base", Sequence: seq, Success: true}
}

func sequences(outcomes []entity.SubmissionOutcome) []int {
	out := make([]int, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Sequence
	}
	return out
}

func TestOutcomeSink_NewestFirst(t *testing.T) {
	sink := NewOutcomeSink(5)
	for i := 0; i < 3; i++ {
		if err := sink.Publish(context.Background(), outcome(i)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	got := sequences(sink.RecentOutcomes(0))
	want := []int{2, 1, 0}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestOutcomeSink_EvictsOldest(t *testing.T) {
	sink := NewOutcomeSink(3)
	for i := 0; i < 7; i++ {
		_ = sink.Publish(context.Background(), outcome(i))
	}

	got := sequences(sink.RecentOutcomes(10))
	if len(got) != 3 || got[0] != 6 || got[2] != 4 {
		t.Errorf("RecentOutcomes = %v, want [6 5 4]", got)
	}
	if sink.Total() != 7 {
		t.Errorf("Total = %d, want 7", sink.Total())
	}
}

func TestOutcomeSink_Limit(t *testing.T) {
	sink := NewOutcomeSink(0)
	for i := 0; i < 10; i++ {
		_ = sink.Publish(context.Background(), outcome(i))
	}

	got := sequences(sink.RecentOutcomes(2))
	if len(got) != 2 || got[0] != 9 || got[1] != 8 {
		t.Errorf("RecentOutcomes(2) = %v, want [9 8]", got)
	}
}

func TestOutcomeSink_ClosedDropsPublishes(t *testing.T) {
	sink := NewOutcomeSink(3)
	_ = sink.Publish(context.Background(), outcome(1))
	_ = sink.Close()
	_ = sink.Publish(context.Background(), outcome(2))

	if got := sink.RecentOutcomes(0); len(got) != 1 {
		t.Errorf("retained %d outcomes after close, want 1", len(got))
	}
}

func TestOutcomeSink_OnPublishAndConcurrency(t *testing.T) {
	sink := NewOutcomeSink(16)
	var mu sync.Mutex
	seen := 0
	sink.OnPublish(func(entity.SubmissionOutcome) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = sink.Publish(context.Background(), outcome(i))
			_ = sink.RecentOutcomes(5)
		}(i)
	}
	wg.Wait()

	if seen != 50 || sink.Total() != 50 {
		t.Errorf("seen = %d, total = %d, want 50", seen, sink.Total())
	}
	if got := len(sink.RecentOutcomes(0)); got != 16 {
		t.Errorf("retained %d, want 16", got)
	}
}
