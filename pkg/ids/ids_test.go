package ids

import (
	"sync"
	"testing"
	"time"
)

func TestRequestIDsIncrease(t *testing.T) {
	prev := Request()
	for i := 0; i < 200; i++ {
		next := Request()
		if len(next) != 26 {
			t.Fatalf("expected 26 characters, got %d", len(next))
		}
		if next <= prev {
			t.Fatalf("expected %s > %s", next, prev)
		}
		prev = next
	}
}

func TestRequestIDsUniqueAcrossGoroutines(t *testing.T) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := Request()
				mu.Lock()
				if _, dup := seen[id]; dup {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 400 {
		t.Fatalf("expected 400 ids, got %d", len(seen))
	}
}

func TestTime(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	id := at(now).String()

	got, err := Time(id)
	if err != nil {
		t.Fatalf("Time error: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("Time = %v, want %v", got, now)
	}

	if _, err := Time("not-a-ulid"); err == nil {
		t.Fatal("expected parse error")
	}
}
