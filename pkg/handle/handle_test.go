package handle

import (
	"errors"
	"sync"
	"testing"
)

func TestInsertGetRemove(t *testing.T) {
	var table Table[string]

	h := table.Insert("runtime")
	if h == 0 {
		t.Fatal("expected non-zero handle")
	}

	got, err := table.Get(h)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != "runtime" {
		t.Fatalf("Get = %q, want %q", got, "runtime")
	}

	removed, err := table.Remove(h)
	if err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if removed != "runtime" {
		t.Fatalf("Remove = %q, want %q", removed, "runtime")
	}
	if table.Len() != 0 {
		t.Fatalf("Len = %d, want 0", table.Len())
	}
}

func TestStaleHandleRejectedAfterSlotReuse(t *testing.T) {
	var table Table[int]

	first := table.Insert(1)
	if _, err := table.Remove(first); err != nil {
		t.Fatalf("Remove error: %v", err)
	}

	second := table.Insert(2)
	if second == first {
		t.Fatal("expected reused slot to get a new generation")
	}

	if _, err := table.Get(first); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Get(stale) error = %v, want %v", err, ErrInvalid)
	}
	if _, err := table.Remove(first); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Remove(stale) error = %v, want %v", err, ErrInvalid)
	}

	got, err := table.Get(second)
	if err != nil || got != 2 {
		t.Fatalf("Get(second) = %d, %v; want 2, nil", got, err)
	}
}

func TestDoubleRemoveFails(t *testing.T) {
	var table Table[int]

	h := table.Insert(7)
	if _, err := table.Remove(h); err != nil {
		t.Fatalf("first Remove error: %v", err)
	}
	if _, err := table.Remove(h); !errors.Is(err, ErrInvalid) {
		t.Fatalf("second Remove error = %v, want %v", err, ErrInvalid)
	}
}

func TestZeroAndUnknownHandles(t *testing.T) {
	var table Table[int]

	if _, err := table.Get(0); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Get(0) error = %v, want %v", err, ErrInvalid)
	}
	if _, err := table.Get(makeHandle(42, 1)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Get(unknown) error = %v, want %v", err, ErrInvalid)
	}
}

func TestRemoveAll(t *testing.T) {
	var table Table[int]

	a := table.Insert(1)
	table.Insert(2)
	table.Insert(3)

	values := table.RemoveAll()
	if len(values) != 3 {
		t.Fatalf("RemoveAll len = %d, want 3", len(values))
	}
	if table.Len() != 0 {
		t.Fatalf("Len = %d, want 0", table.Len())
	}
	if _, err := table.Get(a); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Get after RemoveAll error = %v, want %v", err, ErrInvalid)
	}
}

func TestConcurrentInsertRemove(t *testing.T) {
	var table Table[int]
	var wg sync.WaitGroup

	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				h := table.Insert(i*1000 + j)
				if _, err := table.Remove(h); err != nil {
					t.Errorf("Remove error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if table.Len() != 0 {
		t.Fatalf("Len = %d, want 0", table.Len())
	}
}

func TestHandleString(t *testing.T) {
	if got := makeHandle(3, 7).String(); got != "3.7" {
		t.Fatalf("String() = %q, want 3.7", got)
	}
}
