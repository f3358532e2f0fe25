package dedup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestAdmit_FirstCallWins(t *testing.T) {
	g := NewGate(0) // default capacity

	if !g.Admit("ev-1") {
		t.Fatalf("first Admit returned false")
	}
	for i := 0; i < 5; i++ {
		if g.Admit("ev-1") {
			t.Fatalf("repeat Admit %d returned true", i)
		}
	}
	if !g.Admit("ev-2") {
		t.Fatalf("distinct id rejected")
	}
}

func TestAdmit_EmptyIDNeverAdmitted(t *testing.T) {
	g := NewGate(10)
	if g.Admit("") {
		t.Fatalf("empty id admitted")
	}
	if g.Len() != 0 {
		t.Fatalf("empty id tracked, Len = %d", g.Len())
	}
}

func TestAdmit_ConcurrentSameID(t *testing.T) {
	g := NewGate(100)

	const workers = 64
	var admitted int32
	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer done.Done()
			start.Wait()
			if g.Admit("same-event") {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	start.Done()
	done.Wait()

	if admitted != 1 {
		t.Fatalf("admitted %d times, want exactly 1", admitted)
	}
}

func TestAdmit_ConcurrentDistinctIDs(t *testing.T) {
	g := NewGate(10000)

	const n = 200
	var admitted int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			if g.Admit(fmt.Sprintf("ev-%d", i)) {
				atomic.AddInt32(&admitted, 1)
			}
		}(i)
	}
	wg.Wait()

	if admitted != n {
		t.Fatalf("admitted %d distinct ids, want %d", admitted, n)
	}
}

func TestAdmit_CapacityEvictsOldest(t *testing.T) {
	g := NewGate(3)

	for _, id := range []string{"a", "b", "c"} {
		g.Admit(id)
	}
	g.Admit("d") // evicts "a"

	if g.Len() != 3 {
		t.Fatalf("Len = %d, want 3", g.Len())
	}
	if !g.Admit("a") {
		t.Fatalf("evicted id should be admitted again")
	}
	if g.Admit("d") {
		t.Fatalf("recent id should still be rejected")
	}
}

func TestAdmit_DuplicateRefreshesRecency(t *testing.T) {
	g := NewGate(2)

	g.Admit("a")
	g.Admit("b")
	g.Admit("a") // duplicate, but refreshes "a"
	g.Admit("c") // evicts "b", not "a"

	if g.Admit("a") {
		t.Fatalf("refreshed id was evicted")
	}
	if !g.Admit("b") {
		t.Fatalf("stale id was not evicted")
	}
}
