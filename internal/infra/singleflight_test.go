package infra

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGroup_Do(t *testing.T) {
	var g Group[string, int]

	val, err, shared := g.Do("key", func() (int, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 7 {
		t.Errorf("expected 7, got %d", val)
	}
	if shared {
		t.Error("single caller must not be shared")
	}
}

func TestGroup_Error(t *testing.T) {
	var g Group[string, int]
	want := errors.New("boom")

	_, err, _ := g.Do("key", func() (int, error) {
		return 0, want
	})
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}

func TestGroup_DuplicateSuppression(t *testing.T) {
	var g Group[string, int]
	var executions atomic.Int32
	release := make(chan struct{})

	const callers = 10
	var wg sync.WaitGroup
	results := make([]int, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			val, err, _ := g.Do("key", func() (int, error) {
				executions.Add(1)
				<-release
				return 42, nil
			})
			if err != nil {
				t.Errorf("caller %d: unexpected error: %v", i, err)
			}
			results[i] = val
		}(i)
	}

	// Give the racers time to pile up on the same key, then let the one
	// real execution finish.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := executions.Load(); got != 1 {
		t.Errorf("expected 1 execution, got %d", got)
	}
	for i, val := range results {
		if val != 42 {
			t.Errorf("caller %d got %d, want 42", i, val)
		}
	}
}

func TestGroup_DistinctKeys(t *testing.T) {
	var g Group[string, string]

	a, _, _ := g.Do("a", func() (string, error) { return "alpha", nil })
	b, _, _ := g.Do("b", func() (string, error) { return "beta", nil })

	if a != "alpha" || b != "beta" {
		t.Errorf("got (%q, %q), want (alpha, beta)", a, b)
	}

	stats := g.Stats()
	if stats.Misses != 2 || stats.Hits != 0 {
		t.Errorf("stats = %+v, want 2 misses / 0 hits", stats)
	}
}
