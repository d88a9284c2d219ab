package id

import (
	"sync"
	"testing"
)

func TestEventIDGenerator_NextID_Uniqueness(t *testing.T) {
	gen := NewEventIDGenerator(1)

	seen := make(map[uint64]bool)
	const iterations = 10000

	for i := 0; i < iterations; i++ {
		id := gen.NextID()
		if seen[id] {
			t.Fatalf("duplicate ID generated at iteration %d: %d", i, id)
		}
		seen[id] = true
	}
}

func TestEventIDGenerator_NextID_Monotonic(t *testing.T) {
	gen := NewEventIDGenerator(1)

	var prev uint64
	const iterations = 1000

	for i := 0; i < iterations; i++ {
		id := gen.NextID()
		if id <= prev {
			t.Fatalf("non-monotonic ID at iteration %d: prev=%d, curr=%d", i, prev, id)
		}
		prev = id
	}
}

func TestEventIDGenerator_NextID_Concurrent(t *testing.T) {
	gen := NewEventIDGenerator(1)

	const goroutines = 10
	const idsPerGoroutine = 1000

	var wg sync.WaitGroup
	idsChan := make(chan uint64, goroutines*idsPerGoroutine)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < idsPerGoroutine; i++ {
				idsChan <- gen.NextID()
			}
		}()
	}

	wg.Wait()
	close(idsChan)

	seen := make(map[uint64]bool)
	for id := range idsChan {
		if seen[id] {
			t.Fatalf("duplicate ID in concurrent test: %d", id)
		}
		seen[id] = true
	}

	if len(seen) != goroutines*idsPerGoroutine {
		t.Fatalf("expected %d unique IDs, got %d", goroutines*idsPerGoroutine, len(seen))
	}
}

func TestEventIDGenerator_DifferentInstances(t *testing.T) {
	gen1 := NewEventIDGenerator(1)
	gen2 := NewEventIDGenerator(2)

	id1 := gen1.NextID()
	id2 := gen2.NextID()

	if id1 == id2 {
		t.Fatalf("IDs from different instances should differ: %d == %d", id1, id2)
	}

	// Extract instance tags from generated IDs (bits 16-21)
	tag1 := (id1 >> instanceShift) & instanceMask
	tag2 := (id2 >> instanceShift) & instanceMask

	if tag1 != 1 {
		t.Errorf("expected instance tag 1 in id1, got %d", tag1)
	}
	if tag2 != 2 {
		t.Errorf("expected instance tag 2 in id2, got %d", tag2)
	}
}

func TestEventIDGenerator_InstanceTagFolds(t *testing.T) {
	// Only the low 6 bits of the instance ID land in the tag.
	gen := NewEventIDGenerator(0xABCD)

	id := gen.NextID()
	tag := (id >> instanceShift) & instanceMask

	if tag != 0xABCD&instanceMask {
		t.Errorf("expected folded instance tag %d, got %d", 0xABCD&instanceMask, tag)
	}
}

func BenchmarkEventIDGenerator_NextID(b *testing.B) {
	gen := NewEventIDGenerator(1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		gen.NextID()
	}
}

func BenchmarkEventIDGenerator_NextID_Parallel(b *testing.B) {
	gen := NewEventIDGenerator(1)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			gen.NextID()
		}
	})
}
