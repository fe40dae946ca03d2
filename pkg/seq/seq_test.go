package seq

import (
	"errors"
	"sync"
	"testing"
)

func TestAllocatorExhaustion(t *testing.T) {
	a := NewAllocator(MaxSeq - 1)
	for _, want := range []uint32{MaxSeq - 1, MaxSeq} {
		got, err := a.Next()
		if err != nil || got != want {
			t.Fatalf("Next = %#x, %v; want %#x", got, err, want)
		}
	}
	if _, err := a.Next(); !errors.Is(err, ErrSequenceExhausted) {
		t.Fatalf("after 0xFFFFFF: err = %v", err)
	}
	if a.Remaining() != 0 {
		t.Errorf("Remaining = %d", a.Remaining())
	}

	a.Reset()
	if got, err := a.Next(); err != nil || got != 0 {
		t.Errorf("after Reset: %d, %v", got, err)
	}
}

func TestAllocatorReserve(t *testing.T) {
	a := NewAllocator(0x3129AB)
	first, err := a.Reserve(2)
	if err != nil || first != 0x3129AB || a.Current() != 0x3129AD {
		t.Fatalf("Reserve = %#x, %v, current %#x", first, err, a.Current())
	}

	b := NewAllocator(MaxSeq - 2)
	if _, err := b.Reserve(4); !errors.Is(err, ErrSequenceExhausted) {
		t.Errorf("over-reserve: err = %v", err)
	}
	if first, err := b.Reserve(3); err != nil || first != MaxSeq-2 {
		t.Errorf("exact reserve: %#x, %v", first, err)
	}
	if _, err := b.Reserve(0); err == nil {
		t.Error("Reserve(0) accepted")
	}
	if NewAllocator(MaxSeq+1).Remaining() != 0 {
		t.Error("allocator past MaxSeq has numbers left")
	}
}

func TestAllocatorConcurrent(t *testing.T) {
	a := NewAllocator(0)
	const workers, each = 8, 500
	seen := make(chan uint32, workers*each)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				v, err := a.Next()
				if err != nil {
					t.Error(err)
					return
				}
				seen <- v
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint32]bool)
	for v := range seen {
		if unique[v] {
			t.Fatalf("duplicate sequence number %d", v)
		}
		unique[v] = true
	}
	if len(unique) != workers*each {
		t.Errorf("got %d numbers", len(unique))
	}
}
