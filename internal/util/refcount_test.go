package util_test

import (
	"sync"
	"testing"

	"aqwari.net/net/ninep/internal/util"
)

type handle struct {
	util.RefCount
	closed int
}

func (h *handle) close() { h.closed++ }

func TestRefCountLastReference(t *testing.T) {
	h := new(handle)
	h.IncRef()
	for i := 0; i < 9; i++ {
		h.IncRef()
	}
	for i := 0; i < 10; i++ {
		if !h.DecRef() {
			h.close()
		}
	}
	if h.closed != 1 {
		t.Errorf("resource closed %d times, want 1", h.closed)
	}
}

func TestRefCountConcurrent(t *testing.T) {
	h := new(handle)
	h.IncRef()

	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < 32; i++ {
		wg.Add(1)
		h.IncRef()
		go func() {
			defer wg.Done()
			if !h.DecRef() {
				mu.Lock()
				h.close()
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if h.DecRef() {
		t.Fatal("references remain after symmetric release")
	}
	h.close()
	if h.closed != 1 {
		t.Errorf("resource closed %d times, want 1", h.closed)
	}
}

func TestRefCountUnderflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("underflow did not panic")
		}
	}()
	h := new(handle)
	h.IncRef()
	h.DecRef()
	h.DecRef()
}
