package server

import (
	"errors"
	"sync"
	"testing"

	"github.com/zot/snippets/internal/storage"
)

// TestSvcSyncRunsInOrder verifies queued functions run one at a time
func TestSvcSyncRunsInOrder(t *testing.T) {
	s := NewChanSvc()
	RunSvc(s)
	defer s.Close()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			SvcSync(s, func() (struct{}, error) {
				counter++
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()

	got, err := SvcSync(s, func() (int, error) { return counter, nil })
	if err != nil || got != 50 {
		t.Errorf("Expected 50, got %d (%v)", got, err)
	}
}

// TestSvcClosed verifies submissions after Close fail instead of panicking
func TestSvcClosed(t *testing.T) {
	s := NewChanSvc()
	RunSvc(s)
	s.Close()
	s.Close()

	ran := false
	_, err := SvcSync(s, func() (bool, error) {
		ran = true
		return true, nil
	})
	if !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if ran {
		t.Error("Function should not run after Close")
	}
	Svc(s, func() { t.Error("Svc should drop work after Close") })
}
