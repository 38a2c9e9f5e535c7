package lock

import (
	"path/filepath"
	"sync"
	"testing"
)

func TestMutexMap_SerializesPerKey(t *testing.T) {
	m := NewMutexMap()
	counts := map[string]int{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("T001")
			counts["T001"]++
			m.Unlock("T001")
		}()
	}
	wg.Wait()

	if counts["T001"] != 50 {
		t.Errorf("count: got %d, want 50", counts["T001"])
	}
}

func TestMutexMap_IndependentKeys(t *testing.T) {
	m := NewMutexMap()
	m.Lock("a")
	// A different key must not block.
	done := make(chan struct{})
	go func() {
		m.Lock("b")
		m.Unlock("b")
		close(done)
	}()
	<-done
	m.Unlock("a")
}

func TestFileLock_TryLockConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counters.lock")

	fl1 := NewFileLock(path)
	if err := fl1.TryLock(); err != nil {
		t.Fatalf("first TryLock: %v", err)
	}

	fl2 := NewFileLock(path)
	if err := fl2.TryLock(); err == nil {
		t.Fatal("second TryLock should conflict while held")
	}

	if err := fl1.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := fl2.TryLock(); err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	_ = fl2.Unlock()
}
