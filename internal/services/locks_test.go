package services

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutex_SerialisesPerKey(t *testing.T) {
	var km keyedMutex
	var mu sync.Mutex
	inside := map[string]int{}
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		key := "a"
		if i%2 == 1 {
			key = "b"
		}
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			unlock := km.Lock(key)
			defer unlock()

			mu.Lock()
			inside[key]++
			if inside[key] > maxInside {
				maxInside = inside[key]
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside[key]--
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("max holders of one key = %d; want 1", maxInside)
	}
	if km.size() != 0 {
		t.Fatalf("idle keys not released: %d", km.size())
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	var km keyedMutex
	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked by a")
	}
}
