package accessmanager

import (
	"sync"
	"testing"
)

func TestConcurrentWritersAndReaders(t *testing.T) {
	obs := NewCountingObserver()
	c := NewConcurrent(New(), obs)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := userName(i)
			if err := c.AddUser(user); err != nil {
				t.Errorf("AddUser(%s): %v", user, err)
			}
		}(i)
	}
	wg.Wait()

	if got := obs.Calls("AddUser"); got != n {
		t.Fatalf("expected %d AddUser calls observed, got %d", n, got)
	}

	var rwg sync.WaitGroup
	for i := 0; i < n; i++ {
		rwg.Add(1)
		go func(i int) {
			defer rwg.Done()
			user := userName(i)
			if _, err := c.HasAccessToApplicationComponent(user, "X", "Y"); err != nil {
				t.Errorf("HasAccessToApplicationComponent(%s): %v", user, err)
			}
		}(i)
	}
	rwg.Wait()
}

func userName(i int) string {
	return "user-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
