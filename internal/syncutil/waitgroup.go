package syncutil

import "sync"

// Go spawns fn in a goroutine tracked by wg.
func Go(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
}
