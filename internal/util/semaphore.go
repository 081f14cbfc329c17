package util

// Semaphore bounds the number of concurrent holders of a resource. A
// Semaphore with size 0 never blocks (unbounded concurrency).
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a Semaphore permitting up to n concurrent acquisitions.
// n <= 0 means unbounded.
func NewSemaphore(n int) Semaphore {
	if n <= 0 {
		return Semaphore{}
	}
	return Semaphore{ch: make(chan struct{}, n)}
}

// Acquire blocks until a slot is available.
func (s Semaphore) Acquire() {
	if s.ch == nil {
		return
	}
	s.ch <- struct{}{}
}

// Release frees a previously acquired slot.
func (s Semaphore) Release() {
	if s.ch == nil {
		return
	}
	<-s.ch
}
