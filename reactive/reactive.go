package reactive

import "sync"

// Subscriber receives values published on the Observable it subscribed to.
type Subscriber[T any] struct {
	c         chan T
	container *Observable[T]
	once      sync.Once
}

// Cancel removes subscriber from container and closes its channel.
// Not calling this method may result in memory leak.
func (s *Subscriber[T]) Cancel() {
	s.once.Do(func() {
		s.container.delete(s)
	})
}

// Channel returns channel that can be used to read from observable.
func (s *Subscriber[T]) Channel() <-chan T {
	return s.c
}

// Observable creates a container for subscribers.
// This works in single producer multiple consumer pattern.
// Publishing never blocks: a subscriber with a full buffer misses the value.
type Observable[T any] struct {
	mux         sync.RWMutex
	subscribers map[*Subscriber[T]]struct{}
	size        int
	dropped     uint64
}

// New creates Observable container that holds channels for all subscribers.
// size is the buffer size of each channel.
func New[T any](size int) *Observable[T] {
	return &Observable[T]{
		subscribers: make(map[*Subscriber[T]]struct{}),
		size:        size,
	}
}

// Subscribe subscribes to the container.
func (o *Observable[T]) Subscribe() *Subscriber[T] {
	s := &Subscriber[T]{
		c:         make(chan T, o.size),
		container: o,
	}
	o.mux.Lock()
	defer o.mux.Unlock()
	o.subscribers[s] = struct{}{}
	return s
}

// Publish publishes value to all subscribers and returns how many received it.
func (o *Observable[T]) Publish(v T) int {
	o.mux.Lock()
	defer o.mux.Unlock()
	var delivered int
	for s := range o.subscribers {
		select {
		case s.c <- v:
			delivered++
		default:
			o.dropped++
		}
	}
	return delivered
}

// Dropped returns the number of values subscribers missed due to full buffers.
func (o *Observable[T]) Dropped() uint64 {
	o.mux.RLock()
	defer o.mux.RUnlock()
	return o.dropped
}

// Count returns number of active subscribers.
func (o *Observable[T]) Count() int {
	o.mux.RLock()
	defer o.mux.RUnlock()
	return len(o.subscribers)
}

func (o *Observable[T]) delete(s *Subscriber[T]) {
	o.mux.Lock()
	defer o.mux.Unlock()
	delete(o.subscribers, s)
	close(s.c)
}
