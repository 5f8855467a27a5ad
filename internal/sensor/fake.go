package sensor

import (
	"errors"
	"sync"
)

// ErrNotSubscribed is returned by FakeSource.Emit when nothing is listening.
var ErrNotSubscribed = errors.New("sensor: no active subscription")

// FakeSource is a test double that delivers scripted readings on demand.
type FakeSource struct {
	mu      sync.Mutex
	handler Handler
	gen     int

	// Samples contains scripted readings consumed by Next.
	Samples []Reading
	index   int

	// Subscribes counts successful Subscribe calls.
	Subscribes int

	// Closes counts subscription Close calls.
	Closes int

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error
}

// NewFakeSource creates a FakeSource with the given samples.
func NewFakeSource(samples ...Reading) *FakeSource {
	return &FakeSource{Samples: samples}
}

// Subscribe registers h. A second Subscribe replaces the first handler.
func (f *FakeSource) Subscribe(h Handler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SubscribeError != nil {
		return nil, f.SubscribeError
	}
	f.handler = h
	f.gen++
	f.Subscribes++
	return &fakeSubscription{src: f, gen: f.gen}, nil
}

// Emit delivers r synchronously to the current subscriber.
func (f *FakeSource) Emit(r Reading) error {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()

	if h == nil {
		return ErrNotSubscribed
	}
	h(r)
	return nil
}

// Next emits the next scripted sample. If samples are exhausted, the last
// sample is emitted again.
func (f *FakeSource) Next() error {
	f.mu.Lock()
	if len(f.Samples) == 0 {
		f.mu.Unlock()
		return errors.New("no samples configured")
	}
	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	f.mu.Unlock()

	return f.Emit(sample)
}

// Subscribed reports whether a handler is registered.
func (f *FakeSource) Subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

// SubscribeCount returns Subscribes under the lock.
func (f *FakeSource) SubscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Subscribes
}

// Reset rewinds the samples and clears counters.
func (f *FakeSource) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = 0
	f.Subscribes = 0
	f.Closes = 0
	f.SubscribeError = nil
}

type fakeSubscription struct {
	src  *FakeSource
	gen  int
	once sync.Once
}

func (s *fakeSubscription) Close() error {
	s.once.Do(func() {
		s.src.mu.Lock()
		defer s.src.mu.Unlock()
		s.src.Closes++
		// Only detach if nobody re-subscribed in the meantime.
		if s.src.gen == s.gen {
			s.src.handler = nil
		}
	})
	return nil
}
