package networks

import (
	"fmt"
	"sync"
)

// Selector holds the currently active network name and notifies watchers of
// changes. The empty name means no network is selected.
type Selector struct {
	registry *Registry

	mu       sync.Mutex
	current  string
	watchers map[int]chan string
	nextID   int
}

// NewSelector creates a selector with the initial network, which may be empty.
func NewSelector(registry *Registry, initial string) (*Selector, error) {
	if initial != "" && !registry.Has(initial) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, initial)
	}
	return &Selector{
		registry: registry,
		current:  initial,
		watchers: make(map[int]chan string),
	}, nil
}

// Current returns the active network name.
func (s *Selector) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Names returns the networks that can be selected.
func (s *Selector) Names() []string {
	return s.registry.Names()
}

// Select switches the active network. Selecting the already active network
// is not re-announced.
func (s *Selector) Select(name string) error {
	if name != "" && !s.registry.Has(name) {
		return fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if name == s.current {
		return nil
	}
	s.current = name
	for _, ch := range s.watchers {
		offerLatest(ch, name)
	}
	return nil
}

// Watch returns a channel that first yields the current network and then every
// later change. A slow reader only misses intermediate values; the latest one
// is always delivered. The returned stop function closes the channel.
func (s *Selector) Watch() (<-chan string, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan string, 1)
	ch <- s.current

	id := s.nextID
	s.nextID++
	s.watchers[id] = ch

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers, id)
			close(ch)
		})
	}
	return ch, stop
}

// offerLatest replaces any undelivered value in ch with v.
// Must be called with s.mu held; the selector is the only sender.
func offerLatest(ch chan string, v string) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
