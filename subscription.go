package ydoc

import (
	"runtime"
	"sync"
)

// Subscription is the registration of one observer. Dispose
// unregisters it; a Subscription that becomes unreachable without
// Dispose unregisters itself when collected, so callers keep it
// reachable for as long as they want events.
type Subscription struct {
	once    sync.Once
	cancel  func()
	cleanup runtime.Cleanup
}

func newSubscription(cancel func()) *Subscription {
	s := &Subscription{cancel: cancel}
	s.cleanup = runtime.AddCleanup(s, func(c func()) { c() }, cancel)
	return s
}

// Dispose unregisters the observer. Later calls do nothing.
func (s *Subscription) Dispose() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.cleanup.Stop()
		s.cancel()
	})
}
