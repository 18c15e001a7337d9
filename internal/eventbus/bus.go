// SPDX-License-Identifier: MPL-2.0

package eventbus

import (
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/xecgo/xec/pkg/xec"
)

// Bus is a synchronous, wildcard-aware event dispatcher. The zero value is
// not usable; construct one with New.
type Bus struct {
	logger *log.Logger

	mu   sync.RWMutex
	subs map[int64]*subscription

	nextID atomic.Int64
}

type subscription struct {
	id      int64
	pattern string
	filter  *xec.Filter
	handler xec.Handler
}

// New constructs an empty Bus. A nil logger disables diagnostic logging of
// handler panics (they are still captured and re-reported as
// EventHandlerError events).
func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Bus{logger: logger, subs: make(map[int64]*subscription)}
}

// Subscription is an opaque handle returned by Subscribe; pass it to
// Unsubscribe to stop receiving events.
type Subscription int64

// Subscribe registers handler for every event whose name matches pattern
// ("group:*", "*", or an exact name) and, if filter is non-nil, whose
// Adapter/Host also match filter.
func (b *Bus) Subscribe(pattern string, filter *xec.Filter, handler xec.Handler) Subscription {
	id := b.nextID.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = &subscription{id: id, pattern: pattern, filter: filter, handler: handler}
	return Subscription(id)
}

// Unsubscribe removes a subscription. Unsubscribing an already-removed or
// unknown Subscription is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, int64(sub))
}

// Publish dispatches event synchronously to every matching subscriber, in
// an unspecified but stable-per-call order. A handler that panics has its
// panic recovered and reported as a separate handler_error event instead of
// propagating into the caller; that report is never itself capable of
// triggering a recursive handler_error.
func (b *Bus) Publish(event xec.Event) {
	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if matchPattern(s.pattern, event.Name) && s.filter.Matches(event) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		b.dispatch(s, event)
	}
}

func (b *Bus) dispatch(s *subscription, event xec.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", event.Name, "pattern", s.pattern, "panic", r)
			if event.Name != xec.EventHandlerError {
				b.Publish(xec.Event{
					Name:    xec.EventHandlerError,
					Adapter: event.Adapter,
					Fields: xec.Fields{
						"source_event": string(event.Name),
						"panic":        r,
					},
				})
			}
		}
	}()
	s.handler(event)
}

// Patterns returns the set of distinct subscription patterns currently
// registered, sorted, for diagnostics (e.g. reporting what a caller is
// listening for before it disposes the engine).
func (b *Bus) Patterns() []string {
	b.mu.RLock()
	seen := make(map[string]struct{}, len(b.subs))
	for _, s := range b.subs {
		seen[s.pattern] = struct{}{}
	}
	b.mu.RUnlock()

	patterns := slices.Collect(maps.Keys(seen))
	slices.Sort(patterns)
	return patterns
}

// matchPattern reports whether pattern ("group:*", "*", or an exact name)
// matches name.
func matchPattern(pattern string, name xec.EventName) bool {
	if pattern == "*" || pattern == string(name) {
		return true
	}
	group, ok := strings.CutSuffix(pattern, ":*")
	if !ok {
		return false
	}
	n := string(name)
	idx := strings.IndexByte(n, ':')
	return idx >= 0 && n[:idx] == group
}
