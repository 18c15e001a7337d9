// SPDX-License-Identifier: MPL-2.0

package xec

import (
	"strings"
	"time"
)

// EventName is a member of the closed event catalogue. Names are
// "group:action"; wildcard subscriptions match on the group prefix
// ("ssh:*") or everything ("*").
type EventName string

const (
	EventCommandStart    EventName = "command:start"
	EventCommandComplete EventName = "command:complete"
	EventCommandError    EventName = "command:error"

	EventConnectionOpen  EventName = "connection:open"
	EventConnectionClose EventName = "connection:close"

	EventSSHConnect       EventName = "ssh:connect"
	EventSSHDisconnect    EventName = "ssh:disconnect"
	EventSSHExecute       EventName = "ssh:execute"
	EventSSHKeyValidated  EventName = "ssh:key-validated"
	EventSSHPoolMetrics   EventName = "ssh:pool-metrics"
	EventSSHPoolCleanup   EventName = "ssh:pool-cleanup"
	EventSSHReconnect     EventName = "ssh:reconnect"
	EventSSHTunnelCreated EventName = "ssh:tunnel-created"
	EventSSHTunnelClosed  EventName = "ssh:tunnel-closed"

	EventDockerRun  EventName = "docker:run"
	EventDockerExec EventName = "docker:exec"

	EventContainerCreate  EventName = "container:create"
	EventContainerStart   EventName = "container:start"
	EventContainerStop    EventName = "container:stop"
	EventContainerRemove  EventName = "container:remove"
	EventContainerHealthy EventName = "container:healthy"

	EventK8sExec EventName = "k8s:exec"

	EventCacheHit   EventName = "cache:hit"
	EventCacheMiss  EventName = "cache:miss"
	EventCacheSet   EventName = "cache:set"
	EventCacheEvict EventName = "cache:evict"

	EventRetryAttempt EventName = "retry:attempt"
	EventRetrySuccess EventName = "retry:success"
	EventRetryFailed  EventName = "retry:failed"

	EventFileRead   EventName = "file:read"
	EventFileWrite  EventName = "file:write"
	EventFileDelete EventName = "file:delete"

	EventTransferStart    EventName = "transfer:start"
	EventTransferComplete EventName = "transfer:complete"
	EventTransferError    EventName = "transfer:error"

	EventTempCreate  EventName = "temp:create"
	EventTempCleanup EventName = "temp:cleanup"

	// EventHandlerError reports that a subscriber panicked while handling
	// some other event; it is never itself re-dispatched recursively into a
	// failing handler.
	EventHandlerError EventName = "handler_error"
)

// Fields carries an event's payload. Keys follow the catalogue's "Extra
// fields" column; values are left loosely typed (string, int, float64, bool,
// time.Duration, or nested Fields) since the set varies per event name.
type Fields map[string]any

// Event is one occurrence on the bus. Timestamp and Adapter are always set;
// Host/Container/Pod are populated when the emitting adapter has one.
type Event struct {
	Name      EventName
	Timestamp time.Time
	Adapter   AdapterKind

	Host      string
	Container string
	Pod       string

	Fields Fields
}

// Handler processes one Event. Handlers run synchronously on the
// publishing goroutine, so a Handler must not block for long; the bus does
// not time handler calls or warn about slow ones.
// A Handler that panics has its panic recovered and re-reported as an
// EventHandlerError event rather than propagating into the emitter.
type Handler func(Event)

// Filter narrows a subscription beyond its name pattern. A nil Filter
// matches every event.Name matched by the pattern.
type Filter struct {
	Adapter AdapterKind // empty matches any
	Host    string      // empty matches any
}

// Matches reports whether e satisfies the filter.
func (f *Filter) Matches(e Event) bool {
	if f == nil {
		return true
	}
	if f.Adapter != "" && f.Adapter != e.Adapter {
		return false
	}
	if f.Host != "" && f.Host != e.Host {
		return false
	}
	return true
}

// matchEventPattern reports whether pattern ("group:*", "*", or an exact name) matches
// name.
func matchEventPattern(pattern string, name EventName) bool {
	if pattern == "*" {
		return true
	}
	if pattern == string(name) {
		return true
	}
	const wildcardSuffix = ":*"
	if group, ok := strings.CutSuffix(pattern, wildcardSuffix); ok {
		n := string(name)
		if idx := strings.IndexByte(n, ':'); idx >= 0 {
			return n[:idx] == group
		}
	}
	return false
}
