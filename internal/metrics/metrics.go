package metrics

import "sync"

// Counter names used across the signaling server.
const (
	WSConnects    = "ws_connects"
	WSDisconnects = "ws_disconnects"

	RoomJoins         = "room_joins"
	RoomJoinsRejected = "room_joins_rejected"
	UserLeftNotices   = "user_left_notices"

	SignalsTargeted  = "signals_targeted"
	SignalsBroadcast = "signals_broadcast"

	DropReasonSendQueueFull = "dropped_send_queue_full"
	DropReasonRateLimited   = "dropped_rate_limited"
	DropReasonMalformed     = "dropped_malformed"
	DropReasonUnknownEvent  = "dropped_unknown_event"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The signaling server is small enough that a hand-rolled registry with a
// Prometheus text exposition (see PrometheusHandler) keeps the enforcement
// and relay logic directly testable without a metrics backend dependency.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
