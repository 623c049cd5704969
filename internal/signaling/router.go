package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/meetmesh/signaling-relay/internal/metrics"
	"github.com/meetmesh/signaling-relay/internal/rooms"
)

// Sender delivers one encoded frame to a connection. Delivery is
// fire-and-forget: a false return means the frame was dropped (queue full),
// and the router never retries. Implementations must not block.
type Sender interface {
	Send(msg []byte) bool
}

// Router is the signaling protocol core. It owns the connection registry and
// room directory and processes join, signal relay and disconnect events.
//
// All state mutation happens under one mutex, so each event is an atomic
// read-modify-write over both maps. That serialization is what keeps room
// membership and connection metadata consistent with each other; the maps
// themselves do no locking. Outbound delivery inside the critical section is
// safe because Sender.Send never blocks.
type Router struct {
	log *slog.Logger
	met *metrics.Metrics

	mu        sync.Mutex
	registry  *rooms.Registry
	directory *rooms.Directory
	senders   map[string]Sender
}

// NewRouter returns a router with fresh, empty state. A nil logger falls back
// to slog.Default; a nil metrics registry disables counting.
func NewRouter(logger *slog.Logger, met *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		log:       logger,
		met:       met,
		registry:  rooms.NewRegistry(),
		directory: rooms.NewDirectory(),
		senders:   make(map[string]Sender),
	}
}

// Connect registers a connection's delivery channel. It must be called once
// per connection before any other event for that id.
func (r *Router) Connect(connID string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[connID] = s
}

// Join places a connection in a room, tells the joiner who is already there
// and tells everyone already there about the joiner.
//
// The joiner receives the full member list because the newcomer initiates all
// N-1 peer negotiations in the mesh; existing members only learn of the single
// arrival and wait to be dialed. That asymmetry avoids offer glare.
//
// An empty roomID is silently ignored. A connection that is already in a
// different room is moved: the old room is notified with user-left first, so
// the membership/metadata invariant holds.
func (r *Router) Join(connID, roomID, displayName string) {
	if roomID == "" {
		r.met.Inc(metrics.RoomJoinsRejected)
		r.log.Debug("join rejected: empty room id", "conn_id", connID)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.senders[connID]; !ok {
		// Transport already gone; don't create orphan state.
		return
	}

	if prev, ok := r.registry.Get(connID); ok && prev.RoomID != "" && prev.RoomID != roomID {
		r.detachLocked(connID, prev.RoomID)
	}

	r.registry.Set(connID, roomID, displayName)
	r.directory.AddMember(roomID, connID)

	joinerMeta, _ := r.registry.Get(connID)

	existing := make([]Peer, 0)
	for _, id := range r.directory.Members(roomID) {
		if id == connID {
			continue
		}
		name := rooms.DefaultDisplayName
		if meta, ok := r.registry.Get(id); ok {
			name = meta.DisplayName
		}
		existing = append(existing, Peer{SocketID: id, Name: name})
	}

	if msg, err := encodeEvent(EventExistingUsers, existing); err == nil {
		r.deliverLocked(connID, msg)
	}

	if msg, err := encodeEvent(EventUserJoined, Peer{SocketID: connID, Name: joinerMeta.DisplayName}); err == nil {
		for _, id := range r.directory.Members(roomID) {
			if id != connID {
				r.deliverLocked(id, msg)
			}
		}
	}

	r.met.Inc(metrics.RoomJoins)
	r.log.Info("joined room",
		"conn_id", connID,
		"room_id", roomID,
		"name", joinerMeta.DisplayName,
		"members", len(existing)+1,
	)
}

// Relay forwards an opaque signaling payload. With a target id the frame goes
// to that single connection only; the target is trusted as-is (it came from a
// prior existing-users or user-joined event) and no room-membership check is
// made. Without a target the frame goes to every other member of the sender's
// room. Unknown senders still relay, attributed as Guest.
func (r *Router) Relay(connID, to string, data json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := rooms.DefaultDisplayName
	roomID := ""
	if meta, ok := r.registry.Get(connID); ok {
		name = meta.DisplayName
		roomID = meta.RoomID
	}

	msg, err := encodeEvent(EventSignal, SignalForward{From: connID, Name: name, Data: data})
	if err != nil {
		return
	}

	if to != "" {
		r.deliverLocked(to, msg)
		r.met.Inc(metrics.SignalsTargeted)
		return
	}

	if roomID == "" {
		return
	}
	for _, id := range r.directory.Members(roomID) {
		if id != connID {
			r.deliverLocked(id, msg)
		}
	}
	r.met.Inc(metrics.SignalsBroadcast)
}

// Whoami answers the debug event with the connection's own id and room.
func (r *Router) Whoami(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reply := WhoamiReply{ID: connID}
	if meta, ok := r.registry.Get(connID); ok {
		reply.RoomID = meta.RoomID
	}
	if msg, err := encodeEvent(EventWhoami, reply); err == nil {
		r.deliverLocked(connID, msg)
	}
}

// Disconnect tears down a connection's state: it leaves its room (notifying
// the remaining members), its registry entry is removed and its sender is
// forgotten. Safe to call for connections that never joined; the transport
// must call it exactly once, on connection close.
func (r *Router) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.senders, connID)

	if meta, ok := r.registry.Get(connID); ok && meta.RoomID != "" {
		r.detachLocked(connID, meta.RoomID)
		r.log.Info("left room", "conn_id", connID, "room_id", meta.RoomID)
	}
	r.registry.Remove(connID)
}

// detachLocked removes a connection from a room and broadcasts user-left to
// the members that remain. Callers hold r.mu.
func (r *Router) detachLocked(connID, roomID string) {
	r.directory.RemoveMember(roomID, connID)

	msg, err := encodeEvent(EventUserLeft, UserLeft{SocketID: connID})
	if err != nil {
		return
	}
	for _, id := range r.directory.Members(roomID) {
		r.deliverLocked(id, msg)
	}
	r.met.Inc(metrics.UserLeftNotices)
}

// deliverLocked hands a frame to a connection's sender. Unknown targets and
// full queues are silent drops. Callers hold r.mu.
func (r *Router) deliverLocked(connID string, msg []byte) {
	s, ok := r.senders[connID]
	if !ok {
		return
	}
	if !s.Send(msg) {
		r.met.Inc(metrics.DropReasonSendQueueFull)
		r.log.Debug("dropped frame: send queue full", "conn_id", connID)
	}
}

// Stats reports the current connection and room counts.
func (r *Router) Stats() (connections, activeRooms int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.senders), r.directory.Len()
}
