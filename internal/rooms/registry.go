package rooms

// DefaultDisplayName is used when a client joins without a name.
const DefaultDisplayName = "Guest"

// Metadata is the per-connection session state tracked by the registry.
type Metadata struct {
	RoomID      string
	DisplayName string
}

// Registry maps live connection ids to their session metadata.
//
// It is a plain mapping with no locking of its own; the signaling router is
// the single serialization point for all mutations (see signaling.Router).
type Registry struct {
	conns map[string]Metadata
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Metadata)}
}

// Set records metadata for a connection, replacing any previous entry.
// An empty display name is stored as DefaultDisplayName.
func (r *Registry) Set(connID, roomID, displayName string) {
	if displayName == "" {
		displayName = DefaultDisplayName
	}
	r.conns[connID] = Metadata{RoomID: roomID, DisplayName: displayName}
}

// Get returns the metadata for a connection. Unknown ids return ok=false.
func (r *Registry) Get(connID string) (Metadata, bool) {
	meta, ok := r.conns[connID]
	return meta, ok
}

// Remove deletes a connection's metadata. Unknown ids are a no-op.
func (r *Registry) Remove(connID string) {
	delete(r.conns, connID)
}

// Len returns the number of tracked connections.
func (r *Registry) Len() int {
	return len(r.conns)
}
