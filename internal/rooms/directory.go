package rooms

// Directory maps room ids to their member connection ids.
//
// A room exists in the directory iff its member set is non-empty: the last
// RemoveMember for a room deletes the room entry itself, so an absent key and
// an empty room are the same state. Like Registry, the directory does no
// locking; callers serialize access.
type Directory struct {
	members map[string]map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{members: make(map[string]map[string]struct{})}
}

// AddMember inserts a connection into a room, creating the room if needed.
// Re-adding an existing member is a no-op.
func (d *Directory) AddMember(roomID, connID string) {
	set := d.members[roomID]
	if set == nil {
		set = make(map[string]struct{})
		d.members[roomID] = set
	}
	set[connID] = struct{}{}
}

// RemoveMember removes a connection from a room, deleting the room entry when
// it empties. Absent rooms and members are a no-op.
func (d *Directory) RemoveMember(roomID, connID string) {
	set := d.members[roomID]
	if set == nil {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(d.members, roomID)
	}
}

// Members returns the connection ids currently in a room, in no particular
// order. An absent room returns an empty slice.
func (d *Directory) Members(roomID string) []string {
	set := d.members[roomID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Has reports whether a room is present in the directory.
func (d *Directory) Has(roomID string) bool {
	_, ok := d.members[roomID]
	return ok
}

// Len returns the number of non-empty rooms.
func (d *Directory) Len() int {
	return len(d.members)
}
