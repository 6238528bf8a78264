package room

import (
	"sync"

	"github.com/sirupsen/logrus"

	"classboard/pkg/interfaces"
	"classboard/pkg/types"
)

// Registry maintains room membership and the per-room publish primitive.
// Rooms are created lazily on first join and garbage-collected when the last
// member leaves; a room with no members never holds live timers, because
// teardown fires the OnEmpty hook the moment membership reaches zero.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	byConn map[string]string // connectionID -> roomID

	onEmpty func(roomID string)

	log *logrus.Entry
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		byConn: make(map[string]string),
		log:    logrus.WithField("component", "room"),
	}
}

// OnEmpty registers the teardown hook invoked after a room's membership
// drops to zero and the room is removed. Must be set before traffic starts.
func (reg *Registry) OnEmpty(fn func(roomID string)) {
	reg.onEmpty = fn
}

// Join inserts the connection into the room, publishes the full membership
// snapshot to every member including the joiner, and announces peer-joined
// to the others. Returns the snapshot the joiner observed.
func (reg *Registry) Join(roomID string, conn interfaces.Connection) []types.Participant {
	participant := types.Participant{
		ConnectionID: conn.ConnectionID(),
		UserID:       conn.UserID(),
		DisplayName:  conn.DisplayName(),
		Role:         conn.Role(),
	}

	for {
		reg.mu.Lock()
		r, ok := reg.rooms[roomID]
		if !ok {
			r = newRoom(roomID)
			reg.rooms[roomID] = r
			reg.log.WithField("room_id", roomID).Info("room created")
		}
		reg.byConn[conn.ConnectionID()] = roomID
		reg.mu.Unlock()

		r.mu.Lock()
		if r.removed {
			// Lost a race with garbage collection; the room is gone from the
			// map, so create a fresh one.
			r.mu.Unlock()
			continue
		}

		r.members[conn.ConnectionID()] = &member{participant: participant, conn: conn}
		conn.SetRoomID(roomID)

		snapshot := r.snapshotLocked()
		r.publishLocked(types.EventParticipantsUpdate, snapshot, "")
		r.publishLocked(types.EventPeerJoined, participant, conn.ConnectionID())
		r.mu.Unlock()

		reg.log.WithFields(logrus.Fields{
			"room_id":       roomID,
			"connection_id": conn.ConnectionID(),
			"user_id":       conn.UserID(),
		}).Info("participant joined")

		return snapshot
	}
}

// Leave removes the connection from its room, republishes the snapshot to
// the remaining members, and announces peer-left. When membership reaches
// zero the room is removed and the teardown hook fires. Idempotent for
// connections that are not in any room.
func (reg *Registry) Leave(connectionID string) {
	reg.mu.Lock()
	roomID, ok := reg.byConn[connectionID]
	if !ok {
		reg.mu.Unlock()
		return
	}
	delete(reg.byConn, connectionID)
	r := reg.rooms[roomID]
	reg.mu.Unlock()

	if r == nil {
		return
	}

	r.mu.Lock()
	m, present := r.members[connectionID]
	if !present {
		r.mu.Unlock()
		return
	}
	delete(r.members, connectionID)
	m.conn.SetRoomID("")

	empty := len(r.members) == 0
	if !empty {
		r.publishLocked(types.EventParticipantsUpdate, r.snapshotLocked(), "")
		r.publishLocked(types.EventPeerLeft, m.participant, "")
	}
	r.mu.Unlock()

	reg.log.WithFields(logrus.Fields{
		"room_id":       roomID,
		"connection_id": connectionID,
		"user_id":       m.participant.UserID,
	}).Info("participant left")

	if empty {
		reg.removeIfEmpty(roomID)
	}
}

// removeIfEmpty garbage-collects a room, re-checking emptiness under both
// locks so a concurrent join cannot be stranded in an orphaned room.
func (reg *Registry) removeIfEmpty(roomID string) {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	if !ok {
		reg.mu.Unlock()
		return
	}

	r.mu.Lock()
	if len(r.members) > 0 {
		r.mu.Unlock()
		reg.mu.Unlock()
		return
	}
	r.removed = true
	r.mu.Unlock()

	delete(reg.rooms, roomID)
	reg.mu.Unlock()

	reg.log.WithField("room_id", roomID).Info("room empty, removed")

	if reg.onEmpty != nil {
		reg.onEmpty(roomID)
	}
}

// Publish delivers an event to every member of a room, best-effort per
// member. Publishing to a room that no longer exists is a no-op, which is
// what a question closing after its room emptied relies on.
func (reg *Registry) Publish(roomID string, event string, data interface{}) {
	reg.mu.RLock()
	r, ok := reg.rooms[roomID]
	reg.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	r.publishLocked(event, data, "")
	r.mu.Unlock()
}

// PublishExcept is Publish minus one connection, for events the originator
// should not receive back.
func (reg *Registry) PublishExcept(roomID string, event string, data interface{}, exceptConnectionID string) {
	reg.mu.RLock()
	r, ok := reg.rooms[roomID]
	reg.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	r.publishLocked(event, data, exceptConnectionID)
	r.mu.Unlock()
}

// Snapshot returns the current membership of a room.
func (reg *Registry) Snapshot(roomID string) []types.Participant {
	reg.mu.RLock()
	r, ok := reg.rooms[roomID]
	reg.mu.RUnlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// StudentIDs returns the deduplicated user IDs of student-role members,
// the population for popup cycles and question eligibility.
func (reg *Registry) StudentIDs(roomID string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range reg.Snapshot(roomID) {
		if p.Role == types.RoleStudent && !seen[p.UserID] {
			seen[p.UserID] = true
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// RoomOf returns the room a connection is currently joined to.
func (reg *Registry) RoomOf(connectionID string) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	roomID, ok := reg.byConn[connectionID]
	return roomID, ok
}

// Count returns the number of live rooms, for health reporting.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}
