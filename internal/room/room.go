package room

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"classboard/pkg/interfaces"
	"classboard/pkg/types"
)

// Room owns one live session's coordination state: the membership map and
// the subscriber set behind the publish primitive. All mutation and the
// broadcast that follows it happen under the room's own mutex, so every
// member observes snapshots consistent with the mutation that produced
// them, and operations on different rooms never contend.
type Room struct {
	id string

	mu      sync.Mutex
	members map[string]*member // connectionID -> member
	removed bool               // set when the registry garbage-collects the room
}

type member struct {
	participant types.Participant
	conn        interfaces.Connection
}

func newRoom(id string) *Room {
	return &Room{
		id:      id,
		members: make(map[string]*member),
	}
}

// snapshotLocked builds the full membership view in a deterministic order.
// Callers hold r.mu.
func (r *Room) snapshotLocked() []types.Participant {
	participants := make([]types.Participant, 0, len(r.members))
	for _, m := range r.members {
		participants = append(participants, m.participant)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].ConnectionID < participants[j].ConnectionID
	})
	return participants
}

// publishLocked delivers an event to members, best-effort per member: one
// dead subscriber must not abort delivery to the rest. Callers hold r.mu.
// except names a connection to skip, "" to deliver to everyone.
func (r *Room) publishLocked(event string, data interface{}, except string) {
	msg := types.Outbound{Event: event, Data: data}
	for connID, m := range r.members {
		if connID == except {
			continue
		}
		if err := m.conn.WriteJSON(msg); err != nil {
			logrus.WithFields(logrus.Fields{
				"component":     "room",
				"room_id":       r.id,
				"connection_id": connID,
			}).WithError(err).Debug("dropped event for unreachable member")
		}
	}
}
