package signal

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"classboard/pkg/interfaces"
	"classboard/pkg/types"
)

// ConnectionLookup resolves a connection ID to a live connection.
type ConnectionLookup interface {
	Get(connectionID string) (interfaces.Connection, bool)
}

// Membership answers which room a connection is in.
type Membership interface {
	RoomOf(connectionID string) (string, bool)
}

// Relay forwards peer negotiation metadata between two connections in the
// same room. Pure routing: no state, no payload inspection, no room-wide
// lock. Per (from,to) ordering follows from each sender relaying from its
// single read goroutine into the target's single-writer channel.
type Relay struct {
	connections ConnectionLookup
	membership  Membership
	log         *logrus.Entry
}

func NewRelay(connections ConnectionLookup, membership Membership) *Relay {
	return &Relay{
		connections: connections,
		membership:  membership,
		log:         logrus.WithField("component", "signal"),
	}
}

// Forward delivers {kind, fromConnectionID, payload} to the target. An
// absent target, or a target outside the sender's room, drops the message
// silently; the initiating peer's own negotiation timeout covers that
// failure.
func (r *Relay) Forward(kind string, from interfaces.Connection, targetConnectionID string, payload json.RawMessage) {
	target, ok := r.connections.Get(targetConnectionID)
	if !ok {
		r.log.WithFields(logrus.Fields{
			"kind":   kind,
			"target": targetConnectionID,
		}).Debug("target gone, signal dropped")
		return
	}

	fromRoom, ok := r.membership.RoomOf(from.ConnectionID())
	if !ok {
		return
	}
	targetRoom, ok := r.membership.RoomOf(targetConnectionID)
	if !ok || targetRoom != fromRoom {
		return
	}

	if err := target.WriteJSON(types.Outbound{
		Event: kind,
		Data: types.SignalDelivery{
			FromConnectionID: from.ConnectionID(),
			Payload:          payload,
		},
	}); err != nil {
		// Target went away mid-write; same silent-drop semantics.
		r.log.WithField("target", targetConnectionID).WithError(err).Debug("signal write failed")
	}
}
