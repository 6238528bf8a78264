package signal

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"classboard/pkg/interfaces"
	"classboard/pkg/types"
)

type mockConn struct {
	mu      sync.Mutex
	id      string
	written []types.Outbound

	shouldFailWrite bool
}

func (c *mockConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldFailWrite {
		return errors.New("write failed")
	}
	if out, ok := v.(types.Outbound); ok {
		c.written = append(c.written, out)
	}
	return nil
}

func (c *mockConn) Close() error          { return nil }
func (c *mockConn) ConnectionID() string  { return c.id }
func (c *mockConn) UserID() string        { return "user-" + c.id }
func (c *mockConn) DisplayName() string   { return c.id }
func (c *mockConn) Role() string          { return types.RoleStudent }
func (c *mockConn) RoomID() string        { return "" }
func (c *mockConn) SetRoomID(roomID string) {}

func (c *mockConn) received() []types.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Outbound(nil), c.written...)
}

type mockLookup struct {
	conns map[string]*mockConn
}

func (m *mockLookup) Get(connectionID string) (interfaces.Connection, bool) {
	conn, ok := m.conns[connectionID]
	return conn, ok
}

type mockMembership struct {
	rooms map[string]string // connectionID -> roomID
}

func (m *mockMembership) RoomOf(connectionID string) (string, bool) {
	roomID, ok := m.rooms[connectionID]
	return roomID, ok
}

func TestForwardDeliversWithinRoom(t *testing.T) {
	sender := &mockConn{id: "conn-a"}
	target := &mockConn{id: "conn-b"}
	relay := NewRelay(
		&mockLookup{conns: map[string]*mockConn{"conn-a": sender, "conn-b": target}},
		&mockMembership{rooms: map[string]string{"conn-a": "room-1", "conn-b": "room-1"}},
	)

	payload := json.RawMessage(`{"sdp":"offer"}`)
	relay.Forward(types.EventWebRTCOffer, sender, "conn-b", payload)

	got := target.received()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].Event != types.EventWebRTCOffer {
		t.Errorf("expected webrtc-offer, got %s", got[0].Event)
	}
	delivery := got[0].Data.(types.SignalDelivery)
	if delivery.FromConnectionID != "conn-a" {
		t.Errorf("expected sender conn-a, got %s", delivery.FromConnectionID)
	}
	if string(delivery.Payload) != `{"sdp":"offer"}` {
		t.Errorf("payload altered in transit: %s", delivery.Payload)
	}
}

func TestForwardToDisconnectedTargetIsSilent(t *testing.T) {
	sender := &mockConn{id: "conn-a"}
	relay := NewRelay(
		&mockLookup{conns: map[string]*mockConn{"conn-a": sender}},
		&mockMembership{rooms: map[string]string{"conn-a": "room-1"}},
	)

	relay.Forward(types.EventWebRTCAnswer, sender, "conn-gone", nil)

	// No error surfaced to the sender.
	if len(sender.received()) != 0 {
		t.Errorf("sender received unexpected messages: %v", sender.received())
	}
}

func TestForwardAcrossRoomsIsDropped(t *testing.T) {
	sender := &mockConn{id: "conn-a"}
	target := &mockConn{id: "conn-b"}
	relay := NewRelay(
		&mockLookup{conns: map[string]*mockConn{"conn-a": sender, "conn-b": target}},
		&mockMembership{rooms: map[string]string{"conn-a": "room-1", "conn-b": "room-2"}},
	)

	relay.Forward(types.EventWebRTCCandidate, sender, "conn-b", nil)

	if len(target.received()) != 0 {
		t.Errorf("cross-room signal delivered: %v", target.received())
	}
}

func TestForwardFromRoomlessSenderIsDropped(t *testing.T) {
	sender := &mockConn{id: "conn-a"}
	target := &mockConn{id: "conn-b"}
	relay := NewRelay(
		&mockLookup{conns: map[string]*mockConn{"conn-a": sender, "conn-b": target}},
		&mockMembership{rooms: map[string]string{"conn-b": "room-1"}},
	)

	relay.Forward(types.EventWebRTCOffer, sender, "conn-b", nil)

	if len(target.received()) != 0 {
		t.Errorf("signal from roomless sender delivered: %v", target.received())
	}
}

func TestForwardWriteFailureIsSilent(t *testing.T) {
	sender := &mockConn{id: "conn-a"}
	target := &mockConn{id: "conn-b", shouldFailWrite: true}
	relay := NewRelay(
		&mockLookup{conns: map[string]*mockConn{"conn-a": sender, "conn-b": target}},
		&mockMembership{rooms: map[string]string{"conn-a": "room-1", "conn-b": "room-1"}},
	)

	relay.Forward(types.EventWebRTCOffer, sender, "conn-b", nil)
}
