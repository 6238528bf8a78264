package question

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classboard/internal/engagement"
	"classboard/internal/room"
	"classboard/pkg/types"
)

// memberConn is a minimal in-memory connection for wiring the real room
// registry into engine tests.
type memberConn struct {
	id       string
	identity types.Identity

	mu     sync.Mutex
	roomID string
}

func newMemberConn(id, userID, role string) *memberConn {
	return &memberConn{id: id, identity: types.Identity{UserID: userID, DisplayName: userID, Role: role}}
}

func (c *memberConn) WriteJSON(v interface{}) error { return nil }
func (c *memberConn) Close() error                  { return nil }
func (c *memberConn) ConnectionID() string          { return c.id }
func (c *memberConn) UserID() string                { return c.identity.UserID }
func (c *memberConn) DisplayName() string           { return c.identity.DisplayName }
func (c *memberConn) Role() string                  { return c.identity.Role }

func (c *memberConn) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *memberConn) SetRoomID(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

type noopPopupStore struct{}

func (noopPopupStore) AppendPopupLog(ctx context.Context, log *types.PopupLog) error {
	return nil
}

func (noopPopupStore) MarkPopupResponded(ctx context.Context, popupID, userID string) error {
	return nil
}

// An open question must still close and publish results after its room has
// emptied out and been removed, with the engagement session already stopped.
// The publishes land on a room nobody is in and must be silently discarded.
func TestQuestionClosesAfterRoomEmptied(t *testing.T) {
	rooms := room.NewRegistry()
	scheduler := engagement.NewScheduler(rooms, rooms, noopPopupStore{}, time.Hour, time.Hour+time.Minute, time.Minute)
	rooms.OnEmpty(scheduler.Stop)

	store := newMockResponseStore()
	source := &mockQuestionSource{questions: map[string]*types.Question{"q-1": fourOptionQuestion()}}
	engine := NewEngine(rooms, rooms, store, source, 30*time.Millisecond, 10)

	ctx := context.Background()
	alice := newMemberConn("conn-1", "alice", types.RoleStudent)
	bob := newMemberConn("conn-2", "bob", types.RoleStudent)
	rooms.Join("room-1", alice)
	rooms.Join("room-1", bob)
	scheduler.Start("room-1")

	if err := engine.Broadcast(ctx, "q-1", "room-1"); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	if err := engine.SubmitResponse(ctx, "q-1", "alice", "opt-a"); err != nil {
		t.Fatalf("response failed: %v", err)
	}

	// Both students disconnect before the deadline. The room is removed and
	// the engagement session goes with it.
	rooms.Leave("conn-1")
	rooms.Leave("conn-2")
	if rooms.Count() != 0 {
		t.Fatalf("expected empty registry, got %d rooms", rooms.Count())
	}
	if scheduler.Running("room-1") {
		t.Fatal("engagement session still running for removed room")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if engine.ActiveCount() == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if engine.ActiveCount() != 0 {
		t.Fatal("question did not close after its room was removed")
	}

	// The close ran to completion: alice's answer stayed persisted with her
	// points, and the question is spent rather than lost.
	if !store.responses["alice|q-1"] {
		t.Error("alice's response was not persisted")
	}
	if got := store.pointsFor("alice", "room-1"); got != 10 {
		t.Errorf("expected 10 points for alice, got %d", got)
	}
	if err := engine.SubmitResponse(ctx, "q-1", "bob", "opt-b"); !errors.Is(err, ErrQuestionClosed) {
		t.Errorf("expected ErrQuestionClosed, got %v", err)
	}
}
