package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"classboard/internal/auth"
	"classboard/internal/engagement"
	"classboard/internal/gateway"
	"classboard/internal/question"
	"classboard/internal/room"
	"classboard/internal/signal"
	"classboard/pkg/interfaces"
	"classboard/pkg/types"
)

// In-memory store covering everything the router's dependencies write.
type mockStore struct {
	mu        sync.Mutex
	focusLogs []*types.FocusLog
	popupLogs []*types.PopupLog
	responses map[string]bool
	questions map[string]*types.Question
}

func newMockStore() *mockStore {
	return &mockStore{
		responses: make(map[string]bool),
		questions: make(map[string]*types.Question),
	}
}

func (m *mockStore) AppendFocusLog(ctx context.Context, log *types.FocusLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focusLogs = append(m.focusLogs, log)
	return nil
}

func (m *mockStore) focusLogCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.focusLogs)
}

func (m *mockStore) AppendPopupLog(ctx context.Context, log *types.PopupLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.popupLogs = append(m.popupLogs, log)
	return nil
}

func (m *mockStore) MarkPopupResponded(ctx context.Context, popupID, studentID string) error {
	return nil
}

func (m *mockStore) AppendQuestionResponse(ctx context.Context, resp *types.QuestionResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := resp.StudentID + "|" + resp.QuestionID
	if m.responses[key] {
		return interfaces.ErrDuplicateResponse
	}
	m.responses[key] = true
	return nil
}

func (m *mockStore) IncrementPoints(ctx context.Context, studentID, roomID string, delta int) error {
	return nil
}

func (m *mockStore) GetQuestion(ctx context.Context, questionID string) (*types.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[questionID]
	if !ok {
		return nil, interfaces.ErrQuestionNotFound
	}
	return q, nil
}

type testServer struct {
	url      string
	verifier *auth.Verifier
	store    *mockStore
	rooms    *room.Registry
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	verifier := auth.NewVerifier("test-secret")
	store := newMockStore()

	connRegistry := gateway.NewRegistry()
	roomRegistry := room.NewRegistry()
	relay := signal.NewRelay(connRegistry, roomRegistry)
	scheduler := engagement.NewScheduler(roomRegistry, roomRegistry, store, time.Hour, time.Hour, time.Minute)
	engine := question.NewEngine(roomRegistry, roomRegistry, store, store, time.Minute, 10)
	roomRegistry.OnEmpty(scheduler.Stop)

	eventRouter := NewRouter(roomRegistry, relay, scheduler, engine, store)
	handler := gateway.NewHandler(connRegistry, verifier, eventRouter, 30*time.Second, 60*time.Second, 16)

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(srv.Close)

	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		verifier: verifier,
		store:    store,
		rooms:    roomRegistry,
	}
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func (ts *testServer) connect(t *testing.T, userID, role string) *client {
	t.Helper()

	token, err := ts.verifier.Issue(types.Identity{UserID: userID, DisplayName: userID, Role: role}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(ts.url+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	c := &client{t: t, conn: conn}
	connected := c.expect(types.EventConnected)
	var notice types.ConnectedNotice
	if err := json.Unmarshal(connected.Data, &notice); err != nil {
		t.Fatalf("decode connected notice: %v", err)
	}
	c.id = notice.ConnectionID
	return c
}

func (c *client) send(event string, data interface{}) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("marshal payload: %v", err)
	}
	if err := c.conn.WriteJSON(types.Envelope{Event: event, Data: raw}); err != nil {
		c.t.Fatalf("send %s: %v", event, err)
	}
}

// expect reads until the named event arrives, skipping unrelated traffic.
func (c *client) expect(event string) *types.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = c.conn.SetReadDeadline(deadline)
		var envelope types.Envelope
		if err := c.conn.ReadJSON(&envelope); err != nil {
			c.t.Fatalf("waiting for %s: %v", event, err)
		}
		if envelope.Event == event {
			return &envelope
		}
	}
	c.t.Fatalf("event %s never arrived", event)
	return nil
}

func TestRejectsBadToken(t *testing.T) {
	ts := startTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(ts.url+"?token=garbage", nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 handshake response, got %+v", resp)
	}
}

func TestJoinDeliversSnapshotAndPeerEvents(t *testing.T) {
	ts := startTestServer(t)

	teacher := ts.connect(t, "teacher-1", types.RoleTeacher)
	teacher.send(types.EventJoinRoom, types.JoinRoomPayload{RoomID: "room-1"})
	teacher.expect(types.EventParticipantsUpdate)

	student := ts.connect(t, "alice", types.RoleStudent)
	student.send(types.EventJoinRoom, types.JoinRoomPayload{RoomID: "room-1"})

	env := student.expect(types.EventParticipantsUpdate)
	var participants []types.Participant
	if err := json.Unmarshal(env.Data, &participants); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(participants) != 2 {
		t.Errorf("expected 2 participants, got %d", len(participants))
	}

	peer := teacher.expect(types.EventPeerJoined)
	var joined types.Participant
	if err := json.Unmarshal(peer.Data, &joined); err != nil {
		t.Fatalf("decode peer-joined: %v", err)
	}
	if joined.UserID != "alice" {
		t.Errorf("expected peer alice, got %s", joined.UserID)
	}
}

func TestChatBroadcast(t *testing.T) {
	ts := startTestServer(t)

	alice := ts.connect(t, "alice", types.RoleStudent)
	bob := ts.connect(t, "bob", types.RoleStudent)
	alice.send(types.EventJoinRoom, types.JoinRoomPayload{RoomID: "room-1"})
	bob.send(types.EventJoinRoom, types.JoinRoomPayload{RoomID: "room-1"})
	alice.expect(types.EventParticipantsUpdate)
	bob.expect(types.EventParticipantsUpdate)

	alice.send(types.EventChatMessage, types.ChatPayload{RoomID: "room-1", Message: "hello class"})

	env := bob.expect(types.EventChatMessage)
	var msg types.ChatMessage
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if msg.UserID != "alice" || msg.Message != "hello class" {
		t.Errorf("unexpected chat message: %+v", msg)
	}
	if msg.ID == "" {
		t.Error("server did not assign a message id")
	}
}

func TestSignalRelayBetweenPeers(t *testing.T) {
	ts := startTestServer(t)

	alice := ts.connect(t, "alice", types.RoleStudent)
	bob := ts.connect(t, "bob", types.RoleStudent)
	alice.send(types.EventJoinRoom, types.JoinRoomPayload{RoomID: "room-1"})
	bob.send(types.EventJoinRoom, types.JoinRoomPayload{RoomID: "room-1"})
	alice.expect(types.EventParticipantsUpdate)
	bob.expect(types.EventParticipantsUpdate)

	offer := json.RawMessage(`{"sdp":"v=0 fake offer"}`)
	payload, _ := json.Marshal(types.SignalPayload{TargetConnectionID: bob.id, Payload: offer})
	alice.send(types.EventWebRTCOffer, json.RawMessage(payload))

	env := bob.expect(types.EventWebRTCOffer)
	var delivery types.SignalDelivery
	if err := json.Unmarshal(env.Data, &delivery); err != nil {
		t.Fatalf("decode delivery: %v", err)
	}
	if delivery.FromConnectionID != alice.id {
		t.Errorf("expected sender %s, got %s", alice.id, delivery.FromConnectionID)
	}
	if string(delivery.Payload) != string(offer) {
		t.Errorf("payload altered: %s", delivery.Payload)
	}
}

func TestFocusEventPersisted(t *testing.T) {
	ts := startTestServer(t)

	alice := ts.connect(t, "alice", types.RoleStudent)
	alice.send(types.EventJoinRoom, types.JoinRoomPayload{RoomID: "room-1"})
	alice.expect(types.EventParticipantsUpdate)

	alice.send(types.EventFocusEvent, types.FocusPayload{RoomID: "room-1", Kind: "blur", DurationSeconds: 12})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && ts.store.focusLogCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if ts.store.focusLogCount() != 1 {
		t.Fatal("focus log never persisted")
	}
}

func TestStartEngagementRequiresTeacher(t *testing.T) {
	ts := startTestServer(t)

	alice := ts.connect(t, "alice", types.RoleStudent)
	alice.send(types.EventJoinRoom, types.JoinRoomPayload{RoomID: "room-1"})
	alice.expect(types.EventParticipantsUpdate)

	alice.send(types.EventStartEngagement, types.RoomScopedPayload{RoomID: "room-1"})

	env := alice.expect(types.EventError)
	var notice types.ErrorNotice
	if err := json.Unmarshal(env.Data, &notice); err != nil {
		t.Fatalf("decode error notice: %v", err)
	}
	if notice.Message == "" {
		t.Error("empty error message")
	}
}

func TestUnknownEventReturnsError(t *testing.T) {
	ts := startTestServer(t)

	alice := ts.connect(t, "alice", types.RoleStudent)
	alice.send("no-such-event", struct{}{})
	alice.expect(types.EventError)
}

func TestBroadcastQuestionOverSocket(t *testing.T) {
	ts := startTestServer(t)
	ts.store.questions["q-1"] = &types.Question{
		ID:     "q-1",
		RoomID: "room-1",
		Text:   "Pick one",
		Options: []types.Option{
			{ID: "opt-a", Text: "A", IsCorrect: true},
			{ID: "opt-b", Text: "B"},
		},
	}

	teacher := ts.connect(t, "teacher-1", types.RoleTeacher)
	student := ts.connect(t, "alice", types.RoleStudent)
	teacher.send(types.EventJoinRoom, types.JoinRoomPayload{RoomID: "room-1"})
	student.send(types.EventJoinRoom, types.JoinRoomPayload{RoomID: "room-1"})
	teacher.expect(types.EventParticipantsUpdate)
	student.expect(types.EventParticipantsUpdate)

	teacher.send(types.EventBroadcastQuestion, types.BroadcastQuestionPayload{QuestionID: "q-1", RoomID: "room-1"})

	env := student.expect(types.EventQuestionPopup)
	var popup types.QuestionPopup
	if err := json.Unmarshal(env.Data, &popup); err != nil {
		t.Fatalf("decode popup: %v", err)
	}
	if popup.QuestionID != "q-1" || len(popup.Options) != 2 {
		t.Errorf("unexpected popup: %+v", popup)
	}
	if popup.DeadlineSeconds != 60 {
		t.Errorf("expected 60s deadline, got %d", popup.DeadlineSeconds)
	}
}
