package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"classboard/internal/auth"
	"classboard/internal/catalog"
	"classboard/internal/question"
	"classboard/internal/scoring"
	"classboard/pkg/interfaces"
	"classboard/pkg/types"
)

// In-memory store backing catalog, engine, and aggregator in one place.
type mockStore struct {
	mu        sync.Mutex
	questions map[string]*types.Question
	responses map[string]bool
	points    map[string]int

	shouldFailHealth bool
}

func newMockStore() *mockStore {
	return &mockStore{
		questions: make(map[string]*types.Question),
		responses: make(map[string]bool),
		points:    make(map[string]int),
	}
}

func (m *mockStore) CreateQuestion(ctx context.Context, q *types.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions[q.ID] = q
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
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[studentID+"|"+roomID] += delta
	return nil
}

func (m *mockStore) PopupStats(ctx context.Context, studentID, roomID string) (types.PopupStats, error) {
	return types.PopupStats{Total: 5, Responded: 4}, nil
}

func (m *mockStore) ResponseStats(ctx context.Context, studentID, roomID string) (types.ResponseStats, error) {
	return types.ResponseStats{Total: 2, Correct: 1}, nil
}

func (m *mockStore) FocusTotals(ctx context.Context, studentID, roomID string) (types.FocusTotals, error) {
	return types.FocusTotals{FocusSeconds: 270, BlurSeconds: 30}, nil
}

func (m *mockStore) Points(ctx context.Context, studentID, roomID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.points[studentID+"|"+roomID], nil
}

func (m *mockStore) RoomStudentIDs(ctx context.Context, roomID string) ([]string, error) {
	return []string{"alice"}, nil
}

func (m *mockStore) Leaderboard(ctx context.Context, roomID string) ([]types.LeaderboardEntry, error) {
	return []types.LeaderboardEntry{{StudentID: "alice", Score: 10}}, nil
}

func (m *mockStore) HealthCheck(ctx context.Context) error {
	if m.shouldFailHealth {
		return errors.New("database unreachable")
	}
	return nil
}

type mockRoomView struct{ students []string }

func (m *mockRoomView) StudentIDs(roomID string) []string { return m.students }

type nopPublisher struct{}

func (nopPublisher) Publish(roomID, event string, data interface{}) {}

type fixedCount int

func (c fixedCount) Count() int { return int(c) }

type testHarness struct {
	server       *Server
	store        *mockStore
	verifier     *auth.Verifier
	teacherToken string
	studentToken string
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	store := newMockStore()
	verifier := auth.NewVerifier("test-secret")

	cat, err := catalog.NewCatalog(store)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	engine := question.NewEngine(&mockRoomView{students: []string{"alice", "bob"}}, nopPublisher{}, store, cat, time.Minute, 10)
	aggregator := scoring.NewAggregator(store)
	server := NewServer(cat, engine, aggregator, verifier, store, fixedCount(3), fixedCount(1))

	teacherToken, err := verifier.Issue(types.Identity{UserID: "teacher-1", DisplayName: "Ms. T", Role: types.RoleTeacher}, time.Minute)
	if err != nil {
		t.Fatalf("issue teacher token: %v", err)
	}
	studentToken, err := verifier.Issue(types.Identity{UserID: "alice", DisplayName: "Alice", Role: types.RoleStudent}, time.Minute)
	if err != nil {
		t.Fatalf("issue student token: %v", err)
	}

	return &testHarness{
		server:       server,
		store:        store,
		verifier:     verifier,
		teacherToken: teacherToken,
		studentToken: studentToken,
	}
}

func (h *testHarness) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func (h *testHarness) createQuestion(t *testing.T) string {
	t.Helper()
	rec := h.request(t, http.MethodPost, "/api/questions", h.teacherToken, CreateQuestionRequest{
		RoomID: "room-1",
		Text:   "What does WAL stand for?",
		Options: []types.Option{
			{Text: "Write-ahead log", IsCorrect: true},
			{Text: "Wide-area link"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create question: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp CreateQuestionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp.Question.ID
}

func TestCreateQuestionRequiresTeacher(t *testing.T) {
	h := newTestHarness(t)

	rec := h.request(t, http.MethodPost, "/api/questions", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", rec.Code)
	}

	rec = h.request(t, http.MethodPost, "/api/questions", h.studentToken, CreateQuestionRequest{})
	if rec.Code != http.StatusForbidden {
		t.Errorf("student token: expected 403, got %d", rec.Code)
	}
}

func TestCreateQuestionValidationErrors(t *testing.T) {
	h := newTestHarness(t)

	rec := h.request(t, http.MethodPost, "/api/questions", h.teacherToken, CreateQuestionRequest{
		RoomID:  "room-1",
		Text:    "Too few options",
		Options: []types.Option{{Text: "only", IsCorrect: true}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateQuestionAndRespond(t *testing.T) {
	h := newTestHarness(t)
	questionID := h.createQuestion(t)

	q, err := h.store.GetQuestion(context.Background(), questionID)
	if err != nil {
		t.Fatalf("stored question missing: %v", err)
	}
	correctOption := q.Options[0].ID

	// Responding requires an open broadcast.
	rec := h.request(t, http.MethodPost, "/api/questions/"+questionID+"/respond", h.studentToken, SubmitResponseRequest{OptionID: correctOption})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("respond before broadcast: expected 404, got %d", rec.Code)
	}

	if err := h.server.engine.Broadcast(context.Background(), questionID, "room-1"); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	rec = h.request(t, http.MethodPost, "/api/questions/"+questionID+"/respond", h.studentToken, SubmitResponseRequest{OptionID: correctOption})
	if rec.Code != http.StatusOK {
		t.Fatalf("respond: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Second submission conflicts, points stay at one award.
	rec = h.request(t, http.MethodPost, "/api/questions/"+questionID+"/respond", h.studentToken, SubmitResponseRequest{OptionID: correctOption})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate respond: expected 409, got %d", rec.Code)
	}
	if points, _ := h.store.Points(context.Background(), "alice", "room-1"); points != 10 {
		t.Errorf("expected 10 points, got %d", points)
	}

	rec = h.request(t, http.MethodPost, "/api/questions/"+questionID+"/respond", h.teacherToken, SubmitResponseRequest{OptionID: correctOption})
	if rec.Code != http.StatusForbidden {
		t.Errorf("teacher respond: expected 403, got %d", rec.Code)
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	h := newTestHarness(t)

	rec := h.request(t, http.MethodGet, "/api/analytics/room-1", h.studentToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("student analytics: expected 403, got %d", rec.Code)
	}

	rec = h.request(t, http.MethodGet, "/api/analytics/room-1", h.teacherToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analytics: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var analytics AnalyticsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &analytics); err != nil {
		t.Fatalf("decode analytics: %v", err)
	}
	if len(analytics.Students) != 1 || analytics.Students[0].EngagementScore != 77 {
		t.Errorf("unexpected analytics: %+v", analytics)
	}

	rec = h.request(t, http.MethodGet, "/api/analytics/room-1/leaderboard", h.teacherToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("leaderboard: expected 200, got %d", rec.Code)
	}
	var board LeaderboardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &board); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if len(board.Entries) != 1 || board.Entries[0].Rank != 1 {
		t.Errorf("unexpected leaderboard: %+v", board)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHarness(t)

	rec := h.request(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" || health.Connections != 3 || health.Rooms != 1 {
		t.Errorf("unexpected health: %+v", health)
	}

	h.store.shouldFailHealth = true
	rec = h.request(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHarness(t)

	rec := h.request(t, http.MethodDelete, "/api/questions", h.teacherToken, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}

	rec = h.request(t, http.MethodPost, "/api/analytics/room-1", h.teacherToken, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
