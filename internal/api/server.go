package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"classboard/internal/auth"
	"classboard/internal/catalog"
	"classboard/internal/question"
	"classboard/internal/scoring"
	"classboard/pkg/interfaces"
	"classboard/pkg/types"
)

// ConnectionStats exposes live connection counts for the health endpoint.
type ConnectionStats interface {
	Count() int
}

// HealthChecker validates store connectivity.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP surface: question creation and response submission for
// clients, analytics for teachers, and a health probe. No business logic
// lives here, only HTTP handling and JSON serialization.
type Server struct {
	catalog    *catalog.Catalog
	engine     *question.Engine
	aggregator *scoring.Aggregator
	verifier   *auth.Verifier
	health     HealthChecker
	conns      ConnectionStats
	rooms      ConnectionStats

	mux *http.ServeMux
	log *logrus.Entry
}

func NewServer(cat *catalog.Catalog, engine *question.Engine, aggregator *scoring.Aggregator, verifier *auth.Verifier, health HealthChecker, conns, rooms ConnectionStats) *Server {
	s := &Server{
		catalog:    cat,
		engine:     engine,
		aggregator: aggregator,
		verifier:   verifier,
		health:     health,
		conns:      conns,
		rooms:      rooms,
		mux:        http.NewServeMux(),
		log:        logrus.WithField("component", "api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.Handle("/api/questions", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleQuestions))))
	s.mux.Handle("/api/questions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleQuestionByID))))
	s.mux.Handle("/api/analytics/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleAnalytics))))
	s.mux.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Request/response shapes.

type CreateQuestionRequest struct {
	RoomID  string         `json:"roomId"`
	Text    string         `json:"text"`
	Options []types.Option `json:"options"`
}

type CreateQuestionResponse struct {
	Question *types.Question `json:"question"`
}

type SubmitResponseRequest struct {
	OptionID string `json:"optionId"`
}

type AnalyticsResponse struct {
	RoomID   string               `json:"roomId"`
	Students []*types.ScoreRecord `json:"students"`
	Summary  *types.ClassSummary  `json:"summary"`
}

type LeaderboardResponse struct {
	RoomID  string                   `json:"roomId"`
	Entries []types.LeaderboardEntry `json:"entries"`
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Database    string    `json:"database"`
	Connections int       `json:"connections"`
	Rooms       int       `json:"rooms"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /api/questions
func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createQuestion(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /api/questions/{id}/respond
func (s *Server) handleQuestionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/questions/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		s.sendError(w, "Question ID required", http.StatusBadRequest)
		return
	}
	questionID := parts[0]

	if len(parts) == 2 && parts[1] == "respond" {
		switch r.Method {
		case http.MethodPost:
			s.submitResponse(w, r, questionID)
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		default:
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	s.sendError(w, "Not found", http.StatusNotFound)
}

// GET /api/analytics/{roomId} and GET /api/analytics/{roomId}/leaderboard
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/analytics/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		s.sendError(w, "Room ID required", http.StatusBadRequest)
		return
	}
	roomID := parts[0]
	if !types.IsValidRoomID(roomID) {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}

	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if identity.Role != types.RoleTeacher {
		s.sendError(w, "Teacher role required", http.StatusForbidden)
		return
	}

	if len(parts) == 2 && parts[1] == "leaderboard" {
		s.leaderboard(w, r, roomID)
		return
	}
	if len(parts) == 1 {
		s.roomAnalytics(w, r, roomID)
		return
	}

	s.sendError(w, "Not found", http.StatusNotFound)
}

func (s *Server) createQuestion(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if identity.Role != types.RoleTeacher {
		s.sendError(w, "Teacher role required", http.StatusForbidden)
		return
	}

	var req CreateQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	q, err := s.catalog.CreateQuestion(r.Context(), req.RoomID, req.Text, identity.UserID, req.Options)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrInvalidRoomID),
			errors.Is(err, types.ErrQuestionText),
			errors.Is(err, types.ErrTooFewOptions),
			errors.Is(err, types.ErrNoCorrectOption):
			s.sendError(w, err.Error(), http.StatusBadRequest)
		default:
			s.log.WithError(err).Error("failed to create question")
			s.sendError(w, "Failed to create question", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateQuestionResponse{Question: q})
}

func (s *Server) submitResponse(w http.ResponseWriter, r *http.Request, questionID string) {
	identity, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if identity.Role != types.RoleStudent {
		s.sendError(w, "Student role required", http.StatusForbidden)
		return
	}

	var req SubmitResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.OptionID == "" {
		s.sendError(w, "Option ID required", http.StatusBadRequest)
		return
	}

	err := s.engine.SubmitResponse(r.Context(), questionID, identity.UserID, req.OptionID)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrQuestionNotFound):
			s.sendError(w, "Question not found", http.StatusNotFound)
		case errors.Is(err, interfaces.ErrDuplicateResponse):
			s.sendError(w, "Already responded to this question", http.StatusConflict)
		case errors.Is(err, question.ErrQuestionClosed):
			s.sendError(w, "Question is closed", http.StatusGone)
		case errors.Is(err, question.ErrUnknownOption):
			s.sendError(w, "Unknown option", http.StatusBadRequest)
		default:
			s.log.WithError(err).WithField("question_id", questionID).Error("failed to submit response")
			s.sendError(w, "Failed to submit response", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Response recorded"})
}

func (s *Server) roomAnalytics(w http.ResponseWriter, r *http.Request, roomID string) {
	records, summary, err := s.aggregator.RoomScores(r.Context(), roomID)
	if err != nil {
		s.log.WithError(err).WithField("room_id", roomID).Error("failed to compute analytics")
		s.sendError(w, "Failed to compute analytics", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(AnalyticsResponse{
		RoomID:   roomID,
		Students: records,
		Summary:  summary,
	})
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request, roomID string) {
	entries, err := s.aggregator.Leaderboard(r.Context(), roomID)
	if err != nil {
		s.log.WithError(err).WithField("room_id", roomID).Error("failed to load leaderboard")
		s.sendError(w, "Failed to load leaderboard", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(LeaderboardResponse{
		RoomID:  roomID,
		Entries: entries,
	})
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.health.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = "error: " + err.Error()
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.conns.Count(),
		Rooms:       s.rooms.Count(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// authenticate extracts and verifies the Bearer token. Writes the error
// response itself so handlers can bail with a plain return.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (types.Identity, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		s.sendError(w, "Missing bearer token", http.StatusUnauthorized)
		return types.Identity{}, false
	}

	identity, err := s.verifier.Verify(token)
	if err != nil {
		s.sendError(w, "Invalid token", http.StatusUnauthorized)
		return types.Identity{}, false
	}
	return identity, true
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
