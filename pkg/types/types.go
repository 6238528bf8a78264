package types

import (
	"encoding/json"
	"time"
)

// Roles carried by verified identity tokens.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Client-to-server and server-to-client event names. One envelope format in
// both directions keeps the wire protocol symmetric.
const (
	EventConnected          = "connected"
	EventJoinRoom           = "join-room"
	EventLeaveRoom          = "leave-room"
	EventParticipantsUpdate = "participants-update"
	EventPeerJoined         = "peer-joined"
	EventPeerLeft           = "peer-left"
	EventChatMessage        = "chat-message"
	EventRaiseHand          = "raise-hand"
	EventHandRaised         = "hand-raised"
	EventWebRTCOffer        = "webrtc-offer"
	EventWebRTCAnswer       = "webrtc-answer"
	EventWebRTCCandidate    = "webrtc-ice-candidate"
	EventEngagementPopup    = "engagement-popup"
	EventPopupResponse      = "popup-response"
	EventStartEngagement    = "start-engagement"
	EventBroadcastQuestion  = "broadcast-question"
	EventQuestionPopup      = "question-popup"
	EventQuestionClosed     = "question-closed"
	EventQuestionResults    = "question-results"
	EventFocusEvent         = "focus-event"
	EventScreenShareStart   = "screen-share-start"
	EventScreenShareStarted = "screen-share-started"
	EventScreenShareStop    = "screen-share-stop"
	EventScreenShareStopped = "screen-share-stopped"
	EventError              = "error"
)

// Identity is the verified identity behind a live connection. It is produced
// by token verification and never trusted from message payloads.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// Participant is a user's membership record within a room, derived from the
// owning connection. It exists only while the connection is a room member.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
	Role         string `json:"role"`
}

// Envelope is an inbound wire message. Data stays raw until the router knows
// which payload type the event carries.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is a server-originated wire message.
type Outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Inbound payloads.

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type ChatPayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type RoomScopedPayload struct {
	RoomID string `json:"roomId"`
}

// SignalPayload targets a single connection. Payload is opaque negotiation
// metadata (SDP or ICE) that the relay never inspects.
type SignalPayload struct {
	TargetConnectionID string          `json:"targetConnectionId"`
	Payload            json.RawMessage `json:"payload"`
}

type BroadcastQuestionPayload struct {
	QuestionID string `json:"questionId"`
	RoomID     string `json:"roomId"`
}

type FocusPayload struct {
	RoomID          string `json:"roomId"`
	Kind            string `json:"kind"`
	DurationSeconds int    `json:"durationSeconds"`
}

// Outbound payloads.

type ConnectedNotice struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
	Role         string `json:"role"`
}

type ChatMessage struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
}

type HandRaised struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// SignalDelivery is the relayed form of SignalPayload seen by the target.
type SignalDelivery struct {
	FromConnectionID string          `json:"fromConnectionId"`
	Payload          json.RawMessage `json:"payload"`
}

type PopupNotice struct {
	PopupID         string `json:"popupId"`
	DeadlineSeconds int    `json:"deadlineSeconds"`
}

type ScreenShareNotice struct {
	ConnectionID string `json:"connectionId,omitempty"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName,omitempty"`
}

type ErrorNotice struct {
	Message string `json:"message"`
}

// Question is the stored form of a teacher-created question. IsCorrect never
// leaves the server before the question closes.
type Question struct {
	ID        string   `json:"id"`
	RoomID    string   `json:"roomId"`
	Text      string   `json:"text"`
	CreatedBy string   `json:"createdBy"`
	Options   []Option `json:"options"`
}

type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// OptionView is the participant-facing projection of an Option.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type QuestionPopup struct {
	QuestionID      string       `json:"questionId"`
	Text            string       `json:"text"`
	Options         []OptionView `json:"options"`
	DeadlineSeconds int          `json:"deadlineSeconds"`
}

type QuestionClosed struct {
	QuestionID string `json:"questionId"`
}

type OptionResult struct {
	Text      string `json:"text"`
	Count     int    `json:"count"`
	IsCorrect bool   `json:"isCorrect"`
}

type QuestionResults struct {
	QuestionID        string                  `json:"questionId"`
	Text              string                  `json:"text"`
	TotalResponses    int                     `json:"totalResponses"`
	CorrectResponses  int                     `json:"correctResponses"`
	CorrectPercentage int                     `json:"correctPercentage"`
	Distribution      map[string]OptionResult `json:"distribution"`
}

// Persisted log rows. All append-only; idempotency is enforced at the row
// uniqueness level, never by check-then-write.

type PopupLog struct {
	ID        string    `json:"id"`
	PopupID   string    `json:"popupId"`
	RoomID    string    `json:"roomId"`
	StudentID string    `json:"studentId"`
	Responded bool      `json:"responded"`
	CreatedAt time.Time `json:"createdAt"`
}

type FocusLog struct {
	ID              string    `json:"id"`
	RoomID          string    `json:"roomId"`
	StudentID       string    `json:"studentId"`
	Kind            string    `json:"kind"`
	DurationSeconds int       `json:"durationSeconds"`
	CreatedAt       time.Time `json:"createdAt"`
}

type QuestionResponse struct {
	StudentID  string    `json:"studentId"`
	QuestionID string    `json:"questionId"`
	RoomID     string    `json:"roomId"`
	OptionID   string    `json:"optionId"`
	IsCorrect  bool      `json:"isCorrect"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Aggregate counts read back from the store.

type PopupStats struct {
	Total     int `json:"total"`
	Responded int `json:"responded"`
}

type ResponseStats struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

type FocusTotals struct {
	FocusSeconds int `json:"focusSeconds"`
	BlurSeconds  int `json:"blurSeconds"`
}

// ScoreRecord is computed per request from the persisted logs, never stored.
// Component scores are 0-100 rounded display values; the composite weighting
// is Engagement = 0.5*attendance + 0.3*focus + 0.2*understanding.
type ScoreRecord struct {
	StudentID          string `json:"studentId"`
	AttendanceScore    int    `json:"attendanceScore"`
	UnderstandingScore int    `json:"understandingScore"`
	FocusScore         int    `json:"focusScore"`
	EngagementScore    int    `json:"engagementScore"`
	IsPresent          bool   `json:"isPresent"`
	Points             int    `json:"points"`
	TotalPopups        int    `json:"totalPopups"`
	RespondedPopups    int    `json:"respondedPopups"`
	TotalQuestions     int    `json:"totalQuestions"`
	CorrectAnswers     int    `json:"correctAnswers"`
}

type ClassSummary struct {
	TotalStudents        int `json:"totalStudents"`
	PresentStudents      int `json:"presentStudents"`
	AbsentStudents       int `json:"absentStudents"`
	AvgEngagement        int `json:"avgEngagement"`
	AttendancePercentage int `json:"attendancePercentage"`
}

type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	StudentID string `json:"studentId"`
	Score     int    `json:"score"`
}
