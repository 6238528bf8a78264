package scoring

import (
	"context"
	"math"

	"classboard/pkg/types"
)

// Composite weighting for the engagement score.
const (
	attendanceWeight    = 0.5
	focusWeight         = 0.3
	understandingWeight = 0.2

	presenceThreshold = 0.8
)

// ScoreReader is the store surface the aggregator reads from.
type ScoreReader interface {
	PopupStats(ctx context.Context, studentID, roomID string) (types.PopupStats, error)
	ResponseStats(ctx context.Context, studentID, roomID string) (types.ResponseStats, error)
	FocusTotals(ctx context.Context, studentID, roomID string) (types.FocusTotals, error)
	Points(ctx context.Context, studentID, roomID string) (int, error)
	RoomStudentIDs(ctx context.Context, roomID string) ([]string, error)
	Leaderboard(ctx context.Context, roomID string) ([]types.LeaderboardEntry, error)
}

// Aggregator computes per-student and class-level scores on demand from the
// persisted event logs. It holds no state of its own; every call reads the
// store fresh.
type Aggregator struct {
	store ScoreReader
}

func NewAggregator(store ScoreReader) *Aggregator {
	return &Aggregator{store: store}
}

// StudentScore computes the composite score for one student in one room.
//
// Defaults are asymmetric: with no popups yet the student is
// assumed present (attendance 1), with no focus data assumed focused
// (focus 1), but with no answered questions assumed to have demonstrated
// nothing (understanding 0).
func (a *Aggregator) StudentScore(ctx context.Context, studentID, roomID string) (*types.ScoreRecord, error) {
	popups, err := a.store.PopupStats(ctx, studentID, roomID)
	if err != nil {
		return nil, err
	}
	responses, err := a.store.ResponseStats(ctx, studentID, roomID)
	if err != nil {
		return nil, err
	}
	focus, err := a.store.FocusTotals(ctx, studentID, roomID)
	if err != nil {
		return nil, err
	}
	points, err := a.store.Points(ctx, studentID, roomID)
	if err != nil {
		return nil, err
	}

	attendance := 1.0
	if popups.Total > 0 {
		attendance = float64(popups.Responded) / float64(popups.Total)
	}

	understanding := 0.0
	if responses.Total > 0 {
		understanding = float64(responses.Correct) / float64(responses.Total)
	}

	focusRatio := 1.0
	if focus.FocusSeconds+focus.BlurSeconds > 0 {
		focusRatio = float64(focus.FocusSeconds) / float64(focus.FocusSeconds+focus.BlurSeconds)
	}

	engagement := attendanceWeight*attendance + focusWeight*focusRatio + understandingWeight*understanding

	return &types.ScoreRecord{
		StudentID:          studentID,
		AttendanceScore:    percent(attendance),
		UnderstandingScore: percent(understanding),
		FocusScore:         percent(focusRatio),
		EngagementScore:    percent(engagement),
		IsPresent:          attendance >= presenceThreshold,
		Points:             points,
		TotalPopups:        popups.Total,
		RespondedPopups:    popups.Responded,
		TotalQuestions:     responses.Total,
		CorrectAnswers:     responses.Correct,
	}, nil
}

// RoomScores computes scores for every student with a trace in the room,
// plus the class summary.
func (a *Aggregator) RoomScores(ctx context.Context, roomID string) ([]*types.ScoreRecord, *types.ClassSummary, error) {
	studentIDs, err := a.store.RoomStudentIDs(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}

	records := make([]*types.ScoreRecord, 0, len(studentIDs))
	present := 0
	engagementSum := 0
	for _, id := range studentIDs {
		rec, err := a.StudentScore(ctx, id, roomID)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
		if rec.IsPresent {
			present++
		}
		engagementSum += rec.EngagementScore
	}

	summary := &types.ClassSummary{
		TotalStudents:   len(records),
		PresentStudents: present,
		AbsentStudents:  len(records) - present,
	}
	if len(records) > 0 {
		summary.AvgEngagement = int(math.Round(float64(engagementSum) / float64(len(records))))
		summary.AttendancePercentage = percent(float64(present) / float64(len(records)))
	}

	return records, summary, nil
}

// Leaderboard returns point totals for a room, ranked descending.
func (a *Aggregator) Leaderboard(ctx context.Context, roomID string) ([]types.LeaderboardEntry, error) {
	entries, err := a.store.Leaderboard(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// percent scales a [0,1] ratio to a rounded 0-100 display value.
func percent(ratio float64) int {
	return int(math.Round(100 * ratio))
}
