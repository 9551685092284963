// Package trust derives an agent's transparency tier and 0-100 trust
// score from job history, ratings, and verified reviews.
package trust

import (
	"context"
	"math"
	"time"

	"github.com/vap/backend/internal/store"
)

// Levels, strongest first.
const (
	LevelTrusted      = "trusted"
	LevelEstablished  = "established"
	LevelEstablishing = "establishing"
	LevelNew          = "new"
)

// threshold is one row of the level table. A level is granted only
// when every column holds.
type threshold struct {
	level         string
	minCompleted  int
	maxDispute    float64
	minAvgRating  float64 // 0 means not required
	minActiveDays int
}

var levelTable = []threshold{
	{LevelTrusted, 50, 0.02, 4.0, 90},
	{LevelEstablished, 20, 0.03, 0, 60},
	{LevelEstablishing, 5, 0.05, 0, 0},
	{LevelNew, 0, 1.0, 0, 0},
}

// Profile is the trust evaluation of one agent.
type Profile struct {
	AgentAddress    string  `json:"agentAddress"`
	Level           string  `json:"level"`
	Score           int     `json:"score"`
	CompletedJobs   int     `json:"completedJobs"`
	DisputeRate     float64 `json:"disputeRate"`
	AvgRating       float64 `json:"avgRating"`
	ActiveDays      int     `json:"activeDays"`
	VerifiedReviews int     `json:"verifiedReviews"`
}

// StatsReader is the store surface trust evaluation needs.
type StatsReader interface {
	GetJobStats(ctx context.Context, seller string) (*store.JobStats, error)
	AvgRating(ctx context.Context, agentAddress string) (float64, int, error)
	CountVerifiedReviews(ctx context.Context, agentAddress string) (int, error)
}

// Evaluator computes trust profiles.
type Evaluator struct {
	stats StatsReader
	now   func() time.Time
}

// New builds an evaluator.
func New(stats StatsReader) *Evaluator {
	return &Evaluator{stats: stats, now: time.Now}
}

// Evaluate computes the trust profile for an agent.
func (e *Evaluator) Evaluate(ctx context.Context, agentAddress string) (*Profile, error) {
	js, err := e.stats.GetJobStats(ctx, agentAddress)
	if err != nil {
		return nil, err
	}
	avgRating, _, err := e.stats.AvgRating(ctx, agentAddress)
	if err != nil {
		return nil, err
	}
	verified, err := e.stats.CountVerifiedReviews(ctx, agentAddress)
	if err != nil {
		return nil, err
	}

	disputeRate := 0.0
	if js.Total > 0 {
		disputeRate = float64(js.Disputed) / float64(js.Total)
	}
	activeDays := 0
	if js.FirstSeen != nil {
		activeDays = int(e.now().Sub(*js.FirstSeen).Hours() / 24)
	}

	p := &Profile{
		AgentAddress:    agentAddress,
		CompletedJobs:   js.Completed,
		DisputeRate:     disputeRate,
		AvgRating:       avgRating,
		ActiveDays:      activeDays,
		VerifiedReviews: verified,
	}
	p.Level = level(p)
	p.Score = Score(p.CompletedJobs, p.DisputeRate, p.AvgRating, p.ActiveDays, p.VerifiedReviews)
	return p, nil
}

func level(p *Profile) string {
	for _, t := range levelTable {
		if p.CompletedJobs >= t.minCompleted &&
			p.DisputeRate <= t.maxDispute &&
			(t.minAvgRating == 0 || p.AvgRating >= t.minAvgRating) &&
			p.ActiveDays >= t.minActiveDays {
			return t.level
		}
	}
	return LevelNew
}

// Score sums five capped components: completion (0-30, linear to 50
// jobs), low-dispute (0-20), rating (0-25), identity age (0-15, linear
// to 180 days), verified reviews (0-10, linear to 10).
func Score(completed int, disputeRate, avgRating float64, activeDays, verifiedReviews int) int {
	completion := math.Min(float64(completed)/50, 1) * 30
	lowDispute := math.Max(0, 1-disputeRate*10) * 20
	rating := math.Min(avgRating/5, 1) * 25
	age := math.Min(float64(activeDays)/180, 1) * 15
	verified := math.Min(float64(verifiedReviews)/10, 1) * 10
	return int(math.Round(completion + lowDispute + rating + age + verified))
}
