// Package reputation computes agent reputation from reviews: a
// recency- and verification-weighted score, a confidence tier, a
// 30-day trend, and Sybil heuristics. Pure read-side math: the same
// review set at the same instant always yields the same output.
package reputation

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/vap/backend/internal/store"
)

// Weight model constants.
const (
	halfLifeDays  = 90.0
	verifiedBoost = 1.1
)

// Confidence tiers.
const (
	ConfidenceNone   = "none"
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Trend values.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// SybilFlag is one anomaly detected in an agent's review set.
type SybilFlag struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Detail   string `json:"detail,omitempty"`
}

// Summary is the computed reputation of one agent.
type Summary struct {
	AgentAddress    string      `json:"agentAddress"`
	WeightedScore   float64     `json:"weightedScore"`
	ReviewCount     int         `json:"reviewCount"`
	VerifiedCount   int         `json:"verifiedCount"`
	UniqueReviewers int         `json:"uniqueReviewers"`
	Confidence      string      `json:"confidence"`
	Trend           string      `json:"trend"`
	SybilFlags      []SybilFlag `json:"sybilFlags,omitempty"`
	ComputedAt      time.Time   `json:"computedAt"`
}

// ReviewReader is the store surface the engine needs. The cross-agent
// review count feeds the single-target-reviewer heuristic.
type ReviewReader interface {
	ListReviews(ctx context.Context, agentAddress string) ([]*store.Review, error)
	CountReviewsByBuyer(ctx context.Context, buyer, agentAddress string) (forAgent, forOthers int, err error)
}

// Engine computes reputation summaries.
type Engine struct {
	reviews ReviewReader
	now     func() time.Time
}

// New builds an engine.
func New(reviews ReviewReader) *Engine {
	return &Engine{reviews: reviews, now: time.Now}
}

// Compute builds the full summary for an agent.
func (e *Engine) Compute(ctx context.Context, agentAddress string) (*Summary, error) {
	reviews, err := e.reviews.ListReviews(ctx, agentAddress)
	if err != nil {
		return nil, err
	}
	now := e.now()

	s := &Summary{
		AgentAddress:  agentAddress,
		ReviewCount:   len(reviews),
		WeightedScore: weightedScore(reviews, now),
		Trend:         trend(reviews, now),
		ComputedAt:    now,
	}

	reviewers := make(map[string]int)
	for _, r := range reviews {
		reviewers[r.Buyer]++
		if r.Verified {
			s.VerifiedCount++
		}
	}
	s.UniqueReviewers = len(reviewers)
	s.Confidence = confidence(len(reviews), s.UniqueReviewers, s.VerifiedCount)
	s.SybilFlags = e.sybilFlags(ctx, agentAddress, reviews, reviewers)
	return s, nil
}

// weightedScore is sum(rating * recency * boost) / sum(weights),
// rounded to two decimals. Unrated reviews carry no weight.
func weightedScore(reviews []*store.Review, now time.Time) float64 {
	var num, den float64
	for _, r := range reviews {
		if r.Rating == nil {
			continue
		}
		ageDays := now.Sub(r.ReviewedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		w := math.Pow(0.5, ageDays/halfLifeDays)
		if r.Verified {
			w *= verifiedBoost
		}
		num += float64(*r.Rating) * w
		den += w
	}
	if den == 0 {
		return 0
	}
	return math.Round(num/den*100) / 100
}

func confidence(total, unique, verified int) string {
	switch {
	case total == 0:
		return ConfidenceNone
	case total >= 10 &&
		float64(unique) >= 0.7*float64(total) &&
		float64(verified) >= 0.8*float64(total):
		return ConfidenceHigh
	case total >= 5 && float64(unique) >= 0.5*float64(total):
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// trend compares the mean rating of the last 30 days against the prior
// 30 days.
func trend(reviews []*store.Review, now time.Time) string {
	recentCut := now.AddDate(0, 0, -30)
	priorCut := now.AddDate(0, 0, -60)

	var recentSum, priorSum float64
	var recentN, priorN int
	for _, r := range reviews {
		if r.Rating == nil {
			continue
		}
		switch {
		case r.ReviewedAt.After(recentCut):
			recentSum += float64(*r.Rating)
			recentN++
		case r.ReviewedAt.After(priorCut):
			priorSum += float64(*r.Rating)
			priorN++
		}
	}
	if recentN == 0 || priorN == 0 {
		return TrendStable
	}
	delta := recentSum/float64(recentN) - priorSum/float64(priorN)
	switch {
	case delta > 0.3:
		return TrendUp
	case delta < -0.3:
		return TrendDown
	default:
		return TrendStable
	}
}

func (e *Engine) sybilFlags(ctx context.Context, agentAddress string, reviews []*store.Review, reviewers map[string]int) []SybilFlag {
	var flags []SybilFlag

	// Self-review: the agent appears among its own buyers.
	if _, ok := reviewers[agentAddress]; ok {
		flags = append(flags, SybilFlag{Type: "self-review", Severity: "high"})
	}

	// Single-target reviewer: heavy reviewers with no history elsewhere.
	for buyer, count := range reviewers {
		if count < 3 {
			continue
		}
		forAgent, forOthers, err := e.reviews.CountReviewsByBuyer(ctx, buyer, agentAddress)
		if err != nil || forOthers > 0 {
			continue
		}
		sev := "medium"
		if forAgent >= 5 {
			sev = "high"
		}
		flags = append(flags, SybilFlag{Type: "single-target-reviewer", Severity: sev, Detail: buyer})
	}

	// Review burst: any 1 hour window holding 5 or more reviews.
	if burst := maxReviewsInHour(reviews); burst >= 5 {
		sev := "medium"
		if burst >= 10 {
			sev = "high"
		}
		flags = append(flags, SybilFlag{Type: "review-burst", Severity: sev})
	}

	// Low diversity: many reviews from few hands.
	if len(reviews) >= 5 && float64(len(reviewers))/float64(len(reviews)) < 0.3 {
		flags = append(flags, SybilFlag{Type: "low-diversity", Severity: "medium"})
	}
	return flags
}

func maxReviewsInHour(reviews []*store.Review) int {
	if len(reviews) == 0 {
		return 0
	}
	times := make([]time.Time, len(reviews))
	for i, r := range reviews {
		times[i] = r.ReviewedAt
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	best, lo := 0, 0
	for hi := range times {
		for times[hi].Sub(times[lo]) > time.Hour {
			lo++
		}
		if n := hi - lo + 1; n > best {
			best = n
		}
	}
	return best
}
