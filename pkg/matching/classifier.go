package matching

import "github.com/Ramsey-B/clover/pkg/models"

// Classifier buckets a pair's match probability into one of three decision
// tiers. AutoMerge pairs proceed straight to unification, ManualReview pairs
// are queued for human adjudication and never auto-merged, Reject pairs are
// discarded without persistence.
type Classifier struct {
	autoMergeThreshold float64
	reviewThreshold    float64
}

// NewClassifier creates a classifier with explicit thresholds.
func NewClassifier(autoMergeThreshold, reviewThreshold float64) *Classifier {
	return &Classifier{
		autoMergeThreshold: autoMergeThreshold,
		reviewThreshold:    reviewThreshold,
	}
}

// DefaultClassifier returns a classifier with the production thresholds:
// probability > 0.95 auto-merges, 0.75..0.95 goes to review, below rejects.
func DefaultClassifier() *Classifier {
	return NewClassifier(0.95, 0.75)
}

// Classify maps a probability to a decision tier.
func (c *Classifier) Classify(probability float64) models.MatchDecision {
	switch {
	case probability > c.autoMergeThreshold:
		return models.MatchDecisionAutoMerge
	case probability >= c.reviewThreshold:
		return models.MatchDecisionManualReview
	default:
		return models.MatchDecisionReject
	}
}
