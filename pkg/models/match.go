package models

import "time"

// BlockKey is a derived grouping key used only to restrict comparison scope.
// Records are scored against each other only when they share at least one
// key; the key itself is never a matching signal.
type BlockKey string

// MatchDecision buckets a pair's probability into one of three tiers.
type MatchDecision string

const (
	MatchDecisionAutoMerge    MatchDecision = "auto_merge"
	MatchDecisionManualReview MatchDecision = "manual_review"
	MatchDecisionReject       MatchDecision = "reject"
)

// ComparisonLevel is the discrete similarity tier assigned per field when
// scoring a candidate pair.
type ComparisonLevel string

const (
	ComparisonLevelExact   ComparisonLevel = "exact"
	ComparisonLevelFuzzy   ComparisonLevel = "fuzzy"
	ComparisonLevelNoMatch ComparisonLevel = "no_match"
	// ComparisonLevelMissing means one side has no value; the field
	// contributes zero evidence, neither for nor against.
	ComparisonLevelMissing ComparisonLevel = "missing"
)

// MatchCandidate is a pair routed to manual review. AutoMerge pairs go
// straight to unification and Reject pairs are discarded, so only the review
// band is ever persisted.
type MatchCandidate struct {
	ID          string     `json:"id" db:"id"`
	RecordKind  RecordKind `json:"record_kind" db:"record_kind"`
	RecordID    string     `json:"record_id" db:"record_id"`
	CustomerID  string     `json:"customer_id" db:"customer_id"`
	MatchScore  float64    `json:"match_score" db:"match_score"`
	FieldLevels string     `json:"field_levels" db:"field_levels"` // JSON map field -> comparison level
	Status      string     `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy  *string    `json:"resolved_by,omitempty" db:"resolved_by"`
}

// MatchCandidate status lifecycle.
const (
	MatchCandidateStatusPending  = "pending"
	MatchCandidateStatusApproved = "approved"
	MatchCandidateStatusRejected = "rejected"
)
