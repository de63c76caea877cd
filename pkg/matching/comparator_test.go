package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

func TestComparator_ExactPhoneIsDecisive(t *testing.T) {
	c := NewComparator(nil)

	a := normalizers.NormalizedRecord{ID: "a", Phone: "5551234567", FirstName: "john", LastName: "smith"}
	b := normalizers.NormalizedRecord{ID: "b", Phone: "5551234567", FirstName: "mary", LastName: "jones"}

	score, levels := c.Score(a, b)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, models.ComparisonLevelExact, levels["phone"])
	assert.Equal(t, models.ComparisonLevelNoMatch, levels["first_name"])
}

func TestComparator_ExactEmailIsDecisive(t *testing.T) {
	c := NewComparator(nil)

	a := normalizers.NormalizedRecord{ID: "a", Email: "john@gmail.com", LastName: "smith"}
	b := normalizers.NormalizedRecord{ID: "b", Email: "john@gmail.com", LastName: "smythe"}

	score, levels := c.Score(a, b)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, models.ComparisonLevelExact, levels["email"])
}

func TestComparator_Symmetric(t *testing.T) {
	c := NewComparator(nil)

	a := normalizers.NormalizedRecord{ID: "a", FirstName: "john", LastName: "smith", OriginCity: "austin", State: "texas"}
	b := normalizers.NormalizedRecord{ID: "b", FirstName: "john", LastName: "smyth", OriginCity: "austin", State: "ohio"}

	ab, _ := c.Score(a, b)
	ba, _ := c.Score(b, a)
	assert.Equal(t, ab, ba)
}

func TestComparator_MissingFieldsContributeNothing(t *testing.T) {
	c := NewComparator(nil)

	a := normalizers.NormalizedRecord{ID: "a", FirstName: "john", LastName: "smith"}
	b := normalizers.NormalizedRecord{ID: "b", FirstName: "john", LastName: "smith", Email: "john@gmail.com"}

	score, levels := c.Score(a, b)
	// first_name 4 + last_name 6 over the same 10 present-field total
	assert.Equal(t, 1.0, score)
	assert.Equal(t, models.ComparisonLevelMissing, levels["email"])
	assert.Equal(t, models.ComparisonLevelMissing, levels["phone"])
}

func TestComparator_FuzzyLastName(t *testing.T) {
	c := NewComparator(nil)

	a := normalizers.NormalizedRecord{ID: "a", FirstName: "john", LastName: "smith", OriginCity: "austin"}
	b := normalizers.NormalizedRecord{ID: "b", FirstName: "john", LastName: "smyth", OriginCity: "austin"}

	score, levels := c.Score(a, b)
	assert.Equal(t, models.ComparisonLevelFuzzy, levels["last_name"])
	// exact 4 + fuzzy 4 + exact 3 over total 13
	assert.InDelta(t, 11.0/13.0, score, 1e-9)
}

func TestComparator_DisagreementScoresLow(t *testing.T) {
	c := NewComparator(nil)

	a := normalizers.NormalizedRecord{ID: "a", FirstName: "john", LastName: "smith", OriginCity: "austin"}
	b := normalizers.NormalizedRecord{ID: "b", FirstName: "john", LastName: "garcia", OriginCity: "denver"}

	score, levels := c.Score(a, b)
	assert.Equal(t, models.ComparisonLevelNoMatch, levels["last_name"])
	assert.InDelta(t, 4.0/13.0, score, 1e-9)
}

func TestComparator_AllMissingScoresZero(t *testing.T) {
	c := NewComparator(nil)

	score, _ := c.Score(normalizers.NormalizedRecord{ID: "a"}, normalizers.NormalizedRecord{ID: "b"})
	assert.Equal(t, 0.0, score)
}

func TestClassifier_Tiers(t *testing.T) {
	cl := DefaultClassifier()

	tests := []struct {
		name        string
		probability float64
		expected    models.MatchDecision
	}{
		{"well above auto threshold", 0.99, models.MatchDecisionAutoMerge},
		{"exactly at auto threshold stays review", 0.95, models.MatchDecisionManualReview},
		{"mid review band", 0.82, models.MatchDecisionManualReview},
		{"exactly at review threshold", 0.75, models.MatchDecisionManualReview},
		{"just below review threshold", 0.7499, models.MatchDecisionReject},
		{"zero", 0.0, models.MatchDecisionReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cl.Classify(tt.probability))
		})
	}
}

func TestComparatorWithClassifier_ReviewBand(t *testing.T) {
	c := NewComparator(nil)
	cl := DefaultClassifier()

	// agreeing names and origin city, disagreeing state: 13/14
	a := normalizers.NormalizedRecord{ID: "a", FirstName: "john", LastName: "smith", OriginCity: "austin", State: "texas"}
	b := normalizers.NormalizedRecord{ID: "b", FirstName: "john", LastName: "smith", OriginCity: "austin", State: "ohio"}

	score, _ := c.Score(a, b)
	require.InDelta(t, 13.0/14.0, score, 1e-9)
	assert.Equal(t, models.MatchDecisionManualReview, cl.Classify(score))
}

func TestScorer_JaroWinkler(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 1.0, s.JaroWinkler("martha", "martha"))
	assert.InDelta(t, 0.961, s.JaroWinkler("martha", "marhta"), 0.01)
	assert.Less(t, s.JaroWinkler("smith", "garcia"), 0.5)
	assert.Equal(t, 0.0, s.JaroWinkler("", "four"))
}
