package matching

import (
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// Comparator scores candidate pairs field by field. Each field is assigned a
// comparison level (exact, fuzzy, no-match, missing) and the levels combine
// into a match probability using the weight table. Missing fields contribute
// zero evidence, neither for nor against.
type Comparator struct {
	scorer  *Scorer
	weights *WeightTable
}

// NewComparator creates a comparator over a validated weight table.
func NewComparator(weights *WeightTable) *Comparator {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Comparator{
		scorer:  NewScorer(),
		weights: weights,
	}
}

// Score evaluates a candidate pair and returns the match probability in
// [0,1] together with the per-field comparison levels. Score is symmetric:
// Score(a,b) == Score(b,a).
func (c *Comparator) Score(a, b normalizers.NormalizedRecord) (float64, map[string]models.ComparisonLevel) {
	levels := make(map[string]models.ComparisonLevel, len(c.weights.Fields))

	var evidence, total float64
	decisiveExact := false

	for _, fw := range c.weights.Fields {
		va := fieldValue(a, fw.Name)
		vb := fieldValue(b, fw.Name)

		if va == "" || vb == "" {
			levels[fw.Name] = models.ComparisonLevelMissing
			continue
		}

		switch {
		case va == vb:
			levels[fw.Name] = models.ComparisonLevelExact
			evidence += fw.Exact
			if fw.Decisive {
				decisiveExact = true
			}
		case fw.Fuzzy > 0 && c.scorer.JaroWinkler(va, vb) >= c.weights.FuzzyThreshold:
			levels[fw.Name] = models.ComparisonLevelFuzzy
			evidence += fw.Fuzzy
		default:
			levels[fw.Name] = models.ComparisonLevelNoMatch
		}

		if fw.Exact > fw.Fuzzy {
			total += fw.Exact
		} else {
			total += fw.Fuzzy
		}
	}

	// Exact agreement on a decisive identifier (phone, email) is sufficient
	// on its own; disagreeing secondary fields belong to stale contact data,
	// not a different person.
	if decisiveExact {
		return 1.0, levels
	}

	if total == 0 {
		return 0.0, levels
	}
	return evidence / total, levels
}

func fieldValue(rec normalizers.NormalizedRecord, field string) string {
	switch field {
	case "phone":
		return rec.Phone
	case "email":
		return rec.Email
	case "first_name":
		return rec.FirstName
	case "last_name":
		return rec.LastName
	case "origin_city":
		return rec.OriginCity
	case "destination_city":
		return rec.DestinationCity
	case "state":
		return rec.State
	case "branch":
		return rec.Branch
	case "salesperson":
		return rec.Salesperson
	default:
		return ""
	}
}
