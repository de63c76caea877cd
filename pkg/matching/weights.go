package matching

import (
	"encoding/json"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// FieldWeight carries the agreement weights for one comparable field.
// Weights are estimated offline from historical adjudicated pairs and
// shipped as data; the comparator only consumes them.
type FieldWeight struct {
	Name  string  `json:"name" validate:"required"`
	Exact float64 `json:"exact" validate:"gte=0"`
	Fuzzy float64 `json:"fuzzy" validate:"gte=0"`
	// Decisive marks identifiers (phone, email) whose exact agreement is
	// sufficient on its own, matching the unification waterfall tiers.
	Decisive bool `json:"decisive"`
}

// WeightTable is the versioned weight artifact consumed by the Comparator.
type WeightTable struct {
	Version        string        `json:"version" validate:"required"`
	FuzzyThreshold float64       `json:"fuzzy_threshold" validate:"gt=0,lte=1"`
	Fields         []FieldWeight `json:"fields" validate:"required,min=1,dive"`
}

// LoadWeights reads and validates a weight table artifact from disk.
func LoadWeights(path string) (*WeightTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read weight table %s", path)
	}

	var table WeightTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, errors.Wrapf(err, "parse weight table %s", path)
	}

	if err := validator.New().Struct(&table); err != nil {
		return nil, errors.Wrapf(err, "invalid weight table %s", path)
	}

	return &table, nil
}

// DefaultWeights returns the built-in weight table used when no artifact is
// configured. Values mirror the shipped config/match_weights.json.
func DefaultWeights() *WeightTable {
	return &WeightTable{
		Version:        "builtin",
		FuzzyThreshold: 0.85,
		Fields: []FieldWeight{
			{Name: "phone", Exact: 12.0, Decisive: true},
			{Name: "email", Exact: 11.0, Decisive: true},
			{Name: "first_name", Exact: 4.0, Fuzzy: 2.5},
			{Name: "last_name", Exact: 6.0, Fuzzy: 4.0},
			{Name: "origin_city", Exact: 3.0, Fuzzy: 1.5},
			{Name: "destination_city", Exact: 3.0, Fuzzy: 1.5},
			{Name: "state", Exact: 1.0},
		},
	}
}
