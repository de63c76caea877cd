package matching

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWeights(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weights.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadWeights(t *testing.T) {
	path := writeWeights(t, `{
		"version": "2025-07-14",
		"fuzzy_threshold": 0.85,
		"fields": [
			{"name": "phone", "exact": 12.0, "decisive": true},
			{"name": "last_name", "exact": 6.0, "fuzzy": 4.0}
		]
	}`)

	table, err := LoadWeights(path)
	require.NoError(t, err)
	assert.Equal(t, "2025-07-14", table.Version)
	assert.Equal(t, 0.85, table.FuzzyThreshold)
	require.Len(t, table.Fields, 2)
	assert.True(t, table.Fields[0].Decisive)
	assert.Equal(t, 4.0, table.Fields[1].Fuzzy)
}

func TestLoadWeights_MissingFile(t *testing.T) {
	_, err := LoadWeights(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadWeights_InvalidJSON(t *testing.T) {
	path := writeWeights(t, `{not json`)
	_, err := LoadWeights(path)
	assert.Error(t, err)
}

func TestLoadWeights_FailsValidation(t *testing.T) {
	t.Run("zero fuzzy threshold", func(t *testing.T) {
		path := writeWeights(t, `{"version": "v1", "fuzzy_threshold": 0, "fields": [{"name": "phone", "exact": 1}]}`)
		_, err := LoadWeights(path)
		assert.Error(t, err)
	})

	t.Run("no fields", func(t *testing.T) {
		path := writeWeights(t, `{"version": "v1", "fuzzy_threshold": 0.85, "fields": []}`)
		_, err := LoadWeights(path)
		assert.Error(t, err)
	})

	t.Run("unnamed field", func(t *testing.T) {
		path := writeWeights(t, `{"version": "v1", "fuzzy_threshold": 0.85, "fields": [{"exact": 1}]}`)
		_, err := LoadWeights(path)
		assert.Error(t, err)
	})
}

func TestDefaultWeights_MatchShippedArtifact(t *testing.T) {
	table := DefaultWeights()
	assert.Equal(t, 0.85, table.FuzzyThreshold)

	byName := make(map[string]FieldWeight, len(table.Fields))
	for _, f := range table.Fields {
		byName[f.Name] = f
	}
	assert.True(t, byName["phone"].Decisive)
	assert.True(t, byName["email"].Decisive)
	assert.False(t, byName["last_name"].Decisive)
	assert.Greater(t, byName["last_name"].Exact, byName["last_name"].Fuzzy)
}
