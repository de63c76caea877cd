package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"formatted US number", "(555) 123-4567", "5551234567"},
		{"dots and dashes", "555.123.4567", "5551234567"},
		{"leading country code", "1-555-123-4567", "5551234567"},
		{"eleven digits no leading one", "25551234567", "25551234567"},
		{"too short", "123-4567", ""},
		{"empty", "", ""},
		{"letters only", "call me", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePhone(tt.input))
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercases and trims", "  John.Doe@Example.COM ", "john.doe@example.com"},
		{"fixes gmail typo", "jdoe@gmial.com", "jdoe@gmail.com"},
		{"fixes gmail tld typo", "jdoe@gmail.con", "jdoe@gmail.com"},
		{"fixes yahoo typo", "jdoe@yaho.com", "jdoe@yahoo.com"},
		{"strips angle brackets", "<jdoe@example.com>", "jdoe@example.com"},
		{"no at sign", "not-an-email", ""},
		{"at sign at end", "jdoe@", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeEmail(tt.input))
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercases", "John", "john"},
		{"strips junior suffix", "John Smith Jr.", "john smith"},
		{"strips roman numeral suffix", "John Smith III", "john smith"},
		{"strips punctuation", "O'Brien-Smith", "obriensmith"},
		{"collapses whitespace", "  John   Smith  ", "john smith"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestNormalizeState(t *testing.T) {
	assert.Equal(t, "texas", NormalizeState("TX"))
	assert.Equal(t, "texas", NormalizeState("Texas"))
	assert.Equal(t, "district of columbia", NormalizeState("dc"))
	assert.Equal(t, "", NormalizeState("  "))
}

func TestNormalizeBranch(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"strips emoji", "🚚 Austin Movers 🚚", "austin movers"},
		{"keeps ampersand and dash", "A&B - North", "a&b - north"},
		{"strips decoration", "*** Dallas ***", "dallas"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeBranch(tt.input))
		})
	}
}

func TestApply_UnknownNormalizerPassesThrough(t *testing.T) {
	assert.Equal(t, "UNCHANGED", Apply("UNCHANGED", "nope"))
	assert.Equal(t, "lower", Apply("LOWER", "lowercase"))
}

func TestNormalizeRecord(t *testing.T) {
	phone := "(555) 123-4567"
	email := "John@GMIAL.com"
	first := "John Jr."
	state := "TX"

	rec := &models.RawRecord{
		ID:        "rec-1",
		Kind:      models.RecordKindLeadPoolEntry,
		Phone:     &phone,
		Email:     &email,
		FirstName: &first,
		State:     &state,
	}

	norm := NormalizeRecord(rec)
	assert.Equal(t, "rec-1", norm.ID)
	assert.Equal(t, "5551234567", norm.Phone)
	assert.Equal(t, "john@gmail.com", norm.Email)
	assert.Equal(t, "john", norm.FirstName)
	assert.Equal(t, "texas", norm.State)
	assert.Equal(t, "", norm.LastName)
}
