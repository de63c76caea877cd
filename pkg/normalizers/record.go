package normalizers

import "github.com/Ramsey-B/clover/pkg/models"

// NormalizedRecord is the fully normalized view of one raw source row, ready
// for blocking and pairwise comparison. Empty string means the field is
// missing; missing fields are tolerated everywhere downstream.
type NormalizedRecord struct {
	ID              string
	Kind            models.RecordKind
	QuoteNumber     string
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	OriginCity      string
	DestinationCity string
	State           string
	Branch          string
	Salesperson     string
}

// NormalizeRecord canonicalizes every contact field of a raw record.
// Deterministic and total: malformed fields come back empty, never an error.
func NormalizeRecord(rec *models.RawRecord) NormalizedRecord {
	return NormalizedRecord{
		ID:              rec.ID,
		Kind:            rec.Kind,
		QuoteNumber:     Trim(deref(rec.QuoteNumber)),
		FirstName:       NormalizeName(deref(rec.FirstName)),
		LastName:        NormalizeName(deref(rec.LastName)),
		Email:           NormalizeEmail(deref(rec.Email)),
		Phone:           NormalizePhone(deref(rec.Phone)),
		OriginCity:      NormalizeName(deref(rec.OriginCity)),
		DestinationCity: NormalizeName(deref(rec.DestinationCity)),
		State:           NormalizeState(deref(rec.State)),
		Branch:          NormalizeBranch(deref(rec.Branch)),
		Salesperson:     NormalizeName(deref(rec.Salesperson)),
	}
}

// NormalizeCustomer projects a customer onto the same normalized shape as a
// raw record so customers can live in the block index and be scored against
// incoming records directly.
func NormalizeCustomer(c *models.Customer) NormalizedRecord {
	return NormalizedRecord{
		ID:              c.ID,
		FirstName:       NormalizeName(deref(c.FirstName)),
		LastName:        NormalizeName(deref(c.LastName)),
		Email:           NormalizeEmail(deref(c.Email)),
		Phone:           NormalizePhone(deref(c.Phone)),
		OriginCity:      NormalizeName(deref(c.OriginCity)),
		DestinationCity: NormalizeName(deref(c.DestinationCity)),
		State:           NormalizeState(deref(c.State)),
		Branch:          NormalizeBranch(deref(c.Branch)),
		Salesperson:     NormalizeName(deref(c.Salesperson)),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
