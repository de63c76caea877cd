package models

import "time"

// RecordKind tags the five raw source tables feeding the identity pipeline.
type RecordKind string

const (
	RecordKindJob               RecordKind = "job"
	RecordKindBadLead           RecordKind = "bad_lead"
	RecordKindLostLead          RecordKind = "lost_lead"
	RecordKindBookedOpportunity RecordKind = "booked_opportunity"
	RecordKindLeadPoolEntry     RecordKind = "lead_pool_entry"
)

// AllRecordKinds lists every source kind in the order the population jobs scan them.
var AllRecordKinds = []RecordKind{
	RecordKindJob,
	RecordKindBadLead,
	RecordKindLostLead,
	RecordKindBookedOpportunity,
	RecordKindLeadPoolEntry,
}

// IsConversion reports whether a sighting of this kind makes the person an
// actual customer (booked/closed work) rather than just a lead.
func (k RecordKind) IsConversion() bool {
	return k == RecordKindJob || k == RecordKindBookedOpportunity
}

// RawRecord is a single row from one of the source tables. Raw rows are
// created by upstream ingestion and never deleted; the population jobs only
// resolve their customer_id.
type RawRecord struct {
	ID              string     `json:"id" db:"id"`
	Kind            RecordKind `json:"kind" db:"kind"`
	QuoteNumber     *string    `json:"quote_number,omitempty" db:"quote_number"`
	FirstName       *string    `json:"first_name,omitempty" db:"first_name"`
	LastName        *string    `json:"last_name,omitempty" db:"last_name"`
	Email           *string    `json:"email,omitempty" db:"email"`
	Phone           *string    `json:"phone,omitempty" db:"phone"`
	OriginCity      *string    `json:"origin_city,omitempty" db:"origin_city"`
	DestinationCity *string    `json:"destination_city,omitempty" db:"destination_city"`
	State           *string    `json:"state,omitempty" db:"state"`
	Branch          *string    `json:"branch,omitempty" db:"branch"`
	Salesperson     *string    `json:"salesperson,omitempty" db:"salesperson"`
	OccurredAt      time.Time  `json:"occurred_at" db:"occurred_at"`
	CustomerID      *string    `json:"customer_id,omitempty" db:"customer_id"`
}
