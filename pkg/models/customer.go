package models

import (
	"time"

	"github.com/lib/pq"
)

// Customer is the canonical identity assembled from raw source records.
//
// Non-primary customers keep their row for traceability and redirect to the
// surviving primary through MergedIntoID. The redirect chain is acyclic and
// every non-primary resolves to exactly one primary.
type Customer struct {
	ID              string         `json:"id" db:"id"`
	FirstName       *string        `json:"first_name,omitempty" db:"first_name"`
	LastName        *string        `json:"last_name,omitempty" db:"last_name"`
	Email           *string        `json:"email,omitempty" db:"email"`
	Phone           *string        `json:"phone,omitempty" db:"phone"`
	OriginCity      *string        `json:"origin_city,omitempty" db:"origin_city"`
	DestinationCity *string        `json:"destination_city,omitempty" db:"destination_city"`
	State           *string        `json:"state,omitempty" db:"state"`
	Branch          *string        `json:"branch,omitempty" db:"branch"`
	Salesperson     *string        `json:"salesperson,omitempty" db:"salesperson"`
	MergedIntoID    *string        `json:"merged_into_id,omitempty" db:"merged_into_id"`
	MergedFromIDs   pq.StringArray `json:"merged_from_ids" db:"merged_from_ids"`
	FirstLeadDate   *time.Time     `json:"first_lead_date,omitempty" db:"first_lead_date"`
	ConversionDate  *time.Time     `json:"conversion_date,omitempty" db:"conversion_date"`
	IsPrimaryRecord bool           `json:"is_primary_record" db:"is_primary_record"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Merge method names recorded on merge events, one per unification tier plus
// the event written when a record seeds a brand-new customer.
const (
	MergeMethodPhoneExact    = "phone_exact"
	MergeMethodEmailExact    = "email_exact"
	MergeMethodNameCityFuzzy = "name_city_fuzzy"
	MergeMethodQuoteNumber   = "quote_number"
	MergeMethodManualReview  = "manual_review"
	MergeMethodNewCustomer   = "new_customer"
)

// MergeEvent is one immutable entry in a customer's merge history. Events are
// append-only, ordered by Seq, and never edited or removed once written.
type MergeEvent struct {
	ID         string    `json:"id" db:"id"`
	CustomerID string    `json:"customer_id" db:"customer_id"`
	Seq        int       `json:"seq" db:"seq"`
	Method     string    `json:"method" db:"method"`
	Confidence float64   `json:"confidence" db:"confidence"`
	MergedBy   string    `json:"merged_by" db:"merged_by"`
	SourceKind *string   `json:"source_kind,omitempty" db:"source_kind"`
	SourceID   *string   `json:"source_id,omitempty" db:"source_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
