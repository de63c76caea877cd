// Package linking propagates customer assignments across the source tables.
// Quote numbers are the natural key joining lead pool entries to the lost
// leads and booked opportunities they became; bad leads carry no quote
// number and fall back to exact contact matching against booked
// opportunities. Linking is exact only and never fuzzy.
package linking

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// RecordSource is the raw record surface the linker depends on
type RecordSource interface {
	List(ctx context.Context, kind models.RecordKind) ([]models.RawRecord, error)
	GetByQuoteNumber(ctx context.Context, kind models.RecordKind, quoteNumber string) (*models.RawRecord, error)
	SetCustomerID(ctx context.Context, kind models.RecordKind, id, customerID string) error
}

// Stats summarizes one linking pass
type Stats struct {
	Examined  int
	Linked    int
	Conflicts int
}

// Linker joins source rows that describe the same transaction
type Linker struct {
	records RecordSource
	logger  ectologger.Logger
}

// NewLinker creates a new linker
func NewLinker(records RecordSource, logger ectologger.Logger) *Linker {
	return &Linker{
		records: records,
		logger:  logger,
	}
}

// LinkQuoteNumbers walks the lead pool and joins each entry to the lost lead
// and booked opportunity sharing its quote number. The customer assignment
// flows in whichever direction has one; rows already assigned to different
// customers are left alone and counted as conflicts.
func (l *Linker) LinkQuoteNumbers(ctx context.Context) (*Stats, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Linker.LinkQuoteNumbers")
	defer span.End()

	entries, err := l.records.List(ctx, models.RecordKindLeadPoolEntry)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for i := range entries {
		entry := &entries[i]
		quoteNumber := normalizers.Trim(deref(entry.QuoteNumber))
		if quoteNumber == "" {
			continue
		}
		stats.Examined++

		for _, kind := range []models.RecordKind{models.RecordKindLostLead, models.RecordKindBookedOpportunity} {
			other, err := l.records.GetByQuoteNumber(ctx, kind, quoteNumber)
			if err != nil {
				return nil, err
			}
			if other == nil {
				continue
			}
			if err := l.propagate(ctx, entry, other, stats); err != nil {
				return nil, err
			}
		}
	}

	l.logger.WithContext(ctx).WithFields(map[string]any{
		"examined":  stats.Examined,
		"linked":    stats.Linked,
		"conflicts": stats.Conflicts,
	}).Info("Linked records by quote number")

	return stats, nil
}

// LinkBadLeads assigns customers to bad leads whose normalized email or
// phone exactly matches a booked opportunity that already has a customer.
// Bad lead contact data is known to be unreliable, so nothing weaker than an
// exact identifier match is accepted.
func (l *Linker) LinkBadLeads(ctx context.Context) (*Stats, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Linker.LinkBadLeads")
	defer span.End()

	booked, err := l.records.List(ctx, models.RecordKindBookedOpportunity)
	if err != nil {
		return nil, err
	}

	byEmail := make(map[string]string)
	byPhone := make(map[string]string)
	for i := range booked {
		rec := &booked[i]
		if rec.CustomerID == nil {
			continue
		}
		norm := normalizers.NormalizeRecord(rec)
		if norm.Email != "" {
			byEmail[norm.Email] = *rec.CustomerID
		}
		if norm.Phone != "" {
			byPhone[norm.Phone] = *rec.CustomerID
		}
	}

	badLeads, err := l.records.List(ctx, models.RecordKindBadLead)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for i := range badLeads {
		lead := &badLeads[i]
		if lead.CustomerID != nil {
			continue
		}
		stats.Examined++

		norm := normalizers.NormalizeRecord(lead)
		customerID, ok := byEmail[norm.Email]
		if !ok || norm.Email == "" {
			customerID, ok = byPhone[norm.Phone]
			if !ok || norm.Phone == "" {
				continue
			}
		}

		if err := l.records.SetCustomerID(ctx, models.RecordKindBadLead, lead.ID, customerID); err != nil {
			return nil, err
		}
		lead.CustomerID = &customerID
		stats.Linked++
	}

	l.logger.WithContext(ctx).WithFields(map[string]any{
		"examined": stats.Examined,
		"linked":   stats.Linked,
	}).Info("Linked bad leads by exact contact match")

	return stats, nil
}

// propagate copies the customer assignment between two rows joined by a
// quote number, in whichever direction has one.
func (l *Linker) propagate(ctx context.Context, entry, other *models.RawRecord, stats *Stats) error {
	switch {
	case entry.CustomerID != nil && other.CustomerID == nil:
		if err := l.records.SetCustomerID(ctx, other.Kind, other.ID, *entry.CustomerID); err != nil {
			return err
		}
		other.CustomerID = entry.CustomerID
		stats.Linked++
	case entry.CustomerID == nil && other.CustomerID != nil:
		if err := l.records.SetCustomerID(ctx, entry.Kind, entry.ID, *other.CustomerID); err != nil {
			return err
		}
		entry.CustomerID = other.CustomerID
		stats.Linked++
	case entry.CustomerID != nil && other.CustomerID != nil && *entry.CustomerID != *other.CustomerID:
		stats.Conflicts++
		l.logger.WithContext(ctx).WithFields(map[string]any{
			"quote_number":   deref(entry.QuoteNumber),
			"entry_customer": *entry.CustomerID,
			"other_customer": *other.CustomerID,
			"other_kind":     other.Kind,
		}).Warn("Quote number rows assigned to different customers")
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
