// Package integrity measures linkage health across the resolved tables and
// keeps an append-only history of the measurements. Checks alert, they never
// block: a failed check records a row and emits an event, and the job still
// exits cleanly.
package integrity

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Linkage rate thresholds, set from historical baselines.
const (
	JobCustomerThreshold       = 0.95
	LeadToOpportunityThreshold = 0.80
	BadLeadToLeadPoolThreshold = 0.70
)

// Check names as they appear in the history table.
const (
	CheckJobCustomerLinkage       = "job_customer_linkage"
	CheckLeadToOpportunityLinkage = "lead_to_opportunity_linkage"
	CheckBadLeadToLeadPoolLinkage = "bad_lead_to_lead_pool_linkage"
)

// RecordCounter is the counting surface the monitor depends on
type RecordCounter interface {
	CountAll(ctx context.Context, kind models.RecordKind) (int, error)
	CountResolved(ctx context.Context, kind models.RecordKind) (int, error)
	CountQuoteLinked(ctx context.Context, kind, otherKind models.RecordKind) (int, error)
}

// ResultStore appends to the integrity history
type ResultStore interface {
	Append(ctx context.Context, result *models.IntegrityCheckResult) (*models.IntegrityCheckResult, error)
}

// EventSink publishes integrity alerts
type EventSink interface {
	EmitIntegrityFailed(ctx context.Context, result *models.IntegrityCheckResult) error
}

// Monitor runs the named linkage checks
type Monitor struct {
	records RecordCounter
	results ResultStore
	emitter EventSink
	logger  ectologger.Logger
}

// NewMonitor creates a new integrity monitor. The emitter may be nil, in
// which case failures are only logged and recorded.
func NewMonitor(records RecordCounter, results ResultStore, emitter EventSink, logger ectologger.Logger) *Monitor {
	return &Monitor{
		records: records,
		results: results,
		emitter: emitter,
		logger:  logger,
	}
}

// RunAll measures every check, appends each result to the history, and emits
// an alert event per failure. A failing rate is reported in the results, not
// as an error; the returned error covers measurement problems only.
func (m *Monitor) RunAll(ctx context.Context) ([]models.IntegrityCheckResult, error) {
	ctx, span := tracing.StartSpan(ctx, "integrity.Monitor.RunAll")
	defer span.End()

	checks := []struct {
		name      string
		threshold float64
		measure   func(context.Context) (float64, error)
	}{
		{CheckJobCustomerLinkage, JobCustomerThreshold, m.jobCustomerRate},
		{CheckLeadToOpportunityLinkage, LeadToOpportunityThreshold, m.leadToOpportunityRate},
		{CheckBadLeadToLeadPoolLinkage, BadLeadToLeadPoolThreshold, m.badLeadRate},
	}

	results := make([]models.IntegrityCheckResult, 0, len(checks))
	for _, check := range checks {
		rate, err := check.measure(ctx)
		if err != nil {
			return nil, err
		}

		result := &models.IntegrityCheckResult{
			CheckName:    check.name,
			MeasuredRate: rate,
			Threshold:    check.threshold,
			Passed:       rate >= check.threshold,
		}
		if _, err := m.results.Append(ctx, result); err != nil {
			return nil, err
		}
		results = append(results, *result)

		if result.Passed {
			m.logger.WithContext(ctx).WithFields(map[string]any{
				"check": check.name,
				"rate":  rate,
			}).Info("Integrity check passed")
			continue
		}

		m.logger.WithContext(ctx).WithFields(map[string]any{
			"check":     check.name,
			"rate":      rate,
			"threshold": check.threshold,
		}).Warn("Integrity check failed")

		if m.emitter != nil {
			if err := m.emitter.EmitIntegrityFailed(ctx, result); err != nil {
				m.logger.WithContext(ctx).WithError(err).Warn("Integrity alert emission failed")
			}
		}
	}

	return results, nil
}

// jobCustomerRate is the fraction of jobs resolved to a customer
func (m *Monitor) jobCustomerRate(ctx context.Context) (float64, error) {
	return m.resolvedRate(ctx, models.RecordKindJob)
}

// leadToOpportunityRate is the fraction of lead pool entries whose quote
// number reaches a booked opportunity.
func (m *Monitor) leadToOpportunityRate(ctx context.Context) (float64, error) {
	total, err := m.records.CountAll(ctx, models.RecordKindLeadPoolEntry)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 1.0, nil
	}
	linked, err := m.records.CountQuoteLinked(ctx, models.RecordKindLeadPoolEntry, models.RecordKindBookedOpportunity)
	if err != nil {
		return 0, err
	}
	return float64(linked) / float64(total), nil
}

// badLeadRate is the fraction of bad leads resolved to a customer, which is
// how a bad lead ties back to the lead pool.
func (m *Monitor) badLeadRate(ctx context.Context) (float64, error) {
	return m.resolvedRate(ctx, models.RecordKindBadLead)
}

func (m *Monitor) resolvedRate(ctx context.Context, kind models.RecordKind) (float64, error) {
	total, err := m.records.CountAll(ctx, kind)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		// an empty table has nothing unlinked
		return 1.0, nil
	}
	resolved, err := m.records.CountResolved(ctx, kind)
	if err != nil {
		return 0, err
	}
	return float64(resolved) / float64(total), nil
}
