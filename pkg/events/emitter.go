// Package events handles event emission for customer lifecycle changes.
// Events are buffered while a job runs and flushed only after its
// transaction commits: a message on the wire cannot be recalled, so nothing
// is published for rows that end up rolled back.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Publisher is the producer surface the emitter depends on
type Publisher interface {
	PublishCustomerEvents(ctx context.Context, events []*kafka.CustomerEvent) error
}

// Emitter buffers customer lifecycle and integrity events for a single job
// run. Emission is best-effort: a failed flush is logged and surfaced but
// must never fail the job that produced the events.
type Emitter struct {
	producer Publisher
	logger   ectologger.Logger
	pending  []*kafka.CustomerEvent
}

// NewEmitter creates a new event emitter
func NewEmitter(producer Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitCustomerCreated buffers a customer.created event
func (e *Emitter) EmitCustomerCreated(ctx context.Context, customer *models.Customer, sourceKind models.RecordKind, sourceID string) error {
	data, _ := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"source_kind":    sourceKind,
		"source_id":      sourceID,
	})

	e.buffer(&kafka.CustomerEvent{
		EventType:  "customer.created",
		CustomerID: customer.ID,
		Data:       data,
	})
	return nil
}

// EmitCustomerMerged buffers a customer.merged event keyed on the winner
func (e *Emitter) EmitCustomerMerged(ctx context.Context, winnerID, loserID, method string, confidence float64) error {
	data, _ := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"merged_from_id": loserID,
		"method":         method,
		"confidence":     confidence,
	})

	e.buffer(&kafka.CustomerEvent{
		EventType:  "customer.merged",
		CustomerID: winnerID,
		Data:       data,
	})
	return nil
}

// EmitIntegrityFailed buffers an integrity.failed event for an alerting consumer
func (e *Emitter) EmitIntegrityFailed(ctx context.Context, result *models.IntegrityCheckResult) error {
	data, _ := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"check_name":     result.CheckName,
		"measured_rate":  result.MeasuredRate,
		"threshold":      result.Threshold,
	})

	e.buffer(&kafka.CustomerEvent{
		EventType: "integrity.failed",
		Data:      data,
	})
	return nil
}

// Flush publishes everything buffered since the last flush. Called after the
// job transaction commits; a run that rolls back never flushes.
func (e *Emitter) Flush(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.Flush")
	defer span.End()

	if len(e.pending) == 0 {
		return nil
	}

	batch := e.pending
	e.pending = nil

	if err := e.producer.PublishCustomerEvents(ctx, batch); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"events": len(batch),
		}).Error("Failed to publish buffered events")
		return err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{"events": len(batch)}).Info("Published buffered events")
	return nil
}

// Pending reports how many events are waiting for the next flush
func (e *Emitter) Pending() int {
	return len(e.pending)
}

func (e *Emitter) buffer(event *kafka.CustomerEvent) {
	event.Timestamp = time.Now().UTC()
	e.pending = append(e.pending, event)
}
