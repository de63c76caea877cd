package rawrecord

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var recordColumns = []string{
	"id", "quote_number", "first_name", "last_name", "email", "phone",
	"origin_city", "destination_city", "state", "branch", "salesperson",
	"occurred_at", "customer_id",
}

// kindTables maps each record kind to its source table. The five tables
// share the same contact column set, so reads differ only in the FROM clause
// and the kind literal stamped onto each row.
var kindTables = map[models.RecordKind]string{
	models.RecordKindJob:               "jobs",
	models.RecordKindBadLead:           "bad_leads",
	models.RecordKindLostLead:          "lost_leads",
	models.RecordKindBookedOpportunity: "booked_opportunities",
	models.RecordKindLeadPoolEntry:     "lead_pool_entries",
}

// Repository reads the raw source tables and resolves their customer links
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new raw record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func tableFor(kind models.RecordKind) (string, error) {
	table, ok := kindTables[kind]
	if !ok {
		return "", httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown record kind %q", kind))
	}
	return table, nil
}

// List retrieves every row of a kind in occurrence order
func (r *Repository) List(ctx context.Context, kind models.RecordKind) ([]models.RawRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "rawrecord.Repository.List")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(append(recordColumns, fmt.Sprintf("'%s' AS kind", kind))...)
	sb.From(table)
	sb.OrderBy("occurred_at ASC", "id ASC")

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var records []models.RawRecord
	if err := q.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind}).Error("Failed to list raw records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list raw records")
	}

	return records, nil
}

// ListUnresolved retrieves rows of a kind with no customer assigned yet, in
// occurrence order so resolution replays the real timeline.
func (r *Repository) ListUnresolved(ctx context.Context, kind models.RecordKind) ([]models.RawRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "rawrecord.Repository.ListUnresolved")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(append(recordColumns, fmt.Sprintf("'%s' AS kind", kind))...)
	sb.From(table)
	sb.Where(sb.IsNull("customer_id"))
	sb.OrderBy("occurred_at ASC", "id ASC")

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var records []models.RawRecord
	if err := q.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind}).Error("Failed to list unresolved raw records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list unresolved raw records")
	}

	return records, nil
}

// GetByQuoteNumber retrieves the row of a kind carrying a quote number.
// Quote numbers are unique within each table; a missing row returns nil.
func (r *Repository) GetByQuoteNumber(ctx context.Context, kind models.RecordKind, quoteNumber string) (*models.RawRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "rawrecord.Repository.GetByQuoteNumber")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(append(recordColumns, fmt.Sprintf("'%s' AS kind", kind))...)
	sb.From(table)
	sb.Where(sb.Equal("quote_number", quoteNumber))

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var record models.RawRecord
	if err := q.GetContext(ctx, &record, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind, "quote_number": quoteNumber}).Error("Failed to get raw record by quote number")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get raw record by quote number")
	}

	return &record, nil
}

// SetCustomerID resolves a raw row to a customer
func (r *Repository) SetCustomerID(ctx context.Context, kind models.RecordKind, id, customerID string) error {
	ctx, span := tracing.StartSpan(ctx, "rawrecord.Repository.SetCustomerID")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(sb.Assign("customer_id", customerID))
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind, "record_id": id}).Error("Failed to set customer on raw record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set customer on raw record")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("%s record %s not found", kind, id))
	}

	return nil
}

// ReassignCustomer repoints every row of a kind from one customer to another.
// Unification uses this to move a losing customer's records onto the winner.
func (r *Repository) ReassignCustomer(ctx context.Context, kind models.RecordKind, fromCustomerID, toCustomerID string) error {
	ctx, span := tracing.StartSpan(ctx, "rawrecord.Repository.ReassignCustomer")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(sb.Assign("customer_id", toCustomerID))
	sb.Where(sb.Equal("customer_id", fromCustomerID))

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind, "from": fromCustomerID, "to": toCustomerID}).Error("Failed to reassign raw records")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reassign raw records")
	}

	return nil
}

// CountAll counts the rows of a kind
func (r *Repository) CountAll(ctx context.Context, kind models.RecordKind) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "rawrecord.Repository.CountAll")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	return r.count(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
}

// CountResolved counts the rows of a kind already linked to a customer
func (r *Repository) CountResolved(ctx context.Context, kind models.RecordKind) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "rawrecord.Repository.CountResolved")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	return r.count(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE customer_id IS NOT NULL", table))
}

// CountQuoteLinked counts the rows of a kind whose quote number also appears
// in another kind's table
func (r *Repository) CountQuoteLinked(ctx context.Context, kind, otherKind models.RecordKind) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "rawrecord.Repository.CountQuoteLinked")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	otherTable, err := tableFor(otherKind)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s src
		WHERE src.quote_number IS NOT NULL
		AND EXISTS (SELECT 1 FROM %s other WHERE other.quote_number = src.quote_number)
	`, table, otherTable)

	return r.count(ctx, query)
}

func (r *Repository) count(ctx context.Context, query string) (int, error) {
	q := database.FromContext(ctx, r.db)
	var count int
	if err := q.GetContext(ctx, &count, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count raw records")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count raw records")
	}
	return count, nil
}
