package customer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var customerColumns = []string{
	"id", "first_name", "last_name", "email", "phone",
	"origin_city", "destination_city", "state", "branch", "salesperson",
	"merged_into_id", "merged_from_ids", "first_lead_date", "conversion_date",
	"is_primary_record", "created_at", "updated_at",
}

// Repository handles customer and merge event persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new customer repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new customer row
func (r *Repository) Create(ctx context.Context, customer *models.Customer) (*models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.Create")
	defer span.End()

	if customer.ID == "" {
		customer.ID = uuid.New().String()
	}
	customer.CreatedAt = time.Now().UTC()
	customer.UpdatedAt = customer.CreatedAt
	customer.IsPrimaryRecord = true
	if customer.MergedFromIDs == nil {
		customer.MergedFromIDs = pq.StringArray{}
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("customers")
	sb.Cols(customerColumns...)
	sb.Values(
		customer.ID, customer.FirstName, customer.LastName, customer.Email, customer.Phone,
		customer.OriginCity, customer.DestinationCity, customer.State, customer.Branch, customer.Salesperson,
		customer.MergedIntoID, customer.MergedFromIDs, customer.FirstLeadDate, customer.ConversionDate,
		customer.IsPrimaryRecord, customer.CreatedAt, customer.UpdatedAt,
	)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"customer_id": customer.ID}).Error("Failed to create customer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create customer")
	}

	return customer, nil
}

// Get retrieves a customer by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(customerColumns...)
	sb.From("customers")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var customer models.Customer
	if err := q.GetContext(ctx, &customer, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("customer %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get customer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get customer")
	}

	return &customer, nil
}

// ListPrimaries retrieves every primary customer. The unification engine
// loads these once per run to seed its block index.
func (r *Repository) ListPrimaries(ctx context.Context) ([]models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.ListPrimaries")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(customerColumns...)
	sb.From("customers")
	sb.Where(
		sb.Equal("is_primary_record", true),
		sb.IsNull("merged_into_id"),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var customers []models.Customer
	if err := q.SelectContext(ctx, &customers, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list primary customers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list primary customers")
	}

	return customers, nil
}

// Update rewrites a customer's contact fields and timeline dates
func (r *Repository) Update(ctx context.Context, customer *models.Customer) error {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.Update")
	defer span.End()

	customer.UpdatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("customers")
	sb.Set(
		sb.Assign("first_name", customer.FirstName),
		sb.Assign("last_name", customer.LastName),
		sb.Assign("email", customer.Email),
		sb.Assign("phone", customer.Phone),
		sb.Assign("origin_city", customer.OriginCity),
		sb.Assign("destination_city", customer.DestinationCity),
		sb.Assign("state", customer.State),
		sb.Assign("branch", customer.Branch),
		sb.Assign("salesperson", customer.Salesperson),
		sb.Assign("first_lead_date", customer.FirstLeadDate),
		sb.Assign("conversion_date", customer.ConversionDate),
		sb.Assign("updated_at", customer.UpdatedAt),
	)
	sb.Where(sb.Equal("id", customer.ID))

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"customer_id": customer.ID}).Error("Failed to update customer")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update customer")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("customer %s not found", customer.ID))
	}

	return nil
}

// MarkMergedInto points a losing customer at its surviving primary and
// appends the loser to the winner's merged_from_ids. The loser keeps its row
// for traceability but stops being a primary.
func (r *Repository) MarkMergedInto(ctx context.Context, loserID, winnerID string) error {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.MarkMergedInto")
	defer span.End()

	now := time.Now().UTC()
	q := database.FromContext(ctx, r.db)

	loser := `
		UPDATE customers
		SET merged_into_id = $1, is_primary_record = FALSE, updated_at = $2
		WHERE id = $3
	`
	if _, err := q.ExecContext(ctx, loser, winnerID, now, loserID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"loser_id": loserID, "winner_id": winnerID}).Error("Failed to mark customer merged")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark customer merged")
	}

	winner := `
		UPDATE customers
		SET merged_from_ids = array_append(merged_from_ids, $1), updated_at = $2
		WHERE id = $3 AND NOT ($1 = ANY(merged_from_ids))
	`
	if _, err := q.ExecContext(ctx, winner, loserID, now, winnerID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"loser_id": loserID, "winner_id": winnerID}).Error("Failed to record merge source on winner")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record merge source")
	}

	return nil
}

// ResolvePrimary follows the merged_into_id redirect chain from the given
// customer to its surviving primary. The chain is acyclic by construction,
// but the walk is still bounded to fail loudly rather than spin on corrupt
// data.
func (r *Repository) ResolvePrimary(ctx context.Context, id string) (*models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.ResolvePrimary")
	defer span.End()

	const maxDepth = 64
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	for depth := 0; current.MergedIntoID != nil; depth++ {
		if depth >= maxDepth {
			r.logger.WithContext(ctx).WithFields(map[string]any{"customer_id": id}).Error("Merge redirect chain exceeded max depth")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "merge redirect chain exceeded max depth")
		}
		current, err = r.Get(ctx, *current.MergedIntoID)
		if err != nil {
			return nil, err
		}
	}

	return current, nil
}

// AppendMergeEvent writes the next entry in a customer's merge history. Seq
// is assigned from the current maximum inside the insert so concurrent
// writers cannot interleave out of order.
func (r *Repository) AppendMergeEvent(ctx context.Context, event *models.MergeEvent) (*models.MergeEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.AppendMergeEvent")
	defer span.End()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO customer_merge_events (id, customer_id, seq, method, confidence, merged_by, source_kind, source_id, created_at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(seq), 0) + 1 FROM customer_merge_events WHERE customer_id = $2), $3, $4, $5, $6, $7, $8)
		RETURNING seq
	`

	q := database.FromContext(ctx, r.db)
	row := q.QueryRowContext(ctx, query,
		event.ID, event.CustomerID, event.Method, event.Confidence,
		event.MergedBy, event.SourceKind, event.SourceID, event.CreatedAt,
	)
	if err := row.Scan(&event.Seq); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"customer_id": event.CustomerID}).Error("Failed to append merge event")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to append merge event")
	}

	return event, nil
}

// ListMergeEvents retrieves a customer's merge history in seq order
func (r *Repository) ListMergeEvents(ctx context.Context, customerID string) ([]models.MergeEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.ListMergeEvents")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "customer_id", "seq", "method", "confidence", "merged_by", "source_kind", "source_id", "created_at")
	sb.From("customer_merge_events")
	sb.Where(sb.Equal("customer_id", customerID))
	sb.OrderBy("seq ASC")

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var events []models.MergeEvent
	if err := q.SelectContext(ctx, &events, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list merge events")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge events")
	}

	return events, nil
}
