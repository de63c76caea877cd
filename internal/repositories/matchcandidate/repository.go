package matchcandidate

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var candidateColumns = []string{
	"id", "record_kind", "record_id", "customer_id", "match_score",
	"field_levels", "status", "created_at", "updated_at", "resolved_at", "resolved_by",
}

// Repository handles match candidate persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new match candidate repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create queues a record/customer pair for manual review
func (r *Repository) Create(ctx context.Context, candidate *models.MatchCandidate) (*models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.Create")
	defer span.End()

	if candidate.ID == "" {
		candidate.ID = uuid.New().String()
	}
	candidate.CreatedAt = time.Now().UTC()
	candidate.UpdatedAt = candidate.CreatedAt
	candidate.Status = models.MatchCandidateStatusPending

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("match_candidates")
	sb.Cols("id", "record_kind", "record_id", "customer_id", "match_score", "field_levels", "status", "created_at", "updated_at")
	sb.Values(candidate.ID, candidate.RecordKind, candidate.RecordID, candidate.CustomerID, candidate.MatchScore, candidate.FieldLevels, candidate.Status, candidate.CreatedAt, candidate.UpdatedAt)

	query, args := sb.Build()
	// Re-running a job must not duplicate open reviews; keep the higher score
	query += " ON CONFLICT (record_kind, record_id, customer_id) DO UPDATE SET match_score = GREATEST(match_candidates.match_score, EXCLUDED.match_score), field_levels = EXCLUDED.field_levels, updated_at = EXCLUDED.updated_at"

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"candidate_id": candidate.ID}).Error("Failed to create match candidate")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create match candidate")
	}

	return candidate, nil
}

// CreateBatch queues multiple candidates in one statement
func (r *Repository) CreateBatch(ctx context.Context, candidates []*models.MatchCandidate) error {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.CreateBatch")
	defer span.End()

	if len(candidates) == 0 {
		return nil
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("match_candidates")
	sb.Cols("id", "record_kind", "record_id", "customer_id", "match_score", "field_levels", "status", "created_at", "updated_at")

	for _, c := range candidates {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.CreatedAt = now
		c.UpdatedAt = now
		if c.Status == "" {
			c.Status = models.MatchCandidateStatusPending
		}
		sb.Values(c.ID, c.RecordKind, c.RecordID, c.CustomerID, c.MatchScore, c.FieldLevels, c.Status, c.CreatedAt, c.UpdatedAt)
	}

	query, args := sb.Build()
	query += " ON CONFLICT (record_kind, record_id, customer_id) DO UPDATE SET match_score = GREATEST(match_candidates.match_score, EXCLUDED.match_score), field_levels = EXCLUDED.field_levels, updated_at = EXCLUDED.updated_at"

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create match candidates batch")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create match candidates")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"count": len(candidates)}).Debug("Created match candidates batch")
	return nil
}

// Get retrieves a match candidate by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(candidateColumns...)
	sb.From("match_candidates")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var candidate models.MatchCandidate
	if err := q.GetContext(ctx, &candidate, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match candidate %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get match candidate")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match candidate")
	}

	return &candidate, nil
}

// GetByPair retrieves the candidate for a record/customer pair, or nil
func (r *Repository) GetByPair(ctx context.Context, kind models.RecordKind, recordID, customerID string) (*models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.GetByPair")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(candidateColumns...)
	sb.From("match_candidates")
	sb.Where(
		sb.Equal("record_kind", kind),
		sb.Equal("record_id", recordID),
		sb.Equal("customer_id", customerID),
	)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var candidate models.MatchCandidate
	if err := q.GetContext(ctx, &candidate, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get match candidate by pair")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match candidate")
	}

	return &candidate, nil
}

// ListPending retrieves pending candidates for review, highest score first
func (r *Repository) ListPending(ctx context.Context, limit int) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.ListPending")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(candidateColumns...)
	sb.From("match_candidates")
	sb.Where(sb.Equal("status", models.MatchCandidateStatusPending))
	sb.OrderBy("match_score DESC", "created_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var candidates []models.MatchCandidate
	if err := q.SelectContext(ctx, &candidates, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list pending match candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list pending match candidates")
	}

	return candidates, nil
}

// ListByStatus retrieves every candidate in the given status
func (r *Repository) ListByStatus(ctx context.Context, status string) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.ListByStatus")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(candidateColumns...)
	sb.From("match_candidates")
	sb.Where(sb.Equal("status", status))
	sb.OrderBy("created_at")

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var candidates []models.MatchCandidate
	if err := q.SelectContext(ctx, &candidates, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"status": status}).Error("Failed to list match candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list match candidates")
	}

	return candidates, nil
}

// Resolve transitions a pending candidate to approved or rejected
func (r *Repository) Resolve(ctx context.Context, id, status, resolvedBy string) error {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.Resolve")
	defer span.End()

	if status != models.MatchCandidateStatusApproved && status != models.MatchCandidateStatusRejected {
		return httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid resolution status %q", status))
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("match_candidates")
	sb.Set(
		sb.Assign("status", status),
		sb.Assign("resolved_at", now),
		sb.Assign("resolved_by", resolvedBy),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("status", models.MatchCandidateStatusPending),
	)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to resolve match candidate")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve match candidate")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("pending match candidate %s not found", id))
	}

	return nil
}
