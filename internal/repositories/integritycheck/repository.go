package integritycheck

import (
	"context"
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

// Repository handles the append-only integrity check history
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new integrity check repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Append writes one check result. Results are written pass or fail and never
// updated afterwards.
func (r *Repository) Append(ctx context.Context, result *models.IntegrityCheckResult) (*models.IntegrityCheckResult, error) {
	ctx, span := tracing.StartSpan(ctx, "integritycheck.Repository.Append")
	defer span.End()

	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.MeasuredAt.IsZero() {
		result.MeasuredAt = time.Now().UTC()
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("integrity_check_results")
	sb.Cols("id", "check_name", "measured_rate", "threshold", "passed", "measured_at")
	sb.Values(result.ID, result.CheckName, result.MeasuredRate, result.Threshold, result.Passed, result.MeasuredAt)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"check_name": result.CheckName}).Error("Failed to append integrity check result")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to append integrity check result")
	}

	return result, nil
}

// History lists past results for a check, newest first
func (r *Repository) History(ctx context.Context, checkName string, limit int) ([]models.IntegrityCheckResult, error) {
	ctx, span := tracing.StartSpan(ctx, "integritycheck.Repository.History")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "check_name", "measured_rate", "threshold", "passed", "measured_at")
	sb.From("integrity_check_results")
	sb.Where(sb.Equal("check_name", checkName))
	sb.OrderBy("measured_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var results []models.IntegrityCheckResult
	if err := q.SelectContext(ctx, &results, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list integrity check history")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list integrity check history")
	}

	return results, nil
}
