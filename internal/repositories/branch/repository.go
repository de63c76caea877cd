package branch

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

// Repository handles canonical branch persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new branch repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListRawBranchValues returns the distinct free-form branch strings seen
// across all five source tables.
func (r *Repository) ListRawBranchValues(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "branch.Repository.ListRawBranchValues")
	defer span.End()

	query := `
		SELECT DISTINCT branch FROM (
			SELECT branch FROM jobs WHERE branch IS NOT NULL
			UNION SELECT branch FROM bad_leads WHERE branch IS NOT NULL
			UNION SELECT branch FROM lost_leads WHERE branch IS NOT NULL
			UNION SELECT branch FROM booked_opportunities WHERE branch IS NOT NULL
			UNION SELECT branch FROM lead_pool_entries WHERE branch IS NOT NULL
		) AS all_branches
	`

	q := database.FromContext(ctx, r.db)
	var values []string
	if err := q.SelectContext(ctx, &values, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list raw branch values")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list raw branch values")
	}

	return values, nil
}

// Upsert inserts a canonical branch or refreshes its display name
func (r *Repository) Upsert(ctx context.Context, branch *models.Branch) (*models.Branch, error) {
	ctx, span := tracing.StartSpan(ctx, "branch.Repository.Upsert")
	defer span.End()

	if branch.ID == "" {
		branch.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	branch.CreatedAt = now
	branch.UpdatedAt = now

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("branches")
	sb.Cols("id", "name", "display_name", "created_at", "updated_at")
	sb.Values(branch.ID, branch.Name, branch.DisplayName, branch.CreatedAt, branch.UpdatedAt)

	query, args := sb.Build()
	query += " ON CONFLICT (name) DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = EXCLUDED.updated_at"

	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"branch_name": branch.Name}).Error("Failed to upsert branch")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert branch")
	}

	return branch, nil
}

// List retrieves every canonical branch in name order
func (r *Repository) List(ctx context.Context) ([]models.Branch, error) {
	ctx, span := tracing.StartSpan(ctx, "branch.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name", "display_name", "created_at", "updated_at")
	sb.From("branches")
	sb.OrderBy("name ASC")

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var branches []models.Branch
	if err := q.SelectContext(ctx, &branches, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list branches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list branches")
	}

	return branches, nil
}
