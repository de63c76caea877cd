package executionlog

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

// Repository handles the script execution ledger
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new execution log repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetLatestSucceeded returns the most recent succeeded entry for a script,
// or nil when the script has never succeeded.
func (r *Repository) GetLatestSucceeded(ctx context.Context, scriptName string) (*models.ExecutionLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "executionlog.Repository.GetLatestSucceeded")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "script_name", "executed_at", "forced", "outcome")
	sb.From("script_executions")
	sb.Where(
		sb.Equal("script_name", scriptName),
		sb.Equal("outcome", models.ExecutionOutcomeSucceeded),
	)
	sb.OrderBy("executed_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var entry models.ExecutionLogEntry
	if err := q.GetContext(ctx, &entry, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"script_name": scriptName}).Error("Failed to get latest execution")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get latest execution")
	}

	return &entry, nil
}

// Record appends a ledger entry. Called inside the job transaction so the
// entry commits or rolls back together with the job's writes.
func (r *Repository) Record(ctx context.Context, entry *models.ExecutionLogEntry) (*models.ExecutionLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "executionlog.Repository.Record")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now().UTC()
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("script_executions")
	sb.Cols("id", "script_name", "executed_at", "forced", "outcome")
	sb.Values(entry.ID, entry.ScriptName, entry.ExecutedAt, entry.Forced, entry.Outcome)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"script_name": entry.ScriptName}).Error("Failed to record execution")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record execution")
	}

	return entry, nil
}

// History lists the ledger entries for a script, newest first
func (r *Repository) History(ctx context.Context, scriptName string, limit int) ([]models.ExecutionLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "executionlog.Repository.History")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "script_name", "executed_at", "forced", "outcome")
	sb.From("script_executions")
	sb.Where(sb.Equal("script_name", scriptName))
	sb.OrderBy("executed_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	q := database.FromContext(ctx, r.db)
	var entries []models.ExecutionLogEntry
	if err := q.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list execution history")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list execution history")
	}

	return entries, nil
}
