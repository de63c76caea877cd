// Package runner executes the named batch scripts. Every run happens inside
// a single database transaction: a dry run always rolls back, an execute run
// commits its changes together with the ledger entry that marks the script
// done, and any error rolls the whole run back. The ledger makes execute
// runs idempotent across process restarts.
package runner

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Exit codes returned to the shell.
const (
	ExitOK    = 0
	ExitError = 1
)

// ScriptFunc is one registered batch script. It runs with the job
// transaction already open on the context.
type ScriptFunc func(ctx context.Context) error

// Ledger is the idempotency surface the runner depends on
type Ledger interface {
	GetLatestSucceeded(ctx context.Context, scriptName string) (*models.ExecutionLogEntry, error)
	Record(ctx context.Context, entry *models.ExecutionLogEntry) (*models.ExecutionLogEntry, error)
}

// Options control one run
type Options struct {
	// Execute commits the run; without it the transaction is rolled back
	// after the script finishes.
	Execute bool
	// Force runs the script even when the ledger says it already succeeded.
	Force bool
}

// Runner dispatches scripts by name
type Runner struct {
	db       database.DB
	ledger   Ledger
	logger   ectologger.Logger
	scripts  map[string]ScriptFunc
	onCommit func(ctx context.Context) error
}

// NewRunner creates a new script runner
func NewRunner(db database.DB, ledger Ledger, logger ectologger.Logger) *Runner {
	return &Runner{
		db:      db,
		ledger:  ledger,
		logger:  logger,
		scripts: make(map[string]ScriptFunc),
	}
}

// Register adds a script under a name. Registering the same name twice
// replaces the earlier script.
func (r *Runner) Register(name string, fn ScriptFunc) {
	r.scripts[name] = fn
}

// OnCommit registers a hook invoked after an execute run commits. Rolled-back
// runs never reach it, so side effects that cannot be recalled (event
// publication) belong here. A hook error is logged but does not fail the run:
// the committed writes are the source of truth.
func (r *Runner) OnCommit(fn func(ctx context.Context) error) {
	r.onCommit = fn
}

// Names lists the registered scripts in sorted order
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.scripts))
	for name := range r.scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes a script by name and returns the process exit code. A script
// that already succeeded is a clean no-op unless forced.
func (r *Runner) Run(ctx context.Context, name string, opts Options) int {
	ctx, span := tracing.StartSpan(ctx, "runner.Runner.Run")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"script":  name,
		"execute": opts.Execute,
		"force":   opts.Force,
	})

	fn, ok := r.scripts[name]
	if !ok {
		log.WithFields(map[string]any{"known_scripts": r.Names()}).Error("Unknown script")
		return ExitError
	}

	if opts.Execute && !opts.Force {
		latest, err := r.ledger.GetLatestSucceeded(ctx, name)
		if err != nil {
			log.WithError(err).Error("Failed to consult execution ledger")
			return ExitError
		}
		if latest != nil {
			log.WithFields(map[string]any{"executed_at": latest.ExecutedAt}).Info("Script already executed, skipping")
			return ExitOK
		}
	}

	// The transaction is owned here: the script and every repository call it
	// makes share it through txCtx, while commit and rollback go through the
	// original ctx.
	txCtx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		log.WithError(err).Error("Failed to begin job transaction")
		return ExitError
	}

	if err := fn(txCtx); err != nil {
		log.WithError(err).Error("Script failed, rolling back")
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.WithError(rbErr).Error("Rollback failed")
		}
		r.recordOutcome(ctx, name, opts, models.ExecutionOutcomeFailed)
		return ExitError
	}

	if !opts.Execute {
		log.Info("Dry run complete, rolling back")
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.WithError(rbErr).Error("Rollback failed")
			return ExitError
		}
		return ExitOK
	}

	// The ledger entry joins the job transaction so the script's writes and
	// its success marker commit or vanish together.
	if _, err := r.ledger.Record(txCtx, &models.ExecutionLogEntry{
		ScriptName: name,
		Forced:     opts.Force,
		Outcome:    models.ExecutionOutcomeSucceeded,
	}); err != nil {
		log.WithError(err).Error("Failed to record execution, rolling back")
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.WithError(rbErr).Error("Rollback failed")
		}
		return ExitError
	}

	if err := tx.Commit(ctx); err != nil {
		log.WithError(err).Error("Failed to commit job transaction")
		return ExitError
	}

	if r.onCommit != nil {
		if err := r.onCommit(ctx); err != nil {
			log.WithError(err).Warn("Post-commit hook failed")
		}
	}

	log.Info("Script succeeded")
	return ExitOK
}

// recordOutcome writes a ledger entry outside the job transaction, used for
// failures after the transaction has been rolled back.
func (r *Runner) recordOutcome(ctx context.Context, name string, opts Options, outcome string) {
	if !opts.Execute {
		return
	}
	if _, err := r.ledger.Record(ctx, &models.ExecutionLogEntry{
		ScriptName: name,
		Forced:     opts.Force,
		Outcome:    outcome,
	}); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"script": name}).Error("Failed to record execution outcome")
	}
}
