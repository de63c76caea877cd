package runner

import (
	"context"
	"database/sql"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

type fakeTx struct {
	database.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) IsOpen() bool { return !f.committed && !f.rolledBack }

func (f *fakeTx) Commit(_ context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(_ context.Context) error {
	f.rolledBack = true
	return nil
}

type fakeDB struct {
	database.DB
	tx *fakeTx
}

func (f *fakeDB) GetTx(ctx context.Context, _ *sql.TxOptions) (context.Context, database.Tx, error) {
	f.tx = &fakeTx{}
	return ctx, f.tx, nil
}

type fakeLedger struct {
	latest   *models.ExecutionLogEntry
	recorded []models.ExecutionLogEntry
	err      error
}

func (f *fakeLedger) GetLatestSucceeded(_ context.Context, _ string) (*models.ExecutionLogEntry, error) {
	return f.latest, f.err
}

func (f *fakeLedger) Record(_ context.Context, entry *models.ExecutionLogEntry) (*models.ExecutionLogEntry, error) {
	f.recorded = append(f.recorded, *entry)
	return entry, nil
}

func testRunner(ledger Ledger) (*Runner, *fakeDB) {
	db := &fakeDB{}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewRunner(db, ledger, logger), db
}

func TestRun_UnknownScript(t *testing.T) {
	jobs, db := testRunner(&fakeLedger{})

	code := jobs.Run(context.Background(), "does_not_exist", Options{})
	assert.Equal(t, ExitError, code)
	assert.Nil(t, db.tx)
}

func TestRun_DryRunRollsBack(t *testing.T) {
	jobs, db := testRunner(&fakeLedger{})
	ran := false
	jobs.Register("noop", func(_ context.Context) error {
		ran = true
		return nil
	})

	code := jobs.Run(context.Background(), "noop", Options{})
	assert.Equal(t, ExitOK, code)
	assert.True(t, ran)
	require.NotNil(t, db.tx)
	assert.True(t, db.tx.rolledBack)
	assert.False(t, db.tx.committed)
}

func TestRun_DryRunSkipsLedger(t *testing.T) {
	ledger := &fakeLedger{latest: &models.ExecutionLogEntry{ScriptName: "noop"}}
	jobs, _ := testRunner(ledger)
	ran := false
	jobs.Register("noop", func(_ context.Context) error {
		ran = true
		return nil
	})

	// a prior success never blocks a dry run, and a dry run never writes one
	code := jobs.Run(context.Background(), "noop", Options{})
	assert.Equal(t, ExitOK, code)
	assert.True(t, ran)
	assert.Empty(t, ledger.recorded)
}

func TestRun_ExecuteCommitsWithLedgerEntry(t *testing.T) {
	ledger := &fakeLedger{}
	jobs, db := testRunner(ledger)
	jobs.Register("noop", func(_ context.Context) error { return nil })

	code := jobs.Run(context.Background(), "noop", Options{Execute: true})
	assert.Equal(t, ExitOK, code)
	require.NotNil(t, db.tx)
	assert.True(t, db.tx.committed)
	assert.False(t, db.tx.rolledBack)

	require.Len(t, ledger.recorded, 1)
	assert.Equal(t, "noop", ledger.recorded[0].ScriptName)
	assert.Equal(t, models.ExecutionOutcomeSucceeded, ledger.recorded[0].Outcome)
}

func TestRun_ExecuteSkipsWhenAlreadySucceeded(t *testing.T) {
	ledger := &fakeLedger{latest: &models.ExecutionLogEntry{ScriptName: "noop", Outcome: models.ExecutionOutcomeSucceeded}}
	jobs, db := testRunner(ledger)
	ran := false
	jobs.Register("noop", func(_ context.Context) error {
		ran = true
		return nil
	})

	code := jobs.Run(context.Background(), "noop", Options{Execute: true})
	assert.Equal(t, ExitOK, code)
	assert.False(t, ran)
	assert.Nil(t, db.tx)
	assert.Empty(t, ledger.recorded)
}

func TestRun_ForceBypassesLedgerCheck(t *testing.T) {
	ledger := &fakeLedger{latest: &models.ExecutionLogEntry{ScriptName: "noop", Outcome: models.ExecutionOutcomeSucceeded}}
	jobs, db := testRunner(ledger)
	ran := false
	jobs.Register("noop", func(_ context.Context) error {
		ran = true
		return nil
	})

	code := jobs.Run(context.Background(), "noop", Options{Execute: true, Force: true})
	assert.Equal(t, ExitOK, code)
	assert.True(t, ran)
	require.NotNil(t, db.tx)
	assert.True(t, db.tx.committed)

	require.Len(t, ledger.recorded, 1)
	assert.True(t, ledger.recorded[0].Forced)
}

func TestRun_ScriptErrorRollsBackAndRecordsFailure(t *testing.T) {
	ledger := &fakeLedger{}
	jobs, db := testRunner(ledger)
	jobs.Register("broken", func(_ context.Context) error {
		return errors.New("boom")
	})

	code := jobs.Run(context.Background(), "broken", Options{Execute: true})
	assert.Equal(t, ExitError, code)
	require.NotNil(t, db.tx)
	assert.True(t, db.tx.rolledBack)
	assert.False(t, db.tx.committed)

	require.Len(t, ledger.recorded, 1)
	assert.Equal(t, models.ExecutionOutcomeFailed, ledger.recorded[0].Outcome)
}

func TestRun_ScriptErrorOnDryRunRecordsNothing(t *testing.T) {
	ledger := &fakeLedger{}
	jobs, db := testRunner(ledger)
	jobs.Register("broken", func(_ context.Context) error {
		return errors.New("boom")
	})

	code := jobs.Run(context.Background(), "broken", Options{})
	assert.Equal(t, ExitError, code)
	require.NotNil(t, db.tx)
	assert.True(t, db.tx.rolledBack)
	assert.Empty(t, ledger.recorded)
}

func TestRun_LedgerCheckErrorFailsFast(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("ledger unavailable")}
	jobs, db := testRunner(ledger)
	jobs.Register("noop", func(_ context.Context) error { return nil })

	code := jobs.Run(context.Background(), "noop", Options{Execute: true})
	assert.Equal(t, ExitError, code)
	assert.Nil(t, db.tx)
}

func TestRun_OnCommitFiresAfterCommit(t *testing.T) {
	jobs, db := testRunner(&fakeLedger{})
	jobs.Register("noop", func(_ context.Context) error { return nil })

	committedWhenHookRan := false
	jobs.OnCommit(func(_ context.Context) error {
		committedWhenHookRan = db.tx.committed
		return nil
	})

	code := jobs.Run(context.Background(), "noop", Options{Execute: true})
	assert.Equal(t, ExitOK, code)
	assert.True(t, committedWhenHookRan)
}

func TestRun_OnCommitSkippedOnDryRun(t *testing.T) {
	jobs, _ := testRunner(&fakeLedger{})
	jobs.Register("noop", func(_ context.Context) error { return nil })

	hookRan := false
	jobs.OnCommit(func(_ context.Context) error {
		hookRan = true
		return nil
	})

	code := jobs.Run(context.Background(), "noop", Options{})
	assert.Equal(t, ExitOK, code)
	assert.False(t, hookRan)
}

func TestRun_OnCommitSkippedOnScriptError(t *testing.T) {
	jobs, _ := testRunner(&fakeLedger{})
	jobs.Register("broken", func(_ context.Context) error {
		return errors.New("boom")
	})

	hookRan := false
	jobs.OnCommit(func(_ context.Context) error {
		hookRan = true
		return nil
	})

	code := jobs.Run(context.Background(), "broken", Options{Execute: true})
	assert.Equal(t, ExitError, code)
	assert.False(t, hookRan)
}

func TestRun_OnCommitErrorDoesNotFailRun(t *testing.T) {
	jobs, db := testRunner(&fakeLedger{})
	jobs.Register("noop", func(_ context.Context) error { return nil })
	jobs.OnCommit(func(_ context.Context) error {
		return errors.New("broker unreachable")
	})

	code := jobs.Run(context.Background(), "noop", Options{Execute: true})
	assert.Equal(t, ExitOK, code)
	assert.True(t, db.tx.committed)
}

func TestNames_Sorted(t *testing.T) {
	jobs, _ := testRunner(&fakeLedger{})
	jobs.Register("zeta", func(_ context.Context) error { return nil })
	jobs.Register("alpha", func(_ context.Context) error { return nil })

	assert.Equal(t, []string{"alpha", "zeta"}, jobs.Names())
}
