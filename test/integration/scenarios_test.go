// Package integration exercises the example scenarios end to end at the
// model level: normalization, unification, linking, and the runner's
// idempotency ledger working together over in-memory stores.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/linking"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/runner"
	"github.com/Ramsey-B/clover/pkg/unification"
)

type memCustomers struct {
	customers map[string]*models.Customer
	events    []models.MergeEvent
	nextID    int
}

func newMemCustomers() *memCustomers {
	return &memCustomers{customers: make(map[string]*models.Customer)}
}

func (m *memCustomers) Create(_ context.Context, c *models.Customer) (*models.Customer, error) {
	m.nextID++
	c.ID = fmt.Sprintf("cust-%d", m.nextID)
	c.IsPrimaryRecord = true
	if c.MergedFromIDs == nil {
		c.MergedFromIDs = pq.StringArray{}
	}
	m.customers[c.ID] = c
	return c, nil
}

func (m *memCustomers) Get(_ context.Context, id string) (*models.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s not found", id)
	}
	return c, nil
}

func (m *memCustomers) ListPrimaries(_ context.Context) ([]models.Customer, error) {
	var out []models.Customer
	for _, c := range m.customers {
		if c.MergedIntoID == nil && c.IsPrimaryRecord {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memCustomers) Update(_ context.Context, c *models.Customer) error {
	m.customers[c.ID] = c
	return nil
}

func (m *memCustomers) MarkMergedInto(_ context.Context, loserID, winnerID string) error {
	loser := m.customers[loserID]
	loser.MergedIntoID = &winnerID
	loser.IsPrimaryRecord = false
	winner := m.customers[winnerID]
	winner.MergedFromIDs = append(winner.MergedFromIDs, loserID)
	return nil
}

func (m *memCustomers) AppendMergeEvent(_ context.Context, event *models.MergeEvent) (*models.MergeEvent, error) {
	event.Seq = len(m.events) + 1
	m.events = append(m.events, *event)
	return event, nil
}

type memRecords struct {
	records map[models.RecordKind][]*models.RawRecord
}

func newMemRecords() *memRecords {
	return &memRecords{records: make(map[models.RecordKind][]*models.RawRecord)}
}

func (m *memRecords) add(rec *models.RawRecord) {
	m.records[rec.Kind] = append(m.records[rec.Kind], rec)
}

func (m *memRecords) find(kind models.RecordKind, id string) *models.RawRecord {
	for _, rec := range m.records[kind] {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func (m *memRecords) List(_ context.Context, kind models.RecordKind) ([]models.RawRecord, error) {
	out := make([]models.RawRecord, 0, len(m.records[kind]))
	for _, rec := range m.records[kind] {
		out = append(out, *rec)
	}
	return out, nil
}

func (m *memRecords) GetByQuoteNumber(_ context.Context, kind models.RecordKind, quoteNumber string) (*models.RawRecord, error) {
	for _, rec := range m.records[kind] {
		if rec.QuoteNumber != nil && *rec.QuoteNumber == quoteNumber {
			copied := *rec
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memRecords) SetCustomerID(_ context.Context, kind models.RecordKind, id, customerID string) error {
	rec := m.find(kind, id)
	if rec == nil {
		return fmt.Errorf("record %s/%s not found", kind, id)
	}
	rec.CustomerID = &customerID
	return nil
}

func (m *memRecords) ReassignCustomer(_ context.Context, kind models.RecordKind, from, to string) error {
	for _, rec := range m.records[kind] {
		if rec.CustomerID != nil && *rec.CustomerID == from {
			rec.CustomerID = &to
		}
	}
	return nil
}

type memCandidates struct {
	byPair map[string]*models.MatchCandidate
}

func newMemCandidates() *memCandidates {
	return &memCandidates{byPair: make(map[string]*models.MatchCandidate)}
}

func (m *memCandidates) Create(_ context.Context, c *models.MatchCandidate) (*models.MatchCandidate, error) {
	key := string(c.RecordKind) + "/" + c.RecordID + "|" + c.CustomerID
	if existing, ok := m.byPair[key]; ok {
		// mirrors the upsert: score refreshed, status untouched
		if c.MatchScore > existing.MatchScore {
			existing.MatchScore = c.MatchScore
		}
		existing.FieldLevels = c.FieldLevels
		return existing, nil
	}
	c.Status = models.MatchCandidateStatusPending
	m.byPair[key] = c
	return c, nil
}

func (m *memCandidates) ListByStatus(_ context.Context, status string) ([]models.MatchCandidate, error) {
	var out []models.MatchCandidate
	for _, c := range m.byPair {
		if c.Status == status {
			out = append(out, *c)
		}
	}
	return out, nil
}

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newEngine(t *testing.T, customers *memCustomers, records *memRecords, candidates *memCandidates) *unification.Engine {
	t.Helper()
	engine := unification.NewEngine(
		customers, records, candidates,
		matching.NewComparator(nil), matching.DefaultClassifier(), nil, noopLogger(),
	)
	require.NoError(t, engine.Load(context.Background()))
	return engine
}

func strptr(s string) *string { return &s }

// Two bad leads sharing an email unify into a single customer, the second
// through the exact-email tier.
func TestScenario_SharedEmailUnifies(t *testing.T) {
	ctx := context.Background()
	customers := newMemCustomers()
	records := newMemRecords()

	occurred := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	first := &models.RawRecord{ID: "bl-1", Kind: models.RecordKindBadLead, FirstName: strptr("Ann"), Email: strptr("a@x.com"), OccurredAt: occurred}
	second := &models.RawRecord{ID: "bl-2", Kind: models.RecordKindBadLead, FirstName: strptr("Anne"), Email: strptr("A@X.COM"), OccurredAt: occurred.AddDate(0, 1, 0)}
	records.add(first)
	records.add(second)

	engine := newEngine(t, customers, records, newMemCandidates())

	res1, err := engine.Resolve(ctx, first)
	require.NoError(t, err)
	require.True(t, res1.Created)

	res2, err := engine.Resolve(ctx, second)
	require.NoError(t, err)

	assert.False(t, res2.Created)
	assert.Equal(t, res1.CustomerID, res2.CustomerID)
	assert.Equal(t, models.MergeMethodEmailExact, res2.Method)

	// one merge event per absorbed record
	require.Len(t, customers.events, 2)
	assert.Equal(t, models.MergeMethodNewCustomer, customers.events[0].Method)
	assert.Equal(t, "bl-1", *customers.events[0].SourceID)
	assert.Equal(t, models.MergeMethodEmailExact, customers.events[1].Method)
	assert.Equal(t, "bl-2", *customers.events[1].SourceID)
	assert.Equal(t, 1.0, customers.events[1].Confidence)
}

// Phone formatting differences never block the exact-phone tier.
func TestScenario_PhoneFormattingIrrelevant(t *testing.T) {
	ctx := context.Background()
	customers := newMemCustomers()
	records := newMemRecords()

	occurred := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	existing := &models.RawRecord{ID: "lp-1", Kind: models.RecordKindLeadPoolEntry, FirstName: strptr("Bob"), Phone: strptr("(555) 010-0100"), OccurredAt: occurred}
	job := &models.RawRecord{ID: "job-1", Kind: models.RecordKindJob, FirstName: strptr("Robert"), Phone: strptr("555-010-0100"), OccurredAt: occurred.AddDate(0, 2, 0)}
	records.add(existing)
	records.add(job)

	engine := newEngine(t, customers, records, newMemCandidates())

	res1, err := engine.Resolve(ctx, existing)
	require.NoError(t, err)

	res2, err := engine.Resolve(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, res1.CustomerID, res2.CustomerID)
	assert.Equal(t, models.MergeMethodPhoneExact, res2.Method)

	// a job sighting is a conversion
	c := customers.customers[res1.CustomerID]
	require.NotNil(t, c.ConversionDate)
	assert.False(t, c.ConversionDate.Before(*c.FirstLeadDate))
}

// A shared quote number links rows with no contact fields in common.
func TestScenario_QuoteNumberLinksWithoutContactMatch(t *testing.T) {
	ctx := context.Background()
	records := newMemRecords()

	records.add(&models.RawRecord{ID: "lp-1", Kind: models.RecordKindLeadPoolEntry, QuoteNumber: strptr("Q-1001"), CustomerID: strptr("cust-9")})
	records.add(&models.RawRecord{ID: "ll-1", Kind: models.RecordKindLostLead, QuoteNumber: strptr("Q-1001"), FirstName: strptr("Unrelated"), Email: strptr("other@y.com")})

	linker := linking.NewLinker(records, noopLogger())
	stats, err := linker.LinkQuoteNumbers(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Linked)
	lost := records.find(models.RecordKindLostLead, "ll-1")
	require.NotNil(t, lost.CustomerID)
	assert.Equal(t, "cust-9", *lost.CustomerID)
}

// A review-band score defers the record; re-running the job leaves the queued
// candidate pending and does not link or duplicate anything.
func TestScenario_ReviewBandIsStableAcrossReruns(t *testing.T) {
	ctx := context.Background()
	customers := newMemCustomers()
	records := newMemRecords()
	candidates := newMemCandidates()

	occurred := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	base := &models.RawRecord{ID: "lp-1", Kind: models.RecordKindLeadPoolEntry, FirstName: strptr("Mary"), LastName: strptr("Garcia"), OriginCity: strptr("Denver"), State: strptr("CO"), OccurredAt: occurred}
	probe := &models.RawRecord{ID: "job-1", Kind: models.RecordKindJob, FirstName: strptr("Mary"), LastName: strptr("Garcia"), OriginCity: strptr("Denver"), State: strptr("OH"), OccurredAt: occurred.AddDate(0, 1, 0)}
	records.add(base)
	records.add(probe)

	engine := newEngine(t, customers, records, candidates)
	_, err := engine.Resolve(ctx, base)
	require.NoError(t, err)

	res, err := engine.Resolve(ctx, probe)
	require.NoError(t, err)
	require.True(t, res.Deferred)
	assert.Nil(t, records.find(models.RecordKindJob, "job-1").CustomerID)

	// second run, fresh engine over the same stores
	rerun := newEngine(t, customers, records, candidates)
	res2, err := rerun.Resolve(ctx, probe)
	require.NoError(t, err)
	require.True(t, res2.Deferred)

	pending, err := candidates.ListByStatus(ctx, models.MatchCandidateStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Nil(t, records.find(models.RecordKindJob, "job-1").CustomerID)
	assert.Len(t, customers.customers, 1, "no customer merge happened")
}

type memTx struct {
	database.Tx
	committed  bool
	rolledBack bool
}

func (m *memTx) IsOpen() bool { return !m.committed && !m.rolledBack }

func (m *memTx) Commit(_ context.Context) error { m.committed = true; return nil }

func (m *memTx) Rollback(_ context.Context) error { m.rolledBack = true; return nil }

type memDB struct {
	database.DB
	tx *memTx
}

func (m *memDB) GetTx(ctx context.Context, _ *sql.TxOptions) (context.Context, database.Tx, error) {
	m.tx = &memTx{}
	return ctx, m.tx, nil
}

type memLedger struct {
	entries []models.ExecutionLogEntry
}

func (m *memLedger) GetLatestSucceeded(_ context.Context, scriptName string) (*models.ExecutionLogEntry, error) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].ScriptName == scriptName && m.entries[i].Outcome == models.ExecutionOutcomeSucceeded {
			return &m.entries[i], nil
		}
	}
	return nil, nil
}

func (m *memLedger) Record(_ context.Context, entry *models.ExecutionLogEntry) (*models.ExecutionLogEntry, error) {
	m.entries = append(m.entries, *entry)
	return entry, nil
}

// A dry run reports what it would do but leaves nothing behind; executing
// twice without force runs the script exactly once.
func TestScenario_DryRunAndIdempotentExecute(t *testing.T) {
	ctx := context.Background()
	db := &memDB{}
	ledger := &memLedger{}
	jobs := runner.NewRunner(db, ledger, noopLogger())

	runs := 0
	jobs.Register("populate_branches", func(_ context.Context) error {
		runs++
		return nil
	})

	code := jobs.Run(ctx, "populate_branches", runner.Options{})
	assert.Equal(t, runner.ExitOK, code)
	assert.Equal(t, 1, runs)
	assert.True(t, db.tx.rolledBack, "dry run leaves no writes behind")
	assert.Empty(t, ledger.entries)

	code = jobs.Run(ctx, "populate_branches", runner.Options{Execute: true})
	assert.Equal(t, runner.ExitOK, code)
	assert.Equal(t, 2, runs)
	assert.True(t, db.tx.committed)
	require.Len(t, ledger.entries, 1)

	code = jobs.Run(ctx, "populate_branches", runner.Options{Execute: true})
	assert.Equal(t, runner.ExitOK, code)
	assert.Equal(t, 2, runs, "second execute is a no-op")
	assert.Len(t, ledger.entries, 1)
}
