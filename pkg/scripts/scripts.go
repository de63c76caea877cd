// Package scripts defines the batch jobs the clover binary can run and wires
// them into the runner registry.
package scripts

import (
	"context"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/internal/repositories/branch"
	"github.com/Ramsey-B/clover/internal/repositories/customer"
	"github.com/Ramsey-B/clover/internal/repositories/integritycheck"
	"github.com/Ramsey-B/clover/internal/repositories/matchcandidate"
	"github.com/Ramsey-B/clover/internal/repositories/rawrecord"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/integrity"
	"github.com/Ramsey-B/clover/pkg/linking"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/runner"
	"github.com/Ramsey-B/clover/pkg/unification"
)

// Script names accepted on the command line.
const (
	PopulateCustomers = "populate_customers"
	LinkLeadPool      = "link_lead_pool"
	LinkBadLeads      = "link_bad_leads"
	PopulateBranches  = "populate_branches"
	IntegrityChecks   = "integrity_checks"
)

// Deps carries everything the scripts need. Emitter may be nil, which
// silences event emission (dry runs and deployments without Kafka).
type Deps struct {
	Customers  *customer.Repository
	Records    *rawrecord.Repository
	Candidates *matchcandidate.Repository
	Branches   *branch.Repository
	Integrity  *integritycheck.Repository
	Comparator *matching.Comparator
	Classifier *matching.Classifier
	Emitter    *events.Emitter
	Logger     ectologger.Logger
}

// RegisterAll registers every script with the runner
func RegisterAll(r *runner.Runner, deps Deps) {
	r.Register(PopulateCustomers, deps.populateCustomers)
	r.Register(LinkLeadPool, deps.linkLeadPool)
	r.Register(LinkBadLeads, deps.linkBadLeads)
	r.Register(PopulateBranches, deps.populateBranches)
	r.Register(IntegrityChecks, deps.integrityChecks)
}

// eventSink avoids handing the engine a typed nil when events are disabled
func (d Deps) eventSink() unification.EventSink {
	if d.Emitter == nil {
		return nil
	}
	return d.Emitter
}

// populateCustomers resolves every unassigned raw row to a customer through
// the unification waterfall, scanning the source tables in a fixed order and
// each table in occurrence order so resolution replays the real timeline.
// Reviewer decisions made since the last run are applied first: approved
// candidates link their record, rejected pairs are never re-queued.
func (d Deps) populateCustomers(ctx context.Context) error {
	engine := unification.NewEngine(
		d.Customers, d.Records, d.Candidates,
		d.Comparator, d.Classifier, d.eventSink(), d.Logger,
	)
	if err := engine.Load(ctx); err != nil {
		return err
	}

	var created, linked, deferred, adjudicated int
	for _, kind := range models.AllRecordKinds {
		records, err := d.Records.ListUnresolved(ctx, kind)
		if err != nil {
			return err
		}
		for i := range records {
			res, err := engine.Resolve(ctx, &records[i])
			if err != nil {
				return err
			}
			switch {
			case res.Created:
				created++
			case res.Deferred:
				deferred++
			case res.Method == models.MergeMethodManualReview:
				adjudicated++
			default:
				linked++
			}
		}
	}

	d.Logger.WithContext(ctx).WithFields(map[string]any{
		"created":     created,
		"linked":      linked,
		"deferred":    deferred,
		"adjudicated": adjudicated,
	}).Info("Populated customers")

	return nil
}

// linkLeadPool joins lead pool entries to lost leads and booked
// opportunities by quote number and propagates customer assignments.
func (d Deps) linkLeadPool(ctx context.Context) error {
	linker := linking.NewLinker(d.Records, d.Logger)
	_, err := linker.LinkQuoteNumbers(ctx)
	return err
}

// linkBadLeads assigns customers to bad leads by exact contact match against
// booked opportunities.
func (d Deps) linkBadLeads(ctx context.Context) error {
	linker := linking.NewLinker(d.Records, d.Logger)
	_, err := linker.LinkBadLeads(ctx)
	return err
}

// populateBranches normalizes the free-form branch strings seen across the
// source tables into the canonical branches table.
func (d Deps) populateBranches(ctx context.Context) error {
	values, err := d.Branches.ListRawBranchValues(ctx)
	if err != nil {
		return err
	}

	var upserted int
	for _, raw := range values {
		name := normalizers.NormalizeBranch(raw)
		if name == "" {
			continue
		}
		if _, err := d.Branches.Upsert(ctx, &models.Branch{
			Name:        name,
			DisplayName: strings.TrimSpace(raw),
		}); err != nil {
			return err
		}
		upserted++
	}

	d.Logger.WithContext(ctx).WithFields(map[string]any{"branches": upserted}).Info("Populated branches")
	return nil
}

// integrityChecks measures the linkage rates and appends them to the history
func (d Deps) integrityChecks(ctx context.Context) error {
	var sink integrity.EventSink
	if d.Emitter != nil {
		sink = d.Emitter
	}
	monitor := integrity.NewMonitor(d.Records, d.Integrity, sink, d.Logger)
	_, err := monitor.RunAll(ctx)
	return err
}
