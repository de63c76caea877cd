// Package unification resolves raw source records to canonical customers and
// merges customers discovered to be the same person. Resolution runs a
// three-tier waterfall: exact phone, exact email, then fuzzy name and city
// scoring. Merges redirect the losing customer to the winner; the redirect
// graph stays acyclic because merges only ever link two distinct primaries.
package unification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/clover/pkg/blocking"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ErrMergeCycle is returned when a merge would make a customer reachable
// from itself through the redirect chain.
var ErrMergeCycle = errors.New("merge would create a redirect cycle")

// CustomerStore is the customer persistence surface the engine depends on
type CustomerStore interface {
	Create(ctx context.Context, customer *models.Customer) (*models.Customer, error)
	Get(ctx context.Context, id string) (*models.Customer, error)
	ListPrimaries(ctx context.Context) ([]models.Customer, error)
	Update(ctx context.Context, customer *models.Customer) error
	MarkMergedInto(ctx context.Context, loserID, winnerID string) error
	AppendMergeEvent(ctx context.Context, event *models.MergeEvent) (*models.MergeEvent, error)
}

// RecordStore is the raw record surface the engine depends on
type RecordStore interface {
	SetCustomerID(ctx context.Context, kind models.RecordKind, id, customerID string) error
	ReassignCustomer(ctx context.Context, kind models.RecordKind, fromCustomerID, toCustomerID string) error
}

// CandidateStore queues review-band pairs and reports reviewer decisions
type CandidateStore interface {
	Create(ctx context.Context, candidate *models.MatchCandidate) (*models.MatchCandidate, error)
	ListByStatus(ctx context.Context, status string) ([]models.MatchCandidate, error)
}

// EventSink publishes customer lifecycle events
type EventSink interface {
	EmitCustomerCreated(ctx context.Context, customer *models.Customer, sourceKind models.RecordKind, sourceID string) error
	EmitCustomerMerged(ctx context.Context, winnerID, loserID, method string, confidence float64) error
}

// Resolution describes what the engine did with one raw record
type Resolution struct {
	CustomerID string
	Created    bool
	// Deferred is set when the record landed in the review band and was
	// queued for manual adjudication instead of being linked.
	Deferred bool
	Method   string
}

// Engine runs the resolution waterfall over an in-memory block index of the
// current primary customers. The index is loaded once per job and kept in
// sync as customers are created and merged.
type Engine struct {
	customers  CustomerStore
	records    RecordStore
	candidates CandidateStore
	comparator *matching.Comparator
	classifier *matching.Classifier
	emitter    EventSink
	logger     ectologger.Logger

	index *blocking.Index
	byID  map[string]*models.Customer

	// reviewer decisions loaded alongside the index; approved is keyed by
	// record, rejected by record/customer pair
	approved map[string]models.MatchCandidate
	rejected map[string]bool
}

// NewEngine creates a new unification engine. The emitter may be nil, in
// which case no events are published.
func NewEngine(
	customers CustomerStore,
	records RecordStore,
	candidates CandidateStore,
	comparator *matching.Comparator,
	classifier *matching.Classifier,
	emitter EventSink,
	logger ectologger.Logger,
) *Engine {
	return &Engine{
		customers:  customers,
		records:    records,
		candidates: candidates,
		comparator: comparator,
		classifier: classifier,
		emitter:    emitter,
		logger:     logger,
		index:      blocking.NewIndex(),
		byID:       make(map[string]*models.Customer),
		approved:   make(map[string]models.MatchCandidate),
		rejected:   make(map[string]bool),
	}
}

// Load seeds the block index with every primary customer and picks up the
// reviewer decisions made since the last run.
func (e *Engine) Load(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "unification.Engine.Load")
	defer span.End()

	primaries, err := e.customers.ListPrimaries(ctx)
	if err != nil {
		return err
	}

	e.index = blocking.NewIndex()
	e.byID = make(map[string]*models.Customer, len(primaries))
	for i := range primaries {
		c := primaries[i]
		e.byID[c.ID] = &c
		e.index.Add(normalizers.NormalizeCustomer(&c))
	}

	approved, err := e.candidates.ListByStatus(ctx, models.MatchCandidateStatusApproved)
	if err != nil {
		return err
	}
	e.approved = make(map[string]models.MatchCandidate, len(approved))
	for _, cand := range approved {
		e.approved[recordKey(cand.RecordKind, cand.RecordID)] = cand
	}

	rejected, err := e.candidates.ListByStatus(ctx, models.MatchCandidateStatusRejected)
	if err != nil {
		return err
	}
	e.rejected = make(map[string]bool, len(rejected))
	for _, cand := range rejected {
		e.rejected[pairKey(cand.RecordKind, cand.RecordID, cand.CustomerID)] = true
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"customers": len(primaries),
		"approved":  len(approved),
		"rejected":  len(rejected),
	}).Info("Loaded primary customers into block index")
	return nil
}

// Resolve runs the waterfall for one raw record. A reviewer approval made
// since the last run short-circuits straight to the approved customer. Tier
// one links on exact normalized phone, tier two on exact normalized email; a
// record whose phone and email point at two different customers merges them
// first. Tier three scores the blocked fuzzy candidates: above the
// auto-merge threshold links, the review band queues a match candidate and
// leaves the record unresolved, and everything else creates a new customer.
// Pairs a reviewer rejected are never re-queued.
func (e *Engine) Resolve(ctx context.Context, rec *models.RawRecord) (*Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "unification.Engine.Resolve")
	defer span.End()

	norm := normalizers.NormalizeRecord(rec)

	if cand, ok := e.approved[recordKey(rec.Kind, rec.ID)]; ok {
		customer, err := e.resolvePrimary(ctx, cand.CustomerID)
		if err != nil {
			return nil, err
		}
		return e.attach(ctx, customer, rec, norm, models.MergeMethodManualReview, cand.MatchScore, reviewerOf(cand))
	}

	var phoneMatch, emailMatch *models.Customer
	if norm.Phone != "" {
		phoneMatch = e.bestByKey(models.BlockKey("phone:"+norm.Phone), norm)
	}
	if norm.Email != "" {
		emailMatch = e.bestByKey(models.BlockKey("email:"+norm.Email), norm)
	}

	// A record carrying one customer's phone and another customer's email is
	// evidence the two are the same person; fold them before attaching.
	if phoneMatch != nil && emailMatch != nil && phoneMatch.ID != emailMatch.ID {
		winner, err := e.MergeCustomers(ctx, phoneMatch.ID, emailMatch.ID, models.MergeMethodEmailExact, 1.0, "system")
		if err != nil {
			if !errors.Is(err, ErrMergeCycle) {
				return nil, err
			}
			winner = phoneMatch
		}
		return e.attach(ctx, winner, rec, norm, models.MergeMethodPhoneExact, 1.0, "system")
	}
	if phoneMatch != nil {
		return e.attach(ctx, phoneMatch, rec, norm, models.MergeMethodPhoneExact, 1.0, "system")
	}
	if emailMatch != nil {
		return e.attach(ctx, emailMatch, rec, norm, models.MergeMethodEmailExact, 1.0, "system")
	}

	best, score, levels := e.bestFuzzy(norm)
	if best != nil {
		switch e.classifier.Classify(score) {
		case models.MatchDecisionAutoMerge:
			return e.attach(ctx, best, rec, norm, models.MergeMethodNameCityFuzzy, score, "system")
		case models.MatchDecisionManualReview:
			if !e.rejected[pairKey(rec.Kind, rec.ID, best.ID)] {
				if err := e.queueCandidate(ctx, rec, best.ID, score, levels); err != nil {
					return nil, err
				}
				return &Resolution{CustomerID: best.ID, Deferred: true}, nil
			}
		}
	}

	created, err := e.createCustomer(ctx, rec, norm)
	if err != nil {
		return nil, err
	}
	return &Resolution{CustomerID: created.ID, Created: true}, nil
}

// MergeCustomers folds the two customers' trees into a single primary. Both
// IDs are resolved to their primaries first; merging customers that already
// share a primary is a no-op. The surviving primary is the one first seen as
// a lead, the other keeps its row and redirects to the winner.
func (e *Engine) MergeCustomers(ctx context.Context, aID, bID, method string, confidence float64, mergedBy string) (*models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "unification.Engine.MergeCustomers")
	defer span.End()

	a, err := e.resolvePrimary(ctx, aID)
	if err != nil {
		return nil, err
	}
	b, err := e.resolvePrimary(ctx, bID)
	if err != nil {
		return nil, err
	}

	if a.ID == b.ID {
		e.logger.WithContext(ctx).WithFields(map[string]any{"customer_id": a.ID}).Debug("Customers already share a primary, skipping merge")
		return a, nil
	}

	winner, loser := pickPrimary(a, b)

	if err := e.checkReachability(ctx, winner.ID, loser.ID); err != nil {
		return nil, err
	}

	absorb(winner, loser)

	if err := e.customers.Update(ctx, winner); err != nil {
		return nil, err
	}
	if err := e.customers.MarkMergedInto(ctx, loser.ID, winner.ID); err != nil {
		return nil, err
	}
	for _, kind := range models.AllRecordKinds {
		if err := e.records.ReassignCustomer(ctx, kind, loser.ID, winner.ID); err != nil {
			return nil, err
		}
	}

	if _, err := e.customers.AppendMergeEvent(ctx, &models.MergeEvent{
		CustomerID: winner.ID,
		Method:     method,
		Confidence: confidence,
		MergedBy:   mergedBy,
	}); err != nil {
		return nil, err
	}

	loser.MergedIntoID = &winner.ID
	loser.IsPrimaryRecord = false
	winner.MergedFromIDs = append(winner.MergedFromIDs, loser.ID)

	e.index.Remove(loser.ID)
	delete(e.byID, loser.ID)
	e.byID[winner.ID] = winner
	e.index.Add(normalizers.NormalizeCustomer(winner))

	if e.emitter != nil {
		if err := e.emitter.EmitCustomerMerged(ctx, winner.ID, loser.ID, method, confidence); err != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("Customer merged event emission failed")
		}
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"winner_id": winner.ID,
		"loser_id":  loser.ID,
		"method":    method,
	}).Info("Merged customers")

	return winner, nil
}

func (e *Engine) bestByKey(key models.BlockKey, norm normalizers.NormalizedRecord) *models.Customer {
	bucket := e.index.CandidatesByKey(key)
	if len(bucket) == 0 {
		return nil
	}

	var best *models.Customer
	bestScore := -1.0
	for _, candidate := range bucket {
		score, _ := e.comparator.Score(norm, candidate)
		if score > bestScore {
			bestScore = score
			best = e.byID[candidate.ID]
		}
	}
	return best
}

func (e *Engine) bestFuzzy(norm normalizers.NormalizedRecord) (*models.Customer, float64, map[string]models.ComparisonLevel) {
	var best *models.Customer
	bestScore := -1.0
	var bestLevels map[string]models.ComparisonLevel

	for _, candidate := range e.index.Candidates(norm) {
		score, levels := e.comparator.Score(norm, candidate)
		if score > bestScore {
			bestScore = score
			best = e.byID[candidate.ID]
			bestLevels = levels
		}
	}
	return best, bestScore, bestLevels
}

func (e *Engine) attach(ctx context.Context, customer *models.Customer, rec *models.RawRecord, norm normalizers.NormalizedRecord, method string, confidence float64, mergedBy string) (*Resolution, error) {
	absorbRecord(customer, rec, norm)

	if err := e.customers.Update(ctx, customer); err != nil {
		return nil, err
	}
	if err := e.records.SetCustomerID(ctx, rec.Kind, rec.ID, customer.ID); err != nil {
		return nil, err
	}

	kind := string(rec.Kind)
	if _, err := e.customers.AppendMergeEvent(ctx, &models.MergeEvent{
		CustomerID: customer.ID,
		Method:     method,
		Confidence: confidence,
		MergedBy:   mergedBy,
		SourceKind: &kind,
		SourceID:   &rec.ID,
	}); err != nil {
		return nil, err
	}

	e.byID[customer.ID] = customer
	e.index.Add(normalizers.NormalizeCustomer(customer))

	return &Resolution{CustomerID: customer.ID, Method: method}, nil
}

func (e *Engine) createCustomer(ctx context.Context, rec *models.RawRecord, norm normalizers.NormalizedRecord) (*models.Customer, error) {
	customer := &models.Customer{
		FirstName:       rec.FirstName,
		LastName:        rec.LastName,
		Email:           nilIfEmpty(norm.Email),
		Phone:           nilIfEmpty(norm.Phone),
		OriginCity:      rec.OriginCity,
		DestinationCity: rec.DestinationCity,
		State:           nilIfEmpty(norm.State),
		Branch:          nilIfEmpty(norm.Branch),
		Salesperson:     rec.Salesperson,
	}

	occurred := rec.OccurredAt.UTC()
	customer.FirstLeadDate = &occurred
	if rec.Kind.IsConversion() {
		customer.ConversionDate = &occurred
	}

	created, err := e.customers.Create(ctx, customer)
	if err != nil {
		return nil, err
	}
	if err := e.records.SetCustomerID(ctx, rec.Kind, rec.ID, created.ID); err != nil {
		return nil, err
	}

	// the seeding record opens the merge history so every absorption is
	// audited, the later attachments included
	kind := string(rec.Kind)
	if _, err := e.customers.AppendMergeEvent(ctx, &models.MergeEvent{
		CustomerID: created.ID,
		Method:     models.MergeMethodNewCustomer,
		Confidence: 1.0,
		MergedBy:   "system",
		SourceKind: &kind,
		SourceID:   &rec.ID,
	}); err != nil {
		return nil, err
	}

	e.byID[created.ID] = created
	e.index.Add(normalizers.NormalizeCustomer(created))

	if e.emitter != nil {
		if err := e.emitter.EmitCustomerCreated(ctx, created, rec.Kind, rec.ID); err != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("Customer created event emission failed")
		}
	}

	return created, nil
}

func (e *Engine) queueCandidate(ctx context.Context, rec *models.RawRecord, customerID string, score float64, levels map[string]models.ComparisonLevel) error {
	levelsJSON, err := json.Marshal(levels)
	if err != nil {
		return errors.Wrap(err, "marshal field levels")
	}

	_, err = e.candidates.Create(ctx, &models.MatchCandidate{
		RecordKind:  rec.Kind,
		RecordID:    rec.ID,
		CustomerID:  customerID,
		MatchScore:  score,
		FieldLevels: string(levelsJSON),
	})
	if err != nil {
		return err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"record_kind": rec.Kind,
		"record_id":   rec.ID,
		"customer_id": customerID,
		"score":       score,
	}).Info("Queued match candidate for review")

	return nil
}

// resolvePrimary follows the redirect chain in memory when possible and
// falls back to the store for customers outside the loaded index.
func (e *Engine) resolvePrimary(ctx context.Context, id string) (*models.Customer, error) {
	if c, ok := e.byID[id]; ok && c.MergedIntoID == nil {
		return c, nil
	}

	const maxDepth = 64
	current, err := e.customers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for depth := 0; current.MergedIntoID != nil; depth++ {
		if depth >= maxDepth {
			return nil, ErrMergeCycle
		}
		current, err = e.customers.Get(ctx, *current.MergedIntoID)
		if err != nil {
			return nil, err
		}
	}

	if loaded, ok := e.byID[current.ID]; ok {
		return loaded, nil
	}
	return current, nil
}

// checkReachability refuses a merge when the loser already appears on the
// winner's redirect chain, which would close a cycle.
func (e *Engine) checkReachability(ctx context.Context, winnerID, loserID string) error {
	const maxDepth = 64
	current, err := e.customers.Get(ctx, winnerID)
	if err != nil {
		return err
	}
	for depth := 0; current.MergedIntoID != nil; depth++ {
		if depth >= maxDepth {
			return ErrMergeCycle
		}
		if *current.MergedIntoID == loserID {
			e.logger.WithContext(ctx).WithFields(map[string]any{
				"winner_id": winnerID,
				"loser_id":  loserID,
			}).Warn("Refusing merge that would create a redirect cycle")
			return ErrMergeCycle
		}
		current, err = e.customers.Get(ctx, *current.MergedIntoID)
		if err != nil {
			return err
		}
	}
	return nil
}

// pickPrimary chooses the surviving customer: the one first seen as a lead
// wins, with the lexically smaller ID breaking ties.
func pickPrimary(a, b *models.Customer) (winner, loser *models.Customer) {
	switch {
	case a.FirstLeadDate == nil && b.FirstLeadDate == nil:
	case a.FirstLeadDate == nil:
		return b, a
	case b.FirstLeadDate == nil:
		return a, b
	case a.FirstLeadDate.Before(*b.FirstLeadDate):
		return a, b
	case b.FirstLeadDate.Before(*a.FirstLeadDate):
		return b, a
	}
	if a.ID < b.ID {
		return a, b
	}
	return b, a
}

// absorb fills the winner's missing fields from the loser and pulls its
// timeline dates back to the earliest sightings. Populated winner fields are
// never overwritten.
func absorb(winner, loser *models.Customer) {
	fillString(&winner.FirstName, loser.FirstName)
	fillString(&winner.LastName, loser.LastName)
	fillString(&winner.Email, loser.Email)
	fillString(&winner.Phone, loser.Phone)
	fillString(&winner.OriginCity, loser.OriginCity)
	fillString(&winner.DestinationCity, loser.DestinationCity)
	fillString(&winner.State, loser.State)
	fillString(&winner.Branch, loser.Branch)
	fillString(&winner.Salesperson, loser.Salesperson)

	winner.FirstLeadDate = earliest(winner.FirstLeadDate, loser.FirstLeadDate)
	winner.ConversionDate = earliest(winner.ConversionDate, loser.ConversionDate)
	clampConversion(winner)
}

// absorbRecord fills the customer's missing fields from a newly attached raw
// record and maintains the first lead and conversion dates.
func absorbRecord(customer *models.Customer, rec *models.RawRecord, norm normalizers.NormalizedRecord) {
	fillString(&customer.FirstName, rec.FirstName)
	fillString(&customer.LastName, rec.LastName)
	fillString(&customer.Email, nilIfEmpty(norm.Email))
	fillString(&customer.Phone, nilIfEmpty(norm.Phone))
	fillString(&customer.OriginCity, rec.OriginCity)
	fillString(&customer.DestinationCity, rec.DestinationCity)
	fillString(&customer.State, nilIfEmpty(norm.State))
	fillString(&customer.Branch, nilIfEmpty(norm.Branch))
	fillString(&customer.Salesperson, rec.Salesperson)

	occurred := rec.OccurredAt.UTC()
	customer.FirstLeadDate = earliest(customer.FirstLeadDate, &occurred)
	if rec.Kind.IsConversion() {
		customer.ConversionDate = earliest(customer.ConversionDate, &occurred)
	}
	clampConversion(customer)
}

// clampConversion keeps the timeline coherent: nobody converts before they
// were first seen as a lead.
func clampConversion(customer *models.Customer) {
	if customer.ConversionDate != nil && customer.FirstLeadDate != nil && customer.ConversionDate.Before(*customer.FirstLeadDate) {
		customer.FirstLeadDate = customer.ConversionDate
	}
}

func fillString(dst **string, src *string) {
	if *dst == nil || **dst == "" {
		if src != nil && *src != "" {
			*dst = src
		}
	}
}

func earliest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.Before(*a) {
		return b
	}
	return a
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func recordKey(kind models.RecordKind, recordID string) string {
	return string(kind) + "/" + recordID
}

func pairKey(kind models.RecordKind, recordID, customerID string) string {
	return recordKey(kind, recordID) + "|" + customerID
}

func reviewerOf(cand models.MatchCandidate) string {
	if cand.ResolvedBy != nil && *cand.ResolvedBy != "" {
		return *cand.ResolvedBy
	}
	return "system"
}
