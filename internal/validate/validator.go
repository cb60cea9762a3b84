// Package validate gates the load stage: it checks structural and referential
// expectations on the normalized dataset and reports findings per relation.
package validate

import (
	"github.com/forecastlab/pm-warehouse/internal/domain"
)

// Severity of a validation finding
type Severity string

const (
	// SeverityWarning flags a data quality concern that does not block loading
	SeverityWarning Severity = "warning"
	// SeverityFatal blocks the affected relation (or the whole run in fail-fast mode)
	SeverityFatal Severity = "fatal"
)

// Warehouse relation names findings are scoped to
const (
	RelationDimEvent          = "dim_event"
	RelationDimMarket         = "dim_market"
	RelationDimSeries         = "dim_series"
	RelationDimTag            = "dim_tag"
	RelationFactEventTag      = "fact_event_tag"
	RelationFactMarketEvent   = "fact_market_event"
	RelationFactMarketMetrics = "fact_market_metrics"
	RelationFactEventMetrics  = "fact_event_metrics"
)

// Finding is one validation observation scoped to an entity or relation
type Finding struct {
	Severity Severity `json:"severity"`
	Entity   string   `json:"entity"`
	Message  string   `json:"message"`
	Count    int      `json:"count"`
}

// Report is the outcome of a validation pass. Passed is true when no fatal
// finding was recorded.
type Report struct {
	Passed   bool      `json:"passed"`
	Findings []Finding `json:"findings"`
}

func (r *Report) add(severity Severity, entity, message string, count int) {
	r.Findings = append(r.Findings, Finding{Severity: severity, Entity: entity, Message: message, Count: count})
	if severity == SeverityFatal {
		r.Passed = false
	}
}

// FatalFindings returns only the fatal findings.
func (r *Report) FatalFindings() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityFatal {
			out = append(out, f)
		}
	}
	return out
}

// BlockedRelations returns the warehouse relations that must not be loaded
// given the fatal findings. Blocking a dimension transitively blocks every
// fact relation that references it.
func (r *Report) BlockedRelations() map[string]bool {
	blocked := make(map[string]bool)
	for _, f := range r.FatalFindings() {
		blocked[f.Entity] = true
	}

	dependents := map[string][]string{
		RelationDimEvent:  {RelationFactEventTag, RelationFactMarketEvent, RelationFactEventMetrics},
		RelationDimMarket: {RelationFactMarketEvent, RelationFactMarketMetrics},
		RelationDimTag:    {RelationFactEventTag},
	}
	for dim, facts := range dependents {
		if blocked[dim] {
			for _, f := range facts {
				blocked[f] = true
			}
		}
	}
	return blocked
}

// Validator checks a normalized dataset before it is allowed to reach the
// warehouse.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate runs every check against the dataset. It never mutates the
// dataset; the loader consults the report to decide what to load.
func (v *Validator) Validate(ds *domain.Dataset) *Report {
	report := &Report{Passed: true}

	v.checkPresence(ds, report)
	v.checkShape(ds, report)
	v.checkIdentityUniqueness(ds, report)
	v.checkMarketArrays(ds, report)
	v.checkReferences(ds, report)
	v.checkDateCoverage(ds, report)

	return report
}

// checkPresence flags empty entity sets. An empty dimension is fatal for the
// relations built from it.
func (v *Validator) checkPresence(ds *domain.Dataset, report *Report) {
	if len(ds.Events) == 0 {
		report.add(SeverityFatal, RelationDimEvent, "no events survived normalization", 0)
	}
	if len(ds.Markets) == 0 {
		report.add(SeverityFatal, RelationDimMarket, "no markets survived normalization", 0)
	}
	if len(ds.Series) == 0 {
		report.add(SeverityWarning, RelationDimSeries, "no series in dataset", 0)
	}
	if len(ds.TagNames()) == 0 {
		report.add(SeverityWarning, RelationDimTag, "no tags in dataset", 0)
	}
}

// checkShape flags attribute drift that suggests the source schema moved.
// These are warnings: rows still load, analysts just see nulls.
func (v *Validator) checkShape(ds *domain.Dataset, report *Report) {
	missingTitle := 0
	for _, e := range ds.Events {
		if e.Title == nil {
			missingTitle++
		}
	}
	if missingTitle > 0 {
		report.add(SeverityWarning, RelationDimEvent, "events without a title", missingTitle)
	}

	missingQuestion := 0
	missingOutcomes := 0
	for _, m := range ds.Markets {
		if m.Question == nil {
			missingQuestion++
		}
		if len(m.Outcomes) == 0 {
			missingOutcomes++
		}
	}
	if missingQuestion > 0 {
		report.add(SeverityWarning, RelationDimMarket, "markets without a question", missingQuestion)
	}
	if missingOutcomes > 0 {
		report.add(SeverityWarning, RelationDimMarket, "markets without outcome labels", missingOutcomes)
	}
}

// checkIdentityUniqueness is a post-condition check on normalization: no
// duplicate identity may survive deduplication.
func (v *Validator) checkIdentityUniqueness(ds *domain.Dataset, report *Report) {
	check := func(relation string, ids []string) {
		seen := make(map[string]struct{}, len(ids))
		dups := 0
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				dups++
			}
			seen[id] = struct{}{}
		}
		if dups > 0 {
			report.add(SeverityFatal, relation, "duplicate identities after normalization", dups)
		}
	}

	eventIDs := make([]string, len(ds.Events))
	for i, e := range ds.Events {
		eventIDs[i] = e.ID
	}
	check(RelationDimEvent, eventIDs)

	marketIDs := make([]string, len(ds.Markets))
	for i, m := range ds.Markets {
		marketIDs[i] = m.ID
	}
	check(RelationDimMarket, marketIDs)

	seriesIDs := make([]string, len(ds.Series))
	for i, s := range ds.Series {
		seriesIDs[i] = s.ID
	}
	check(RelationDimSeries, seriesIDs)

	check(RelationDimTag, ds.TagNames())
}

// checkMarketArrays enforces the outcomes/prices alignment invariant. A
// mismatch blocks the market dimension rather than silently truncating.
func (v *Validator) checkMarketArrays(ds *domain.Dataset, report *Report) {
	mismatched := 0
	for _, m := range ds.Markets {
		if len(m.OutcomePrices) > 0 && len(m.Outcomes) != len(m.OutcomePrices) {
			mismatched++
		}
	}
	if mismatched > 0 {
		report.add(SeverityFatal, RelationDimMarket, "markets with mismatched outcomes/prices lengths", mismatched)
	}
}

// checkDateCoverage flags markets with no observable activity date. Metric
// facts are keyed by the date metrics were observed on, so a market with
// neither updatedAt nor createdAt contributes no fact rows at all.
func (v *Validator) checkDateCoverage(ds *domain.Dataset, report *Report) {
	undated := 0
	for _, m := range ds.Markets {
		if m.UpdatedAt == nil && m.CreatedAt == nil {
			undated++
		}
	}
	if undated > 0 {
		report.add(SeverityWarning, RelationFactMarketMetrics, "markets with no activity date, excluded from metric facts", undated)
	}
}

// checkReferences counts orphaned foreign keys per fact-shaped relation.
func (v *Validator) checkReferences(ds *domain.Dataset, report *Report) {
	eventIDs := make(map[string]struct{}, len(ds.Events))
	for _, e := range ds.Events {
		eventIDs[e.ID] = struct{}{}
	}
	tagNames := make(map[string]struct{})
	for _, name := range ds.TagNames() {
		tagNames[name] = struct{}{}
	}

	orphanEventTags := 0
	for _, et := range ds.EventTags() {
		if _, ok := eventIDs[et.EventID]; !ok {
			orphanEventTags++
			continue
		}
		if _, ok := tagNames[et.TagName]; !ok {
			orphanEventTags++
		}
	}
	if orphanEventTags > 0 {
		report.add(SeverityFatal, RelationFactEventTag, "event-tag rows referencing a missing dimension", orphanEventTags)
	}

	orphanMarketEvents := 0
	for _, me := range ds.MarketEvents() {
		if _, ok := eventIDs[me.EventID]; !ok {
			orphanMarketEvents++
		}
	}
	if orphanMarketEvents > 0 {
		report.add(SeverityFatal, RelationFactMarketEvent, "market-event rows referencing a missing event", orphanMarketEvents)
	}
}
