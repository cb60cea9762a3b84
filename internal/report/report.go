// Package report builds the structured run report: per-kind record counts,
// flag distributions and relation statistics, written as JSON at the end of
// every pipeline run.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/forecastlab/pm-warehouse/internal/adapter"
	"github.com/forecastlab/pm-warehouse/internal/domain"
	"github.com/forecastlab/pm-warehouse/internal/validate"
	"github.com/forecastlab/pm-warehouse/internal/warehouse"
)

// KindSummary holds the per-kind record counts across pipeline stages.
type KindSummary struct {
	Extracted    int `json:"extracted"`
	Clean        int `json:"clean"`
	Rejected     int `json:"rejected"`
	DedupDropped int `json:"dedup_dropped"`
	Coercions    int `json:"coercions"`
}

// Distribution summarizes the active/closed split of one entity kind.
type Distribution struct {
	Total         int     `json:"total"`
	Active        int     `json:"active"`
	Closed        int     `json:"closed"`
	ActivePercent float64 `json:"active_percent"`
}

// RelationEntry names one dimension identity and how many related rows it has.
type RelationEntry struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// RelationStats summarizes one N:N relation of the dataset.
type RelationStats struct {
	TotalParents int             `json:"total_parents"`
	Average      float64         `json:"average"`
	Max          int             `json:"max"`
	Top          []RelationEntry `json:"top"`
}

// RunReport is the structured document produced at the end of a run.
type RunReport struct {
	RunID           string                 `json:"run_id"`
	GeneratedAt     time.Time              `json:"generated_at"`
	Kinds           map[string]KindSummary `json:"kinds"`
	Events          Distribution           `json:"events_distribution"`
	Markets         Distribution           `json:"markets_distribution"`
	MarketsPerEvent RelationStats          `json:"markets_per_event"`
	EventsPerTag    RelationStats          `json:"events_per_tag"`
	Validation      *validate.Report       `json:"validation,omitempty"`
	Load            *warehouse.LoadReport  `json:"load,omitempty"`
}

// Builder accumulates run state into a report.
type Builder struct {
	clock adapter.Clock
	runID string
}

// NewBuilder creates a report builder with a fresh run id.
func NewBuilder(clock adapter.Clock) *Builder {
	return &Builder{
		clock: clock,
		runID: ulid.MustNewDefault(clock.Now()).String(),
	}
}

// RunID returns this run's identifier.
func (b *Builder) RunID() string {
	return b.runID
}

// Build assembles the report from the normalized dataset and the validation
// and load outcomes. Validation and load may be nil when those stages did not
// run.
func (b *Builder) Build(ds *domain.Dataset, validation *validate.Report, load *warehouse.LoadReport) *RunReport {
	r := &RunReport{
		RunID:       b.runID,
		GeneratedAt: b.clock.Now().UTC(),
		Kinds:       make(map[string]KindSummary, len(ds.Counts)),
		Validation:  validation,
		Load:        load,
	}

	for kind, c := range ds.Counts {
		r.Kinds[string(kind)] = KindSummary{
			Extracted:    c.Extracted,
			Clean:        c.Clean,
			Rejected:     c.Rejected,
			DedupDropped: c.DedupDropped,
			Coercions:    c.Coercions,
		}
	}

	for _, e := range ds.Events {
		r.Events.Total++
		if e.Active {
			r.Events.Active++
		}
		if e.Closed {
			r.Events.Closed++
		}
	}
	r.Events.ActivePercent = percent(r.Events.Active, r.Events.Total)

	for _, m := range ds.Markets {
		r.Markets.Total++
		if m.Active {
			r.Markets.Active++
		}
		if m.Closed {
			r.Markets.Closed++
		}
	}
	r.Markets.ActivePercent = percent(r.Markets.Active, r.Markets.Total)

	marketsPerEvent := make(map[string]int)
	for _, me := range ds.MarketEvents() {
		marketsPerEvent[me.EventID]++
	}
	r.MarketsPerEvent = relationStats(marketsPerEvent)

	eventsPerTag := make(map[string]int)
	for _, et := range ds.EventTags() {
		eventsPerTag[et.TagName]++
	}
	r.EventsPerTag = relationStats(eventsPerTag)

	return r
}

// Write serializes the report as indented JSON at path, creating parent
// directories as needed.
func (r *RunReport) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}

// relationStats summarizes a parent-id to related-count map, keeping the ten
// parents with the most related rows.
func relationStats(counts map[string]int) RelationStats {
	stats := RelationStats{TotalParents: len(counts)}
	if len(counts) == 0 {
		return stats
	}

	sum := 0
	entries := make([]RelationEntry, 0, len(counts))
	for id, n := range counts {
		sum += n
		if n > stats.Max {
			stats.Max = n
		}
		entries = append(entries, RelationEntry{ID: id, Count: n})
	}
	stats.Average = math.Round(float64(sum)/float64(len(counts))*100) / 100

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].ID < entries[j].ID
	})
	if len(entries) > 10 {
		entries = entries[:10]
	}
	stats.Top = entries
	return stats
}
