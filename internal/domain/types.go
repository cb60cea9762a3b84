package domain

import (
	"encoding/json"
	"time"
)

// EntityKind identifies one paginated resource of the source API and the
// staging partition it lands in.
type EntityKind string

const (
	// KindEvents represents prediction-market events
	KindEvents EntityKind = "events"
	// KindMarkets represents individual markets
	KindMarkets EntityKind = "markets"
	// KindSeries represents market series (recurring groupings)
	KindSeries EntityKind = "series"
	// KindTags represents topic tags
	KindTags EntityKind = "tags"
)

// AllKinds returns every entity kind in extraction order. Tags and series are
// extracted first so dimension lookups warm up before the larger entity sets.
func AllKinds() []EntityKind {
	return []EntityKind{KindTags, KindSeries, KindEvents, KindMarkets}
}

// ValidKind reports whether s names a known entity kind.
func ValidKind(s string) bool {
	switch EntityKind(s) {
	case KindEvents, KindMarkets, KindSeries, KindTags:
		return true
	}
	return false
}

// RawRecord is one record exactly as received from the source API. The payload
// keeps the original loosely-typed JSON object intact so normalization can be
// re-run against staged data without re-extracting.
type RawRecord struct {
	ID        string
	Kind      EntityKind
	Payload   []byte
	FetchedAt time.Time
}

// Fields decodes the raw JSON payload into a generic field map.
func (r RawRecord) Fields() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(r.Payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Event is the canonical, normalized form of an event record.
type Event struct {
	ID           string
	Title        *string
	Description  *string
	Category     *string
	Subcategory  *string
	Ticker       *string
	Slug         *string
	Active       bool
	Closed       bool
	Featured     bool
	StartDate    time.Time
	EndDate      *time.Time
	CreationDate *time.Time
	CreatedAt    *time.Time
	UpdatedAt    *time.Time
	Tags         []string
}

// Market is the canonical, normalized form of a market record.
// Outcomes and OutcomePrices are positionally aligned; the length invariant
// is enforced by validation, not here.
type Market struct {
	ID             string
	Question       *string
	MarketType     *string
	Slug           *string
	Category       *string
	Description    *string
	Active         bool
	Closed         bool
	Featured       bool
	Outcomes       []string
	OutcomePrices  []float64
	Volume         *float64
	Liquidity      *float64
	LastTradePrice *float64
	Spread         *float64
	EndDate        *time.Time
	CreatedAt      *time.Time
	UpdatedAt      *time.Time
	EventIDs       []string
}

// Series is the canonical, normalized form of a series record.
type Series struct {
	ID          string
	Slug        *string
	Title       *string
	Description *string
}

// Tag is a globally deduplicated topic tag. Name is the identity and is
// always lowercased with collapsed whitespace.
type Tag struct {
	Name string
}

// EventTag is one event-to-tag association derived from normalized events.
type EventTag struct {
	EventID string
	TagName string
}

// MarketEvent is one market-to-event association derived from normalized
// markets.
type MarketEvent struct {
	MarketID string
	EventID  string
}

// KindCounts tracks per-stage record counts for one entity kind.
type KindCounts struct {
	Extracted    int
	Clean        int
	Rejected     int
	DedupDropped int
	Coercions    int
}

// Dataset is the full normalized output of one pipeline run, held in memory
// between the normalize and load stages.
type Dataset struct {
	Events  []Event
	Markets []Market
	Series  []Series
	Tags    []Tag

	Counts map[EntityKind]KindCounts
}

// EventTags derives the event-to-tag bridge rows from normalized events.
func (d *Dataset) EventTags() []EventTag {
	var out []EventTag
	for _, e := range d.Events {
		for _, tag := range e.Tags {
			out = append(out, EventTag{EventID: e.ID, TagName: tag})
		}
	}
	return out
}

// MarketEvents derives the market-to-event bridge rows from normalized
// markets.
func (d *Dataset) MarketEvents() []MarketEvent {
	var out []MarketEvent
	for _, m := range d.Markets {
		for _, eventID := range m.EventIDs {
			out = append(out, MarketEvent{MarketID: m.ID, EventID: eventID})
		}
	}
	return out
}

// TagNames returns the set of tag identities, including tags that only appear
// inline on events. The loader relies on this closure so every bridge row can
// resolve a surrogate key.
func (d *Dataset) TagNames() []string {
	seen := make(map[string]struct{}, len(d.Tags))
	var names []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for _, t := range d.Tags {
		add(t.Name)
	}
	for _, e := range d.Events {
		for _, tag := range e.Tags {
			add(tag)
		}
	}
	return names
}
