package normalize

import (
	"sort"
	"strings"

	"github.com/forecastlab/pm-warehouse/internal/domain"
)

// candidate is one staged row after JSON decoding, before deduplication
type candidate struct {
	id     string
	fields map[string]any
	order  int
}

// parseRows decodes staged payloads and rejects rows without a usable
// identity. Rejection is local to the row.
func parseRows(records []domain.RawRecord) ([]candidate, int) {
	rows := make([]candidate, 0, len(records))
	rejected := 0
	for i, rec := range records {
		fields, err := rec.Fields()
		if err != nil {
			rejected++
			continue
		}
		id := rec.ID
		if id == "" {
			id = CleanString(stringValue(fields["id"]))
		}
		if id == "" {
			rejected++
			continue
		}
		rows = append(rows, candidate{id: id, fields: fields, order: i})
	}
	return rows, rejected
}

// dedup collapses duplicate identities to one row. The winner is the row
// with the most non-null fields; remaining ties go to the latest updatedAt,
// then to the earliest occurrence in input order. Output preserves the
// first-occurrence order of identities.
func dedup(rows []candidate) ([]candidate, int) {
	best := make(map[string]candidate, len(rows))
	firstSeen := make(map[string]int, len(rows))
	for _, row := range rows {
		cur, ok := best[row.id]
		if !ok {
			best[row.id] = row
			firstSeen[row.id] = row.order
			continue
		}
		if betterCandidate(row, cur) {
			best[row.id] = row
		}
	}

	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return firstSeen[ids[i]] < firstSeen[ids[j]] })

	out := make([]candidate, 0, len(ids))
	for _, id := range ids {
		out = append(out, best[id])
	}
	return out, len(rows) - len(out)
}

func betterCandidate(a, b candidate) bool {
	an, bn := nonNullFields(a.fields), nonNullFields(b.fields)
	if an != bn {
		return an > bn
	}
	at, bt := ParseTimestamp(a.fields["updatedAt"]), ParseTimestamp(b.fields["updatedAt"])
	switch {
	case at != nil && bt == nil:
		return true
	case at == nil && bt != nil:
		return false
	case at != nil && bt != nil && !at.Equal(*bt):
		return at.After(*bt)
	}
	return a.order < b.order
}

func nonNullFields(fields map[string]any) int {
	n := 0
	for _, v := range fields {
		if v != nil {
			n++
		}
	}
	return n
}

// Events normalizes staged event records. Rows without a parseable startDate
// are rejected since it anchors the event's fact dates.
func Events(records []domain.RawRecord) ([]domain.Event, domain.KindCounts) {
	counts := domain.KindCounts{Extracted: len(records)}
	rows, rejected := parseRows(records)
	counts.Rejected = rejected
	rows, counts.DedupDropped = dedup(rows)

	events := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		start := ParseTimestamp(row.fields["startDate"])
		if start == nil {
			counts.Rejected++
			continue
		}
		e := domain.Event{
			ID:           row.id,
			Title:        cleanField(row.fields, "title"),
			Description:  cleanField(row.fields, "description"),
			Category:     cleanField(row.fields, "category"),
			Subcategory:  cleanField(row.fields, "subcategory"),
			Ticker:       cleanField(row.fields, "ticker"),
			Slug:         cleanField(row.fields, "slug"),
			StartDate:    *start,
			EndDate:      ParseTimestamp(row.fields["endDate"]),
			CreationDate: ParseTimestamp(row.fields["creationDate"]),
			CreatedAt:    ParseTimestamp(row.fields["createdAt"]),
			UpdatedAt:    ParseTimestamp(row.fields["updatedAt"]),
			Tags:         parseTagNames(row.fields["tags"]),
		}
		e.Active = coerceFlag(row.fields, "active", &counts)
		e.Closed = coerceFlag(row.fields, "closed", &counts)
		e.Featured = coerceFlag(row.fields, "featured", &counts)
		events = append(events, e)
	}
	counts.Clean = len(events)
	return events, counts
}

// Markets normalizes staged market records. Outcome labels are uppercased;
// the outcomes/prices length invariant is checked by validation, not here.
func Markets(records []domain.RawRecord) ([]domain.Market, domain.KindCounts) {
	counts := domain.KindCounts{Extracted: len(records)}
	rows, rejected := parseRows(records)
	counts.Rejected = rejected
	rows, counts.DedupDropped = dedup(rows)

	markets := make([]domain.Market, 0, len(rows))
	for _, row := range rows {
		m := domain.Market{
			ID:             row.id,
			Question:       cleanField(row.fields, "question"),
			MarketType:     cleanField(row.fields, "marketType"),
			Slug:           cleanField(row.fields, "slug"),
			Category:       cleanField(row.fields, "category"),
			Description:    cleanField(row.fields, "description"),
			Outcomes:       parseOutcomes(row.fields["outcomes"]),
			OutcomePrices:  ParseFloatList(firstPresent(row.fields, "outcomePrices", "prices")),
			Volume:         CoerceFloat(firstPresent(row.fields, "volume", "volumeNum")),
			Liquidity:      CoerceFloat(firstPresent(row.fields, "liquidity", "liquidityNum")),
			LastTradePrice: CoerceFloat(row.fields["lastTradePrice"]),
			Spread:         CoerceFloat(row.fields["spread"]),
			EndDate:        ParseTimestamp(row.fields["endDate"]),
			CreatedAt:      ParseTimestamp(row.fields["createdAt"]),
			UpdatedAt:      ParseTimestamp(row.fields["updatedAt"]),
			EventIDs:       parseEventIDs(row.fields["events"]),
		}
		m.Active = coerceFlag(row.fields, "active", &counts)
		m.Closed = coerceFlag(row.fields, "closed", &counts)
		m.Featured = coerceFlag(row.fields, "featured", &counts)
		markets = append(markets, m)
	}
	counts.Clean = len(markets)
	return markets, counts
}

// Series normalizes staged series records.
func Series(records []domain.RawRecord) ([]domain.Series, domain.KindCounts) {
	counts := domain.KindCounts{Extracted: len(records)}
	rows, rejected := parseRows(records)
	counts.Rejected = rejected
	rows, counts.DedupDropped = dedup(rows)

	series := make([]domain.Series, 0, len(rows))
	for _, row := range rows {
		series = append(series, domain.Series{
			ID:          row.id,
			Slug:        cleanField(row.fields, "slug"),
			Title:       cleanField(row.fields, "title"),
			Description: cleanField(row.fields, "description"),
		})
	}
	counts.Clean = len(series)
	return series, counts
}

// Tags normalizes staged tag records into the globally deduplicated tag set.
// Identity is the cleaned, lowercased label.
func Tags(records []domain.RawRecord) ([]domain.Tag, domain.KindCounts) {
	counts := domain.KindCounts{Extracted: len(records)}
	rows, rejected := parseRows(records)
	counts.Rejected = rejected
	rows, counts.DedupDropped = dedup(rows)

	seen := make(map[string]struct{}, len(rows))
	tags := make([]domain.Tag, 0, len(rows))
	for _, row := range rows {
		name := normalizeTagName(stringValue(firstPresent(row.fields, "label", "name", "slug")))
		if name == "" {
			counts.Rejected++
			continue
		}
		if _, ok := seen[name]; ok {
			counts.DedupDropped++
			continue
		}
		seen[name] = struct{}{}
		tags = append(tags, domain.Tag{Name: name})
	}
	counts.Clean = len(tags)
	return tags, counts
}

// Dataset normalizes all staged partitions into one in-memory dataset.
func Dataset(raw map[domain.EntityKind][]domain.RawRecord) *domain.Dataset {
	ds := &domain.Dataset{Counts: make(map[domain.EntityKind]domain.KindCounts)}
	ds.Tags, ds.Counts[domain.KindTags] = Tags(raw[domain.KindTags])
	ds.Series, ds.Counts[domain.KindSeries] = Series(raw[domain.KindSeries])
	ds.Events, ds.Counts[domain.KindEvents] = Events(raw[domain.KindEvents])
	ds.Markets, ds.Counts[domain.KindMarkets] = Markets(raw[domain.KindMarkets])
	return ds
}

func coerceFlag(fields map[string]any, key string, counts *domain.KindCounts) bool {
	v, coerced := CoerceBool(fields[key])
	if coerced {
		counts.Coercions++
	}
	return v
}

func cleanField(fields map[string]any, key string) *string {
	s := CleanString(stringValue(fields[key]))
	if s == "" {
		return nil
	}
	return &s
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func firstPresent(fields map[string]any, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func parseOutcomes(v interface{}) []string {
	raw := ParseStringList(v)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.ToUpper(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalizeTagName(s string) string {
	return strings.ToLower(CleanString(s))
}

// parseTagNames handles both textual string lists and arrays of tag objects
// carrying a label.
func parseTagNames(v interface{}) []string {
	var raw []string
	switch t := v.(type) {
	case []interface{}:
		for _, e := range t {
			switch el := e.(type) {
			case string:
				raw = append(raw, el)
			case map[string]any:
				raw = append(raw, stringValue(firstPresent(el, "label", "name", "slug")))
			}
		}
	default:
		raw = ParseStringList(v)
	}

	seen := make(map[string]struct{}, len(raw))
	var names []string
	for _, s := range raw {
		name := normalizeTagName(s)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// parseEventIDs handles both textual id lists and arrays of event objects.
func parseEventIDs(v interface{}) []string {
	var raw []string
	switch t := v.(type) {
	case []interface{}:
		for _, e := range t {
			switch el := e.(type) {
			case string:
				raw = append(raw, el)
			case map[string]any:
				raw = append(raw, stringValue(el["id"]))
			}
		}
	default:
		raw = ParseStringList(v)
	}

	var ids []string
	for _, s := range raw {
		if s = CleanString(s); s != "" {
			ids = append(ids, s)
		}
	}
	return ids
}
