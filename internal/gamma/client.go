// Package gamma implements a client for the Polymarket gamma-style paginated
// HTTP API. Each entity kind is a flat resource paged with offset/limit query
// parameters.
package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/forecastlab/pm-warehouse/internal/adapter"
	"github.com/forecastlab/pm-warehouse/internal/domain"
)

// Client defines the interface for source API operations to enable mocking
//
//go:generate mockgen -source=client.go -destination=../mocks/gamma_client.go -package=mocks -mock_names=Client=MockGammaClient
type Client interface {
	// FetchPage fetches one page of raw records for an entity kind. A short
	// or empty result signals the end of the resource, not an error.
	FetchPage(ctx context.Context, kind domain.EntityKind, offset, limit int) ([]domain.RawRecord, error)
}

// GammaClient implements Client on top of the retrying HTTP adapter.
type GammaClient struct {
	httpClient adapter.HTTPClient
	baseURL    string
	clock      adapter.Clock
}

// NewClient creates a new gamma API client
func NewClient(httpClient adapter.HTTPClient, baseURL string, clock adapter.Clock) Client {
	return &GammaClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		clock:      clock,
	}
}

// envelope matches the two response shapes the API serves: a bare JSON array,
// or an object wrapping the array under "data".
type envelope struct {
	Data []json.RawMessage `json:"data"`
}

// identity picks the record id out of a raw object. The API is inconsistent
// about numeric vs. string ids, so the raw token is kept and normalized in
// recordID.
type identity struct {
	ID json.RawMessage `json:"id"`
}

// recordID extracts the id of a raw object as a string regardless of whether
// the API served it as a JSON string or a JSON number. Records without a
// parseable id yield an empty string; normalization rejects and counts them
// so they surface in the run report.
func recordID(item json.RawMessage) string {
	var ident identity
	if err := json.Unmarshal(item, &ident); err != nil || len(ident.ID) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(ident.ID, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(ident.ID, &n); err == nil {
		return n.String()
	}
	return ""
}

// FetchPage fetches one page of raw records for an entity kind
func (c *GammaClient) FetchPage(ctx context.Context, kind domain.EntityKind, offset, limit int) ([]domain.RawRecord, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	pageURL := fmt.Sprintf("%s/%s?%s", c.baseURL, kind, q.Encode())

	var body json.RawMessage
	if err := c.httpClient.Get(ctx, pageURL, &body); err != nil {
		return nil, fmt.Errorf("failed to fetch %s page at offset %d: %w", kind, offset, err)
	}

	items, err := decodePage(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s page at offset %d: %w", kind, offset, err)
	}

	fetchedAt := c.clock.Now().UTC()
	records := make([]domain.RawRecord, 0, len(items))
	for _, item := range items {
		records = append(records, domain.RawRecord{
			ID:        recordID(item),
			Kind:      kind,
			Payload:   item,
			FetchedAt: fetchedAt,
		})
	}

	return records, nil
}

// decodePage accepts either a bare array or a {"data": [...]} envelope.
func decodePage(body json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("response is neither an array nor a data envelope: %w", err)
	}
	return env.Data, nil
}
