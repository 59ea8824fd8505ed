package vast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
)

// Offer types accepted by the search endpoint
const (
	OfferOnDemand = "on-demand"
	OfferBid      = "bid"
	OfferReserved = "reserved"
)

// SearchOptions controls an offer search.
type SearchOptions struct {
	Type    string     `json:"type" validate:"omitempty,oneof=on-demand bid reserved"`
	Order   [][]string `json:"order,omitempty"`
	Limit   int        `json:"limit,omitempty" validate:"gte=0"`
	Storage float64    `json:"allocated_storage,omitempty" validate:"gte=0"`
}

// SearchOffers returns offers matching q. The endpoint accepts anonymous
// requests.
func (c *Client) SearchOffers(ctx context.Context, q Query, opts SearchOptions) ([]Record, error) {
	if err := c.Validate(opts); err != nil {
		return nil, err
	}
	if opts.Type == "" {
		opts.Type = OfferOnDemand
	}

	doc := make(map[string]any, len(q)+4)
	for field, ops := range q {
		doc[field] = ops
	}
	doc["type"] = opts.Type
	if len(opts.Order) > 0 {
		doc["order"] = opts.Order
	}
	if opts.Limit > 0 {
		doc["limit"] = opts.Limit
	}
	if opts.Storage > 0 {
		doc["allocated_storage"] = opts.Storage
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	var raw json.RawMessage
	r := request{method: "GET", path: "/bundles/", query: url.Values{"q": {string(encoded)}}, anonymous: true}
	if err := c.send(ctx, r, &raw); err != nil {
		return nil, err
	}
	return records(raw, "offers")
}

// CheapestOffer returns the lowest dph_total offer among results.
func CheapestOffer(offers []Record) (Offer, bool) {
	if len(offers) == 0 {
		return Offer{}, false
	}
	sorted := make([]Record, len(offers))
	copy(sorted, offers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Float("dph_total") < sorted[j].Float("dph_total")
	})
	var o Offer
	if err := sorted[0].Decode(&o); err != nil {
		return Offer{}, false
	}
	return o, true
}

// SearchTemplates lists templates matching q.
func (c *Client) SearchTemplates(ctx context.Context, q Query) ([]Record, error) {
	query := url.Values{}
	if len(q) > 0 {
		encoded, err := json.Marshal(q)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal query: %w", err)
		}
		query.Set("select_filters", string(encoded))
	}
	return c.list(ctx, "/template/", query, "templates")
}

// SearchBenchmarks lists benchmark results matching q.
func (c *Client) SearchBenchmarks(ctx context.Context, q Query) ([]Record, error) {
	return c.selectList(ctx, "/benchmarks", q, "")
}

// SearchInvoices lists invoices matching q.
func (c *Client) SearchInvoices(ctx context.Context, q Query) ([]Record, error) {
	return c.selectList(ctx, "/invoices", q, "")
}

func (c *Client) selectList(ctx context.Context, path string, q Query, key string) ([]Record, error) {
	filters, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}
	query := url.Values{
		"select_cols":    {`["*"]`},
		"select_filters": {string(filters)},
	}
	return c.list(ctx, path, query, key)
}
