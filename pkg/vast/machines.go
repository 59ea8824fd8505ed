package vast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Machines lists machines the caller hosts.
func (c *Client) Machines(ctx context.Context) ([]Record, error) {
	return c.list(ctx, "/machines", url.Values{"owner": {"me"}}, "machines")
}

// Machine returns a single hosted machine.
func (c *Client) Machine(ctx context.Context, id int) (Record, error) {
	machines, err := c.Machines(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range machines {
		if m.Int("id") == id || m.Int("machine_id") == id {
			return m, nil
		}
	}
	return nil, fmt.Errorf("machine %d: %w", id, ErrNotFound)
}

// ListMachineRequest offers a machine for rent.
type ListMachineRequest struct {
	MachineID    int     `json:"machine" validate:"gt=0"`
	PriceGPU     float64 `json:"price_gpu,omitempty" validate:"gte=0"`
	PriceDisk    float64 `json:"price_disk,omitempty" validate:"gte=0"`
	PriceInetUp  float64 `json:"price_inetu,omitempty" validate:"gte=0"`
	PriceInetDn  float64 `json:"price_inetd,omitempty" validate:"gte=0"`
	MinChunk     int     `json:"min_chunk,omitempty" validate:"gte=0"`
	EndDate      int64   `json:"end_date,omitempty" validate:"gte=0"`
	DiscountRate float64 `json:"credit_discount_max,omitempty" validate:"gte=0,lte=1"`
	Duration     int64   `json:"duration,omitempty" validate:"gte=0"`
	VolumeSize   int     `json:"vol_size,omitempty" validate:"gte=0"`
	VolumePrice  float64 `json:"vol_price,omitempty" validate:"gte=0"`
}

// ListMachine creates or updates the asks for a machine.
func (c *Client) ListMachine(ctx context.Context, req ListMachineRequest) (Record, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	return c.mutate(ctx, http.MethodPut, "/machines/create_asks/", req, fmt.Sprintf("list machine %d", req.MachineID))
}

// UnlistMachine removes all asks for a machine.
func (c *Client) UnlistMachine(ctx context.Context, id int) (Record, error) {
	return c.mutate(ctx, http.MethodDelete, idPath("/machines/%d/asks/", id), nil, "unlist machine")
}

// DeleteMachine removes a machine from the account. Only possible when
// it has no active contracts.
func (c *Client) DeleteMachine(ctx context.Context, id int) (Record, error) {
	return c.mutate(ctx, http.MethodPost, idPath("/machines/%d/force_delete/", id), map[string]any{}, "delete machine")
}

// SetMinBid sets the minimum price accepted for interruptible rentals.
func (c *Client) SetMinBid(ctx context.Context, id int, price float64) (Record, error) {
	if price < 0 {
		return nil, &ValidationError{Field: "price", Message: "cannot be negative"}
	}
	body := map[string]any{"machine": id, "price": price}
	return c.mutate(ctx, http.MethodPut, idPath("/machines/%d/minbid/", id), body, "set min bid")
}

// DefjobRequest configures the default job that soaks up idle capacity.
type DefjobRequest struct {
	MachineID   int      `json:"machine" validate:"gt=0"`
	PriceGPU    float64  `json:"price_gpu" validate:"gte=0"`
	PriceInetUp float64  `json:"price_inetu" validate:"gte=0"`
	PriceInetDn float64  `json:"price_inetd" validate:"gte=0"`
	Image       string   `json:"image" validate:"required"`
	Args        []string `json:"args,omitempty"`
}

// SetDefjob installs a default job on a machine.
func (c *Client) SetDefjob(ctx context.Context, req DefjobRequest) (Record, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	return c.mutate(ctx, http.MethodPut, "/machines/create_bids/", req, "set defjob")
}

// RemoveDefjob removes the default job.
func (c *Client) RemoveDefjob(ctx context.Context, id int) (Record, error) {
	return c.mutate(ctx, http.MethodDelete, idPath("/machines/%d/defjob/", id), nil, "remove defjob")
}

// MaintenanceRequest schedules a maintenance window.
type MaintenanceRequest struct {
	MachineID int     `json:"-" validate:"gt=0"`
	StartDate int64   `json:"sdate" validate:"gt=0"`
	Duration  float64 `json:"duration" validate:"gt=0"`
	Category  string  `json:"maintenance_category" validate:"oneof=power internet disk gpu software other"`
}

// ScheduleMaint notifies renters of an upcoming maintenance window.
func (c *Client) ScheduleMaint(ctx context.Context, req MaintenanceRequest) (Record, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	body := map[string]any{
		"client_id":            "me",
		"sdate":                req.StartDate,
		"duration":             req.Duration,
		"maintenance_category": req.Category,
	}
	return c.mutate(ctx, http.MethodPut, idPath("/machines/%d/dnotify/", req.MachineID), body, "schedule maintenance")
}

// CancelMaint cancels scheduled maintenance for a machine.
func (c *Client) CancelMaint(ctx context.Context, id int) (Record, error) {
	body := map[string]any{"client_id": "me", "machine_id": id}
	return c.mutate(ctx, http.MethodPut, idPath("/machines/%d/cancel_maint/", id), body, "cancel maintenance")
}

// Maintenances lists scheduled windows for the given machines.
func (c *Client) Maintenances(ctx context.Context, ids []int) ([]Record, error) {
	q := url.Values{"owner": {"me"}}
	if len(ids) > 0 {
		encoded, err := json.Marshal(ids)
		if err != nil {
			return nil, err
		}
		q.Set("machine_ids", string(encoded))
	}
	return c.list(ctx, "/machines/maintenances", q, "maintenances")
}

// CleanupMachine removes expired storage contracts from a machine.
func (c *Client) CleanupMachine(ctx context.Context, id int) (Record, error) {
	return c.mutate(ctx, http.MethodPut, idPath("/machines/%d/cleanup/", id), map[string]any{}, "cleanup machine")
}

// DefragMachines repacks GPU assignments so larger offers become available.
func (c *Client) DefragMachines(ctx context.Context, ids []int) (Record, error) {
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "machine ids", Message: "at least one is required"}
	}
	return c.mutate(ctx, http.MethodPut, "/machines/defrag_offers/", map[string]any{"machine_ids": ids}, "defrag machines")
}

// Reports lists renter reports filed against a machine.
func (c *Client) Reports(ctx context.Context, id int) ([]Record, error) {
	return c.list(ctx, idPath("/machines/%d/reports/", id), nil, "reports")
}
