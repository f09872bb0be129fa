package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/nats-io/nats.go"

	"github.com/bidautoweb/post-generator-service/internal/config"
	"github.com/bidautoweb/post-generator-service/internal/constants"
	"github.com/bidautoweb/post-generator-service/internal/logger"
)

// RemoteError is an explicit error response from the catalog service.
type RemoteError struct {
	Subject string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("catalog %s: %s", e.Subject, e.Message)
}

// Client is a thin typed wrapper over NATS request/reply to the auction
// catalog service.
type Client struct {
	nc     *nats.Conn
	cfg    config.CatalogConfig
	logger logger.Logger
}

func Connect(cfg config.CatalogConfig, log logger.Logger) (*Client, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Client{nc: nc, cfg: cfg, logger: log}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}

func (c *Client) Connected() bool {
	return c.nc != nil && c.nc.Status() == nats.CONNECTED
}

type searchRequest struct {
	Filters
	VehicleType string `json:"vehicle_type"`
	Size        int    `json:"size"`
	Page        int    `json:"page"`
}

// SearchLots fetches one page of current lots matching the filters.
func (c *Client) SearchLots(ctx context.Context, filters Filters, page int) (*SearchPage, error) {
	req := searchRequest{
		Filters:     filters,
		VehicleType: "Automobile",
		Size:        constants.CatalogPageSize,
		Page:        page,
	}

	var resp struct {
		SearchPage
		Error string `json:"error"`
	}
	if err := c.request(ctx, c.cfg.SearchSubject, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &RemoteError{Subject: c.cfg.SearchSubject, Message: resp.Error}
	}

	return &resp.SearchPage, nil
}

type averagePriceRequest struct {
	Make        string `json:"make"`
	Model       string `json:"model"`
	YearFrom    int    `json:"year_from,omitempty"`
	YearTo      int    `json:"year_to,omitempty"`
	PeriodMonth int    `json:"period"`
}

// AveragePrice returns the mean of recent sale totals for make/model in the
// given year window, or nil when the market has no stats.
func (c *Client) AveragePrice(ctx context.Context, make, model string, yearFrom, yearTo int) (*int64, error) {
	req := averagePriceRequest{
		Make:        make,
		Model:       model,
		YearFrom:    yearFrom,
		YearTo:      yearTo,
		PeriodMonth: 6,
	}

	var resp struct {
		Stats []struct {
			Total int64 `json:"total"`
		} `json:"stats"`
		Error string `json:"error"`
	}
	if err := c.request(ctx, c.cfg.AvgSubject, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &RemoteError{Subject: c.cfg.AvgSubject, Message: resp.Error}
	}
	if len(resp.Stats) == 0 {
		return nil, nil
	}

	var sum int64
	for _, s := range resp.Stats {
		sum += s.Total
	}
	avg := int64(math.Round(float64(sum) / float64(len(resp.Stats))))
	return &avg, nil
}

func (c *Client) request(ctx context.Context, subject string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", subject, err)
	}

	reqCtx := ctx
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	msg, err := c.nc.RequestWithContext(reqCtx, subject, body)
	if err != nil {
		return fmt.Errorf("catalog request %s failed: %w", subject, err)
	}

	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", subject, err)
	}
	return nil
}
