package client

import (
	"context"
	"net/http"

	"github.com/Sternrassler/market-price-exporter/pkg/market"
)

const campaignsRoute = "/campaigns"

// Campaigns lists the campaigns visible to the credential.
func (c *Client) Campaigns(ctx context.Context) (*market.CampaignsResponse, error) {
	var resp market.CampaignsResponse
	if err := c.do(ctx, http.MethodGet, campaignsRoute, campaignsRoute, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConnectionStatus is the outcome of a connectivity check.
type ConnectionStatus struct {
	OK         bool   `json:"ok"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message,omitempty"`
}

// Ping calls the campaigns endpoint and reports whether the credential is
// accepted. API error statuses are part of the status, not an error; only a
// transport failure returns err.
func (c *Client) Ping(ctx context.Context) (*ConnectionStatus, error) {
	resp, err := c.send(ctx, http.MethodGet, campaignsRoute, campaignsRoute, nil, nil)
	if err != nil {
		return nil, err
	}

	status := &ConnectionStatus{
		OK:         resp.StatusCode == http.StatusOK,
		StatusCode: resp.StatusCode,
	}
	if !status.OK {
		status.Message = errorMessage(resp.Body)
		marketErrorsTotal.WithLabelValues(string(classifyStatus(resp.StatusCode))).Inc()
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("message", status.Message).
			Msg("Connectivity check failed")
	}
	return status, nil
}
