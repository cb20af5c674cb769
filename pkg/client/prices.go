package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Sternrassler/market-price-exporter/pkg/market"
	"github.com/Sternrassler/market-price-exporter/pkg/pagination"
)

// DefaultPageLimit is the page size requested from the listing endpoint.
const DefaultPageLimit = 1000

const offerPricesRoute = "/campaigns/{campaignId}/offer-prices"

func (c *Client) offerPricesPath() (string, error) {
	if c.config.CampaignID == "" {
		return "", ErrMissingCampaign
	}
	return "/campaigns/" + c.config.CampaignID + "/offer-prices", nil
}

// OfferPrices fetches one page of the campaign's price listing. An absent
// token requests the first page; a present one is sent as page_token as is.
func (c *Client) OfferPrices(ctx context.Context, token pagination.PageToken, limit int) (*market.OfferPricesResponse, error) {
	path, err := c.offerPricesPath()
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultPageLimit
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if token.Present() {
		query.Set("page_token", token.String())
	}

	var resp market.OfferPricesResponse
	if err := c.do(ctx, http.MethodGet, offerPricesRoute, path, query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OfferPricesByIDs looks up prices for explicit offer identifiers. The API
// accepts at most 500 identifiers per call; callers are expected to batch.
func (c *Client) OfferPricesByIDs(ctx context.Context, offerIDs []string) (*market.OfferPricesResponse, error) {
	path, err := c.offerPricesPath()
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Int("offers", len(offerIDs)).Msg("Requesting prices for offer batch")

	var resp market.OfferPricesResponse
	payload := market.OfferPricesRequest{OfferIDs: offerIDs}
	if err := c.do(ctx, http.MethodPost, offerPricesRoute, path, nil, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
