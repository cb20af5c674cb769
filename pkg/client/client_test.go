package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/Sternrassler/market-price-exporter/internal/testutil"
	"github.com/Sternrassler/market-price-exporter/pkg/market"
	"github.com/Sternrassler/market-price-exporter/pkg/pagination"
)

const testCampaign = "21621656"

func newTestClient(t *testing.T, mock *testutil.MockMarket) *Client {
	t.Helper()

	cfg := DefaultConfig(Credential{Token: "y0_test", UseAPIKey: true}, testCampaign)
	cfg.BaseURL = mock.URL()

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError error
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig(Credential{Token: "t", UseAPIKey: true}, "1"),
		},
		{
			name:   "empty base url falls back to default",
			config: Config{Credential: Credential{Token: "t"}},
		},
		{
			name:        "missing token",
			config:      DefaultConfig(Credential{UseAPIKey: true}, "1"),
			expectError: ErrMissingToken,
		},
		{
			name:     "relative base url",
			config:   Config{BaseURL: "api.partner.market.yandex.ru", Credential: Credential{Token: "t"}},
			errorMsg: `base url must be absolute (got "api.partner.market.yandex.ru")`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)

			switch {
			case tt.expectError != nil:
				if !errors.Is(err, tt.expectError) {
					t.Errorf("New() error = %v, want %v", err, tt.expectError)
				}
			case tt.errorMsg != "":
				if err == nil || err.Error() != tt.errorMsg {
					t.Errorf("New() error = %v, want %q", err, tt.errorMsg)
				}
			default:
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				if c == nil {
					t.Error("Client is nil")
				}
			}
		})
	}
}

func TestOfferPrices_FirstPageAndHeaders(t *testing.T) {
	mock := testutil.NewMockMarket(testCampaign)
	defer mock.Close()
	mock.SetOffers(market.Offer{OfferID: "a"}, market.Offer{OfferID: "b"}, market.Offer{OfferID: "c"})

	c := newTestClient(t, mock)
	resp, err := c.OfferPrices(context.Background(), pagination.PageToken{}, 2)
	if err != nil {
		t.Fatalf("OfferPrices() error = %v", err)
	}

	page := resp.Page()
	if len(page.Items) != 2 {
		t.Errorf("len(offers) = %d, want 2", len(page.Items))
	}
	if page.Next.String() != testutil.PageToken(2) {
		t.Errorf("next token = %q, want %q", page.Next.String(), testutil.PageToken(2))
	}

	req := mock.Requests()[0]
	if req.Method != http.MethodGet {
		t.Errorf("Method = %s, want GET", req.Method)
	}
	if req.Path != "/campaigns/"+testCampaign+"/offer-prices" {
		t.Errorf("Path = %s", req.Path)
	}
	if req.Query["limit"] != "2" {
		t.Errorf("limit = %q, want 2", req.Query["limit"])
	}
	if _, ok := req.Query["page_token"]; ok {
		t.Error("page_token must not be sent for the first page")
	}
	if got := req.Header.Get("Authorization"); got != "Api-Key y0_test" {
		t.Errorf("Authorization = %q", got)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestOfferPrices_DefaultLimit(t *testing.T) {
	mock := testutil.NewMockMarket(testCampaign)
	defer mock.Close()

	c := newTestClient(t, mock)
	if _, err := c.OfferPrices(context.Background(), pagination.PageToken{}, 0); err != nil {
		t.Fatalf("OfferPrices() error = %v", err)
	}
	if got := mock.Requests()[0].Query["limit"]; got != "1000" {
		t.Errorf("limit = %q, want 1000", got)
	}
}

func TestOfferPrices_TokenIsPercentEncodedAndForwarded(t *testing.T) {
	mock := testutil.NewMockMarket(testCampaign)
	defer mock.Close()

	token := "eyJvcCI6Ij4i+LCJ/rZXk=iOiIxMjMifQ=="
	mock.SetResponse(http.MethodGet, "/campaigns/"+testCampaign+"/offer-prices", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"status":"OK","result":{"offers":[],"paging":{}}}`,
	})

	c := newTestClient(t, mock)
	if _, err := c.OfferPrices(context.Background(), pagination.NewToken(token), 10); err != nil {
		t.Fatalf("OfferPrices() error = %v", err)
	}

	if got := mock.Requests()[0].Query["page_token"]; got != token {
		t.Errorf("page_token = %q, want %q", got, token)
	}
}

func TestOfferPricesByIDs_PostsBody(t *testing.T) {
	mock := testutil.NewMockMarket(testCampaign)
	defer mock.Close()
	mock.SetOffers(market.Offer{OfferID: "a"}, market.Offer{OfferID: "c"})

	c := newTestClient(t, mock)
	resp, err := c.OfferPricesByIDs(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("OfferPricesByIDs() error = %v", err)
	}
	if n := len(resp.Page().Items); n != 2 {
		t.Errorf("found = %d, want 2", n)
	}

	req := mock.Requests()[0]
	if req.Method != http.MethodPost {
		t.Errorf("Method = %s, want POST", req.Method)
	}
	var body map[string][]string
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if strings.Join(body["offerIds"], ",") != "a,b,c" {
		t.Errorf("offerIds = %v", body["offerIds"])
	}
}

func TestOfferPrices_MissingCampaign(t *testing.T) {
	c, err := New(Config{BaseURL: "http://localhost", Credential: Credential{Token: "t"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := c.OfferPrices(context.Background(), pagination.PageToken{}, 1); !errors.Is(err, ErrMissingCampaign) {
		t.Errorf("OfferPrices() error = %v, want ErrMissingCampaign", err)
	}
	if _, err := c.OfferPricesByIDs(context.Background(), []string{"a"}); !errors.Is(err, ErrMissingCampaign) {
		t.Errorf("OfferPricesByIDs() error = %v, want ErrMissingCampaign", err)
	}
}

func TestDo_APIErrors(t *testing.T) {
	path := "/campaigns/" + testCampaign + "/offer-prices"

	tests := []struct {
		name        string
		response    testutil.MockResponse
		wantStatus  int
		wantClass   ErrorClass
		wantMessage string
	}{
		{
			name:        "top-level message",
			response:    testutil.NewErrorResponse(http.StatusForbidden, "Token has no access to campaign"),
			wantStatus:  403,
			wantClass:   ErrorClassClient,
			wantMessage: "Token has no access to campaign",
		},
		{
			name:        "first entry of errors list",
			response:    testutil.NewUnauthorizedResponse(),
			wantStatus:  401,
			wantClass:   ErrorClassClient,
			wantMessage: "Access denied",
		},
		{
			name:        "no message at all",
			response:    testutil.MockResponse{StatusCode: http.StatusInternalServerError, Body: `{"status":"ERROR"}`},
			wantStatus:  500,
			wantClass:   ErrorClassServer,
			wantMessage: "Unknown error",
		},
		{
			name:        "non-JSON body",
			response:    testutil.MockResponse{StatusCode: http.StatusBadGateway, Body: `<html>bad gateway</html>`},
			wantStatus:  502,
			wantClass:   ErrorClassServer,
			wantMessage: "Unknown error",
		},
		{
			name:        "no content status",
			response:    testutil.MockResponse{StatusCode: http.StatusNoContent},
			wantStatus:  204,
			wantClass:   ErrorClassUnexpected,
			wantMessage: "Unknown error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockMarket(testCampaign)
			defer mock.Close()
			mock.SetResponse(http.MethodGet, path, tt.response)

			c := newTestClient(t, mock)
			_, err := c.OfferPrices(context.Background(), pagination.PageToken{}, 10)

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.wantStatus)
			}
			if apiErr.ErrorClass != tt.wantClass {
				t.Errorf("ErrorClass = %q, want %q", apiErr.ErrorClass, tt.wantClass)
			}
			if apiErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMessage)
			}
			if !strings.Contains(err.Error(), strconv.Itoa(tt.wantStatus)) {
				t.Errorf("error text %q does not contain status %d", err.Error(), tt.wantStatus)
			}
		})
	}
}

func TestDo_InvalidSuccessBody(t *testing.T) {
	mock := testutil.NewMockMarket(testCampaign)
	defer mock.Close()
	mock.SetResponse(http.MethodGet, "/campaigns", testutil.MockResponse{StatusCode: http.StatusOK, Body: `not json`})

	c := newTestClient(t, mock)
	_, err := c.Campaigns(context.Background())
	if err == nil || !strings.Contains(err.Error(), "decode /campaigns response") {
		t.Errorf("Campaigns() error = %v, want decode error", err)
	}
}

func TestDo_TransportError(t *testing.T) {
	mock := testutil.NewMockMarket(testCampaign)
	c := newTestClient(t, mock)
	mock.Close()

	_, err := c.Campaigns(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("transport failure must not be an APIError: %v", err)
	}
}

func TestCampaigns(t *testing.T) {
	mock := testutil.NewMockMarket(testCampaign)
	defer mock.Close()
	mock.SetCampaigns(
		market.Campaign{ID: market.Int(1), Domain: "one.example", Business: &market.Business{ID: market.Int(10), Name: "One"}, PlacementType: "FBY"},
		market.Campaign{ID: market.Text("2"), Domain: "two.example"},
	)

	c := newTestClient(t, mock)
	resp, err := c.Campaigns(context.Background())
	if err != nil {
		t.Fatalf("Campaigns() error = %v", err)
	}
	if len(resp.Campaigns) != 2 {
		t.Fatalf("len(campaigns) = %d, want 2", len(resp.Campaigns))
	}
	if resp.Campaigns[0].Business == nil || resp.Campaigns[0].Business.Name != "One" {
		t.Errorf("business = %+v", resp.Campaigns[0].Business)
	}
}

func TestPing(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		mock := testutil.NewMockMarket(testCampaign)
		defer mock.Close()

		status, err := newTestClient(t, mock).Ping(context.Background())
		if err != nil {
			t.Fatalf("Ping() error = %v", err)
		}
		if !status.OK || status.StatusCode != http.StatusOK {
			t.Errorf("status = %+v, want OK", status)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		mock := testutil.NewMockMarket(testCampaign)
		defer mock.Close()
		mock.SetResponse(http.MethodGet, "/campaigns", testutil.NewErrorResponse(http.StatusUnauthorized, "Invalid token"))

		status, err := newTestClient(t, mock).Ping(context.Background())
		if err != nil {
			t.Fatalf("Ping() error = %v, want status only", err)
		}
		if status.OK {
			t.Error("status.OK = true, want false")
		}
		if status.StatusCode != http.StatusUnauthorized || status.Message != "Invalid token" {
			t.Errorf("status = %+v", status)
		}
	})
}
