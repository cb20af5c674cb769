// Package testutil provides testing utilities for the price exporter.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/Sternrassler/market-price-exporter/pkg/market"
)

// MockResponse defines a canned response for one method and path.
type MockResponse struct {
	StatusCode int
	Body       string
}

// RecordedRequest is a request seen by the mock server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Header http.Header
	Body   []byte
}

// MockMarket is a configurable in-process partner API.
//
// It serves the offer-price listing with opaque continuation tokens, the
// offer-price lookup by identifiers and the campaigns endpoint. Canned
// responses set with SetResponse take precedence over the simulation.
type MockMarket struct {
	server *httptest.Server
	mu     sync.RWMutex

	campaignID string
	offers     []market.Offer
	campaigns  []market.Campaign
	overrides  map[string]MockResponse
	requests   []RecordedRequest
}

// NewMockMarket starts a mock partner API for campaignID.
func NewMockMarket(campaignID string) *MockMarket {
	m := &MockMarket{
		campaignID: campaignID,
		overrides:  make(map[string]MockResponse),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the mock server URL.
func (m *MockMarket) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockMarket) Close() {
	m.server.Close()
}

// SetOffers replaces the campaign's price listing.
func (m *MockMarket) SetOffers(offers ...market.Offer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers = offers
}

// SetCampaigns replaces the campaign list.
func (m *MockMarket) SetCampaigns(campaigns ...market.Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns = campaigns
}

// SetResponse forces a canned response for method and path.
func (m *MockMarket) SetResponse(method, path string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[method+" "+path] = resp
}

// Requests returns a copy of all recorded requests.
func (m *MockMarket) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns the number of requests served.
func (m *MockMarket) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// PageToken returns the token the mock issues for the page starting at offset.
func PageToken(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte("offset:" + strconv.Itoa(offset)))
}

func parsePageToken(token string) (int, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(string(raw), "offset:"))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (m *MockMarket) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	query := make(map[string]string)
	for key := range r.URL.Query() {
		query[key] = r.URL.Query().Get(key)
	}

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  query,
		Header: r.Header.Clone(),
		Body:   body,
	})
	override, hasOverride := m.overrides[r.Method+" "+r.URL.Path]
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if hasOverride {
		w.WriteHeader(override.StatusCode)
		w.Write([]byte(override.Body))
		return
	}

	pricesPath := "/campaigns/" + m.campaignID + "/offer-prices"
	switch {
	case r.URL.Path == "/campaigns" && r.Method == http.MethodGet:
		m.serveCampaigns(w)
	case r.URL.Path == pricesPath && r.Method == http.MethodGet:
		m.serveListing(w, r)
	case r.URL.Path == pricesPath && r.Method == http.MethodPost:
		m.serveLookup(w, body)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	}
}

func (m *MockMarket) serveCampaigns(w http.ResponseWriter) {
	m.mu.RLock()
	campaigns := m.campaigns
	m.mu.RUnlock()

	if campaigns == nil {
		campaigns = []market.Campaign{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns})
}

func (m *MockMarket) serveListing(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	offers := m.offers
	m.mu.RUnlock()

	limit := 1000
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid limit")
			return
		}
		limit = n
	}

	offset := 0
	if token := r.URL.Query().Get("page_token"); token != "" {
		n, ok := parsePageToken(token)
		if !ok || n > len(offers) {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid page_token")
			return
		}
		offset = n
	}

	end := offset + limit
	if end > len(offers) {
		end = len(offers)
	}
	page := append([]market.Offer{}, offers[offset:end]...)

	paging := map[string]any{}
	if end < len(offers) {
		paging["nextPageToken"] = PageToken(end)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "OK",
		"result": map[string]any{"offers": page, "paging": paging},
	})
}

func (m *MockMarket) serveLookup(w http.ResponseWriter, body []byte) {
	var req market.OfferPricesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body")
		return
	}
	if len(req.OfferIDs) > 500 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "too many offerIds")
		return
	}

	m.mu.RLock()
	byID := make(map[string]market.Offer, len(m.offers))
	for _, o := range m.offers {
		byID[o.Key(market.PreferOfferID)] = o
	}
	m.mu.RUnlock()

	found := []market.Offer{}
	for _, id := range req.OfferIDs {
		if o, ok := byID[id]; ok {
			found = append(found, o)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "OK",
		"result": map[string]any{"offers": found},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"status": "ERROR",
		"errors": []map[string]string{{"code": code, "message": message}},
	})
}

// NewErrorResponse creates an API error response with a top-level message.
func NewErrorResponse(status int, message string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `{"status":"ERROR","message":` + strconv.Quote(message) + `}`,
	}
}

// NewErrorsListResponse creates an API error response carrying only an errors list.
func NewErrorsListResponse(status int, code, message string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `{"status":"ERROR","errors":[{"code":` + strconv.Quote(code) + `,"message":` + strconv.Quote(message) + `}]}`,
	}
}

// NewUnauthorizedResponse creates the 401 returned for a rejected token.
func NewUnauthorizedResponse() MockResponse {
	return NewErrorsListResponse(http.StatusUnauthorized, "UNAUTHORIZED", "Access denied")
}

// Float returns a pointer to v, for building prices in tests.
func Float(v float64) *float64 {
	return &v
}
