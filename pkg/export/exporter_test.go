package export

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/market-price-exporter/internal/testutil"
	"github.com/Sternrassler/market-price-exporter/pkg/client"
	"github.com/Sternrassler/market-price-exporter/pkg/market"
	"github.com/Sternrassler/market-price-exporter/pkg/pagination"
	"github.com/Sternrassler/market-price-exporter/pkg/sink"
)

var fixedNow = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

// fakeAPI serves scripted responses and records the calls made.
type fakeAPI struct {
	mu sync.Mutex

	pages    map[string]*market.OfferPricesResponse
	pageErrs map[string]error
	lookup   func(ids []string) (*market.OfferPricesResponse, error)

	campaigns    *market.CampaignsResponse
	campaignsErr error
	ping         *client.ConnectionStatus
	pingErr      error

	tokens  []string
	limits  []int
	batches [][]string
}

func (f *fakeAPI) OfferPrices(_ context.Context, token pagination.PageToken, limit int) (*market.OfferPricesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token.String())
	f.limits = append(f.limits, limit)
	if err := f.pageErrs[token.String()]; err != nil {
		return nil, err
	}
	resp, ok := f.pages[token.String()]
	if !ok {
		return nil, fmt.Errorf("unexpected token %q", token.String())
	}
	return resp, nil
}

func (f *fakeAPI) OfferPricesByIDs(_ context.Context, ids []string) (*market.OfferPricesResponse, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), ids...))
	f.mu.Unlock()
	return f.lookup(ids)
}

func (f *fakeAPI) Campaigns(context.Context) (*market.CampaignsResponse, error) {
	return f.campaigns, f.campaignsErr
}

func (f *fakeAPI) Ping(context.Context) (*client.ConnectionStatus, error) {
	return f.ping, f.pingErr
}

// recordingPauser records pauses without sleeping.
type recordingPauser struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses = append(p.pauses, d)
	return nil
}

func offer(id string, price float64) market.Offer {
	return market.Offer{
		OfferID:   market.ID(id),
		MarketSKU: market.Text("100" + id),
		Price:     &market.Price{Value: &price, CurrencyID: "RUR"},
	}
}

func page(next string, offers ...market.Offer) *market.OfferPricesResponse {
	if offers == nil {
		offers = []market.Offer{}
	}
	resp := &market.OfferPricesResponse{Status: "OK", Result: &market.OfferPricesResult{Offers: offers}}
	if next != "" {
		resp.Result.Paging = &market.Paging{NextPageToken: &next}
	}
	return resp
}

func newTestExporter(api API, s sink.Sink, opts Options, options ...Option) (*Exporter, *recordingPauser) {
	p := &recordingPauser{}
	opts.Location = time.UTC
	options = append([]Option{WithPauser(p), WithClock(func() time.Time { return fixedNow })}, options...)
	return New(api, s, opts, options...), p
}

func dataRows(rows [][]any) [][]any {
	if len(rows) <= 1 {
		return nil
	}
	out := make([][]any, 0, len(rows)-1)
	for _, r := range rows[1:] {
		if len(r) > 7 {
			r = r[:7]
		}
		out = append(out, r)
	}
	return out
}

func TestExportAll_TwoPages(t *testing.T) {
	api := &fakeAPI{pages: map[string]*market.OfferPricesResponse{
		"":   page("t1", offer("A", 10), offer("B", 20)),
		"t1": page("", offer("C", 30)),
	}}
	mem := sink.NewMemory()
	e, pauser := newTestExporter(api, mem, Options{})

	report, err := e.ExportAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"", "t1"}, api.tokens, "second request must forward the token verbatim")
	assert.Equal(t, []int{1000, 1000}, api.limits)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, pauser.pauses, "one pause between two pages")

	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, "Offer Prices", report.Sheet)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, fixedNow, report.UpdatedAt)

	rows := mem.Rows("Offer Prices")
	require.Len(t, rows, 4)
	assert.Equal(t, []any{"SKU", "Market SKU", "Price", "Currency", "Pre-discount Price", "VAT", "Updated-at"}, rows[0][:7])
	assert.Equal(t, [][]any{
		{"A", "100A", 10.0, "RUR", "", "", ""},
		{"B", "100B", 20.0, "RUR", "", "", ""},
		{"C", "100C", 30.0, "RUR", "", "", ""},
	}, dataRows(rows))

	assert.Equal(t, "Updated:", mem.Cell("Offer Prices", "I1"))
	assert.Equal(t, "05.03.2024, 14:07:09", mem.Cell("Offer Prices", "J1"))
	assert.Equal(t, "Total offers:", mem.Cell("Offer Prices", "I2"))
	assert.Equal(t, 3, mem.Cell("Offer Prices", "J2"))
	assert.Equal(t, 1, mem.Flushes())

	layout, ok := mem.Layout("Offer Prices")
	require.True(t, ok)
	assert.Equal(t, PriceHeaderColor, layout.HeaderColor)
}

func TestExportAll_SoftStopKeepsRows(t *testing.T) {
	api := &fakeAPI{pages: map[string]*market.OfferPricesResponse{
		"":   page("t1", offer("A", 1), offer("B", 2)),
		"t1": {Status: "OK", Result: &market.OfferPricesResult{}},
	}}
	mem := sink.NewMemory()
	e, _ := newTestExporter(api, mem, Options{})

	report, err := e.ExportAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.SoftStops)
	assert.Len(t, mem.Rows("Offer Prices"), 3)
	assert.Equal(t, 2, mem.Cell("Offer Prices", "J2"))
	assert.Contains(t, report.Message(), "may be incomplete")
}

func TestExportAll_APIErrorAbortsWithoutRollback(t *testing.T) {
	api := &fakeAPI{
		pages: map[string]*market.OfferPricesResponse{"": page("t1", offer("A", 1))},
		pageErrs: map[string]error{
			"t1": &client.APIError{StatusCode: 500, ErrorClass: client.ErrorClassServer, Message: "Unknown error"},
		},
	}
	mem := sink.NewMemory()
	e, _ := newTestExporter(api, mem, Options{})

	report, err := e.ExportAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 500, apiErr.StatusCode)

	require.NotNil(t, report)
	assert.Equal(t, 1, report.Processed)
	assert.Len(t, mem.Rows("Offer Prices"), 2, "rows of the first page stay")
	assert.Nil(t, mem.Cell("Offer Prices", "J2"), "no summary after failure")
	assert.Equal(t, 1, mem.Flushes(), "partial rows are still flushed")
}

func TestExportAll_Idempotent(t *testing.T) {
	api := &fakeAPI{pages: map[string]*market.OfferPricesResponse{
		"":   page("t1", offer("A", 1), offer("B", 2)),
		"t1": page("", offer("C", 3)),
	}}
	mem := sink.NewMemory()
	e, _ := newTestExporter(api, mem, Options{})

	_, err := e.ExportAll(context.Background())
	require.NoError(t, err)
	first := mem.Rows("Offer Prices")

	_, err = e.ExportAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, mem.Rows("Offer Prices"))
}

func TestExportAll_PrefersIDOverOfferID(t *testing.T) {
	both := market.Offer{ID: "id-1", OfferID: "offer-1"}
	api := &fakeAPI{pages: map[string]*market.OfferPricesResponse{"": page("", both)}}
	mem := sink.NewMemory()
	e, _ := newTestExporter(api, mem, Options{PageLimit: 50})

	_, err := e.ExportAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{50}, api.limits)
	assert.Equal(t, []any{"id-1", "", "", "RUR", "", "", ""}, mem.Rows("Offer Prices")[1][:7])
}

func TestNew_Defaults(t *testing.T) {
	e := New(&fakeAPI{}, sink.NewMemory(), Options{})
	opts := e.Options()

	assert.Equal(t, 100*time.Millisecond, opts.PagePause)
	assert.Equal(t, 200*time.Millisecond, opts.BatchPause)
	assert.Equal(t, DefaultTimezone, opts.Location.String())
	assert.Equal(t, 1000, opts.PageLimit)
	assert.Equal(t, 500, opts.BatchSize)

	e = New(&fakeAPI{}, sink.NewMemory(), Options{PagePause: NoPause, BatchPause: time.Second})
	assert.Equal(t, NoPause, e.Options().PagePause)
	assert.Equal(t, time.Second, e.Options().BatchPause)
}

func TestExportAll_NoPause(t *testing.T) {
	api := &fakeAPI{pages: map[string]*market.OfferPricesResponse{
		"":   page("t1", offer("A", 10)),
		"t1": page("", offer("B", 20)),
	}}
	e, pauser := newTestExporter(api, sink.NewMemory(), Options{PagePause: NoPause})

	_, err := e.ExportAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{NoPause}, pauser.pauses)
}

func TestExportSpecific_PartialMatch(t *testing.T) {
	api := &fakeAPI{lookup: func(ids []string) (*market.OfferPricesResponse, error) {
		return page("", offer("a", 1), offer("c", 3)), nil
	}}
	mem := sink.NewMemory()
	e, pauser := newTestExporter(api, mem, Options{})

	report, err := e.ExportSpecific(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b", "c"}}, api.batches)
	assert.Empty(t, pauser.pauses, "no pause after the last batch")
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 3, report.Requested)
	assert.Equal(t, "Specific Prices", report.Sheet)
	assert.Contains(t, report.Message(), "Found offers: 2 of 3 requested")

	assert.Len(t, mem.Rows("Specific Prices"), 3)
	assert.Equal(t, "Found offers:", mem.Cell("Specific Prices", "I2"))
	assert.Equal(t, 2, mem.Cell("Specific Prices", "J2"))
}

func TestExportSpecific_Batches(t *testing.T) {
	ids := make([]string, 1200)
	for i := range ids {
		ids[i] = "sku-" + strconv.Itoa(i)
	}

	api := &fakeAPI{lookup: func(batch []string) (*market.OfferPricesResponse, error) {
		offers := make([]market.Offer, len(batch))
		for i, id := range batch {
			offers[i] = market.Offer{OfferID: market.ID(id)}
		}
		return page("", offers...), nil
	}}
	mem := sink.NewMemory()
	e, pauser := newTestExporter(api, mem, Options{})

	report, err := e.ExportSpecific(context.Background(), ids)
	require.NoError(t, err)

	require.Len(t, api.batches, 3)
	assert.Len(t, api.batches[0], 500)
	assert.Len(t, api.batches[1], 500)
	assert.Len(t, api.batches[2], 200)
	assert.Equal(t, "sku-0", api.batches[0][0])
	assert.Equal(t, "sku-1199", api.batches[2][199])
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 200 * time.Millisecond}, pauser.pauses)

	assert.Equal(t, 1200, report.Processed)
	rows := mem.Rows("Specific Prices")
	require.Len(t, rows, 1201)
	assert.Equal(t, "sku-500", rows[501][0], "order is preserved across batches")
}

func TestExportSpecific_SkipsMalformedBatch(t *testing.T) {
	calls := 0
	api := &fakeAPI{lookup: func(batch []string) (*market.OfferPricesResponse, error) {
		calls++
		if calls == 1 {
			return &market.OfferPricesResponse{Status: "OK"}, nil
		}
		return page("", market.Offer{OfferID: market.ID(batch[0])}), nil
	}}
	mem := sink.NewMemory()
	e, _ := newTestExporter(api, mem, Options{BatchSize: 2})

	report, err := e.ExportSpecific(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.SoftStops)
	assert.Equal(t, "c", mem.Rows("Specific Prices")[1][0])
}

func TestExportSpecific_PrefersOfferID(t *testing.T) {
	api := &fakeAPI{lookup: func([]string) (*market.OfferPricesResponse, error) {
		return page("", market.Offer{ID: "id-1", OfferID: "offer-1"}), nil
	}}
	mem := sink.NewMemory()
	e, _ := newTestExporter(api, mem, Options{})

	_, err := e.ExportSpecific(context.Background(), []string{"offer-1"})
	require.NoError(t, err)
	assert.Equal(t, "offer-1", mem.Rows("Specific Prices")[1][0])
}

func TestExportSpecific_NoIDs(t *testing.T) {
	api := &fakeAPI{lookup: func([]string) (*market.OfferPricesResponse, error) {
		t.Fatal("lookup must not be called")
		return nil, nil
	}}
	mem := sink.NewMemory()
	e, _ := newTestExporter(api, mem, Options{})

	report, err := e.ExportSpecific(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, NoticeNoOfferIDs, report.Notice)
	assert.Equal(t, NoticeNoOfferIDs, report.Message())
	assert.Nil(t, mem.Rows("Specific Prices"), "nothing is written")
	assert.Zero(t, mem.Flushes())
}

func TestExportSpecific_FromSourceSheet(t *testing.T) {
	api := &fakeAPI{lookup: func(ids []string) (*market.OfferPricesResponse, error) {
		return page("", market.Offer{OfferID: market.ID(ids[0])}), nil
	}}
	mem := sink.NewMemory()
	mem.Seed("SKU List", [][]any{{"SKU"}, {"x-1"}, {""}, {"x-2"}})
	e, _ := newTestExporter(api, mem, Options{SourceSheet: "SKU List"})

	report, err := e.ExportSpecific(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"x-1", "x-2"}}, api.batches)
	assert.Equal(t, 2, report.Requested)

	// An empty source sheet yields the notice.
	mem.Seed("Empty", [][]any{{"SKU"}})
	report, err = e.ExportSpecificFromSheet(context.Background(), "Empty")
	require.NoError(t, err)
	assert.Equal(t, NoticeNoOfferIDs, report.Notice)

	_, err = e.ExportSpecificFromSheet(context.Background(), "Missing")
	assert.Error(t, err)
}

func TestListCampaigns(t *testing.T) {
	api := &fakeAPI{campaigns: &market.CampaignsResponse{Campaigns: []market.Campaign{
		{ID: market.Int(21000001), Domain: "shop.example", Business: &market.Business{ID: market.Int(7), Name: "Acme"}, PlacementType: "FBS"},
		{ID: market.Int(21000002), Domain: "other.example"},
	}}}
	mem := sink.NewMemory()
	e, _ := newTestExporter(api, mem, Options{})

	report, err := e.ListCampaigns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Contains(t, report.Message(), "Found 2 campaigns")

	rows := mem.Rows("Campaigns")
	require.Len(t, rows, 3)
	assert.Equal(t, []any{"Campaign ID", "Name", "Business ID", "Business Name", "Placement Model"}, rows[0])
	assert.Equal(t, []any{int64(21000001), "shop.example", int64(7), "Acme", "FBS"}, rows[1])
	assert.Equal(t, []any{int64(21000002), "other.example", "", "", ""}, rows[2])

	layout, ok := mem.Layout("Campaigns")
	require.True(t, ok)
	assert.Equal(t, CampaignHeaderColor, layout.HeaderColor)
}

func TestListCampaigns_Empty(t *testing.T) {
	api := &fakeAPI{campaigns: &market.CampaignsResponse{}}
	mem := sink.NewMemory()
	e, _ := newTestExporter(api, mem, Options{})

	report, err := e.ListCampaigns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NoticeNoCampaigns, report.Notice)
	assert.Len(t, mem.Rows("Campaigns"), 1, "header only")
}

func TestListCampaigns_ErrorLeavesSheet(t *testing.T) {
	api := &fakeAPI{campaignsErr: &client.APIError{StatusCode: 401, Message: "Access denied"}}
	mem := sink.NewMemory()
	mem.Seed("Campaigns", [][]any{{"Campaign ID"}, {"old"}})
	e, _ := newTestExporter(api, mem, Options{})

	_, err := e.ListCampaigns(context.Background())
	require.Error(t, err)
	assert.Equal(t, "API returned status 401: Access denied", err.Error())
	assert.Len(t, mem.Rows("Campaigns"), 2)
}

func TestCheckConnection(t *testing.T) {
	tests := []struct {
		name        string
		status      *client.ConnectionStatus
		pingErr     error
		wantErr     bool
		wantMessage string
	}{
		{
			name:        "accepted",
			status:      &client.ConnectionStatus{OK: true, StatusCode: 200},
			wantMessage: "Connection to the partner API succeeded",
		},
		{
			name:        "rejected",
			status:      &client.ConnectionStatus{StatusCode: 401, Message: "Access denied"},
			wantMessage: "Status: 401\nMessage: Access denied",
		},
		{
			name:    "transport failure",
			pingErr: errors.New("dial tcp: connection refused"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := sink.NewMemory()
			e, _ := newTestExporter(&fakeAPI{ping: tt.status, pingErr: tt.pingErr}, mem, Options{})

			report, err := e.CheckConnection(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, OpCheck, report.Operation)
			assert.Contains(t, report.Message(), tt.wantMessage)
			assert.Zero(t, mem.Flushes(), "check never touches the sink")
		})
	}
}

// fakeLocker grants or refuses every lock.
type fakeLocker struct {
	refuse   error
	acquired []string
	released []string
}

func (l *fakeLocker) Acquire(_ context.Context, name string) (func(context.Context) error, error) {
	if l.refuse != nil {
		return nil, l.refuse
	}
	l.acquired = append(l.acquired, name)
	return func(context.Context) error {
		l.released = append(l.released, name)
		return nil
	}, nil
}

func TestExporter_Locker(t *testing.T) {
	api := &fakeAPI{pages: map[string]*market.OfferPricesResponse{"": page("", offer("A", 1))}}
	mem := sink.NewMemory()

	locker := &fakeLocker{}
	e, _ := newTestExporter(api, mem, Options{}, WithLocker(locker))
	_, err := e.ExportAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Offer Prices"}, locker.acquired)
	assert.Equal(t, []string{"Offer Prices"}, locker.released)

	busy := errors.New("sheet is locked")
	e, _ = newTestExporter(api, sink.NewMemory(), Options{}, WithLocker(&fakeLocker{refuse: busy}))
	_, err = e.ExportAll(context.Background())
	assert.ErrorIs(t, err, busy)
	assert.Len(t, api.tokens, 1, "no API call while locked")
}

func TestExportAll_WithClient(t *testing.T) {
	mock := testutil.NewMockMarket("21000001")
	defer mock.Close()

	offers := make([]market.Offer, 5)
	for i := range offers {
		offers[i] = market.Offer{
			OfferID:   market.ID("SKU-" + strconv.Itoa(i)),
			MarketSKU: market.Int(int64(1000 + i)),
			Price:     &market.Price{Value: testutil.Float(float64(100 * (i + 1))), CurrencyID: "RUR"},
			UpdatedAt: "2024-03-05T11:07:09Z",
		}
	}
	mock.SetOffers(offers...)

	cfg := client.DefaultConfig(client.Credential{Token: "test-token", UseAPIKey: true}, "21000001")
	cfg.BaseURL = mock.URL()
	c, err := client.New(cfg)
	require.NoError(t, err)

	mem := sink.NewMemory()
	e, pauser := newTestExporter(c, mem, Options{PageLimit: 2})

	report, err := e.ExportAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Processed)
	assert.Equal(t, 3, report.Pages)
	assert.Len(t, pauser.pauses, 2)
	assert.Equal(t, 3, mock.RequestCount())

	rows := mem.Rows("Offer Prices")
	require.Len(t, rows, 6)
	assert.Equal(t, []any{"SKU-4", int64(1004), 500.0, "RUR", "", "", "05.03.2024, 11:07:09"}, rows[5][:7])
}
