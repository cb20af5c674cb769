// Package market holds the partner API payload types and the flattening of
// those payloads into fixed-order spreadsheet rows.
package market

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Sternrassler/market-price-exporter/pkg/pagination"
)

// DefaultCurrency is substituted when an offer carries no currency code.
const DefaultCurrency = "RUR"

// Scalar is a JSON string or number kept in its textual form, remembering
// whether it arrived as a bare number. Only numbers become numeric cells;
// quoted values such as "000123" stay text.
type Scalar struct {
	text   string
	number bool
}

// Text returns a Scalar that is written as text.
func Text(s string) Scalar {
	return Scalar{text: s}
}

// Int returns a numeric Scalar.
func Int(n int64) Scalar {
	return Scalar{text: strconv.FormatInt(n, 10), number: true}
}

// String returns the textual form.
func (s Scalar) String() string {
	return s.text
}

// IsNumber reports whether the value arrived as a bare JSON number.
func (s Scalar) IsNumber() bool {
	return s.number
}

// UnmarshalJSON accepts strings, numbers and null. Any other JSON value is
// kept as its raw text.
func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = Scalar{}
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = Text(v)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			*s = Text(string(b))
			return nil
		}
		*s = Scalar{text: n.String(), number: true}
	}
	return nil
}

// MarshalJSON writes numbers bare, text quoted and the zero value as null.
func (s Scalar) MarshalJSON() ([]byte, error) {
	switch {
	case s.number:
		return []byte(s.text), nil
	case s.text == "":
		return []byte("null"), nil
	default:
		return json.Marshal(s.text)
	}
}

// Cell returns the value as a spreadsheet cell. Numbers become int64 or
// float64, everything else is written as text.
func (s Scalar) Cell() any {
	if !s.number {
		return s.text
	}
	if n, err := strconv.ParseInt(s.text, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s.text, 64); err == nil {
		return f
	}
	return s.text
}

// ID is an offer identifier. It is always text; numeric identifiers are
// kept in their decimal form.
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	var s Scalar
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	*id = ID(s.text)
	return nil
}

// amount is a price figure that may arrive as a number or a numeric string.
// Anything else decodes as absent.
type amount struct {
	value float64
	ok    bool
}

func (a *amount) UnmarshalJSON(b []byte) error {
	var s Scalar
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s.text), 64)
	*a = amount{value: f, ok: err == nil}
	return nil
}

func (a amount) ptr() *float64 {
	if !a.ok {
		return nil
	}
	v := a.value
	return &v
}

// Price is the price block of an offer.
type Price struct {
	Value        *float64 `json:"value"`
	CurrencyID   string   `json:"currencyId"`
	DiscountBase *float64 `json:"discountBase"`
	VAT          Scalar   `json:"vat"`
}

// UnmarshalJSON decodes the price, tolerating quoted amounts, and fills in
// the default currency.
func (p *Price) UnmarshalJSON(b []byte) error {
	var v struct {
		Value        amount `json:"value"`
		CurrencyID   Scalar `json:"currencyId"`
		DiscountBase amount `json:"discountBase"`
		VAT          Scalar `json:"vat"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	*p = Price{
		Value:        v.Value.ptr(),
		CurrencyID:   v.CurrencyID.String(),
		DiscountBase: v.DiscountBase.ptr(),
		VAT:          v.VAT,
	}
	if p.CurrencyID == "" {
		p.CurrencyID = DefaultCurrency
	}
	return nil
}

// Offer is a single price record as returned by the offer-prices endpoints.
type Offer struct {
	ID        ID     `json:"id"`
	OfferID   ID     `json:"offerId"`
	MarketSKU Scalar `json:"marketSku"`
	Price     *Price `json:"price"`
	UpdatedAt string `json:"updatedAt"`
}

// Paging carries the continuation token of a listing response.
type Paging struct {
	NextPageToken *string `json:"nextPageToken"`
}

// OfferPricesResult is the result block of an offer-prices response.
type OfferPricesResult struct {
	Offers []Offer `json:"offers"`
	Paging *Paging `json:"paging"`
}

// OfferPricesResponse is the body of GET and POST /campaigns/{id}/offer-prices.
type OfferPricesResponse struct {
	Status string             `json:"status"`
	Result *OfferPricesResult `json:"result"`
}

// Page converts the response into a pagination page. A response without
// result.offers is reported as malformed rather than as an empty page.
func (r *OfferPricesResponse) Page() pagination.Page[Offer] {
	if r == nil || r.Result == nil || r.Result.Offers == nil {
		return pagination.Page[Offer]{Malformed: true}
	}

	page := pagination.Page[Offer]{Items: r.Result.Offers}
	if r.Result.Paging != nil {
		page.Next = pagination.TokenOf(r.Result.Paging.NextPageToken)
	}
	return page
}

// OfferPricesRequest is the body of POST /campaigns/{id}/offer-prices.
type OfferPricesRequest struct {
	OfferIDs []string `json:"offerIds"`
}

// Business owns one or more campaigns.
type Business struct {
	ID   Scalar `json:"id"`
	Name string `json:"name"`
}

// Campaign is a seller storefront.
type Campaign struct {
	ID            Scalar    `json:"id"`
	Domain        string    `json:"domain"`
	Business      *Business `json:"business"`
	PlacementType string    `json:"placementType"`
}

// CampaignsResponse is the body of GET /campaigns.
type CampaignsResponse struct {
	Campaigns []Campaign `json:"campaigns"`
}
