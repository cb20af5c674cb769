package market

import (
	"time"
)

// UpdatedAtLayout renders offer timestamps the way sellers read them in the
// partner cabinet: day.month.year, hours:minutes:seconds.
const UpdatedAtLayout = "02.01.2006, 15:04:05"

// PriceHeader is the column order of every price sheet.
var PriceHeader = []string{
	"SKU",
	"Market SKU",
	"Price",
	"Currency",
	"Pre-discount Price",
	"VAT",
	"Updated-at",
}

// CampaignHeader is the column order of the campaign sheet.
var CampaignHeader = []string{
	"Campaign ID",
	"Name",
	"Business ID",
	"Business Name",
	"Placement Model",
}

// KeyOrder picks which identifier fills the SKU column when both are present.
type KeyOrder int

const (
	// PreferID uses id, falling back to offerId (full listing).
	PreferID KeyOrder = iota

	// PreferOfferID uses offerId, falling back to id (lookup by identifiers).
	PreferOfferID
)

// Key returns the offer identifier according to order.
func (o Offer) Key(order KeyOrder) string {
	first, second := o.ID, o.OfferID
	if order == PreferOfferID {
		first, second = o.OfferID, o.ID
	}
	if first != "" {
		return string(first)
	}
	return string(second)
}

// PriceRow flattens an offer into the PriceHeader column order.
// A missing price block yields empty price cells and the default currency.
func PriceRow(o Offer, order KeyOrder, loc *time.Location) []any {
	row := []any{o.Key(order), blankZero(o.MarketSKU), "", DefaultCurrency, "", "", ""}

	if p := o.Price; p != nil {
		if p.Value != nil {
			row[2] = *p.Value
		}
		if p.CurrencyID != "" {
			row[3] = p.CurrencyID
		}
		if p.DiscountBase != nil && *p.DiscountBase != 0 {
			row[4] = *p.DiscountBase
		}
		row[5] = blankZero(p.VAT)
	}

	if o.UpdatedAt != "" {
		row[6] = FormatUpdatedAt(o.UpdatedAt, loc)
	}

	return row
}

// blankZero renders a numeric zero as an empty cell. Quoted "0" stays.
func blankZero(s Scalar) any {
	v := s.Cell()
	switch n := v.(type) {
	case int64:
		if n == 0 {
			return ""
		}
	case float64:
		if n == 0 {
			return ""
		}
	}
	return v
}

// PriceRows flattens a page of offers.
func PriceRows(offers []Offer, order KeyOrder, loc *time.Location) [][]any {
	rows := make([][]any, 0, len(offers))
	for _, o := range offers {
		rows = append(rows, PriceRow(o, order, loc))
	}
	return rows
}

// CampaignRow flattens a campaign into the CampaignHeader column order.
func CampaignRow(c Campaign) []any {
	row := []any{c.ID.Cell(), c.Domain, "", "", c.PlacementType}
	if c.Business != nil {
		row[2] = c.Business.ID.Cell()
		row[3] = c.Business.Name
	}
	return row
}

var updatedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// FormatUpdatedAt renders a source timestamp in loc. Input that cannot be
// parsed is returned unchanged.
func FormatUpdatedAt(raw string, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	for _, layout := range updatedAtLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.In(loc).Format(UpdatedAtLayout)
		}
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.In(loc).Format(UpdatedAtLayout)
	}

	return raw
}
