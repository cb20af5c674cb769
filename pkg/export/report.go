package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/market-price-exporter/pkg/client"
)

// User-facing notices for runs that had nothing to do.
const (
	NoticeNoOfferIDs  = "No SKUs found to export. Put them in column A of the source sheet or pass them as arguments."
	NoticeNoCampaigns = "No campaigns found. Check the token permissions."
)

// Report describes the outcome of one operation.
type Report struct {
	Operation string `json:"operation"`
	Sheet     string `json:"sheet,omitempty"`
	RunID     string `json:"runId,omitempty"`

	// Processed is the number of data rows written.
	Processed int `json:"processed"`

	// Requested is the number of identifiers asked for (targeted export).
	Requested int `json:"requested,omitempty"`

	// Pages counts listing pages or lookup batches processed.
	Pages int `json:"pages"`

	// SoftStops counts responses without an offers list.
	SoftStops int `json:"softStops,omitempty"`

	// Notice is set when the run had nothing to do.
	Notice string `json:"notice,omitempty"`

	// UpdatedAt is the time written to the summary cells.
	UpdatedAt time.Time `json:"updatedAt,omitzero"`

	// Connection is set by the connectivity check.
	Connection *client.ConnectionStatus `json:"connection,omitempty"`
}

// Message renders the completion message shown to the user.
func (r *Report) Message() string {
	if r.Notice != "" {
		return r.Notice
	}

	var b strings.Builder
	switch r.Operation {
	case OpExportAll:
		fmt.Fprintf(&b, "Export complete!\n\nOffers exported: %d\nSheet: %q", r.Processed, r.Sheet)
	case OpExportSpecific:
		fmt.Fprintf(&b, "Export complete!\n\nFound offers: %d of %d requested\nSheet: %q", r.Processed, r.Requested, r.Sheet)
	case OpCampaigns:
		fmt.Fprintf(&b, "Found %d campaigns.\n\nUse a value from the \"Campaign ID\" column as MARKET_CAMPAIGN_ID.", r.Processed)
	case OpCheck:
		if r.Connection != nil && r.Connection.OK {
			b.WriteString("Connection to the partner API succeeded.\n\nYou can start exporting.")
		} else if r.Connection != nil {
			fmt.Fprintf(&b, "Connection to the partner API failed.\n\nStatus: %d\nMessage: %s\n\nCheck the token and settings.",
				r.Connection.StatusCode, r.Connection.Message)
		}
	}
	if r.SoftStops > 0 {
		fmt.Fprintf(&b, "\n\nWarning: %d response(s) had no offers list; the export may be incomplete.", r.SoftStops)
	}
	return b.String()
}
