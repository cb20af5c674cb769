package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/jszwec/csvutil"
)

// offerIDColumn is the header of the identifier column.
const offerIDColumn = "offerId"

// offerIDRecord is one line of an identifier file.
type offerIDRecord struct {
	OfferID string `csv:"offerId"`
}

// LoadOfferIDs reads offer identifiers from CSV with an "offerId" header
// column. Other columns are ignored; blank identifiers are skipped.
func LoadOfferIDs(r io.Reader) ([]string, error) {
	csvReader := csv.NewReader(r)
	csvReader.TrimLeadingSpace = true

	dec, err := csvutil.NewDecoder(csvReader)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identifier header: %w", err)
	}

	if !slices.Contains(dec.Header(), offerIDColumn) {
		return nil, fmt.Errorf("identifier file has no %q column", offerIDColumn)
	}

	var ids []string
	for {
		var rec offerIDRecord
		if err := dec.Decode(&rec); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("read identifiers: %w", err)
		}
		if id := strings.TrimSpace(rec.OfferID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
