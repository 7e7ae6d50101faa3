package vat

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// WarningKind enumerates non-fatal diagnostics attached to a Result.
type WarningKind string

const (
	WarningUnclassifiedRate WarningKind = "UNCLASSIFIED_RATE"
	WarningRowTotalMismatch WarningKind = "ROW_TOTAL_MISMATCH"
	WarningUnknownMarker    WarningKind = "UNKNOWN_MARKER"
)

// Warning is a non-fatal diagnostic produced during generation.
type Warning interface {
	Kind() WarningKind
	Document() string
	String() string
}

// UnclassifiedRateWarning reports a line item routed to the default bucket.
type UnclassifiedRateWarning struct {
	Section    Section
	DocumentID string
	LineItemID string
	Rate       Rate
}

func (w UnclassifiedRateWarning) Kind() WarningKind { return WarningUnclassifiedRate }
func (w UnclassifiedRateWarning) Document() string  { return w.DocumentID }

func (w UnclassifiedRateWarning) String() string {
	return fmt.Sprintf("document %s line %s: rate %s is not classified, booked as %s", w.DocumentID, w.LineItemID, w.Rate, BucketUnclassified)
}

// RowTotalMismatchWarning reports a row whose computed subtotal differs from the
// document's stored total by more than the tolerance. The row is not modified.
type RowTotalMismatchWarning struct {
	Section    Section
	DocumentID string
	Figure     string
	Expected   decimal.Decimal
	Computed   decimal.Decimal
}

func (w RowTotalMismatchWarning) Kind() WarningKind { return WarningRowTotalMismatch }
func (w RowTotalMismatchWarning) Document() string  { return w.DocumentID }

func (w RowTotalMismatchWarning) String() string {
	return fmt.Sprintf("document %s: %s total %s differs from computed %s", w.DocumentID, w.Figure, w.Expected.StringFixed(2), w.Computed.StringFixed(2))
}

// UnknownMarkerWarning reports a procedure or GTU marker the schema does not define.
type UnknownMarkerWarning struct {
	Section    Section
	DocumentID string
	Marker     string
}

func (w UnknownMarkerWarning) Kind() WarningKind { return WarningUnknownMarker }
func (w UnknownMarkerWarning) Document() string  { return w.DocumentID }

func (w UnknownMarkerWarning) String() string {
	return fmt.Sprintf("document %s: marker %q not defined by schema, dropped", w.DocumentID, w.Marker)
}

// CountWarnings groups warnings by kind.
func CountWarnings(warnings []Warning) map[WarningKind]int {
	out := make(map[WarningKind]int)
	for _, w := range warnings {
		out[w.Kind()]++
	}
	return out
}
