package vat

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	xmlHeader      = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"
	indentUnit     = "  "
	timestampFmt   = "2006-01-02T15:04:05Z"
	dateFmt        = "2006-01-02"
	missingTaxID   = "BRAK"
	subjectRole    = "Podatnik"
	purposeField   = "P_7"
	declTaxCode    = "VAT"
	declObligation = "Z"
)

var textEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

// xmlChar reports whether r is allowed in an XML 1.0 document.
func xmlChar(r rune) bool {
	switch {
	case r == '\t', r == '\n', r == '\r':
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	}
	return false
}

// escapeText drops characters XML 1.0 forbids and escapes markup.
func escapeText(s string) string {
	return textEscaper.Replace(strings.Map(func(r rune) rune {
		if !xmlChar(r) {
			return -1
		}
		return r
	}, s))
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type attr struct {
	name, value string
}

// docWriter emits indented XML with a fixed attribute order.
type docWriter struct {
	b     strings.Builder
	depth int
}

func (w *docWriter) indent() {
	for i := 0; i < w.depth; i++ {
		w.b.WriteString(indentUnit)
	}
}

func (w *docWriter) tag(name string, attrs []attr) {
	w.b.WriteByte('<')
	w.b.WriteString(name)
	for _, a := range attrs {
		w.b.WriteByte(' ')
		w.b.WriteString(a.name)
		w.b.WriteString(`="`)
		w.b.WriteString(escapeText(a.value))
		w.b.WriteByte('"')
	}
	w.b.WriteByte('>')
}

func (w *docWriter) open(name string, attrs ...attr) {
	w.indent()
	w.tag(name, attrs)
	w.b.WriteByte('\n')
	w.depth++
}

func (w *docWriter) close(name string) {
	w.depth--
	w.indent()
	w.b.WriteString("</")
	w.b.WriteString(name)
	w.b.WriteString(">\n")
}

func (w *docWriter) leaf(name, text string, attrs ...attr) {
	w.indent()
	w.tag(name, attrs)
	w.b.WriteString(escapeText(text))
	w.b.WriteString("</")
	w.b.WriteString(name)
	w.b.WriteString(">\n")
}

func (w *docWriter) optional(name, text string) {
	if text != "" {
		w.leaf(name, text)
	}
}

// amount writes a monetary field, skipping zeros unless the field is required.
func (w *docWriter) amount(name string, value decimal.Decimal, required bool) {
	if value.IsZero() && !required {
		return
	}
	w.leaf(name, formatMoney(value))
}

// SerializeDeclaration renders the declaration as a JPK document using the
// schema recorded in its header.
func SerializeDeclaration(decl Declaration) (string, error) {
	schema, err := LookupSchema(decl.Header.Schema)
	if err != nil {
		if errors.Is(err, ErrUnknownSchema) {
			return "", &SerializationError{Reason: "unknown schema " + strconv.Quote(decl.Header.Schema)}
		}
		return "", &SerializationError{Reason: err.Error()}
	}
	return Serialize(schema, decl)
}

// Serialize renders the declaration against an explicit schema.
func Serialize(schema *Schema, decl Declaration) (string, error) {
	if err := checkStructure(decl); err != nil {
		return "", err
	}

	w := &docWriter{}
	w.b.WriteString(xmlHeader)
	rootAttrs := []attr{{"xmlns", schema.Namespace}}
	if schema.EtdNamespace != "" {
		rootAttrs = append(rootAttrs, attr{"xmlns:etd", schema.EtdNamespace})
	}
	w.open("JPK", rootAttrs...)

	writeHeader(w, decl.Header)
	writeSubject(w, schema, decl.Subject)

	w.open("Ewidencja")
	for _, row := range decl.Sales {
		writeSaleRow(w, schema, row)
	}
	w.open("SprzedazCtrl")
	w.leaf("LiczbaWierszySprzedazy", strconv.Itoa(decl.SalesControl.RowCount))
	w.leaf("PodatekNalezny", formatMoney(decl.SalesControl.TotalVAT))
	w.close("SprzedazCtrl")
	for _, row := range decl.Purchases {
		writePurchaseRow(w, schema, row)
	}
	w.open("ZakupCtrl")
	w.leaf("LiczbaWierszyZakupow", strconv.Itoa(decl.PurchaseControl.RowCount))
	w.leaf("PodatekNaliczony", formatMoney(decl.PurchaseControl.TotalVAT))
	w.close("ZakupCtrl")
	w.close("Ewidencja")

	writeDeclaration(w, schema, decl.Summary)
	w.close("JPK")
	return w.b.String(), nil
}

func checkStructure(decl Declaration) error {
	if strings.TrimSpace(decl.Subject.TaxID) == "" {
		return &SerializationError{Reason: "subject tax id is empty"}
	}
	if strings.TrimSpace(decl.Subject.Name) == "" {
		return &SerializationError{Reason: "subject name is empty"}
	}
	controls := []struct {
		name string
		ctrl ControlTotal
		rows []DeclarationRow
	}{
		{"sales", decl.SalesControl, decl.Sales},
		{"purchases", decl.PurchaseControl, decl.Purchases},
	}
	for _, c := range controls {
		if c.ctrl.RowCount < 0 {
			return &SerializationError{Reason: c.name + " row count is negative"}
		}
		if c.ctrl.RowCount != len(c.rows) {
			return &SerializationError{Reason: c.name + " row count " + strconv.Itoa(c.ctrl.RowCount) +
				" does not match " + strconv.Itoa(len(c.rows)) + " rows"}
		}
		for _, row := range c.rows {
			if row.IssueDate.IsZero() {
				return &SerializationError{Reason: c.name + " row " + strconv.Itoa(row.Seq) +
					" (" + row.DocumentID + ") has no issue date"}
			}
		}
	}
	if decl.Header.Month < 1 || decl.Header.Month > 12 {
		return &SerializationError{Reason: "month out of range"}
	}
	return nil
}

func writeHeader(w *docWriter, h Header) {
	w.open("Naglowek")
	w.leaf("KodFormularza", h.FormCode, attr{"kodSystemowy", h.SystemCode}, attr{"wersjaSchemy", h.SchemaVersion})
	w.leaf("WariantFormularza", strconv.Itoa(h.Variant))
	w.leaf("DataWytworzeniaJPK", h.GeneratedAt.UTC().Format(timestampFmt))
	w.leaf("NazwaSystemu", h.SystemName)
	w.leaf("CelZlozenia", strconv.Itoa(int(h.Purpose)), attr{"poz", purposeField})
	w.optional("KodUrzedu", h.TaxOfficeCode)
	w.leaf("Rok", strconv.Itoa(h.Year))
	w.leaf("Miesiac", strconv.Itoa(h.Month))
	w.close("Naglowek")
}

func writeSubject(w *docWriter, schema *Schema, s Subject) {
	w.open("Podmiot1", attr{"rola", subjectRole})
	w.open("OsobaNiefizyczna")
	w.leaf("NIP", s.TaxID)
	w.leaf("PelnaNazwa", s.Name)
	if schema.AllowsSubjectField("REGON") {
		w.optional("REGON", s.RegistrationNumber)
	}
	if schema.AllowsSubjectField("Email") {
		w.optional("Email", s.Email)
	}
	w.close("OsobaNiefizyczna")
	w.close("Podmiot1")
}

func counterpartyTaxID(row DeclarationRow) string {
	if row.CounterpartyTaxID == "" {
		return missingTaxID
	}
	return row.CounterpartyTaxID
}

func counterpartyName(row DeclarationRow) string {
	if row.CounterpartyName == "" {
		return missingTaxID
	}
	return row.CounterpartyName
}

func distinctDate(issue, other time.Time) string {
	if other.IsZero() || other.Equal(issue) {
		return ""
	}
	return other.Format(dateFmt)
}

func writeSaleRow(w *docWriter, schema *Schema, row DeclarationRow) {
	w.open("SprzedazWiersz")
	w.leaf("LpSprzedazy", strconv.Itoa(row.Seq))
	w.optional("KodKrajuNadaniaTIN", row.CounterpartyCountry)
	w.leaf("NrKontrahenta", counterpartyTaxID(row))
	w.leaf("NazwaKontrahenta", counterpartyName(row))
	w.leaf("DowodSprzedazy", row.DocumentNumber)
	w.leaf("DataWystawienia", row.IssueDate.Format(dateFmt))
	w.optional("DataSprzedazy", distinctDate(row.IssueDate, row.SellDate))
	writeMarkers(w, schema, SectionSales, row)
	for _, f := range schema.Sales {
		w.amount(f.Name, f.Value(row), f.Required)
	}
	w.close("SprzedazWiersz")
}

func writePurchaseRow(w *docWriter, schema *Schema, row DeclarationRow) {
	w.open("ZakupWiersz")
	w.leaf("LpZakupu", strconv.Itoa(row.Seq))
	w.optional("KodKrajuNadaniaTIN", row.CounterpartyCountry)
	w.leaf("NrDostawcy", counterpartyTaxID(row))
	w.leaf("NazwaDostawcy", counterpartyName(row))
	w.leaf("DowodZakupu", row.DocumentNumber)
	w.leaf("DataZakupu", row.IssueDate.Format(dateFmt))
	w.optional("DataWplywu", distinctDate(row.IssueDate, row.SellDate))
	writeMarkers(w, schema, SectionPurchases, row)
	for _, f := range schema.Purchases {
		w.amount(f.Name, f.Value(row), f.Required)
	}
	w.close("ZakupWiersz")
}

// writeMarkers emits the row flags the section defines for the schema.
func writeMarkers(w *docWriter, schema *Schema, section Section, row DeclarationRow) {
	for _, m := range row.Markers {
		if schema.HasMarker(section, m) {
			w.leaf(m, "1")
		}
	}
}

func writeDeclaration(w *docWriter, schema *Schema, summary Summary) {
	w.open("Deklaracja")
	w.open("Naglowek")
	w.leaf("KodFormularzaDekl", schema.Declaration.Code,
		attr{"kodSystemowy", schema.Declaration.SystemCode},
		attr{"kodPodatku", declTaxCode},
		attr{"rodzajZobowiazania", declObligation},
		attr{"wersjaSchemy", schema.Declaration.SchemaVersion},
	)
	w.leaf("WariantFormularzaDekl", strconv.Itoa(schema.Declaration.Variant))
	w.close("Naglowek")
	w.open("PozycjeSzczegolowe")
	for _, spec := range schema.Summary {
		w.amount(spec.Name, summary.Get(spec.Name), spec.Required)
	}
	w.close("PozycjeSzczegolowe")
	w.leaf("Pouczenia", "1")
	w.close("Deklaracja")
}
