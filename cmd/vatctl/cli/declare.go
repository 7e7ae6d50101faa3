package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/odyssey-erp/odyssey-vat/internal/vat"
	"github.com/odyssey-erp/odyssey-vat/internal/vat/export"
)

// Output formats accepted by the generate command.
const (
	FormatXML  = "xml"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// offlineCompanyID labels declarations compiled from an input file.
const offlineCompanyID int64 = 1

// DeclareCLI compiles declarations from a file or from the document store.
type DeclareCLI struct {
	source vat.DocumentSource
	config vat.ServiceConfig
}

// NewDeclareCLI builds the helper. source may be nil when only file input is used.
func NewDeclareCLI(source vat.DocumentSource, cfg vat.ServiceConfig) *DeclareCLI {
	return &DeclareCLI{source: source, config: cfg}
}

// GenerateOptions defines the flags of the generate command.
type GenerateOptions struct {
	Input         string
	CompanyID     int64
	Period        string
	Schema        string
	Purpose       int
	Format        string
	Out           string
	AllowWarnings bool
	Stdout        io.Writer
	Stderr        io.Writer
}

// GenerateCommand compiles one declaration and writes it in the requested
// format. It returns 0 on success, 10 when warnings were raised and 1 on error.
func (c *DeclareCLI) GenerateCommand(ctx context.Context, opts GenerateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = FormatXML
	}
	switch format {
	case FormatXML, FormatJSON, FormatXLSX, FormatCSV:
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "vat generate: unsupported format %q\n", opts.Format)
		return 1
	}

	source, req, err := c.prepare(opts)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "vat generate: %v\n", err)
		return 1
	}
	preview, err := vat.NewService(source, nil, c.config).Generate(ctx, req)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "vat generate: %v\n", err)
		return 1
	}

	schema, err := vat.LookupSchema(preview.Declaration.Header.Schema)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "vat generate: %v\n", err)
		return 1
	}
	var buf bytes.Buffer
	if err := render(&buf, format, schema, preview); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "vat generate: render %s: %v\n", format, err)
		return 1
	}
	if err := writeOutput(opts.Out, opts.Stdout, buf.Bytes()); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "vat generate: write output: %v\n", err)
		return 1
	}

	renderWarnings(opts.Stderr, preview)
	if len(preview.Warnings) > 0 && !opts.AllowWarnings {
		return 10
	}
	return 0
}

func (c *DeclareCLI) prepare(opts GenerateOptions) (vat.DocumentSource, vat.Request, error) {
	req := vat.Request{CompanyID: opts.CompanyID, Period: strings.TrimSpace(opts.Period), Schema: opts.Schema, Purpose: opts.Purpose}
	if opts.Input == "" {
		if c == nil || c.source == nil {
			return nil, req, errors.New("--input is required when no database is configured")
		}
		if req.CompanyID <= 0 {
			return nil, req, errors.New("--company is required and must be positive")
		}
		if req.Period == "" {
			return nil, req, errors.New("--period is required (YYYY-MM)")
		}
		return c.source, req, nil
	}

	in, err := LoadInput(opts.Input)
	if err != nil {
		return nil, req, err
	}
	txs, err := in.Transactions()
	if err != nil {
		return nil, req, err
	}
	if req.Period == "" {
		req.Period = in.Period
	}
	if req.Period == "" {
		return nil, req, errors.New("period missing from flags and input file")
	}
	if req.CompanyID <= 0 {
		req.CompanyID = offlineCompanyID
	}
	return staticSource{transactions: txs, subject: in.SubjectValue()}, req, nil
}

// staticSource serves documents already loaded from a file.
type staticSource struct {
	transactions []vat.SourceTransaction
	subject      vat.Subject
}

func (s staticSource) Load(context.Context, int64, vat.Period) ([]vat.SourceTransaction, vat.Subject, error) {
	return s.transactions, s.subject, nil
}

func render(w io.Writer, format string, schema *vat.Schema, preview vat.Preview) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(preview)
	case FormatXLSX:
		return export.WriteWorkbook(w, schema, preview)
	case FormatCSV:
		return export.WritePreviewCSV(w, schema, preview)
	default:
		_, err := io.WriteString(w, preview.XML)
		return err
	}
}

func writeOutput(path string, stdout io.Writer, body []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(body)
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

func renderWarnings(out io.Writer, preview vat.Preview) {
	decl := preview.Declaration
	_, _ = fmt.Fprintf(out, "%s for %s: %d sale row(s), %d purchase row(s)\n",
		decl.Header.Schema, decl.Period.Label(), len(decl.Sales), len(decl.Purchases))
	if len(preview.Warnings) == 0 {
		return
	}
	_, _ = fmt.Fprintf(out, "%d warning(s):\n", len(preview.Warnings))
	for _, w := range preview.Warnings {
		_, _ = fmt.Fprintf(out, " - [%s] %s %s: %s\n", w.Kind, w.Section, w.Document, w.Message)
	}
}

// SchemasOptions defines the flags of the schemas command.
type SchemasOptions struct {
	Default    string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

type schemaSummary struct {
	Name      string   `json:"name"`
	Default   bool     `json:"default"`
	Variant   int      `json:"variant"`
	Sales     []string `json:"sales_fields"`
	Purchases []string `json:"purchase_fields"`
}

// SchemasCommand lists the supported schema versions.
func SchemasCommand(opts SchemasOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Default == "" {
		opts.Default = vat.DefaultSchemaName
	}
	summaries := make([]schemaSummary, 0)
	for _, name := range vat.SchemaNames() {
		schema, err := vat.LookupSchema(name)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "vat schemas: %v\n", err)
			return 1
		}
		summaries = append(summaries, schemaSummary{
			Name:      schema.Name,
			Default:   schema.Name == opts.Default,
			Variant:   schema.Form.Variant,
			Sales:     fieldNames(schema.Fields(vat.SectionSales)),
			Purchases: fieldNames(schema.Fields(vat.SectionPurchases)),
		})
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summaries); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "vat schemas: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	for _, s := range summaries {
		marker := ""
		if s.Default {
			marker = " (default)"
		}
		_, _ = fmt.Fprintf(opts.Stdout, "%s%s variant %d: %d sales field(s), %d purchase field(s)\n",
			s.Name, marker, s.Variant, len(s.Sales), len(s.Purchases))
	}
	return 0
}

func fieldNames(fields []vat.FieldSpec) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
