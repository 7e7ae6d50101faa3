package vat

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultSchemaName is used when no version is requested.
const DefaultSchemaName = "JPK_V7M(2)"

//go:embed schemas/*.yaml
var schemaFiles embed.FS

// ErrUnknownSchema is returned for versions that are not embedded.
var ErrUnknownSchema = errors.New("vat: unknown schema version")

// AmountKind selects the figure a field reads from its buckets.
type AmountKind string

const (
	AmountNet AmountKind = "net"
	AmountVAT AmountKind = "vat"
)

// FormCode identifies a form within the document header.
type FormCode struct {
	Code          string
	SystemCode    string
	SchemaVersion string
	Variant       int
}

// FieldSpec maps a register column to the buckets it sums.
type FieldSpec struct {
	Name     string
	Buckets  []Bucket
	Amount   AmountKind
	Required bool
}

// Value computes the field for one row.
func (f FieldSpec) Value(row DeclarationRow) decimal.Decimal {
	total := decimal.Zero
	for _, b := range f.Buckets {
		amt := row.Buckets.Get(b)
		if f.Amount == AmountVAT {
			total = total.Add(amt.VAT)
		} else {
			total = total.Add(amt.Net)
		}
	}
	return total
}

// SummaryTerm is one addend of a summary position. Exactly one of Field (a
// section column summed across rows) or Ref (an earlier position) is set.
type SummaryTerm struct {
	Section Section
	Field   string
	Ref     string
	Sign    int
}

// SummarySpec defines a declaration position as a linear combination of terms.
type SummarySpec struct {
	Name        string
	Terms       []SummaryTerm
	NonNegative bool
	Required    bool
}

// Schema is one compiled, versioned declaration table.
type Schema struct {
	Name         string
	Namespace    string
	EtdNamespace string
	Form         FormCode
	Declaration  FormCode
	DefaultRate  Bucket
	Rates        map[string]Bucket

	// Markers flag sale rows and PurchaseMarkers purchase rows, both in element order.
	Markers         []string
	PurchaseMarkers []string

	// SubjectOptional lists the optional OsobaNiefizyczna elements the version defines.
	SubjectOptional []string

	Sales     []FieldSpec
	Purchases []FieldSpec
	Summary   []SummarySpec

	markerSet  map[Section]map[string]struct{}
	subjectSet map[string]struct{}
}

// Fields returns the column table for a section.
func (s *Schema) Fields(section Section) []FieldSpec {
	if section == SectionPurchases {
		return s.Purchases
	}
	return s.Sales
}

// Field looks up a section column by name.
func (s *Schema) Field(section Section, name string) (FieldSpec, bool) {
	for _, f := range s.Fields(section) {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// MarkersFor returns the markers a section's rows may carry, in element order.
func (s *Schema) MarkersFor(section Section) []string {
	if section == SectionPurchases {
		return s.PurchaseMarkers
	}
	return s.Markers
}

// HasMarker reports whether the marker is defined for rows of the section.
func (s *Schema) HasMarker(section Section, marker string) bool {
	if section != SectionPurchases {
		section = SectionSales
	}
	_, ok := s.markerSet[section][marker]
	return ok
}

// AllowsSubjectField reports whether an optional subject element is part of the version.
func (s *Schema) AllowsSubjectField(name string) bool {
	_, ok := s.subjectSet[name]
	return ok
}

// SummarySpecFor looks up a summary position definition.
func (s *Schema) SummarySpecFor(name string) (SummarySpec, bool) {
	for _, spec := range s.Summary {
		if spec.Name == name {
			return spec, true
		}
	}
	return SummarySpec{}, false
}

// subjectOptionalFields are the optional subject elements the serializer can write.
var subjectOptionalFields = map[string]struct{}{"REGON": {}, "Email": {}}

type rawForm struct {
	Code          string `yaml:"code"`
	SystemCode    string `yaml:"system_code"`
	SchemaVersion string `yaml:"schema_version"`
	Variant       int    `yaml:"variant"`
}

type rawField struct {
	Name     string   `yaml:"name"`
	Buckets  []string `yaml:"buckets"`
	Amount   string   `yaml:"amount"`
	Required bool     `yaml:"required"`
}

type rawTerm struct {
	Section string `yaml:"section"`
	Field   string `yaml:"field"`
	Ref     string `yaml:"ref"`
	Sign    int    `yaml:"sign"`
}

type rawSummary struct {
	Name        string    `yaml:"name"`
	Terms       []rawTerm `yaml:"terms"`
	NonNegative bool      `yaml:"non_negative"`
	Required    bool      `yaml:"required"`
}

type rawSchema struct {
	Name            string            `yaml:"name"`
	Namespace       string            `yaml:"namespace"`
	EtdNamespace    string            `yaml:"etd_namespace"`
	Form            rawForm           `yaml:"form"`
	Declaration     rawForm           `yaml:"declaration"`
	DefaultBucket   string            `yaml:"default_bucket"`
	Rates           map[string]string `yaml:"rates"`
	Markers         []string          `yaml:"markers"`
	PurchaseMarkers []string          `yaml:"purchase_markers"`
	SubjectOptional []string          `yaml:"subject_optional"`
	Sales           []rawField        `yaml:"sales"`
	Purchases       []rawField        `yaml:"purchases"`
	Summary         []rawSummary      `yaml:"summary"`
}

// ParseSchema decodes and validates a YAML schema table.
func ParseSchema(data []byte) (*Schema, error) {
	var raw rawSchema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("vat: decode schema: %w", err)
	}
	return compileSchema(raw)
}

func compileSchema(raw rawSchema) (*Schema, error) {
	if strings.TrimSpace(raw.Name) == "" {
		return nil, errors.New("vat: schema name required")
	}
	if raw.Namespace == "" {
		return nil, fmt.Errorf("vat: schema %s: namespace required", raw.Name)
	}
	def, err := ParseBucket(raw.DefaultBucket)
	if err != nil {
		return nil, fmt.Errorf("vat: schema %s: default bucket: %w", raw.Name, err)
	}
	s := &Schema{
		Name:            raw.Name,
		Namespace:       raw.Namespace,
		EtdNamespace:    raw.EtdNamespace,
		Form:            FormCode(raw.Form),
		Declaration:     FormCode(raw.Declaration),
		DefaultRate:     def,
		Rates:           make(map[string]Bucket, len(raw.Rates)),
		Markers:         raw.Markers,
		PurchaseMarkers: raw.PurchaseMarkers,
		SubjectOptional: raw.SubjectOptional,
		subjectSet:      make(map[string]struct{}, len(raw.SubjectOptional)),
	}
	s.markerSet = map[Section]map[string]struct{}{
		SectionSales:     make(map[string]struct{}, len(raw.Markers)),
		SectionPurchases: make(map[string]struct{}, len(raw.PurchaseMarkers)),
	}
	for key, name := range raw.Rates {
		b, err := ParseBucket(name)
		if err != nil {
			return nil, fmt.Errorf("vat: schema %s: rate %q: %w", raw.Name, key, err)
		}
		rate, err := ParseRate(key)
		if err != nil {
			return nil, fmt.Errorf("vat: schema %s: %w", raw.Name, err)
		}
		s.Rates[rate.Key()] = b
	}
	for section, markers := range map[Section][]string{SectionSales: raw.Markers, SectionPurchases: raw.PurchaseMarkers} {
		set := s.markerSet[section]
		for _, m := range markers {
			if _, dup := set[m]; dup {
				return nil, fmt.Errorf("vat: schema %s: duplicate %s marker %s", raw.Name, section, m)
			}
			set[m] = struct{}{}
		}
	}
	for _, name := range raw.SubjectOptional {
		if _, ok := subjectOptionalFields[name]; !ok {
			return nil, fmt.Errorf("vat: schema %s: unknown subject field %s", raw.Name, name)
		}
		s.subjectSet[name] = struct{}{}
	}
	if s.Sales, err = compileFields(raw.Name, raw.Sales); err != nil {
		return nil, err
	}
	if s.Purchases, err = compileFields(raw.Name, raw.Purchases); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(raw.Summary))
	for _, rs := range raw.Summary {
		if _, dup := seen[rs.Name]; dup {
			return nil, fmt.Errorf("vat: schema %s: duplicate summary field %s", raw.Name, rs.Name)
		}
		spec := SummarySpec{Name: rs.Name, NonNegative: rs.NonNegative, Required: rs.Required}
		if len(rs.Terms) == 0 {
			return nil, fmt.Errorf("vat: schema %s: summary field %s has no terms", raw.Name, rs.Name)
		}
		for _, rt := range rs.Terms {
			term := SummaryTerm{Section: Section(rt.Section), Field: rt.Field, Ref: rt.Ref, Sign: rt.Sign}
			if term.Sign == 0 {
				term.Sign = 1
			}
			if term.Sign != 1 && term.Sign != -1 {
				return nil, fmt.Errorf("vat: schema %s: %s: sign must be 1 or -1", raw.Name, rs.Name)
			}
			switch {
			case term.Ref != "" && term.Field == "":
				if _, ok := seen[term.Ref]; !ok {
					return nil, fmt.Errorf("vat: schema %s: %s references %s before it is defined", raw.Name, rs.Name, term.Ref)
				}
			case term.Field != "" && term.Ref == "":
				if term.Section != SectionSales && term.Section != SectionPurchases {
					return nil, fmt.Errorf("vat: schema %s: %s: unknown section %q", raw.Name, rs.Name, rt.Section)
				}
				if _, ok := s.Field(term.Section, term.Field); !ok {
					return nil, fmt.Errorf("vat: schema %s: %s references unknown field %s.%s", raw.Name, rs.Name, term.Section, term.Field)
				}
			default:
				return nil, fmt.Errorf("vat: schema %s: %s: term needs exactly one of field or ref", raw.Name, rs.Name)
			}
			spec.Terms = append(spec.Terms, term)
		}
		seen[rs.Name] = struct{}{}
		s.Summary = append(s.Summary, spec)
	}
	return s, nil
}

func compileFields(schema string, raw []rawField) ([]FieldSpec, error) {
	out := make([]FieldSpec, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, rf := range raw {
		if _, dup := seen[rf.Name]; dup {
			return nil, fmt.Errorf("vat: schema %s: duplicate field %s", schema, rf.Name)
		}
		seen[rf.Name] = struct{}{}
		amount := AmountKind(rf.Amount)
		if amount != AmountNet && amount != AmountVAT {
			return nil, fmt.Errorf("vat: schema %s: field %s: amount must be net or vat", schema, rf.Name)
		}
		if len(rf.Buckets) == 0 {
			return nil, fmt.Errorf("vat: schema %s: field %s has no buckets", schema, rf.Name)
		}
		spec := FieldSpec{Name: rf.Name, Amount: amount, Required: rf.Required}
		for _, name := range rf.Buckets {
			b, err := ParseBucket(name)
			if err != nil {
				return nil, fmt.Errorf("vat: schema %s: field %s: %w", schema, rf.Name, err)
			}
			spec.Buckets = append(spec.Buckets, b)
		}
		out = append(out, spec)
	}
	return out, nil
}

var (
	registryOnce sync.Once
	registry     map[string]*Schema
	registryErr  error
)

func loadRegistry() {
	registry = make(map[string]*Schema)
	entries, err := fs.Glob(schemaFiles, "schemas/*.yaml")
	if err != nil {
		registryErr = err
		return
	}
	for _, name := range entries {
		data, err := schemaFiles.ReadFile(name)
		if err != nil {
			registryErr = err
			return
		}
		s, err := ParseSchema(data)
		if err != nil {
			registryErr = fmt.Errorf("%s: %w", path.Base(name), err)
			return
		}
		registry[s.Name] = s
	}
}

// LookupSchema returns an embedded schema by version name. An empty name selects
// DefaultSchemaName.
func LookupSchema(name string) (*Schema, error) {
	registryOnce.Do(loadRegistry)
	if registryErr != nil {
		return nil, registryErr
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultSchemaName
	}
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	return s, nil
}

// SchemaNames lists the embedded versions.
func SchemaNames() []string {
	registryOnce.Do(loadRegistry)
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
