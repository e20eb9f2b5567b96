// Package schema describes the structure inferred from streams: schemas,
// their properties, the value types seen per property and content labels
// applied by detectors.
package schema

import (
	"sort"

	json "github.com/goccy/go-json"
)

// ValueType is the type of an observed value.
type ValueType string

const (
	TypeString   ValueType = "string"
	TypeNumber   ValueType = "number"
	TypeBoolean  ValueType = "boolean"
	TypeDate     ValueType = "date"
	TypeDateTime ValueType = "date-time"
)

// AllValueTypes lists value types in canonical order.
var AllValueTypes = []ValueType{TypeString, TypeNumber, TypeBoolean, TypeDate, TypeDateTime}

// ValueTypeStats summarizes the values of one type seen for a property.
type ValueTypeStats struct {
	Count int64 `json:"recordCount"`

	StringMinLength *int `json:"stringMinLength,omitempty"`
	StringMaxLength *int `json:"stringMaxLength,omitempty"`

	// NumberMin and NumberMax keep the digits of the extreme values, so
	// integers beyond 2^53 are not rounded
	NumberMin          *json.Number `json:"numberMin,omitempty"`
	NumberMax          *json.Number `json:"numberMax,omitempty"`
	NumberMaxPrecision *int         `json:"numberMaxPrecision,omitempty"`

	DateMin string `json:"dateMinValue,omitempty"`
	DateMax string `json:"dateMaxValue,omitempty"`
}

// ContentLabel marks a property as containing a kind of content.
type ContentLabel struct {
	Label                    string `json:"label"`
	AppliedByContentDetector string `json:"appliedByContentDetector,omitempty"`
	OccurrenceCount          int64  `json:"occurrenceCount"`
	Hidden                   bool   `json:"hidden"`
}

// Property is one named column of a schema.
type Property struct {
	Name          string                        `json:"name"`
	Title         string                        `json:"title,omitempty"`
	Description   string                        `json:"description,omitempty"`
	Unit          string                        `json:"unit,omitempty"`
	Hidden        bool                          `json:"hidden,omitempty"`
	ValueTypes    map[ValueType]*ValueTypeStats `json:"valueTypes"`
	NullCount     int64                         `json:"nullCount,omitempty"`
	ContentLabels []ContentLabel                `json:"contentLabels,omitempty"`
}

// Types returns the observed value types in canonical order.
func (p *Property) Types() []ValueType {
	out := make([]ValueType, 0, len(p.ValueTypes))
	for _, t := range AllValueTypes {
		if _, ok := p.ValueTypes[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// SameTypes reports whether p and o have observed the same set of value types.
func (p *Property) SameTypes(o *Property) bool {
	a, b := p.Types(), o.Types()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Label returns the content label with the given name, if present.
func (p *Property) Label(name string) (ContentLabel, bool) {
	for _, l := range p.ContentLabels {
		if l.Label == name {
			return l, true
		}
	}
	return ContentLabel{}, false
}

// Schema is the inferred structure of one kind of record.
type Schema struct {
	Title         string                   `json:"title"`
	Description   string                   `json:"description,omitempty"`
	Unit          string                   `json:"unit,omitempty"`
	Properties    []*Property              `json:"properties"`
	SampleRecords []map[string]interface{} `json:"sampleRecords,omitempty"`
	RecordCount   int64                    `json:"recordCount"`
	// RecordsInspected is below RecordCount when inspection was capped
	RecordsInspected int64 `json:"recordsInspected,omitempty"`
}

// Property looks up a property by name.
func (s *Schema) Property(name string) *Property {
	for _, p := range s.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// PropertyNames returns property names in schema order.
func (s *Schema) PropertyNames() []string {
	names := make([]string, len(s.Properties))
	for i, p := range s.Properties {
		names[i] = p.Name
	}
	return names
}

// RemoveUntypedProperties drops properties that never held a non-null value
// and returns their names.
func (s *Schema) RemoveUntypedProperties() []string {
	var removed []string
	kept := s.Properties[:0]
	for _, p := range s.Properties {
		if len(p.ValueTypes) == 0 {
			removed = append(removed, p.Name)
			continue
		}
		kept = append(kept, p)
	}
	s.Properties = kept
	return removed
}

// CarryOver copies user edited metadata from old onto s: the schema unit and
// description, and per property the title, description, unit, hidden flag and
// hidden state of content labels.
func (s *Schema) CarryOver(old *Schema) {
	if old == nil {
		return
	}
	if s.Unit == "" {
		s.Unit = old.Unit
	}
	if s.Description == "" {
		s.Description = old.Description
	}
	for _, p := range s.Properties {
		op := old.Property(p.Name)
		if op == nil {
			continue
		}
		p.Title = op.Title
		p.Unit = op.Unit
		p.Hidden = op.Hidden
		if p.Description == "" {
			p.Description = op.Description
		}
		for i := range p.ContentLabels {
			if ol, ok := op.Label(p.ContentLabels[i].Label); ok {
				p.ContentLabels[i].Hidden = ol.Hidden
			}
		}
	}
}

// SortedLabels returns label names sorted, used for comparisons.
func (p *Property) SortedLabels() []string {
	out := make([]string, 0, len(p.ContentLabels))
	for _, l := range p.ContentLabels {
		out = append(out, l.Label)
	}
	sort.Strings(out)
	return out
}
