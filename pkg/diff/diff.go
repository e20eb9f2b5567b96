// Package diff compares two package files, classifies the structural
// change between them and derives the next package version.
//
// Differences are reported in a deterministic order: package level changes
// first, then the schemas of the old package in their order (with property
// changes in old then new order), then schemas only present in the new
// package in their order.
package diff

import (
	"bytes"
	"fmt"
	"reflect"

	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/datapkg/pkg/packagefile"
	"github.com/ajitpratap0/datapkg/pkg/schema"
)

// DifferenceType names one kind of change.
type DifferenceType string

const (
	AddSchema          DifferenceType = "ADD_SCHEMA"
	RemoveSchema       DifferenceType = "REMOVE_SCHEMA"
	AddProperty        DifferenceType = "ADD_PROPERTY"
	RemoveProperty     DifferenceType = "REMOVE_PROPERTY"
	ChangePropertyType DifferenceType = "CHANGE_PROPERTY_TYPE"

	ChangePackageDescription  DifferenceType = "CHANGE_PACKAGE_DESCRIPTION"
	ChangePackageDisplayName  DifferenceType = "CHANGE_PACKAGE_DISPLAY_NAME"
	ChangeSchemaDescription   DifferenceType = "CHANGE_SCHEMA_DESCRIPTION"
	ChangeSchemaUnit          DifferenceType = "CHANGE_SCHEMA_UNIT"
	ChangePropertyDescription DifferenceType = "CHANGE_PROPERTY_DESCRIPTION"
	ChangePropertyTitle       DifferenceType = "CHANGE_PROPERTY_TITLE"
	ChangePropertyUnit        DifferenceType = "CHANGE_PROPERTY_UNIT"
	ChangeContentLabels       DifferenceType = "CHANGE_CONTENT_LABELS"
	ChangeSampleRecords       DifferenceType = "CHANGE_SAMPLE_RECORDS"
	ChangeReadme              DifferenceType = "CHANGE_README"
	ChangeLicense             DifferenceType = "CHANGE_LICENSE"
	ChangeSource              DifferenceType = "CHANGE_SOURCE"
	ChangeStreamStats         DifferenceType = "CHANGE_STREAM_STATS"
)

// Difference is one change between two package files. Pointer locates the
// changed element, e.g. "#/schemas/people/properties/email".
type Difference struct {
	Type    DifferenceType `json:"type"`
	Pointer string         `json:"pointer"`
}

const rootPointer = "#"

func schemaPointer(title string) string {
	return rootPointer + "/schemas/" + title
}

func propertyPointer(title, property string) string {
	return schemaPointer(title) + "/properties/" + property
}

// Compare returns the differences from old to new.
func Compare(prev, next *packagefile.PackageFile) []Difference {
	var diffs []Difference
	add := func(t DifferenceType, pointer string) {
		diffs = append(diffs, Difference{Type: t, Pointer: pointer})
	}

	if prev.DisplayName != next.DisplayName {
		add(ChangePackageDisplayName, rootPointer)
	}
	if prev.Description != next.Description {
		add(ChangePackageDescription, rootPointer)
	}
	if prev.Readme != next.Readme {
		add(ChangeReadme, rootPointer)
	}
	if prev.License != next.License {
		add(ChangeLicense, rootPointer)
	}
	diffs = append(diffs, compareSources(prev.Sources, next.Sources)...)

	for _, ps := range prev.Schemas {
		ns := next.SchemaByTitle(ps.Title)
		if ns == nil {
			add(RemoveSchema, schemaPointer(ps.Title))
			continue
		}
		diffs = append(diffs, CompareSchema(ps, ns)...)
	}
	for _, ns := range next.Schemas {
		if prev.SchemaByTitle(ns.Title) == nil {
			add(AddSchema, schemaPointer(ns.Title))
		}
	}
	return diffs
}

// CompareSchema returns the differences between two schemas of the same title.
func CompareSchema(prev, next *schema.Schema) []Difference {
	var diffs []Difference
	pointer := schemaPointer(prev.Title)
	add := func(t DifferenceType, pointer string) {
		diffs = append(diffs, Difference{Type: t, Pointer: pointer})
	}

	if prev.Description != next.Description {
		add(ChangeSchemaDescription, pointer)
	}
	if prev.Unit != next.Unit {
		add(ChangeSchemaUnit, pointer)
	}
	if !sameJSON(prev.SampleRecords, next.SampleRecords) {
		add(ChangeSampleRecords, pointer)
	}

	for _, op := range prev.Properties {
		np := next.Property(op.Name)
		p := propertyPointer(prev.Title, op.Name)
		if np == nil {
			add(RemoveProperty, p)
			continue
		}
		if !op.SameTypes(np) {
			add(ChangePropertyType, p)
		}
		if op.Title != np.Title {
			add(ChangePropertyTitle, p)
		}
		if op.Description != np.Description {
			add(ChangePropertyDescription, p)
		}
		if op.Unit != np.Unit {
			add(ChangePropertyUnit, p)
		}
		if !reflect.DeepEqual(op.SortedLabels(), np.SortedLabels()) {
			add(ChangeContentLabels, p)
		}
	}
	for _, np := range next.Properties {
		if prev.Property(np.Name) == nil {
			add(AddProperty, propertyPointer(prev.Title, np.Name))
		}
	}
	return diffs
}

func compareSources(prev, next []*packagefile.Source) []Difference {
	var diffs []Difference
	if len(prev) != len(next) {
		return []Difference{{Type: ChangeSource, Pointer: rootPointer + "/sources"}}
	}
	for i := range prev {
		pointer := fmt.Sprintf("%s/sources/%s", rootPointer, next[i].Slug)
		if !sameSource(prev[i], next[i]) {
			diffs = append(diffs, Difference{Type: ChangeSource, Pointer: pointer})
			continue
		}
		for j := range prev[i].StreamSets {
			ps, ns := prev[i].StreamSets[j], next[i].StreamSets[j]
			if ps.StreamStats != ns.StreamStats {
				diffs = append(diffs, Difference{Type: ChangeStreamStats, Pointer: pointer + "/streamSets/" + ns.Slug})
			}
		}
	}
	return diffs
}

// sameSource compares sources ignoring stream statistics and update hashes,
// which change on every inspection of a live source.
func sameSource(a, b *packagefile.Source) bool {
	if a.Slug != b.Slug || a.Type != b.Type || a.CredentialsIdentifier != b.CredentialsIdentifier {
		return false
	}
	if !sameJSON(a.ConnectionConfiguration, b.ConnectionConfiguration) || !sameJSON(a.Configuration, b.Configuration) {
		return false
	}
	if len(a.StreamSets) != len(b.StreamSets) {
		return false
	}
	for i := range a.StreamSets {
		as, bs := a.StreamSets[i], b.StreamSets[i]
		if as.Slug != bs.Slug || !reflect.DeepEqual(as.SchemaTitles, bs.SchemaTitles) || !sameJSON(as.Configuration, bs.Configuration) {
			return false
		}
	}
	return true
}

// sameJSON compares values by their JSON encoding, so numbers decoded from a
// package file compare equal to the integers they were written from.
func sameJSON(a, b interface{}) bool {
	if isEmpty(a) && isEmpty(b) {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		return rv.Len() == 0
	}
	return false
}
