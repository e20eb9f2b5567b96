package schema

// DefaultSampleSize is the number of sample records kept per schema.
const DefaultSampleSize = 100

// ContentDetector accumulates evidence that a property holds a kind of
// content. Detectors are stateful and used for a single property.
type ContentDetector interface {
	// Name identifies the detector in label attribution.
	Name() string
	ApplicableTypes() []ValueType
	// InspectValue receives a normalized value of an applicable type.
	InspectValue(v interface{})
	OccurrenceCount() int64
	ValueTestCount() int64
	// LabelsFor returns the labels to apply. It returns none when no
	// occurrence was recorded.
	LabelsFor(propertyName string, existing []ContentLabel) []ContentLabel
}

// DetectorFactory creates a detector for the named property, or nil when the
// detector does not apply to it.
type DetectorFactory func(propertyName string) ContentDetector

// Confidence is the share of tested values a detector matched.
func Confidence(d ContentDetector) float64 {
	if d.ValueTestCount() == 0 {
		return 0
	}
	return float64(d.OccurrenceCount()) / float64(d.ValueTestCount())
}

// InspectorOptions tune an Inspector.
type InspectorOptions struct {
	// SampleSize bounds the sample records kept, DefaultSampleSize when zero
	SampleSize int
	// MaxRecords stops inspection after this many records; later records are
	// only counted. Zero inspects everything.
	MaxRecords int64
	// Detectors run in slice order for every property
	Detectors []DetectorFactory
}

type propertyInspection struct {
	property  *Property
	detectors []ContentDetector
	applies   [][]ValueType
}

// Inspector infers a Schema from records fed to it one at a time.
// It is not safe for concurrent use.
type Inspector struct {
	title   string
	opts    InspectorOptions
	order   []string
	props   map[string]*propertyInspection
	samples []map[string]interface{}

	records   int64
	inspected int64
}

// NewInspector creates an inspector for the schema named title.
func NewInspector(title string, opts InspectorOptions) *Inspector {
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	return &Inspector{
		title: title,
		opts:  opts,
		props: make(map[string]*propertyInspection),
	}
}

// InspectRecord classifies the values of one record. keys gives the column
// order; properties appear in the schema in first seen order.
func (i *Inspector) InspectRecord(keys []string, values map[string]interface{}) {
	i.records++
	if i.opts.MaxRecords > 0 && i.inspected >= i.opts.MaxRecords {
		return
	}
	i.inspected++

	for _, key := range keys {
		pi := i.property(key)
		t, normalized, ok := Classify(values[key])
		if !ok {
			pi.property.NullCount++
			continue
		}
		stats, exists := pi.property.ValueTypes[t]
		if !exists {
			stats = &ValueTypeStats{}
			pi.property.ValueTypes[t] = stats
		}
		stats.observe(t, normalized)

		for n, d := range pi.detectors {
			if appliesTo(pi.applies[n], t) {
				d.InspectValue(normalized)
			}
		}
	}

	if len(i.samples) < i.opts.SampleSize {
		sample := make(map[string]interface{}, len(keys))
		for _, key := range keys {
			sample[key] = values[key]
		}
		i.samples = append(i.samples, sample)
	}
}

func (i *Inspector) property(name string) *propertyInspection {
	if pi, ok := i.props[name]; ok {
		return pi
	}
	pi := &propertyInspection{
		property: &Property{Name: name, ValueTypes: make(map[ValueType]*ValueTypeStats)},
	}
	for _, factory := range i.opts.Detectors {
		d := factory(name)
		if d == nil {
			continue
		}
		pi.detectors = append(pi.detectors, d)
		pi.applies = append(pi.applies, d.ApplicableTypes())
	}
	i.props[name] = pi
	i.order = append(i.order, name)
	return pi
}

func appliesTo(types []ValueType, t ValueType) bool {
	for _, a := range types {
		if a == t {
			return true
		}
	}
	return false
}

// RecordCount is the number of records seen so far.
func (i *Inspector) RecordCount() int64 { return i.records }

// Detectors returns the detectors created for a property, in run order.
func (i *Inspector) Detectors(property string) []ContentDetector {
	if pi, ok := i.props[property]; ok {
		return pi.detectors
	}
	return nil
}

// Schema collects labels from every detector and returns the inferred schema.
func (i *Inspector) Schema() *Schema {
	s := &Schema{
		Title:         i.title,
		Properties:    make([]*Property, 0, len(i.order)),
		SampleRecords: i.samples,
		RecordCount:   i.records,
	}
	if i.inspected < i.records {
		s.RecordsInspected = i.inspected
	}
	for _, name := range i.order {
		pi := i.props[name]
		p := pi.property
		p.ContentLabels = nil
		for _, d := range pi.detectors {
			if d.OccurrenceCount() == 0 {
				continue
			}
			p.ContentLabels = append(p.ContentLabels, d.LabelsFor(name, p.ContentLabels)...)
		}
		s.Properties = append(s.Properties, p)
	}
	return s
}

// MergeSchemas folds schemas sharing a title into one, keeping the order of
// first appearance. Statistics and null counts are summed; samples are kept
// up to sampleSize.
func MergeSchemas(schemas []*Schema, sampleSize int) []*Schema {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	var out []*Schema
	byTitle := make(map[string]*Schema)
	for _, s := range schemas {
		existing, ok := byTitle[s.Title]
		if !ok {
			byTitle[s.Title] = s
			out = append(out, s)
			continue
		}
		existing.RecordCount += s.RecordCount
		existing.RecordsInspected += s.RecordsInspected
		for _, rec := range s.SampleRecords {
			if len(existing.SampleRecords) >= sampleSize {
				break
			}
			existing.SampleRecords = append(existing.SampleRecords, rec)
		}
		for _, p := range s.Properties {
			ep := existing.Property(p.Name)
			if ep == nil {
				existing.Properties = append(existing.Properties, p)
				continue
			}
			mergeProperty(ep, p)
		}
	}
	return out
}

func mergeProperty(dst, src *Property) {
	dst.NullCount += src.NullCount
	for t, st := range src.ValueTypes {
		d, ok := dst.ValueTypes[t]
		if !ok {
			dst.ValueTypes[t] = st
			continue
		}
		d.Count += st.Count
		if st.StringMinLength != nil && (d.StringMinLength == nil || *st.StringMinLength < *d.StringMinLength) {
			d.StringMinLength = st.StringMinLength
		}
		if st.StringMaxLength != nil && (d.StringMaxLength == nil || *st.StringMaxLength > *d.StringMaxLength) {
			d.StringMaxLength = st.StringMaxLength
		}
		if st.NumberMin != nil && (d.NumberMin == nil || CompareNumbers(*st.NumberMin, *d.NumberMin) < 0) {
			d.NumberMin = st.NumberMin
		}
		if st.NumberMax != nil && (d.NumberMax == nil || CompareNumbers(*st.NumberMax, *d.NumberMax) > 0) {
			d.NumberMax = st.NumberMax
		}
		if st.NumberMaxPrecision != nil && (d.NumberMaxPrecision == nil || *st.NumberMaxPrecision > *d.NumberMaxPrecision) {
			d.NumberMaxPrecision = st.NumberMaxPrecision
		}
		if st.DateMin != "" && (d.DateMin == "" || st.DateMin < d.DateMin) {
			d.DateMin = st.DateMin
		}
		if st.DateMax != "" && (d.DateMax == "" || st.DateMax > d.DateMax) {
			d.DateMax = st.DateMax
		}
	}
	for _, l := range src.ContentLabels {
		found := false
		for n := range dst.ContentLabels {
			if dst.ContentLabels[n].Label == l.Label {
				dst.ContentLabels[n].OccurrenceCount += l.OccurrenceCount
				found = true
				break
			}
		}
		if !found {
			dst.ContentLabels = append(dst.ContentLabels, l)
		}
	}
}
