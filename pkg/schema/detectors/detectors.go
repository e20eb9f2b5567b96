// Package detectors provides the built-in content detectors used during
// schema inference.
//
// Detectors are listed by Default in the order they run for every property.
// Some detectors only apply to properties with a matching name, e.g. the
// date of birth detector only looks at date values of a "birth_date" column.
package detectors

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/datapkg/pkg/schema"
)

// Content labels applied by the built-in detectors.
const (
	LabelEmailAddress         = "email_address"
	LabelPhoneNumber          = "phone_number"
	LabelCreditCardNumber     = "credit_card_number"
	LabelSocialSecurityNumber = "social_security_number"
	LabelIPAddress            = "ip_address"
	LabelURL                  = "url"
	LabelPersonName           = "person_name"
	LabelDateOfBirth          = "date_of_birth"
	LabelGeoLatitude          = "geo_latitude"
	LabelGeoLongitude         = "geo_longitude"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ().\-]{5,22}[0-9]$`)
	ssnPattern   = regexp.MustCompile(`^(\d{3})-(\d{2})-(\d{4})$`)
	cardPattern  = regexp.MustCompile(`^[0-9][0-9 \-]{11,21}[0-9]$`)

	dateOfBirthName = regexp.MustCompile(`(?i)(birth|dob|born)`)
	latitudeName    = regexp.MustCompile(`(?i)^(lat|latitude)$|_lat$|_latitude$|^lat_|^latitude_`)
	longitudeName   = regexp.MustCompile(`(?i)^(lon|lng|long|longitude)$|_(lon|lng|longitude)$|^(lon|lng|longitude)_`)
)

// Detector counts values satisfying a predicate and labels the property
// when at least one matched.
type Detector struct {
	name  string
	label string
	types []schema.ValueType
	match func(v interface{}) bool

	tested int64
	found  int64
}

var _ schema.ContentDetector = (*Detector)(nil)

func (d *Detector) Name() string                        { return d.name }
func (d *Detector) ApplicableTypes() []schema.ValueType { return d.types }
func (d *Detector) OccurrenceCount() int64              { return d.found }
func (d *Detector) ValueTestCount() int64               { return d.tested }

// InspectValue tests one value.
func (d *Detector) InspectValue(v interface{}) {
	d.tested++
	if d.match(v) {
		d.found++
	}
}

// LabelsFor returns the detector's label when it matched anything and the
// label is not already applied.
func (d *Detector) LabelsFor(_ string, existing []schema.ContentLabel) []schema.ContentLabel {
	if d.found == 0 {
		return nil
	}
	for _, l := range existing {
		if l.Label == d.label {
			return nil
		}
	}
	return []schema.ContentLabel{{
		Label:                    d.label,
		AppliedByContentDetector: d.name,
		OccurrenceCount:          d.found,
	}}
}

// Default returns the built-in detectors in run order.
func Default() []schema.DetectorFactory {
	return []schema.DetectorFactory{
		always(NewEmailAddress),
		always(NewPhoneNumber),
		always(NewCreditCardNumber),
		always(NewSocialSecurityNumber),
		always(NewIPAddress),
		always(NewURL),
		always(NewPersonName),
		DateOfBirth,
		GeoCoordinate,
	}
}

func always(f func() *Detector) schema.DetectorFactory {
	return func(string) schema.ContentDetector { return f() }
}

func stringValue(v interface{}) (string, bool) {
	s, ok := v.(string)
	return strings.TrimSpace(s), ok
}

// NewEmailAddress detects values containing an e-mail address.
func NewEmailAddress() *Detector {
	return &Detector{
		name:  "EmailAddressDetector",
		label: LabelEmailAddress,
		types: []schema.ValueType{schema.TypeString},
		match: func(v interface{}) bool {
			s, ok := stringValue(v)
			return ok && emailPattern.MatchString(s)
		},
	}
}

// NewPhoneNumber detects formatted phone numbers. Plain digit runs are
// classified as numbers and never reach this detector.
func NewPhoneNumber() *Detector {
	return &Detector{
		name:  "PhoneNumberDetector",
		label: LabelPhoneNumber,
		types: []schema.ValueType{schema.TypeString},
		match: func(v interface{}) bool {
			s, ok := stringValue(v)
			if !ok || !phonePattern.MatchString(s) {
				return false
			}
			n := countDigits(s)
			return n >= 7 && n <= 15
		},
	}
}

// NewCreditCardNumber detects card numbers passing the Luhn check.
func NewCreditCardNumber() *Detector {
	return &Detector{
		name:  "CreditCardNumberDetector",
		label: LabelCreditCardNumber,
		types: []schema.ValueType{schema.TypeString, schema.TypeNumber},
		match: func(v interface{}) bool {
			var s string
			switch t := v.(type) {
			case string:
				s = strings.TrimSpace(t)
			case int64:
				s = strconv.FormatInt(t, 10)
			case uint64:
				s = strconv.FormatUint(t, 10)
			case float64:
				if t != float64(int64(t)) {
					return false
				}
				s = strconv.FormatInt(int64(t), 10)
			default:
				return false
			}
			if !cardPattern.MatchString(s) {
				return false
			}
			digits := onlyDigits(s)
			return len(digits) >= 13 && len(digits) <= 19 && Luhn(digits)
		},
	}
}

// Luhn reports whether a string of digits has a valid Luhn check digit.
func Luhn(digits string) bool {
	if digits == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		n := int(c - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}

// NewSocialSecurityNumber detects US social security numbers written as
// AAA-GG-SSSS, excluding ranges that are never issued.
func NewSocialSecurityNumber() *Detector {
	return &Detector{
		name:  "SocialSecurityNumberDetector",
		label: LabelSocialSecurityNumber,
		types: []schema.ValueType{schema.TypeString},
		match: func(v interface{}) bool {
			s, ok := stringValue(v)
			if !ok {
				return false
			}
			m := ssnPattern.FindStringSubmatch(s)
			if m == nil {
				return false
			}
			area, group, serial := m[1], m[2], m[3]
			return area != "000" && area != "666" && area[0] != '9' && group != "00" && serial != "0000"
		},
	}
}

// NewIPAddress detects IPv4 and IPv6 addresses.
func NewIPAddress() *Detector {
	return &Detector{
		name:  "IPAddressDetector",
		label: LabelIPAddress,
		types: []schema.ValueType{schema.TypeString},
		match: func(v interface{}) bool {
			s, ok := stringValue(v)
			return ok && strings.ContainsAny(s, ".:") && net.ParseIP(s) != nil
		},
	}
}

// NewURL detects absolute web URLs.
func NewURL() *Detector {
	return &Detector{
		name:  "URLDetector",
		label: LabelURL,
		types: []schema.ValueType{schema.TypeString},
		match: func(v interface{}) bool {
			s, ok := stringValue(v)
			if !ok || strings.ContainsAny(s, " \t\n") {
				return false
			}
			u, err := url.Parse(s)
			if err != nil || u.Host == "" {
				return false
			}
			switch strings.ToLower(u.Scheme) {
			case "http", "https", "ftp", "ftps":
				return true
			}
			return false
		},
	}
}

// NewPersonName detects values that read as a person's name. Long values are
// searched for a known first name followed by a capitalized word, then handed
// to the entity recognizer while its budget lasts.
func NewPersonName() *Detector {
	recognized := 0
	return &Detector{
		name:  "PersonNameDetector",
		label: LabelPersonName,
		types: []schema.ValueType{schema.TypeString},
		match: func(v interface{}) bool {
			s, ok := stringValue(v)
			if !ok || s == "" {
				return false
			}
			if len(s) > 40 {
				if containsPersonName(s) {
					return true
				}
				if recognized >= recognizerBudget {
					return false
				}
				recognized++
				return recognizesPerson(s)
			}
			return isPersonName(s)
		},
	}
}

// DateOfBirth creates a detector for properties whose name suggests a birth
// date. Any past date counts as an occurrence.
func DateOfBirth(propertyName string) schema.ContentDetector {
	if !dateOfBirthName.MatchString(propertyName) {
		return nil
	}
	now := time.Now()
	return &Detector{
		name:  "DateOfBirthDetector",
		label: LabelDateOfBirth,
		types: []schema.ValueType{schema.TypeDate, schema.TypeDateTime},
		match: func(v interface{}) bool {
			t, ok := v.(time.Time)
			return ok && t.Before(now) && t.Year() > 1850
		},
	}
}

// GeoCoordinate creates a latitude or longitude detector for properties named
// like one, or nil for other properties.
func GeoCoordinate(propertyName string) schema.ContentDetector {
	var label string
	var limit float64
	switch {
	case latitudeName.MatchString(propertyName):
		label, limit = LabelGeoLatitude, 90
	case longitudeName.MatchString(propertyName):
		label, limit = LabelGeoLongitude, 180
	default:
		return nil
	}
	return &Detector{
		name:  "GeoCoordinateDetector",
		label: label,
		types: []schema.ValueType{schema.TypeNumber},
		match: func(v interface{}) bool {
			var f float64
			switch n := v.(type) {
			case float64:
				f = n
			case int64:
				f = float64(n)
			case uint64:
				f = float64(n)
			default:
				return false
			}
			return f >= -limit && f <= limit
		},
	}
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
