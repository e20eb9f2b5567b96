package diff

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver"

	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// Compatibility is the severity of a set of differences. Higher is worse.
type Compatibility int

const (
	Cosmetic Compatibility = iota
	Compatible
	Breaking
)

func (c Compatibility) String() string {
	switch c {
	case Breaking:
		return "BREAKING"
	case Compatible:
		return "COMPATIBLE"
	default:
		return "COSMETIC"
	}
}

// Compatibility returns the severity of a single difference.
func (d Difference) Compatibility() Compatibility {
	switch d.Type {
	case RemoveSchema, RemoveProperty, ChangePropertyType:
		return Breaking
	case AddSchema, AddProperty:
		return Compatible
	default:
		return Cosmetic
	}
}

// Classify reduces differences to the worst severity among them. An empty
// list is Cosmetic.
func Classify(diffs []Difference) Compatibility {
	worst := Cosmetic
	for _, d := range diffs {
		if c := d.Compatibility(); c > worst {
			worst = c
		}
	}
	return worst
}

// NextVersion returns the smallest version above current allowed for c.
func NextVersion(current *semver.Version, c Compatibility) *semver.Version {
	var next semver.Version
	switch c {
	case Breaking:
		next = current.IncMajor()
	case Compatible:
		next = current.IncMinor()
	default:
		next = current.IncPatch()
	}
	return &next
}

// NextVersionString parses current and returns the next version as a string.
func NextVersionString(current string, c Compatibility) (string, error) {
	v, err := semver.NewVersion(current)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeValidation, fmt.Sprintf("invalid version %q", current))
	}
	return NextVersion(v, c).String(), nil
}

// DifferenceString renders a difference for people.
func DifferenceString(d Difference) string {
	switch d.Type {
	case AddSchema:
		return "Added schema " + d.Pointer
	case RemoveSchema:
		return "Removed schema " + d.Pointer
	case AddProperty:
		return "Added property " + d.Pointer
	case RemoveProperty:
		return "Removed property " + d.Pointer
	case ChangePropertyType:
		return "Changed property type " + d.Pointer
	case ChangePackageDescription:
		return "Changed package description"
	case ChangePackageDisplayName:
		return "Changed package display name"
	case ChangeReadme:
		return "Changed README"
	case ChangeLicense:
		return "Changed LICENSE"
	default:
		words := strings.Fields(strings.ToLower(strings.ReplaceAll(string(d.Type), "_", " ")))
		if len(words) > 0 {
			words[0] = strings.ToUpper(words[0][:1]) + words[0][1:] + "d"
		}
		return strings.Join(words, " ") + " " + d.Pointer
	}
}
