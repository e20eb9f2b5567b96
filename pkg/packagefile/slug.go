package packagefile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ajitpratap0/datapkg/pkg/errors"
)

const (
	maxCatalogSlugLength = 39
	maxPackageSlugLength = 38
)

var packageSlugPattern = regexp.MustCompile(`^[a-z0-9]+(?:(?:(?:[._]|__|[-]*)[a-z0-9]+)+)?$`)

// ValidateCatalogSlug accepts lower case letters, digits and single hyphens
// between them, up to 39 characters.
func ValidateCatalogSlug(slug string) error {
	if slug == "" {
		return errors.New(errors.ErrorTypeValidation, "catalog slug is required")
	}
	if len(slug) > maxCatalogSlugLength {
		return invalidSlug("catalog", slug, fmt.Sprintf("longer than %d characters", maxCatalogSlugLength))
	}
	for i := 0; i < len(slug); i++ {
		c := slug[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-':
			if i == 0 || i == len(slug)-1 || slug[i+1] == '-' {
				return invalidSlug("catalog", slug, "hyphens must separate letters or digits")
			}
		default:
			return invalidSlug("catalog", slug, "only lower case letters, digits and hyphens are allowed")
		}
	}
	return nil
}

// ValidatePackageSlug accepts lower case letters and digits separated by
// '.', '_', '__' or runs of '-', up to 38 characters.
func ValidatePackageSlug(slug string) error {
	if slug == "" {
		return errors.New(errors.ErrorTypeValidation, "package slug is required")
	}
	if len(slug) > maxPackageSlugLength {
		return invalidSlug("package", slug, fmt.Sprintf("longer than %d characters", maxPackageSlugLength))
	}
	if !packageSlugPattern.MatchString(slug) {
		return invalidSlug("package", slug, "only lower case letters, digits and separators are allowed")
	}
	return nil
}

// Slugify derives a package slug candidate from free text.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > maxPackageSlugLength {
		out = strings.TrimRight(out[:maxPackageSlugLength], "-")
	}
	return out
}

func invalidSlug(kind, slug, reason string) error {
	return errors.New(errors.ErrorTypeValidation, fmt.Sprintf("invalid %s slug %q: %s", kind, slug, reason)).
		WithDetail("slug", slug)
}
