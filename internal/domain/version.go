package domain

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const DefaultArtifactVersion = "0.0.0"

// ParseVersion coerces a version identifier into canonical semver form.
func ParseVersion(value string) (string, error) {
	if value == "" {
		value = DefaultArtifactVersion
	}
	v, err := semver.NewVersion(value)
	if err != nil {
		return "", fmt.Errorf("invalid version %q: %w", value, err)
	}
	return v.String(), nil
}

// CompareVersions orders two canonical version identifiers. It returns
// -1, 0 or 1; unparseable input falls back to lexical comparison so
// ordering stays total.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	return va.Compare(vb)
}
