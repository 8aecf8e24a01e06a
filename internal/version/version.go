// Package version parses, normalizes and orders NuGet package versions.
//
// NuGet versions are SemVer 2.0 with two legacy extensions: an optional fourth numeric
// segment and case-insensitive comparison. Parsing and precedence are delegated to
// hashicorp/go-version; this package adds the NuGet normalization rules on top.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// ErrInvalid is returned when a string is not a valid NuGet version.
var ErrInvalid = errors.New("invalid version")

// Version is a parsed NuGet version.
type Version struct {
	v          *goversion.Version
	original   string
	segments   []int
	prerelease string
	metadata   string
}

// Parse parses a NuGet version string such as "1.0", "1.2.3.4" or "2.0.0-beta.1+sha.abc".
func Parse(s string) (*Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalid)
	}
	// go-version tolerates a leading "v", NuGet does not
	if raw[0] == 'v' || raw[0] == 'V' {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	v, err := goversion.NewVersion(strings.ToLower(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	// go-version pads missing segments to three; count what was actually written
	core := raw
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	n := strings.Count(core, ".") + 1
	if n > 4 {
		return nil, fmt.Errorf("%w: %q has more than four segments", ErrInvalid, s)
	}

	segs := v.Segments()
	if len(segs) < 3 {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if n == 4 {
		segs = segs[:4]
	} else {
		segs = segs[:3]
	}

	return &Version{
		v:          v,
		original:   raw,
		segments:   segs,
		prerelease: v.Prerelease(),
		metadata:   v.Metadata(),
	}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) *Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Original returns the string the version was parsed from.
func (v *Version) Original() string {
	return v.original
}

// Normalized returns the canonical, lowercase form used for storage keys and URLs:
// leading zeros are stripped, a zero fourth segment is dropped and build metadata is removed.
func (v *Version) Normalized() string {
	var b strings.Builder
	for i, seg := range v.segments {
		if i == 3 && seg == 0 {
			break
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(seg))
	}
	if v.prerelease != "" {
		b.WriteByte('-')
		b.WriteString(v.prerelease)
	}
	return strings.ToLower(b.String())
}

// Full returns the normalized form with build metadata appended when present.
func (v *Version) Full() string {
	if v.metadata == "" {
		return v.Normalized()
	}
	return v.Normalized() + "+" + strings.ToLower(v.metadata)
}

// IsPrerelease reports whether the version has a prerelease label.
func (v *Version) IsPrerelease() bool {
	return v.prerelease != ""
}

// SemVerLevel returns 2 when the version needs a SemVer 2.0 aware client
// (dotted prerelease labels or build metadata) and 0 otherwise.
func (v *Version) SemVerLevel() int {
	if v.metadata != "" || strings.Contains(v.prerelease, ".") {
		return 2
	}
	return 0
}

// Compare returns -1, 0 or 1 comparing v to other by NuGet precedence.
func (v *Version) Compare(other *Version) int {
	return v.v.Compare(other.v)
}

func (v *Version) String() string {
	return v.Normalized()
}

// Normalize parses s and returns its normalized form.
func Normalize(s string) (string, error) {
	v, err := Parse(s)
	if err != nil {
		return "", err
	}
	return v.Normalized(), nil
}

// Compare compares two version strings. Unparseable strings sort before valid
// ones and are compared lexically among themselves, so sorting never fails.
func Compare(a, b string) int {
	va, errA := Parse(a)
	vb, errB := Parse(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}
