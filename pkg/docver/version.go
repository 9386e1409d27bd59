// Package docver implements document version identifiers.
//
// Documents carry two kinds of version lines: prototype versions are
// letter-suffixed ("vA" through "vZ") and are used before the first
// production release; production versions are number-suffixed ("v1"
// through "v999"). The two kinds are never compared against each other;
// callers that need a total display order partition by kind first, with
// prototype versions sorting before production versions.
package docver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the version line a version belongs to.
type Kind string

const (
	// KindPrototype identifies the pre-production, letter-suffixed line.
	KindPrototype Kind = "prototype"

	// KindProduction identifies the post-release, number-suffixed line.
	KindProduction Kind = "production"
)

const (
	// maxPrototypeOrdinal is the ordinal of "vZ".
	maxPrototypeOrdinal = 26

	// maxProductionOrdinal is the ordinal of "v999".
	maxProductionOrdinal = 999
)

var (
	// ErrInvalidVersion is returned when a string cannot be parsed as a
	// version identifier.
	ErrInvalidVersion = errors.New("invalid version identifier")

	// ErrVersionLimitExceeded is returned by Next when the version line is
	// exhausted ("vZ" for prototype, "v999" for production).
	ErrVersionLimitExceeded = errors.New("version limit exceeded")

	// ErrVersionKindMismatch is returned by Next when the current version's
	// kind disagrees with the requested production flag.
	ErrVersionKindMismatch = errors.New("version kind mismatch")

	// ErrIncompatibleVersionKinds is returned by Compare when the two
	// versions belong to different lines.
	ErrIncompatibleVersionKinds = errors.New("incompatible version kinds")
)

// Version is an immutable, parsed version identifier.
type Version struct {
	kind    Kind
	ordinal int
}

// Parse parses a version string such as "vA" or "v12".
func Parse(s string) (Version, error) {
	if len(s) < 2 || s[0] != 'v' {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	suffix := s[1:]

	// Prototype: a single uppercase letter.
	if len(suffix) == 1 && suffix[0] >= 'A' && suffix[0] <= 'Z' {
		return Version{
			kind:    KindPrototype,
			ordinal: int(suffix[0]-'A') + 1,
		}, nil
	}

	// Production: one or more digits.
	if strings.IndexFunc(suffix, func(r rune) bool { return r < '0' || r > '9' }) != -1 {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 1 || n > maxProductionOrdinal {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	return Version{kind: KindProduction, ordinal: n}, nil
}

// MustParse parses a version string and panics on failure. Intended for
// constants and tests.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Initial returns the first version of a line: "vA" for prototype,
// "v1" for production.
func Initial(isProduction bool) Version {
	if isProduction {
		return Version{kind: KindProduction, ordinal: 1}
	}
	return Version{kind: KindPrototype, ordinal: 1}
}

// Next returns the version following current within the same line.
// isProduction must agree with the current version's kind.
func Next(current Version, isProduction bool) (Version, error) {
	if isProduction != (current.kind == KindProduction) {
		return Version{}, fmt.Errorf("%w: %s is %s", ErrVersionKindMismatch,
			current, current.kind)
	}

	switch current.kind {
	case KindPrototype:
		if current.ordinal >= maxPrototypeOrdinal {
			return Version{}, fmt.Errorf("%w: %s", ErrVersionLimitExceeded, current)
		}
	case KindProduction:
		if current.ordinal >= maxProductionOrdinal {
			return Version{}, fmt.Errorf("%w: %s", ErrVersionLimitExceeded, current)
		}
	}

	return Version{kind: current.kind, ordinal: current.ordinal + 1}, nil
}

// Compare returns -1, 0, or 1 ordering a relative to b. Comparing versions
// of different kinds is undefined and returns ErrIncompatibleVersionKinds.
func Compare(a, b Version) (int, error) {
	if a.kind != b.kind {
		return 0, fmt.Errorf("%w: %s vs %s", ErrIncompatibleVersionKinds, a, b)
	}
	switch {
	case a.ordinal < b.ordinal:
		return -1, nil
	case a.ordinal > b.ordinal:
		return 1, nil
	default:
		return 0, nil
	}
}

// Kind returns the version line this version belongs to.
func (v Version) Kind() Kind {
	return v.kind
}

// Ordinal returns the 1-based position within the version line.
func (v Version) Ordinal() int {
	return v.ordinal
}

// IsProduction returns true for number-suffixed versions.
func (v Version) IsProduction() bool {
	return v.kind == KindProduction
}

// IsZero returns true for the zero Version.
func (v Version) IsZero() bool {
	return v.kind == "" && v.ordinal == 0
}

// String renders the canonical version string ("vA", "v12").
func (v Version) String() string {
	switch v.kind {
	case KindPrototype:
		return "v" + string(rune('A'+v.ordinal-1))
	case KindProduction:
		return "v" + strconv.Itoa(v.ordinal)
	default:
		return ""
	}
}
