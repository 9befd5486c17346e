// Package version provides engagement structure version parsing and
// compatibility checks.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the engagement structure version emitted by this library.
const Current = "1.0"

// Version represents a parsed "major.minor" engagement version.
type Version struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return Version{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return Version{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return Version{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return Version{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String returns the version as "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major
// version. Minor revisions only add optional structures.
func (v Version) Compatible(other Version) bool {
	return v.Major == other.Major
}

// CompatibleWithCurrent reports whether a peer's engagement version
// can be processed by this library.
func CompatibleWithCurrent(s string) bool {
	v, err := Parse(s)
	if err != nil {
		return false
	}
	current, err := Parse(Current)
	if err != nil {
		return false
	}
	return current.Compatible(v)
}
