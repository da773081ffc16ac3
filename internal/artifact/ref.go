package artifact

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Version is a store-assigned, per-name monotonic artifact version.
type Version int64

// String renders the version in the canonical "v3" form.
func (v Version) String() string { return fmt.Sprintf("v%d", v) }

// Well-known tags. "latest" is maintained by the store itself and always
// points at the most recently written version of a namesake. Promotion
// tags like "production-ready" move only when a caller retags.
const (
	TagLatest     = "latest"
	TagProduction = "production-ready"
)

var (
	nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	tagRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9._-]*$`)
)

// Ref is a parsed artifact reference. Exactly one of Version or Tag is set
// once a reference is qualified.
type Ref struct {
	Name    string
	Version Version
	Tag     string
}

// ParseRef parses "<name>:<version>" or "<name>:<tag>" reference syntax.
// A bare "<name>" yields UnqualifiedRefError: the caller must state which
// version it means. Version qualifiers are numeric with an optional "v"
// prefix; anything else is treated as a tag.
func ParseRef(s string) (Ref, error) {
	name, qual, qualified := strings.Cut(s, ":")
	if name == "" {
		return Ref{}, &ValidationError{Reason: fmt.Sprintf("artifact reference %q has an empty name", s)}
	}
	if !nameRe.MatchString(name) {
		return Ref{}, &ValidationError{Reason: fmt.Sprintf("invalid artifact name %q", name)}
	}
	if !qualified {
		return Ref{}, &UnqualifiedRefError{Ref: s}
	}
	if qual == "" {
		return Ref{}, &ValidationError{Reason: fmt.Sprintf("artifact reference %q has an empty qualifier", s)}
	}

	if v, ok := parseVersionQualifier(qual); ok {
		if v <= 0 {
			return Ref{}, &ValidationError{Reason: fmt.Sprintf("artifact version in %q must be positive", s)}
		}
		return Ref{Name: name, Version: v}, nil
	}
	if !tagRe.MatchString(qual) {
		return Ref{}, &ValidationError{Reason: fmt.Sprintf("invalid tag %q in artifact reference %q", qual, s)}
	}
	return Ref{Name: name, Tag: qual}, nil
}

// MustParseRef is ParseRef for statically known references.
func MustParseRef(s string) Ref {
	r, err := ParseRef(s)
	if err != nil {
		panic(err)
	}
	return r
}

func parseVersionQualifier(qual string) (Version, bool) {
	trimmed := strings.TrimPrefix(qual, "v")
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}
	return Version(n), true
}

// String renders the reference back to "<name>:<qualifier>" form.
func (r Ref) String() string {
	if r.Tag != "" {
		return r.Name + ":" + r.Tag
	}
	return r.Name + ":" + r.Version.String()
}

// ByVersion reports whether the reference pins an exact version rather
// than a movable tag.
func (r Ref) ByVersion() bool { return r.Tag == "" }

// ExactRef builds a version-pinned reference.
func ExactRef(name string, version Version) Ref {
	return Ref{Name: name, Version: version}
}

// ValidateName checks an artifact name outside of reference syntax, used
// when steps declare what they produce.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return &ValidationError{Reason: fmt.Sprintf("invalid artifact name %q: letters, digits, dot, underscore and dash only", name)}
	}
	if strings.Contains(name, ":") {
		return &ValidationError{Reason: fmt.Sprintf("artifact name %q must not contain a version qualifier", name)}
	}
	return nil
}

// ValidateTag checks a tag for use in retag operations. The "latest" tag is
// store-maintained and cannot be assigned manually, and tags that parse as
// versions would make references ambiguous.
func ValidateTag(tag string) error {
	if tag == TagLatest {
		return &ValidationError{Reason: `the "latest" tag is maintained by the store and cannot be assigned`}
	}
	if !tagRe.MatchString(tag) {
		return &ValidationError{Reason: fmt.Sprintf("invalid tag %q: must start with a letter", tag)}
	}
	if _, isVersion := parseVersionQualifier(tag); isVersion {
		return &ValidationError{Reason: fmt.Sprintf("tag %q would be ambiguous with a version qualifier", tag)}
	}
	return nil
}
