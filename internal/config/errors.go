package config

import "fmt"

// UnknownKeyError is returned when an override layer addresses a key that
// does not exist in the lower-precedence layers and is not covered by an
// extensible subtree. Typos in override keys fail fast instead of silently
// creating orphan configuration.
type UnknownKeyError struct {
	Path Path
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("unknown configuration key %q: not present in the base configuration and not under an extensible subtree", e.Path.String())
}

// BadOverrideError is returned when an override expression cannot be parsed
// or its value cannot be applied to the existing key.
type BadOverrideError struct {
	Raw    string
	Reason error
}

func (e *BadOverrideError) Error() string {
	return fmt.Sprintf("invalid override %q: %v", e.Raw, e.Reason)
}

func (e *BadOverrideError) Unwrap() error { return e.Reason }
