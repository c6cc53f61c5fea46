// Package mrn checks the syntax of Maritime Resource Names.
package mrn

import (
	"fmt"
	"regexp"
)

// Scheme selects how strictly an MRN is checked.
type Scheme int

const (
	// Any accepts every urn:mrn: identifier.
	Any Scheme = iota
	// MCP accepts only certified identities issued under urn:mrn:mcp:id:.
	MCP
)

var patterns = map[Scheme]*regexp.Regexp{
	Any: regexp.MustCompile(`^urn:mrn:[^\s]+$`),
	MCP: regexp.MustCompile(`^urn:mrn:mcp:id:[^\s]+$`),
}

func (s Scheme) String() string {
	switch s {
	case Any:
		return "MRN"
	case MCP:
		return "MCP"
	default:
		return "Unknown"
	}
}

// Validate returns an error if str is not a valid identifier under the scheme.
func Validate(str string, scheme Scheme) error {
	pattern, ok := patterns[scheme]
	if !ok {
		return fmt.Errorf("unknown mrn scheme %d", scheme)
	}
	if !pattern.MatchString(str) {
		return fmt.Errorf("%s is not a valid %s mrn", str, scheme)
	}
	return nil
}

// IsValid reports whether str is valid under the scheme.
func IsValid(str string, scheme Scheme) bool {
	return Validate(str, scheme) == nil
}
