// Package address represents and validates the endpoint identity used for
// every message in the system: a node name plus a process identity.
//
// Textual form:
//
//	node@process:package:publisher
//
// All four segments are mandatory and may not contain the separator
// characters. Parse and String are exact inverses on well-formed input.
package address

import (
	"fmt"
	"strings"
)

const (
	// NodeSeparator splits the node name from the process identity.
	NodeSeparator = "@"
	// SegmentSeparator splits process, package, and publisher.
	SegmentSeparator = ":"
	// Wildcard matches any value for a segment in pattern matching.
	Wildcard = "*"
)

// Address identifies a message endpoint: one process on one node.
type Address struct {
	Node      string
	Process   string
	Package   string
	Publisher string
}

// MalformedAddressError reports why an address failed to parse or validate.
type MalformedAddressError struct {
	Text   string
	Reason string
}

func (e *MalformedAddressError) Error() string {
	return fmt.Sprintf("malformed address %q: %s", e.Text, e.Reason)
}

// Parse parses "node@process:package:publisher" into an Address.
// It never truncates: any missing or empty segment is an error.
func Parse(text string) (Address, error) {
	node, rest, ok := strings.Cut(text, NodeSeparator)
	if !ok {
		return Address{}, &MalformedAddressError{Text: text, Reason: "missing node separator"}
	}
	if strings.Contains(rest, NodeSeparator) {
		return Address{}, &MalformedAddressError{Text: text, Reason: "multiple node separators"}
	}
	segments := strings.Split(rest, SegmentSeparator)
	if len(segments) != 3 {
		return Address{}, &MalformedAddressError{
			Text:   text,
			Reason: fmt.Sprintf("expected 3 process segments, got %d", len(segments)),
		}
	}
	a := Address{
		Node:      node,
		Process:   segments[0],
		Package:   segments[1],
		Publisher: segments[2],
	}
	if err := a.Validate(); err != nil {
		return Address{}, &MalformedAddressError{Text: text, Reason: err.Error()}
	}
	return a, nil
}

// MustParse is Parse for addresses known valid at compile time (tests, constants).
func MustParse(text string) Address {
	a, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return a
}

// Validate checks the structural invariant: all segments non-empty and free
// of separator characters.
func (a Address) Validate() error {
	for _, seg := range []struct {
		name, value string
	}{
		{"node", a.Node},
		{"process", a.Process},
		{"package", a.Package},
		{"publisher", a.Publisher},
	} {
		if seg.value == "" {
			return fmt.Errorf("empty %s segment", seg.name)
		}
		if strings.ContainsAny(seg.value, NodeSeparator+SegmentSeparator) {
			return fmt.Errorf("%s segment contains separator", seg.name)
		}
	}
	return nil
}

// String formats the address back to its textual form. For any valid input,
// Parse(a.String()) returns a again.
func (a Address) String() string {
	return a.Node + NodeSeparator + a.Process + SegmentSeparator + a.Package + SegmentSeparator + a.Publisher
}

// ProcessID returns the node-independent "process:package:publisher" part.
func (a Address) ProcessID() string {
	return a.Process + SegmentSeparator + a.Package + SegmentSeparator + a.Publisher
}

// Matches reports whether a matches the pattern. A pattern is an Address
// whose segments may be the Wildcard; wildcard segments match anything.
// Used for capability-scoped matching.
func (a Address) Matches(pattern Address) bool {
	return segmentMatches(pattern.Node, a.Node) &&
		segmentMatches(pattern.Process, a.Process) &&
		segmentMatches(pattern.Package, a.Package) &&
		segmentMatches(pattern.Publisher, a.Publisher)
}

func segmentMatches(pattern, value string) bool {
	return pattern == Wildcard || pattern == value
}
