// Package ingress turns raw TCP/UDP input into validated, keyed,
// sharded lines relayed to backend clients, and intercepts the literal
// "status\n" command on TCP sessions.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ingress

import (
	"github.com/momentics/statsrelay/internal/protocol"
)

// Protocol binds a line format's validator, key extractor and (optional)
// key normalizer together, so Pipeline stays format-agnostic.
type Protocol struct {
	Name       string
	validate   func([]byte) error
	extractKey func([]byte) ([]byte, error)
	normalize  func([]byte) []byte
}

// NewStatsdProtocol builds the statsd line protocol. When validateLines is
// false the validator step is skipped, matching the reference
// implementation's validate_lines=0 configuration.
func NewStatsdProtocol(validateLines bool) *Protocol {
	p := &Protocol{Name: "statsd", extractKey: protocol.StatsdKey}
	if validateLines {
		p.validate = protocol.ValidateStatsd
	}
	return p
}

// NewCarbonProtocol builds the carbon line protocol, including its
// dot-collapsing key normalizer.
func NewCarbonProtocol(validateLines bool) *Protocol {
	p := &Protocol{
		Name:       "carbon",
		extractKey: protocol.CarbonKey,
		normalize:  protocol.NormalizeCarbon,
	}
	if validateLines {
		p.validate = protocol.ValidateCarbon
	}
	return p
}
