// Package protocol implements validation, key extraction and normalization
// for the two line-oriented metric formats the relay accepts: statsd
// (KEY:VALUE|TYPE[|@SAMPLE]) and carbon (KEY VALUE TIMESTAMP).
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package protocol

import (
	"bytes"
	"fmt"
	"strconv"
)

var statsdTypes = map[string]struct{}{
	"c":  {},
	"ms": {},
	"kv": {},
	"g":  {},
	"h":  {},
	"s":  {},
}

// StatsdKey returns the routing key (everything before the first ':') of a
// statsd line, or an error if no ':' is present.
func StatsdKey(line []byte) ([]byte, error) {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return nil, fmt.Errorf("protocol: statsd line missing ':'")
	}
	return line[:i], nil
}

// ValidateStatsd checks line against the statsd wire format:
// KEY:VALUE|TYPE[|@SAMPLE]. TYPE must be one of c, ms, kv, g, h, s. A
// trailing "|@RATE" segment is optional, but if a second '|' is present at
// all it must be followed by "@" and a non-empty, numeric sample rate.
func ValidateStatsd(line []byte) error {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}

	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return fmt.Errorf("protocol: invalid statsd line %q: missing ':'", line)
	}
	if colon < 1 {
		return fmt.Errorf("protocol: invalid statsd line %q: zero length key", line)
	}

	rest := line[colon+1:]
	if _, err := strconv.ParseFloat(string(firstToken(rest, '|')), 64); err != nil {
		return fmt.Errorf("protocol: invalid statsd line %q: unable to parse value as a number", line)
	}

	bar1 := bytes.IndexByte(rest, '|')
	if bar1 < 0 {
		return fmt.Errorf("protocol: invalid statsd line %q: missing '|'", line)
	}
	rest = rest[bar1+1:]

	bar2 := bytes.IndexByte(rest, '|')
	typ := rest
	if bar2 >= 0 {
		typ = rest[:bar2]
	}
	if _, ok := statsdTypes[string(typ)]; !ok {
		return fmt.Errorf("protocol: invalid statsd line %q: unknown stat type %q", line, typ)
	}

	if bar2 >= 0 {
		tail := rest[bar2+1:]
		if len(tail) == 0 || tail[0] != '@' {
			return fmt.Errorf("protocol: invalid statsd line %q: no '@' sample rate specifier", line)
		}
		rate := tail[1:]
		if len(rate) == 0 {
			return fmt.Errorf("protocol: invalid statsd line %q: '@' sample with no rate", line)
		}
		if _, err := strconv.ParseFloat(string(rate), 64); err != nil {
			return fmt.Errorf("protocol: invalid statsd line %q: invalid sample rate", line)
		}
	}
	return nil
}

// firstToken returns the portion of b before the first occurrence of sep,
// or all of b if sep does not occur.
func firstToken(b []byte, sep byte) []byte {
	if i := bytes.IndexByte(b, sep); i >= 0 {
		return b[:i]
	}
	return b
}
