// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package protocol

import (
	"bytes"
	"fmt"
)

var carbonPrefixes = [][]byte{
	[]byte("carbon."),
	[]byte("servers."),
	[]byte("stats."),
}

// CarbonKey returns the routing key (everything before the first space) of
// a carbon line, or an error if no space is present.
func CarbonKey(line []byte) ([]byte, error) {
	i := bytes.IndexByte(line, ' ')
	if i < 0 {
		return nil, fmt.Errorf("protocol: carbon line missing ' '")
	}
	return line[:i], nil
}

// ValidateCarbon checks line against the carbon wire format:
// KEY VALUE TIMESTAMP. Exactly two spaces must appear, and the key must
// begin with "carbon.", "servers." or "stats.".
func ValidateCarbon(line []byte) error {
	spaces := 0
	rest := line
	for {
		i := bytes.IndexByte(rest, ' ')
		if i < 0 {
			break
		}
		spaces++
		rest = rest[i+1:]
		if spaces > 2 {
			break
		}
	}
	if spaces != 2 {
		return fmt.Errorf("protocol: invalid carbon line %q: found %d spaces, want 2", line, spaces)
	}

	ok := false
	for _, p := range carbonPrefixes {
		if bytes.HasPrefix(line, p) {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("protocol: invalid carbon line %q: key must start with carbon., servers. or stats.", line)
	}
	return nil
}

// NormalizeCarbon collapses consecutive '.' characters in key into a single
// '.', matching the reference normalizer. The returned slice may alias key.
func NormalizeCarbon(key []byte) []byte {
	if len(key) < 2 {
		return key
	}
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			// Skip any further consecutive dots.
			j := i
			for j < len(key) && key[j] == '.' {
				j++
			}
			out = append(out, '.')
			i = j - 1
			continue
		}
		out = append(out, key[i])
	}
	return out
}
