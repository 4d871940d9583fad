// Package canonical produces the exact byte sequence wallets sign.
//
// The encoding is RFC 8785 (JSON Canonicalization Scheme): object members
// sorted by their UTF-16 code units, no insignificant whitespace, ECMAScript
// string escaping and number formatting. For the proof payloads this is
// byte-identical to the web client's stableStringify, which sorts keys with
// Array.prototype.sort and serialises leaves with JSON.stringify.
package canonical

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal returns the canonical encoding of v
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize message: %w", err)
	}

	return out, nil
}
