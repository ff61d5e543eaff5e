// Package canonical provides the deterministic JSON serialization and
// SHA-256 hashing that anchors the chain of trust. Canonical form follows
// RFC 8785 (JCS): UTF-8, lexicographically sorted object keys, no
// insignificant whitespace, shortest lossless number form.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

// ZeroHash is the prev_hash of the first event in every chain.
var ZeroHash = strings.Repeat("0", 64)

// Marshal serializes v to canonical JSON bytes. Two semantically equal
// values produce identical bytes regardless of in-memory field order.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	return Transform(raw)
}

// Transform canonicalizes already-serialized JSON bytes.
func Transform(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// HashHex returns the lowercase hex SHA-256 of v's canonical bytes.
func HashHex(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes hashes raw JSON after canonicalization.
func HashBytes(raw []byte) (string, error) {
	b, err := Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
