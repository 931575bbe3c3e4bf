package gen

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// DeriveSeed combines the process-wide system seed with the request path to
// produce the 64-bit seed for one response. All randomness in that response
// derives from this value, so identical paths under the same system seed
// yield byte-identical pages, while outsiders cannot predict content without
// the secret.
func DeriveSeed(systemSeed, path string) int64 {
	buf := make([]byte, 0, len(systemSeed)+1+len(path))
	buf = append(buf, systemSeed...)
	buf = append(buf, 0x1f) // separator keeps ("ab","c") distinct from ("a","bc")
	buf = append(buf, path...)
	sum := blake2b.Sum256(buf)
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
