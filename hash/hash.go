/*
Package hash implements the hasher used by the HyperLogLog estimator.

gostatix's own in-memory and Redis-backed HyperLogLogs use a hand-rolled
128-bit murmur3 (see the teacher's murmur.go). This store pins the hash to
SHA-1 instead: the on-disk register encoding must be reproducible across
implementations, and spec.md requires a 160-bit cryptographic digest for
that reason. Any substitution requires a new file format version.
*/
package hash

import (
	"crypto/sha1"
	"math/big"
)

// Width is the number of bits in the digest this package produces.
const Width = 160

// Sum160 hashes v and returns the digest as a big-endian unsigned integer,
// bit 0 being the least-significant bit. Reading the raw digest bytes as a
// big-endian integer yields the same value the original Python
// implementation got by parsing the hex digest, so register contents are
// reproduced bit for bit; see spec §9.
func Sum160(v []byte) *big.Int {
	digest := sha1.Sum(v)
	return new(big.Int).SetBytes(digest[:])
}
