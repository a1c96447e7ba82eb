package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digester is the hashing strategy behind Resolve. Implementations must
// produce byte-identical digests for the same input; callers never see
// which one ran. Two are provided so environments that prefer a
// streaming hash.Hash and environments that prefer the one-shot helper
// stay interchangeable (see the conformance test).
type Digester interface {
	Digest(data []byte) []byte
}

// SumDigester computes the digest with the one-shot SHA-256 helper.
type SumDigester struct{}

func (SumDigester) Digest(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// StreamDigester computes the digest through a streaming hash.Hash.
type StreamDigester struct{}

func (StreamDigester) Digest(data []byte) []byte {
	h := sha256.New()
	h.Write(data)
	return h.Sum(nil)
}

// Fingerprint derives a salted reporter fingerprint from an identity
// signal such as a client IP. It is deliberately imprecise: the signal
// is not guaranteed unique per human, only stable enough for duplicate
// detection.
func Fingerprint(signal, salt string) string {
	sum := sha256.Sum256([]byte(signal + salt))
	return "r" + hex.EncodeToString(sum[:8])
}
