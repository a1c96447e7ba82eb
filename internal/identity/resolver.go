// Package identity derives stable, privacy-safe identifiers from raw
// activation keys. Raw keys never leave this package in any derived value.
package identity

import (
	"encoding/hex"
	"strings"
	"sync"
	"unicode"
)

// ShortIDMask is returned for keys too short to safely reveal substrings.
const ShortIDMask = "******"

// hashLen is the number of hex characters kept from the digest. Short
// enough for compact index keys, long enough that collisions are
// negligible at the key volumes this service handles.
const hashLen = 16

// defaultMemoLimit bounds the resolver's memo cache.
const defaultMemoLimit = 4096

// KeyIdentity is the derived identity of a raw key. Two raw keys that
// normalize identically produce the same KeyIdentity.
type KeyIdentity struct {
	Hash       string // 16 hex characters, salted one-way digest
	ShortID    string // "ABC***XYZ" or ShortIDMask
	Normalized string // uppercase, whitespace stripped
}

// Resolver maps raw key strings to KeyIdentity values. It is safe for
// concurrent use. The memo cache is owned by the resolver, not shared
// module state.
type Resolver struct {
	salt     string
	digester Digester

	mu        sync.Mutex
	memo      map[string]KeyIdentity
	memoLimit int
}

// NewResolver creates a resolver with the given salt. A nil digester
// falls back to the one-shot implementation.
func NewResolver(salt string, d Digester) *Resolver {
	if d == nil {
		d = SumDigester{}
	}
	return &Resolver{
		salt:      salt,
		digester:  d,
		memo:      make(map[string]KeyIdentity),
		memoLimit: defaultMemoLimit,
	}
}

// Resolve derives the identity of rawKey. Pure apart from memoization.
func (r *Resolver) Resolve(rawKey string) KeyIdentity {
	r.mu.Lock()
	if id, ok := r.memo[rawKey]; ok {
		r.mu.Unlock()
		return id
	}
	r.mu.Unlock()

	normalized := Normalize(rawKey)
	digest := r.digester.Digest([]byte(normalized + r.salt))
	id := KeyIdentity{
		Hash:       hex.EncodeToString(digest)[:hashLen],
		ShortID:    ShortID(normalized),
		Normalized: normalized,
	}

	r.mu.Lock()
	if len(r.memo) >= r.memoLimit {
		// Full reset is cheaper than tracking recency for a cache this small.
		r.memo = make(map[string]KeyIdentity)
	}
	r.memo[rawKey] = id
	r.mu.Unlock()

	return id
}

// Normalize strips all whitespace and uppercases the key. This is the
// hashing input, so equivalent user inputs collide.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// ShortID returns a human-safe display form of a normalized key:
// first 3 + "***" + last 3 characters, or a constant mask when the
// key is too short for substrings to be safe.
func ShortID(normalized string) string {
	r := []rune(normalized)
	if len(r) <= 6 {
		return ShortIDMask
	}
	return string(r[:3]) + "***" + string(r[len(r)-3:])
}
