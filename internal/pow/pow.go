// Package pow implements the proof-of-work primitives used by the search
// engine: the double SHA-256 digest, the leading-zero-nibble difficulty
// predicate and the nonce/preimage layout.
package pow

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// DigestSize is the length of a digest in bytes.
	DigestSize = chainhash.HashSize

	// MaxDifficulty is the number of nibbles in a digest.
	MaxDifficulty = DigestSize * 2

	// NonceSize is the length of a nonce: a little-endian batch index
	// followed by four random bytes.
	NonceSize = 8

	// MaxPreimageSize bounds challenge+nonce so preimages fit a fixed buffer.
	MaxPreimageSize = 64

	// MaxChallengeSize is the longest challenge a preimage can hold.
	MaxChallengeSize = MaxPreimageSize - NonceSize
)

// Digest is the output of the double SHA-256 hash.
type Digest = chainhash.Hash

// Nonce is the per-attempt value appended to the challenge.
type Nonce [NonceSize]byte

// Hash computes SHA256(SHA256(data)).
func Hash(data []byte) Digest {
	return chainhash.DoubleHashH(data)
}

// Passes reports whether the first difficulty nibbles of digest are zero,
// high nibble first within each byte. A difficulty of zero always passes;
// a difficulty beyond the digest's nibble count never does.
func Passes(digest *Digest, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if difficulty > MaxDifficulty {
		return false
	}

	full := difficulty / 2
	for i := range full {
		if digest[i] != 0 {
			return false
		}
	}

	if difficulty%2 == 1 {
		return digest[full]>>4 == 0
	}
	return true
}

// NewNonce lays out a nonce from a batch index and four random bytes.
func NewNonce(prefix uint32, random uint32) Nonce {
	var n Nonce
	binary.LittleEndian.PutUint32(n[:4], prefix)
	binary.LittleEndian.PutUint32(n[4:], random)
	return n
}

// Preimage is a reusable challenge||nonce buffer. The challenge part is
// written once per batch; only the nonce changes per attempt.
type Preimage struct {
	buf [MaxPreimageSize]byte
	n   int
}

// NewPreimage copies challenge into a new buffer. ok is false when the
// challenge cannot fit alongside a nonce.
func NewPreimage(challenge []byte) (p *Preimage, ok bool) {
	if len(challenge) > MaxChallengeSize {
		return nil, false
	}
	p = &Preimage{n: len(challenge)}
	copy(p.buf[:], challenge)
	return p, true
}

// Digest writes nonce into the buffer and hashes the result.
func (p *Preimage) Digest(nonce Nonce) Digest {
	copy(p.buf[p.n:], nonce[:])
	return Hash(p.buf[:p.n+NonceSize])
}

// Bytes returns the preimage as last hashed.
func (p *Preimage) Bytes() []byte {
	out := make([]byte, p.n+NonceSize)
	copy(out, p.buf[:p.n+NonceSize])
	return out
}

// SearchOrder converts a challenge from wire order to the order used in the
// preimage. The job API sends challenges big-endian; preimages are built
// little-endian, so the bytes are reversed into a new slice.
func SearchOrder(challenge []byte) []byte {
	out := make([]byte, len(challenge))
	for i, b := range challenge {
		out[len(challenge)-1-i] = b
	}
	return out
}
