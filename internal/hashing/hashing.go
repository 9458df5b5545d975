// Package hashing computes the named payload digests reported alongside
// stored blobs.
package hashing

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

// Algorithm names a digest algorithm as it appears in configuration.
type Algorithm string

const (
	SHA2_256 Algorithm = "sha2_256"
	SHA2_512 Algorithm = "sha2_512"
	SHA3_224 Algorithm = "sha3_224"
	SHA3_256 Algorithm = "sha3_256"
	SHA3_384 Algorithm = "sha3_384"
	SHA3_512 Algorithm = "sha3_512"
	BLAKE2s  Algorithm = "blake2s"
	BLAKE2b  Algorithm = "blake2b"
)

var constructors = map[Algorithm]func() hash.Hash{
	SHA2_256: sha256.New,
	SHA2_512: sha512.New,
	SHA3_224: sha3.New224,
	SHA3_256: sha3.New256,
	SHA3_384: sha3.New384,
	SHA3_512: sha3.New512,
	// Unkeyed constructors cannot fail.
	BLAKE2s: func() hash.Hash { h, _ := blake2s.New256(nil); return h },
	BLAKE2b: func() hash.Hash { h, _ := blake2b.New512(nil); return h },
}

// Parse validates name and returns the matching Algorithm.
func Parse(name string) (Algorithm, error) {
	a := Algorithm(name)
	if _, ok := constructors[a]; !ok {
		return "", fmt.Errorf("unknown hash algorithm %q (supported: %v)", name, Supported())
	}
	return a, nil
}

// Supported lists the algorithm names in sorted order.
func Supported() []string {
	names := make([]string, 0, len(constructors))
	for a := range constructors {
		names = append(names, string(a))
	}
	sort.Strings(names)
	return names
}

// New returns a fresh hash.Hash for a. It panics if a was not obtained
// from Parse or the declared constants.
func (a Algorithm) New() hash.Hash {
	ctor, ok := constructors[a]
	if !ok {
		panic(fmt.Sprintf("hashing: unknown algorithm %q", string(a)))
	}
	return ctor()
}

// Size is the digest length in bytes.
func (a Algorithm) Size() int {
	return a.New().Size()
}

func (a Algorithm) Sum(data []byte) []byte {
	h := a.New()
	h.Write(data)
	return h.Sum(nil)
}

// Hex returns the lowercase hexadecimal digest of data.
func (a Algorithm) Hex(data []byte) string {
	return hex.EncodeToString(a.Sum(data))
}

func (a Algorithm) String() string {
	return string(a)
}
