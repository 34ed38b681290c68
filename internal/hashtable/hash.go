package hashtable

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dchest/siphash"
)

const djb2Seed uint64 = 5381

type HashFunc func(key string) uint64

const (
	HasherDJB2    = "djb2"
	HasherFNV1a   = "fnv1a"
	HasherXXHash  = "xxhash"
	HasherSipHash = "siphash"
)

// DJB2 is h = h*33 + b over the key bytes, seeded at 5381, wrapping at 64 bits.
func DJB2(key string) uint64 {
	h := djb2Seed
	for i := 0; i < len(key); i++ {
		h = (h << 5) + h + uint64(key[i])
	}
	return h
}

func FNV1a(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}

func XXHash(key string) uint64 {
	return xxhash.Sum64String(key)
}

// NewSipHash returns a keyed SipHash-2-4. Digests are only stable for the
// lifetime of the returned function.
func NewSipHash() (HashFunc, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, fmt.Errorf("failed to seed siphash: %w", err)
	}
	k0 := binary.LittleEndian.Uint64(salt[:8])
	k1 := binary.LittleEndian.Uint64(salt[8:])
	return func(key string) uint64 {
		return siphash.Hash(k0, k1, []byte(key))
	}, nil
}

func HasherByName(name string) (HashFunc, error) {
	switch strings.ToLower(name) {
	case "", HasherDJB2:
		return DJB2, nil
	case HasherFNV1a:
		return FNV1a, nil
	case HasherXXHash:
		return XXHash, nil
	case HasherSipHash:
		return NewSipHash()
	default:
		return nil, fmt.Errorf("unknown hasher %q", name)
	}
}
