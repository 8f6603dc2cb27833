// Package pda derives program addresses: deterministic account addresses
// that lie off the ed25519 curve and therefore have no private key.
package pda

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"filippo.io/edwards25519"

	"oraculo/internal/domain"
)

const (
	// MaxSeedLength is the longest single seed accepted.
	MaxSeedLength = 32
	// MaxSeeds is the most seeds accepted, bump included.
	MaxSeeds = 16

	pdaMarker = "ProgramDerivedAddress"
)

// Well-known program IDs.
var (
	TokenProgramID           = domain.MustParseAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	AssociatedTokenProgramID = domain.MustParseAddress("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	DefaultProgramID         = domain.MustParseAddress("92FSq2o2J9n879SGzrYEqYr1fu1xbwSgwez8bktsLzoC")
)

var (
	// ErrSeedTooLong is returned when a seed exceeds MaxSeedLength.
	ErrSeedTooLong = errors.New("pda: seed too long")
	// ErrTooManySeeds is returned when more than MaxSeeds-1 seeds are given.
	ErrTooManySeeds = errors.New("pda: too many seeds")
	// ErrOnCurve is returned when a candidate address is a valid curve point.
	ErrOnCurve = errors.New("pda: address on curve")
	// ErrNoViableBump is returned when no bump yields an off-curve address.
	ErrNoViableBump = errors.New("pda: no viable bump seed")
)

// CreateProgramAddress hashes seeds with the program ID:
// sha256(seeds... || programID || "ProgramDerivedAddress").
// The bump, if any, must already be the last seed.
func CreateProgramAddress(seeds [][]byte, programID domain.Address) (domain.Address, error) {
	if len(seeds) > MaxSeeds {
		return domain.ZeroAddress, ErrTooManySeeds
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return domain.ZeroAddress, ErrSeedTooLong
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var addr domain.Address
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr[:]) {
		return domain.ZeroAddress, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 down and returns the first
// off-curve address with its bump.
func FindProgramAddress(seeds [][]byte, programID domain.Address) (domain.Address, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return domain.ZeroAddress, 0, ErrTooManySeeds
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump > 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return domain.ZeroAddress, 0, err
		}
	}
	return domain.ZeroAddress, 0, ErrNoViableBump
}

// IsOnCurve reports whether b decodes to an ed25519 point.
func IsOnCurve(b []byte) bool {
	if len(b) != domain.AddressLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// I64Seed encodes a timestamp seed as 8 little-endian bytes.
func I64Seed(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// U32Seed encodes an index seed as 4 little-endian bytes.
func U32Seed(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
