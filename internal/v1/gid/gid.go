// Package gid allocates the 32-bit conference identifier jicofo assigns
// each room it takes ownership of: a fixed 16-bit process short id in
// the high half, a random 16-bit nonce in the low half, retried on
// collision against the registry's in-process set (spec §3).
package gid

import (
	"crypto/rand"
	"encoding/binary"
)

// Allocator hands out GIDs of the form (shortID<<16)|random16. Callers
// must serialize Next/Release against their own uniqueness set; this
// type only knows how to generate candidates, not track what is in use.
type Allocator struct {
	shortID uint16
}

// New constructs an Allocator using shortID as the high 16 bits of every
// GID it produces.
func New(shortID uint16) *Allocator {
	return &Allocator{shortID: shortID}
}

// Next returns one candidate GID. The caller must check it against its
// uniqueness set and call Next again on collision.
func (a *Allocator) Next() uint32 {
	var b [2]byte
	_, _ = rand.Read(b[:])
	nonce := binary.BigEndian.Uint16(b[:])
	return uint32(a.shortID)<<16 | uint32(nonce)
}

// ShortID returns the process short id embedded in every GID this
// allocator produces.
func (a *Allocator) ShortID() uint16 {
	return a.shortID
}
