// Package randsrc provides the production implementation of the
// connmgr/handshake RandSource collaborator, backed by crypto/rand so salts
// aren't predictable to an off-path attacker trying to forge a handshake.
package randsrc

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
)

// Crypto draws 64-bit values from crypto/rand.
type Crypto struct{}

// New returns a Crypto random source.
func New() Crypto { return Crypto{} }

// Uint64 returns a cryptographically random 64-bit value. It panics if the
// system entropy source fails, which in practice never happens on a
// supported platform.
func (Crypto) Uint64() uint64 {
	var buf [8]byte
	if _, err := cryptoRand.Read(buf[:]); err != nil {
		panic("reliudp: crypto/rand unavailable: " + err.Error())
	}
	return binary.LittleEndian.Uint64(buf[:])
}
