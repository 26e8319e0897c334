package profile

import (
	"bytes"
	"fmt"

	"github.com/oo-developer/mfclone/classic"
)

// MaxUIDLen is the longest UID the ISO14443A cascade allows
const MaxUIDLen = 10

// CardProfile is everything captured from one card: identity, the key that
// opened each sector and the raw content of the opened sectors.
//
// A profile is filled once by the recovery engine and then treated as a
// value: the store persists it, clone and emulate read it.
type CardProfile struct {
	UID          [MaxUIDLen]byte
	UIDLen       uint8
	Data         [classic.Capacity]byte
	SectorKeys   [classic.SectorCount]classic.Key
	SectorSolved [classic.SectorCount]bool
}

// New returns an empty profile for uid
func New(uid []byte) (*CardProfile, error) {
	p := &CardProfile{}
	if err := p.SetUID(uid); err != nil {
		return nil, err
	}
	return p, nil
}

// SetUID replaces the UID. Length must be 0, 4, 7 or 10.
func (p *CardProfile) SetUID(uid []byte) error {
	if !validUIDLen(len(uid)) {
		return fmt.Errorf("unsupported UID length %d", len(uid))
	}
	p.UID = [MaxUIDLen]byte{}
	copy(p.UID[:], uid)
	p.UIDLen = uint8(len(uid))
	return nil
}

func validUIDLen(n int) bool {
	return n == 0 || n == 4 || n == 7 || n == 10
}

// UIDBytes returns the significant UID bytes
func (p *CardProfile) UIDBytes() []byte {
	return append([]byte(nil), p.UID[:p.UIDLen]...)
}

// SameUID reports whether uid equals the profile UID
func (p *CardProfile) SameUID(uid []byte) bool {
	return bytes.Equal(p.UID[:p.UIDLen], uid)
}

// Block returns the stored content of block n
func (p *CardProfile) Block(n byte) classic.Block {
	var b classic.Block
	off := int(n) * classic.BlockSize
	copy(b[:], p.Data[off:off+classic.BlockSize])
	return b
}

// SetBlock stores the content of block n
func (p *CardProfile) SetBlock(n byte, b classic.Block) {
	off := int(n) * classic.BlockSize
	copy(p.Data[off:off+classic.BlockSize], b[:])
}

// MarkSolved records the key that opened sector s
func (p *CardProfile) MarkSolved(s int, key classic.Key) {
	p.SectorKeys[s] = key
	p.SectorSolved[s] = true
}

// SolvedCount returns how many sectors were opened
func (p *CardProfile) SolvedCount() int {
	n := 0
	for _, ok := range p.SectorSolved {
		if ok {
			n++
		}
	}
	return n
}

// BlockIsZero reports whether block n holds only zero bytes
func (p *CardProfile) BlockIsZero(n byte) bool {
	b := p.Block(n)
	return b == classic.Block{}
}
