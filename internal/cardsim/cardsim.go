// Package cardsim simulates a MIFARE Classic 1K card behind a reader.
//
// The simulator enforces the one-authentication-per-selection rule: an
// Authenticate call that is not preceded by SelectCard or Reselect fails and
// is counted in Violations.
package cardsim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oo-developer/mfclone/classic"
)

// ErrSelectionConsumed is returned for an authentication without a fresh selection
var ErrSelectionConsumed = errors.New("selection consumed by previous authentication")

var defaultAccessBits = [4]byte{0xFF, 0x07, 0x80, 0x69}

// Card is the simulated tag content
type Card struct {
	Blocks [classic.BlockCount]classic.Block
	uidLen int

	// Gen1 cards answer the backdoor command and allow unauthenticated access
	Gen1 bool
	// UIDLocked cards acknowledge block 0 writes but keep their content
	UIDLocked bool
	// RejectWrites makes every write fail
	RejectWrites bool
}

// NewCard returns a card with a 4, 7 or 10 byte UID and keyA/keyB on every sector
func NewCard(uid []byte, keyA, keyB classic.Key) *Card {
	c := &Card{uidLen: len(uid)}
	copy(c.Blocks[0][:], uid)
	if len(uid) == 4 {
		c.Blocks[0][4] = classic.Checksum([4]byte(uid))
		c.Blocks[0][5] = 0x08
		c.Blocks[0][6] = 0x04
	}
	for s := 0; s < classic.SectorCount; s++ {
		c.SetKeys(s, keyA, keyB)
	}
	return c
}

// SetKeys rewrites the trailer of sector s
func (c *Card) SetKeys(s int, keyA, keyB classic.Key) {
	var t classic.Block
	copy(t[0:6], keyA[:])
	copy(t[6:10], defaultAccessBits[:])
	copy(t[10:16], keyB[:])
	c.Blocks[classic.GetSectorTrailerBlock(s)] = t
}

// KeyA returns the key A of sector s
func (c *Card) KeyA(s int) classic.Key {
	var k classic.Key
	copy(k[:], c.Blocks[classic.GetSectorTrailerBlock(s)][0:6])
	return k
}

// KeyB returns the key B of sector s
func (c *Card) KeyB(s int) classic.Key {
	var k classic.Key
	copy(k[:], c.Blocks[classic.GetSectorTrailerBlock(s)][10:16])
	return k
}

// UID returns the UID as currently stored in block 0
func (c *Card) UID() []byte {
	return append([]byte(nil), c.Blocks[0][:c.uidLen]...)
}

// Attempt is one recorded authentication
type Attempt struct {
	Block byte
	Slot  classic.KeySlot
	Key   classic.Key
	OK    bool
}

// Reader is a simulated reader with at most one card in its field
type Reader struct {
	card *Card

	selected   bool
	authSector int
	backdoor   bool

	// DropSelects makes the next n SelectCard/Reselect calls report no card
	DropSelects int

	SelectCalls   int
	ReselectCalls int
	AuthCalls     int
	ReadCalls     int
	WriteCalls    int
	RawCalls      int
	Violations    int
	Attempts      []Attempt
	Written       map[byte]classic.Block
}

// NewReader returns a reader holding card, which may be nil
func NewReader(card *Card) *Reader {
	return &Reader{card: card, authSector: -1, Written: map[byte]classic.Block{}}
}

// Insert places card in the field, replacing any other
func (r *Reader) Insert(card *Card) {
	r.card = card
	r.resetSelection()
}

// Remove takes the card out of the field
func (r *Reader) Remove() {
	r.card = nil
	r.resetSelection()
}

// ResetCounters clears call counters and the attempt log
func (r *Reader) ResetCounters() {
	r.SelectCalls, r.ReselectCalls, r.AuthCalls = 0, 0, 0
	r.ReadCalls, r.WriteCalls, r.RawCalls, r.Violations = 0, 0, 0, 0
	r.Attempts = nil
	r.Written = map[byte]classic.Block{}
}

// AttemptsOnSector returns the recorded attempts against sector s
func (r *Reader) AttemptsOnSector(s int) []Attempt {
	var out []Attempt
	for _, a := range r.Attempts {
		if classic.SectorOf(a.Block) == s {
			out = append(out, a)
		}
	}
	return out
}

func (r *Reader) resetSelection() {
	r.selected = r.card != nil
	r.authSector = -1
	r.backdoor = false
}

func (r *Reader) present() bool {
	if r.DropSelects > 0 {
		r.DropSelects--
		return false
	}
	return r.card != nil
}

func (r *Reader) SelectCard(ctx context.Context, timeout time.Duration) ([]byte, error) {
	r.SelectCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !r.present() {
		return nil, fmt.Errorf("no card within %s: %w", timeout, classic.ErrCardNotPresent)
	}
	r.resetSelection()
	return r.card.UID(), nil
}

func (r *Reader) Reselect() error {
	r.ReselectCalls++
	if !r.present() {
		return classic.ErrCardNotPresent
	}
	r.resetSelection()
	return nil
}

func (r *Reader) Authenticate(uid []byte, block byte, slot classic.KeySlot, key classic.Key) error {
	r.AuthCalls++
	attempt := Attempt{Block: block, Slot: slot, Key: key}
	defer func() { r.Attempts = append(r.Attempts, attempt) }()

	if r.card == nil {
		return classic.ErrCardNotPresent
	}
	if !r.selected {
		r.Violations++
		return ErrSelectionConsumed
	}
	r.selected = false
	r.authSector = -1
	r.backdoor = false
	if !bytes.Equal(uid, r.card.UID()) {
		return fmt.Errorf("uid %X not selected: %w", uid, classic.ErrAuthFailed)
	}

	sector := classic.SectorOf(block)
	want := r.card.KeyA(sector)
	if slot == classic.KeyTypeB {
		want = r.card.KeyB(sector)
	}
	if key != want {
		return fmt.Errorf("sector %d key %s: %w", sector, slot, classic.ErrAuthFailed)
	}
	attempt.OK = true
	r.authSector = sector
	return nil
}

func (r *Reader) unlocked(block byte) bool {
	return r.backdoor || r.authSector == classic.SectorOf(block)
}

func (r *Reader) ReadBlock(block byte) (classic.Block, error) {
	r.ReadCalls++
	if r.card == nil {
		return classic.Block{}, classic.ErrCardNotPresent
	}
	if int(block) >= classic.BlockCount || !r.unlocked(block) {
		return classic.Block{}, fmt.Errorf("read block %d: not authenticated", block)
	}
	b := r.card.Blocks[block]
	if classic.IsTrailer(block) {
		// key A never reads back
		copy(b[0:6], make([]byte, 6))
	}
	return b, nil
}

func (r *Reader) WriteBlock(block byte, data classic.Block) error {
	r.WriteCalls++
	if r.card == nil {
		return classic.ErrCardNotPresent
	}
	if int(block) >= classic.BlockCount || !r.unlocked(block) || r.card.RejectWrites {
		return fmt.Errorf("write block %d: %w", block, classic.ErrWriteRejected)
	}
	r.Written[block] = data
	if block == 0 && r.card.UIDLocked {
		return nil
	}
	r.card.Blocks[block] = data
	return nil
}

func (r *Reader) RawExchange(data []byte) ([]byte, error) {
	r.RawCalls++
	if r.card == nil {
		return nil, classic.ErrCardNotPresent
	}
	if r.card.Gen1 && bytes.Equal(data, []byte{0x43}) {
		r.backdoor = true
		return []byte{0x0A}, nil
	}
	return nil, errors.New("no response")
}

var _ classic.Transport = (*Reader)(nil)
