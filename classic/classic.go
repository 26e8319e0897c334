package classic

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// MIFARE Classic 1K geometry
const (
	SectorCount     = 16
	BlocksPerSector = 4
	BlockSize       = 16
	BlockCount      = SectorCount * BlocksPerSector
	Capacity        = BlockCount * BlockSize // 1024 bytes
	KeySize         = 6
)

// KeySlot selects which of the two sector keys is used for authentication.
// The values are the MIFARE authentication command codes.
type KeySlot byte

const (
	KeyTypeA KeySlot = 0x60
	KeyTypeB KeySlot = 0x61
)

func (s KeySlot) String() string {
	switch s {
	case KeyTypeA:
		return "A"
	case KeyTypeB:
		return "B"
	default:
		return fmt.Sprintf("KeySlot(0x%02X)", byte(s))
	}
}

// Key is a 6-byte sector key
type Key [KeySize]byte

func (k Key) String() string {
	return strings.ToUpper(hex.EncodeToString(k[:]))
}

// ParseKey parses a 12 hex digit key. Spaces and colons are ignored.
func ParseKey(s string) (Key, error) {
	var k Key
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(cleaned) != KeySize*2 {
		return k, fmt.Errorf("key must be %d hex digits, got %q", KeySize*2, s)
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return k, fmt.Errorf("invalid key %q: %w", s, err)
	}
	copy(k[:], raw)
	return k, nil
}

// Block is one 16-byte card block
type Block [BlockSize]byte

// GetSectorTrailerBlock returns the block number of a sector's trailer
func GetSectorTrailerBlock(sector int) byte {
	return byte(sector*BlocksPerSector + BlocksPerSector - 1)
}

// FirstBlock returns the first block of a sector
func FirstBlock(sector int) byte {
	return byte(sector * BlocksPerSector)
}

// SectorOf returns the sector containing block
func SectorOf(block byte) int {
	return int(block) / BlocksPerSector
}

// IsTrailer reports whether block is a sector trailer (keys + access bits)
func IsTrailer(block byte) bool {
	return int(block)%BlocksPerSector == BlocksPerSector-1
}

// Checksum returns the block 0 check byte (BCC) for a 4-byte UID: the XOR of its bytes.
func Checksum(uid [4]byte) byte {
	return uid[0] ^ uid[1] ^ uid[2] ^ uid[3]
}

// FormatUID renders a UID as upper-case space separated hex
func FormatUID(uid []byte) string {
	parts := make([]string, len(uid))
	for i, b := range uid {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}
