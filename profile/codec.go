package profile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/oo-developer/mfclone/classic"
)

// Record layout, all fields fixed width:
//
//	magic[4] version[1] uidLen[1] uid[10] solved[2 LE bitmap]
//	keys[16*6] data[1024] crc32[4 LE, IEEE over everything before it]
const (
	recordMagic   = "MFCP"
	recordVersion = 1

	offVersion = 4
	offUIDLen  = offVersion + 1
	offUID     = offUIDLen + 1
	offSolved  = offUID + MaxUIDLen
	offKeys    = offSolved + 2
	offData    = offKeys + classic.SectorCount*classic.KeySize
	offCRC     = offData + classic.Capacity

	// RecordSize is the byte length of every serialized profile
	RecordSize = offCRC + 4
)

// ErrBadRecord is returned for buffers that are not a valid profile record
var ErrBadRecord = errors.New("bad profile record")

// MarshalBinary encodes the profile as a RecordSize byte record
func (p *CardProfile) MarshalBinary() ([]byte, error) {
	if !validUIDLen(int(p.UIDLen)) {
		return nil, fmt.Errorf("unsupported UID length %d", p.UIDLen)
	}
	buf := make([]byte, RecordSize)
	copy(buf, recordMagic)
	buf[offVersion] = recordVersion
	buf[offUIDLen] = p.UIDLen
	copy(buf[offUID:offSolved], p.UID[:])

	var solved uint16
	for s, ok := range p.SectorSolved {
		if ok {
			solved |= 1 << s
		}
	}
	binary.LittleEndian.PutUint16(buf[offSolved:], solved)

	for s, k := range p.SectorKeys {
		copy(buf[offKeys+s*classic.KeySize:], k[:])
	}
	copy(buf[offData:offCRC], p.Data[:])
	binary.LittleEndian.PutUint32(buf[offCRC:], crc32.ChecksumIEEE(buf[:offCRC]))
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary
func (p *CardProfile) UnmarshalBinary(buf []byte) error {
	if len(buf) != RecordSize {
		return fmt.Errorf("%w: length %d, want %d", ErrBadRecord, len(buf), RecordSize)
	}
	if !bytes.Equal(buf[:offVersion], []byte(recordMagic)) {
		return fmt.Errorf("%w: bad magic %q", ErrBadRecord, buf[:offVersion])
	}
	if buf[offVersion] != recordVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadRecord, buf[offVersion])
	}
	if got, want := crc32.ChecksumIEEE(buf[:offCRC]), binary.LittleEndian.Uint32(buf[offCRC:]); got != want {
		return fmt.Errorf("%w: crc mismatch %08X != %08X", ErrBadRecord, got, want)
	}
	uidLen := buf[offUIDLen]
	if !validUIDLen(int(uidLen)) {
		return fmt.Errorf("%w: UID length %d", ErrBadRecord, uidLen)
	}

	var out CardProfile
	out.UIDLen = uidLen
	copy(out.UID[:], buf[offUID:offSolved])
	solved := binary.LittleEndian.Uint16(buf[offSolved:])
	for s := 0; s < classic.SectorCount; s++ {
		out.SectorSolved[s] = solved&(1<<s) != 0
		copy(out.SectorKeys[s][:], buf[offKeys+s*classic.KeySize:])
	}
	copy(out.Data[:], buf[offData:offCRC])
	*p = out
	return nil
}

// Decode is UnmarshalBinary into a new profile
func Decode(buf []byte) (*CardProfile, error) {
	p := &CardProfile{}
	if err := p.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return p, nil
}
