package profile

import (
	"fmt"
	"io"
	"strings"

	"github.com/oo-developer/mfclone/classic"
)

// FormatBlockLine renders one block as "sector | block | hex | ascii"
func FormatBlockLine(sector int, block byte, data classic.Block) string {
	var hexPart, asciiPart strings.Builder
	for _, b := range data {
		fmt.Fprintf(&hexPart, "%02X ", b)
		if b >= 32 && b <= 126 {
			asciiPart.WriteByte(b)
		} else {
			asciiPart.WriteByte('.')
		}
	}
	return fmt.Sprintf("%3d | %3d | %s| %s", sector, block, hexPart.String(), asciiPart.String())
}

// FormatLockedLine renders the row printed for a sector no key opened
func FormatLockedLine(sector int) string {
	return fmt.Sprintf("%3d | ??? | -- locked (no key found) --", sector)
}

// DumpSector writes the rows of sector s
func (p *CardProfile) DumpSector(w io.Writer, s int) {
	if !p.SectorSolved[s] {
		fmt.Fprintln(w, FormatLockedLine(s))
		return
	}
	for b := 0; b < classic.BlocksPerSector; b++ {
		blk := classic.FirstBlock(s) + byte(b)
		fmt.Fprintln(w, FormatBlockLine(s, blk, p.Block(blk)))
	}
}

// Dump writes a header and every sector
func (p *CardProfile) Dump(w io.Writer) {
	fmt.Fprintf(w, "UID: %s  sectors solved: %d/%d\n", classic.FormatUID(p.UIDBytes()), p.SolvedCount(), classic.SectorCount)
	for s := 0; s < classic.SectorCount; s++ {
		if p.SectorSolved[s] {
			fmt.Fprintf(w, "  key[%02d] = %s\n", s, p.SectorKeys[s])
		}
	}
	for s := 0; s < classic.SectorCount; s++ {
		p.DumpSector(w, s)
	}
}
