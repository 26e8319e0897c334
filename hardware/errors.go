package hardware

import (
	"fmt"

	"github.com/oo-developer/mfclone/classic"
)

// PC/SC pseudo-APDU instruction bytes
const (
	insGetData      = 0xCA
	insLoadKey      = 0x82
	insAuthenticate = 0x86
	insReadBinary   = 0xB0
	insUpdateBinary = 0xD6
	insDirect       = 0x00
)

// SWError is a failed status word from the reader
type SWError struct {
	Ins byte
	SW  uint16
}

func (e *SWError) Error() string {
	return fmt.Sprintf("reader command 0x%02X failed with SW=0x%04X (%s)", e.Ins, e.SW, swDescription(e.SW))
}

// Unwrap maps a rejected authentication or write onto the classic sentinels
func (e *SWError) Unwrap() error {
	switch e.Ins {
	case insAuthenticate:
		return classic.ErrAuthFailed
	case insUpdateBinary:
		return classic.ErrWriteRejected
	}
	return nil
}

func swDescription(sw uint16) string {
	switch sw {
	case 0x9000:
		return "success"
	case 0x6300:
		return "operation failed"
	case 0x6981:
		return "command incompatible"
	case 0x6982:
		return "security status not satisfied"
	case 0x6986:
		return "command not allowed"
	case 0x6A81:
		return "function not supported"
	case 0x6A82:
		return "block not found"
	default:
		return "unknown error"
	}
}

// checkSW splits a response into data and status word
func checkSW(ins byte, rsp []byte) ([]byte, error) {
	if len(rsp) < 2 {
		return nil, fmt.Errorf("invalid response length %d", len(rsp))
	}
	sw := uint16(rsp[len(rsp)-2])<<8 | uint16(rsp[len(rsp)-1])
	if sw != 0x9000 {
		return nil, &SWError{Ins: ins, SW: sw}
	}
	return rsp[:len(rsp)-2], nil
}
