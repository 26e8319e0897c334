package hardware

import (
	"context"
	"fmt"
	"time"

	"github.com/ebfe/scard"

	"github.com/oo-developer/mfclone/logger"
)

// PN532 command codes reachable through the reader's direct-transmit pseudo-APDU
const (
	pn532HostToChip        = 0xD4
	pn532ChipToHost        = 0xD5
	pn532InCommunicateThru = 0x42
	pn532TgInitAsTarget    = 0x8C
	pn532TgGetData         = 0x86
	pn532TgSetData         = 0x8E
)

// ioctlEscape is SCARD_CTL_CODE(3500) as pcsc-lite defines it
const ioctlEscape = 0x42000000 + 3500

// directCommand wraps a PN532 frame in FF 00 00 00 Lc
func directCommand(payload ...byte) []byte {
	return append([]byte{0xFF, insDirect, 0x00, 0x00, byte(len(payload))}, payload...)
}

// parsePN532 checks the D5 <cmd+1> header and returns what follows it
func parsePN532(cmd byte, rsp []byte) ([]byte, error) {
	if len(rsp) < 2 || rsp[0] != pn532ChipToHost || rsp[1] != cmd+1 {
		return nil, fmt.Errorf("unexpected PN532 response % X to 0x%02X", rsp, cmd)
	}
	return rsp[2:], nil
}

// RawExchange sends data to the card with InCommunicateThru, bypassing the
// reader's MIFARE authentication handling.
func (m *Reader) RawExchange(data []byte) ([]byte, error) {
	payload := append([]byte{pn532HostToChip, pn532InCommunicateThru}, data...)
	rsp, err := m.transmit(insDirect, directCommand(payload...))
	if err != nil {
		return nil, err
	}
	body, err := parsePN532(pn532InCommunicateThru, rsp)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty InCommunicateThru response")
	}
	if status := body[0] & 0x3F; status != 0 {
		return nil, fmt.Errorf("InCommunicateThru status 0x%02X", status)
	}
	return body[1:], nil
}

// tgInitAsTarget builds the PICC-only target setup advertising uid[0:3]
func tgInitAsTarget(uid []byte) []byte {
	// mode 0x05 is PICC only, passive only; SENS_RES 0x0004; SEL_RES 0x20
	cmd := []byte{pn532HostToChip, pn532TgInitAsTarget, 0x05, 0x04, 0x00}
	cmd = append(cmd, uid[0], uid[1], uid[2])
	cmd = append(cmd, 0x20)
	cmd = append(cmd, make([]byte, 18)...) // FeliCa params
	cmd = append(cmd, make([]byte, 10)...) // NFCID3t
	cmd = append(cmd, 0x00, 0x00)          // no general bytes, no historical bytes
	return cmd
}

func (m *Reader) escape(card *scard.Card, cmd byte, payload []byte) ([]byte, error) {
	rsp, err := card.Control(ioctlEscape, directCommand(payload...))
	if err != nil {
		return nil, fmt.Errorf("escape 0x%02X failed: %v", cmd, err)
	}
	data, err := checkSW(insDirect, rsp)
	if err != nil {
		// some firmware omits the status word on escape responses
		data = rsp
	}
	return parsePN532(cmd, data)
}

// Emulate runs the reader as a passive target carrying uid until ctx is
// cancelled. onContact gets every frame an external reader sends.
func (m *Reader) Emulate(ctx context.Context, uid []byte, onContact func([]byte)) error {
	if len(uid) < 3 {
		return fmt.Errorf("emulation needs at least 3 UID bytes, got %d", len(uid))
	}
	if m.reader == "" {
		return fmt.Errorf("no reader selected, use: UseReaderIndex(index int)")
	}
	m.disconnect()
	card, err := m.ctx.Connect(m.reader, scard.ShareDirect, scard.ProtocolUndefined)
	if err != nil {
		return fmt.Errorf("direct connect failed: %v", err)
	}
	defer card.Disconnect(scard.LeaveCard)

	m.log.Info("emulation started", logger.UID(uid[:3]))
	for {
		select {
		case <-ctx.Done():
			m.log.Info("emulation stopped")
			return nil
		case <-time.After(20 * time.Millisecond):
		}

		body, err := m.escape(card, pn532TgInitAsTarget, tgInitAsTarget(uid))
		if err != nil {
			m.log.Debug("no initiator", logger.Err(err))
			continue
		}
		m.log.Debug("activated as target", logger.Int("mode", int(firstOr(body, 0))))

		body, err = m.escape(card, pn532TgGetData, []byte{pn532HostToChip, pn532TgGetData})
		if err != nil || len(body) < 1 || body[0]&0x3F != 0 {
			continue
		}
		if onContact != nil {
			onContact(body[1:])
		}
		if _, err := m.escape(card, pn532TgSetData, []byte{pn532HostToChip, pn532TgSetData, 0x00}); err != nil {
			m.log.Debug("TgSetData failed", logger.Err(err))
		}
	}
}

func firstOr(b []byte, def byte) byte {
	if len(b) == 0 {
		return def
	}
	return b[0]
}

