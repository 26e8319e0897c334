package hardware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ebfe/scard"
	"go.uber.org/zap"

	"github.com/oo-developer/mfclone/classic"
	"github.com/oo-developer/mfclone/logger"
)

const (
	MIFARE_CLASSIK_1K = "MIFARE Classic 1K"
	MIFARE_CLASSIK_4K = "MIFARE Classic 4K"
	MIFARE_MINI       = "MIFARE Mini"
	UNKNOWN           = "Unknown"
)

// key slot in the reader's volatile memory used for every authentication
const readerKeyNumber = 0x00

type CardInfo struct {
	Type     string
	UID      []byte
	ATR      []byte // Answer to Reset
	Protocol string
}

type Reader struct {
	ctx          *scard.Context
	card         *scard.Card
	reader       string
	cardInfo     *CardInfo
	pollInterval time.Duration
	log          *zap.Logger
}

// NewReader establishes the PC/SC context
func NewReader(log *zap.Logger) (*Reader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish context: %v", err)
	}

	return &Reader{
		ctx:          ctx,
		cardInfo:     &CardInfo{},
		pollInterval: time.Second,
		log:          logger.OrNop(log),
	}, nil
}

// Close releases the hardware resources
func (m *Reader) Close() error {
	m.disconnect()
	if m.ctx != nil {
		return m.ctx.Release()
	}
	return nil
}

func (m *Reader) disconnect() {
	if m.card != nil {
		_ = m.card.Disconnect(scard.LeaveCard)
		m.card = nil
	}
}

// ListReaders returns available PC/SC readers
func (m *Reader) ListReaders() ([]string, error) {
	readers, err := m.ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("failed to list readers: %v", err)
	}
	return readers, nil
}

// UseReaderIndex selects the index-th reader
func (m *Reader) UseReaderIndex(index int) error {
	readers, err := m.ListReaders()
	if err != nil {
		return err
	}
	if len(readers) == 0 {
		return fmt.Errorf("no readers detected")
	}
	if index < 0 || index >= len(readers) {
		return fmt.Errorf("reader index out of range (0..%d)", len(readers)-1)
	}
	m.reader = readers[index]
	return nil
}

func (m *Reader) Name() string {
	return m.reader
}

// SetPollInterval sets how often presence polling checks for cancellation
func (m *Reader) SetPollInterval(d time.Duration) {
	if d > 0 {
		m.pollInterval = d
	}
}

func (m *Reader) CardInfo() *CardInfo {
	return m.cardInfo
}

// waitForCard blocks until a card is present, the timeout passes or ctx ends
func (m *Reader) waitForCard(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	states := []scard.ReaderState{
		{Reader: m.reader, CurrentState: scard.StateUnaware},
	}
	for {
		if err := ctx.Err(); err != nil {
			return classic.ErrInterrupted
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return classic.ErrCardNotPresent
		}
		wait := m.pollInterval
		if remaining < wait {
			wait = remaining
		}
		err := m.ctx.GetStatusChange(states, wait)
		if errors.Is(err, scard.ErrTimeout) {
			continue
		}
		if err != nil {
			return err
		}
		if states[0].EventState&scard.StatePresent != 0 {
			return nil
		}
		states[0].CurrentState = states[0].EventState
	}
}

// SelectCard waits for a card, connects and reads its UID
func (m *Reader) SelectCard(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if m.reader == "" {
		return nil, fmt.Errorf("no reader selected, use: UseReaderIndex(index int)")
	}
	m.disconnect()
	if err := m.waitForCard(ctx, timeout); err != nil {
		if errors.Is(err, classic.ErrCardNotPresent) {
			return nil, fmt.Errorf("no card within %s: %w", timeout, err)
		}
		return nil, err
	}
	card, err := m.ctx.Connect(m.reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to card: %v: %w", err, classic.ErrCardNotPresent)
	}
	m.card = card
	uid, err := m.getUID()
	if err != nil {
		return nil, err
	}
	m.cardInfo = &CardInfo{UID: uid}
	m.detectCardType()
	m.log.Debug("card selected", logger.UID(uid), logger.String("type", m.cardInfo.Type))
	return uid, nil
}

// Reselect resets the card so it accepts a new authentication
func (m *Reader) Reselect() error {
	if m.card == nil {
		return classic.ErrCardNotPresent
	}
	if err := m.card.Reconnect(scard.ShareShared, scard.ProtocolAny, scard.ResetCard); err != nil {
		return fmt.Errorf("reconnect failed: %v: %w", err, classic.ErrCardNotPresent)
	}
	return nil
}

func (m *Reader) transmit(ins byte, cmd []byte) ([]byte, error) {
	if m.card == nil {
		return nil, fmt.Errorf("not connected to card: %w", classic.ErrCardNotPresent)
	}
	rsp, err := m.card.Transmit(cmd)
	if err != nil {
		return nil, fmt.Errorf("transmit 0x%02X failed: %v", ins, err)
	}
	return checkSW(ins, rsp)
}

func (m *Reader) getUID() ([]byte, error) {
	uid, err := m.transmit(insGetData, []byte{0xFF, insGetData, 0x00, 0x00, 0x00})
	if err != nil {
		return nil, fmt.Errorf("failed to get UID: %w", err)
	}
	return uid, nil
}

// detectCardType reads the card name from the PC/SC part 3 ATR
func (m *Reader) detectCardType() {
	m.cardInfo.Type = UNKNOWN
	status, err := m.card.Status()
	if err != nil {
		return
	}
	m.cardInfo.ATR = status.Atr
	switch status.ActiveProtocol {
	case scard.ProtocolT0:
		m.cardInfo.Protocol = "T=0"
	case scard.ProtocolT1:
		m.cardInfo.Protocol = "T=1"
	default:
		m.cardInfo.Protocol = "Unknown"
	}
	m.cardInfo.Type = cardTypeFromATR(status.Atr)
}

// cardTypeFromATR decodes the standard/card-name bytes of a contactless ATR
// (3B 8F 80 01 80 4F 0C A0 00 00 03 06 SS NN NN 00 00 00 00 TCK)
func cardTypeFromATR(atr []byte) string {
	if len(atr) < 15 || atr[4] != 0x80 || atr[5] != 0x4F {
		return UNKNOWN
	}
	switch uint16(atr[13])<<8 | uint16(atr[14]) {
	case 0x0001:
		return MIFARE_CLASSIK_1K
	case 0x0002:
		return MIFARE_CLASSIK_4K
	case 0x0026:
		return MIFARE_MINI
	default:
		return fmt.Sprintf("%s (card name %02X%02X)", UNKNOWN, atr[13], atr[14])
	}
}

func (m *Reader) classicLoadKey(keyNumber byte, key classic.Key) error {
	cmd := []byte{0xFF, insLoadKey, 0x00, keyNumber, classic.KeySize}
	cmd = append(cmd, key[:]...)
	if _, err := m.transmit(insLoadKey, cmd); err != nil {
		return fmt.Errorf("key load failed: %w", err)
	}
	return nil
}

func (m *Reader) classicAuthenticate(block byte, slot classic.KeySlot, keyNumber byte) error {
	cmd := []byte{0xFF, insAuthenticate, 0x00, 0x00, 0x05, 0x01, 0x00, block, byte(slot), keyNumber}
	if _, err := m.transmit(insAuthenticate, cmd); err != nil {
		return fmt.Errorf("authentication of block %d failed: %w", block, err)
	}
	return nil
}

// Authenticate loads key into the reader and authenticates block with it.
// The reader tracks the selected UID itself.
func (m *Reader) Authenticate(uid []byte, block byte, slot classic.KeySlot, key classic.Key) error {
	if err := m.classicLoadKey(readerKeyNumber, key); err != nil {
		return err
	}
	return m.classicAuthenticate(block, slot, readerKeyNumber)
}

// ReadBlock reads a 16-byte block from the card
func (m *Reader) ReadBlock(block byte) (classic.Block, error) {
	var out classic.Block
	data, err := m.transmit(insReadBinary, []byte{0xFF, insReadBinary, 0x00, block, classic.BlockSize})
	if err != nil {
		return out, fmt.Errorf("read block %d failed: %w", block, err)
	}
	if len(data) != classic.BlockSize {
		return out, fmt.Errorf("read block %d: got %d bytes", block, len(data))
	}
	copy(out[:], data)
	return out, nil
}

// WriteBlock writes a 16-byte block to the card
func (m *Reader) WriteBlock(block byte, data classic.Block) error {
	cmd := []byte{0xFF, insUpdateBinary, 0x00, block, classic.BlockSize}
	cmd = append(cmd, data[:]...)
	if _, err := m.transmit(insUpdateBinary, cmd); err != nil {
		return fmt.Errorf("write block %d failed: %w", block, err)
	}
	return nil
}

var _ classic.Transport = (*Reader)(nil)
