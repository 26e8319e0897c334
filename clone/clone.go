package clone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/oo-developer/mfclone/classic"
	"github.com/oo-developer/mfclone/logger"
	"github.com/oo-developer/mfclone/profile"
)

// Backdoor unlock of writable-UID (Gen1) cards: one command byte, one ack byte
const (
	BackdoorCommand = 0x43
	BackdoorAck     = 0x0A
)

// Verdict is the outcome of a clone attempt
type Verdict int

const (
	// VerdictAborted means the attempt stopped before a verdict was reached:
	// an interrupt, or the target was lost before the block 0 write
	VerdictAborted Verdict = iota
	VerdictSuccess
	VerdictUnlockFailed
	VerdictWriteRejected
	// VerdictVerificationMismatch is an accepted write that left the UID unchanged
	VerdictVerificationMismatch
	// VerdictUnverified means the card could not be found again after the write
	VerdictUnverified
)

func (v Verdict) String() string {
	switch v {
	case VerdictAborted:
		return "aborted"
	case VerdictSuccess:
		return "success"
	case VerdictUnlockFailed:
		return "unlock failed"
	case VerdictWriteRejected:
		return "write rejected"
	case VerdictVerificationMismatch:
		return "verification mismatch"
	case VerdictUnverified:
		return "unverified"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// UnlockPath records how block 0 of the target was opened
type UnlockPath int

const (
	UnlockNone UnlockPath = iota
	UnlockAuth
	UnlockBackdoor
)

func (u UnlockPath) String() string {
	switch u {
	case UnlockAuth:
		return "authentication"
	case UnlockBackdoor:
		return "backdoor"
	default:
		return "none"
	}
}

// Result describes a clone attempt
type Result struct {
	Verdict     Verdict
	Unlock      UnlockPath
	Slot        classic.KeySlot
	Key         classic.Key
	TargetUID   []byte
	Block0      classic.Block
	ReadbackUID []byte

	// opportunistic data copy, not part of the verdict
	DataBlocksWritten int
	DataErr           error
}

// Config tunes the engine. Zero values get defaults.
type Config struct {
	SelectTimeout time.Duration
	VerifyTimeout time.Duration
	VerifyRetries int
	VerifyBackoff time.Duration
	CopyData      bool
	Logger        *zap.Logger
}

func (c *Config) setDefaults() {
	if c.SelectTimeout <= 0 {
		c.SelectTimeout = 30 * time.Second
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 500 * time.Millisecond
	}
	if c.VerifyRetries <= 0 {
		c.VerifyRetries = 3
	}
	if c.VerifyBackoff <= 0 {
		c.VerifyBackoff = 100 * time.Millisecond
	}
}

// Engine writes a stored profile onto a target card
type Engine struct {
	transport classic.Transport
	dict      *classic.Dictionary
	cfg       Config
	log       *zap.Logger
}

func NewEngine(t classic.Transport, dict *classic.Dictionary, cfg Config) *Engine {
	cfg.setDefaults()
	return &Engine{transport: t, dict: dict, cfg: cfg, log: logger.OrNop(cfg.Logger)}
}

// Clone selects the target, unlocks block 0, writes the profile UID with a
// fresh check byte and re-reads the card to confirm the UID changed.
//
// The returned error is nil only for VerdictSuccess; otherwise it wraps
// ErrUnlockFailed, ErrWriteRejected, ErrVerificationMismatch or
// ErrCardNotPresent. Result is non-nil whenever a target was selected; its
// Verdict stays VerdictAborted when the run stopped without one.
func (e *Engine) Clone(ctx context.Context, p *profile.CardProfile) (*Result, error) {
	if p.UIDLen != 4 {
		return nil, fmt.Errorf("only 4-byte UIDs can be cloned, profile has %d", p.UIDLen)
	}
	source := [4]byte(p.UIDBytes())

	uid, err := e.transport.SelectCard(ctx, e.cfg.SelectTimeout)
	if err != nil {
		return nil, fmt.Errorf("select target: %w", err)
	}
	res := &Result{TargetUID: uid}
	e.log.Info("target selected", logger.UID(uid))

	if err := e.unlock(ctx, uid, res); err != nil {
		if errors.Is(err, classic.ErrUnlockFailed) {
			res.Verdict = VerdictUnlockFailed
		}
		return res, err
	}

	block0, err := e.buildBlock0(p, source, res)
	if err != nil {
		res.Verdict = VerdictUnlockFailed
		return res, err
	}
	res.Block0 = block0

	if res.Unlock == UnlockAuth {
		// the read may have dropped the authentication state
		if err := e.transport.Reselect(); err != nil {
			return res, fmt.Errorf("reselect before write: %w", err)
		}
		if err := e.transport.Authenticate(uid, 0, res.Slot, res.Key); err != nil {
			res.Verdict = VerdictUnlockFailed
			return res, fmt.Errorf("re-authentication of block 0 with key %s/%s: %w: %v", res.Slot, res.Key, classic.ErrUnlockFailed, err)
		}
	}
	if err := e.transport.WriteBlock(0, block0); err != nil {
		res.Verdict = VerdictWriteRejected
		e.log.Error("block 0 write rejected", logger.Stringer("unlock", res.Unlock), logger.Err(err))
		return res, fmt.Errorf("write block 0 via %s: %w: %v", res.Unlock, classic.ErrWriteRejected, err)
	}

	readback, err := e.verify(ctx)
	if err != nil {
		res.Verdict = VerdictUnverified
		return res, err
	}
	res.ReadbackUID = readback

	var verdictErr error
	if len(readback) >= 4 && bytes.Equal(readback[:4], source[:]) {
		res.Verdict = VerdictSuccess
		e.log.Info("clone verified", logger.UID(readback))
	} else {
		res.Verdict = VerdictVerificationMismatch
		verdictErr = fmt.Errorf("target reads %s after write of %s via %s: %w",
			classic.FormatUID(readback), classic.FormatUID(source[:]), res.Unlock, classic.ErrVerificationMismatch)
		e.log.Warn("write accepted but UID unchanged", logger.UID(readback))
	}

	if e.cfg.CopyData {
		e.copyData(ctx, p, readback, res)
	}
	return res, verdictErr
}

// unlock opens block 0 by dictionary (slot A, then slot B) and falls back to
// the backdoor command.
func (e *Engine) unlock(ctx context.Context, uid []byte, res *Result) error {
	for _, slot := range []classic.KeySlot{classic.KeyTypeA, classic.KeyTypeB} {
		for _, k := range e.dict.Keys() {
			if err := ctx.Err(); err != nil {
				return classic.ErrInterrupted
			}
			if err := e.transport.Reselect(); err != nil {
				return fmt.Errorf("reselect during unlock: %w", err)
			}
			if err := e.transport.Authenticate(uid, 0, slot, k); err == nil {
				res.Unlock, res.Slot, res.Key = UnlockAuth, slot, k
				e.log.Info("block 0 unlocked", logger.Stringer("slot", slot), logger.Stringer("key", k))
				return nil
			}
		}
	}

	if err := e.transport.Reselect(); err != nil {
		return fmt.Errorf("reselect before backdoor: %w", err)
	}
	resp, err := e.transport.RawExchange([]byte{BackdoorCommand})
	if err == nil && len(resp) > 0 && resp[0] == BackdoorAck {
		res.Unlock = UnlockBackdoor
		e.log.Info("block 0 unlocked", logger.String("path", "backdoor"))
		return nil
	}
	e.log.Error("target resisted every unlock path", logger.Int("keys", e.dict.Len()), logger.Err(err))
	return fmt.Errorf("dictionary of %d keys on slots A and B and backdoor 0x%02X all failed: %w",
		e.dict.Len(), BackdoorCommand, classic.ErrUnlockFailed)
}

// buildBlock0 starts from the target's own block 0 where it can be read so
// manufacturer bytes survive, then sets UID and check byte.
func (e *Engine) buildBlock0(p *profile.CardProfile, source [4]byte, res *Result) (classic.Block, error) {
	var base classic.Block
	switch {
	case res.Unlock == UnlockAuth:
		existing, err := e.transport.ReadBlock(0)
		if err != nil {
			return base, fmt.Errorf("read block 0 after authentication: %w: %v", classic.ErrUnlockFailed, err)
		}
		base = existing
	case p.SectorSolved[0]:
		base = p.Block(0)
	default:
		existing, err := e.transport.ReadBlock(0)
		if err == nil {
			base = existing
		} else {
			// SAK and ATQA of a 1K card
			base[5], base[6], base[7] = 0x08, 0x04, 0x00
		}
	}
	copy(base[0:4], source[:])
	base[4] = classic.Checksum(source)
	return base, nil
}

// verify waits for the card to answer a fresh selection, with bounded retries
func (e *Engine) verify(ctx context.Context) ([]byte, error) {
	backoff := e.cfg.VerifyBackoff
	var lastErr error
	for attempt := 1; attempt <= e.cfg.VerifyRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, classic.ErrInterrupted
		case <-time.After(backoff):
		}
		uid, err := e.transport.SelectCard(ctx, e.cfg.VerifyTimeout)
		if err == nil {
			return uid, nil
		}
		lastErr = err
		e.log.Debug("verification select failed",
			logger.Int("attempt", attempt),
			logger.Duration("backoff", backoff),
			logger.Err(err))
		backoff *= 2
	}
	return nil, fmt.Errorf("card not found again after %d tries: %w", e.cfg.VerifyRetries, lastErr)
}

// copyData writes blocks 0-2 of every solved sector (1-2 for sector 0).
// Failures are collected in res.DataErr.
func (e *Engine) copyData(ctx context.Context, p *profile.CardProfile, uid []byte, res *Result) {
	var errs error
	for s := 0; s < classic.SectorCount; s++ {
		if !p.SectorSolved[s] {
			continue
		}
		if ctx.Err() != nil {
			errs = multierr.Append(errs, classic.ErrInterrupted)
			break
		}
		if !e.openSector(uid, s, p.SectorKeys[s], res) {
			errs = multierr.Append(errs, fmt.Errorf("sector %d: %w", s, classic.ErrSectorLocked))
			continue
		}
		for b := 0; b < classic.BlocksPerSector-1; b++ {
			blk := classic.FirstBlock(s) + byte(b)
			if blk == 0 {
				continue
			}
			if err := e.transport.WriteBlock(blk, p.Block(blk)); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("block %d: %w", blk, err))
				continue
			}
			res.DataBlocksWritten++
		}
	}
	for _, err := range multierr.Errors(errs) {
		e.log.Warn("data block not copied", logger.Err(err))
	}
	res.DataErr = errs
}

// openSector authenticates sector s of the target with the source key, then
// with the key that opened block 0, then through the backdoor.
func (e *Engine) openSector(uid []byte, s int, sourceKey classic.Key, res *Result) bool {
	type candidate struct {
		slot classic.KeySlot
		key  classic.Key
	}
	candidates := []candidate{{classic.KeyTypeA, sourceKey}}
	if res.Unlock == UnlockAuth && !(res.Slot == classic.KeyTypeA && res.Key == sourceKey) {
		candidates = append(candidates, candidate{res.Slot, res.Key})
	}
	for _, c := range candidates {
		if err := e.transport.Reselect(); err != nil {
			return false
		}
		if err := e.transport.Authenticate(uid, classic.FirstBlock(s), c.slot, c.key); err == nil {
			return true
		}
	}
	if res.Unlock == UnlockBackdoor {
		if err := e.transport.Reselect(); err != nil {
			return false
		}
		resp, err := e.transport.RawExchange([]byte{BackdoorCommand})
		return err == nil && len(resp) > 0 && resp[0] == BackdoorAck
	}
	return false
}
