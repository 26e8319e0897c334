package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/oo-developer/mfclone/classic"
	"github.com/oo-developer/mfclone/clone"
	"github.com/oo-developer/mfclone/database"
	"github.com/oo-developer/mfclone/logger"
	"github.com/oo-developer/mfclone/profile"
	"github.com/oo-developer/mfclone/recovery"
)

// Emulator presents a UID to external readers until ctx ends
type Emulator interface {
	Emulate(ctx context.Context, uid []byte, onContact func([]byte)) error
}

// Options configures a Session
type Options struct {
	SelectTimeout time.Duration
	GoldenKey     bool
	Clone         clone.Config
	Logger        *zap.Logger
}

// Session runs operator commands against one reader and one card store.
// Commands run one at a time.
type Session struct {
	transport classic.Transport
	store     *database.CardStore
	dict      *classic.Dictionary
	emulator  Emulator
	out       io.Writer
	opts      Options
	log       *zap.Logger
}

// New builds a session. emulator may be nil when the reader cannot act as a
// target.
func New(t classic.Transport, store *database.CardStore, dict *classic.Dictionary, emulator Emulator, out io.Writer, opts Options) *Session {
	if opts.SelectTimeout <= 0 {
		opts.SelectTimeout = 30 * time.Second
	}
	if opts.Clone.SelectTimeout <= 0 {
		opts.Clone.SelectTimeout = opts.SelectTimeout
	}
	log := logger.OrNop(opts.Logger)
	if opts.Clone.Logger == nil {
		opts.Clone.Logger = log.Named("clone")
	}
	return &Session{
		transport: t,
		store:     store,
		dict:      dict,
		emulator:  emulator,
		out:       out,
		opts:      opts,
		log:       log,
	}
}

// CaptureResult describes a capture
type CaptureResult struct {
	Slot      int
	Duplicate bool
	Profile   *profile.CardProfile
	Report    *recovery.Report
}

// Capture waits for a card, recovers its keys and data and saves the
// profile, unless the store already holds the same card.
func (s *Session) Capture(ctx context.Context) (*CaptureResult, error) {
	fmt.Fprintln(s.out, "waiting for card...")
	uid, err := s.transport.SelectCard(ctx, s.opts.SelectTimeout)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(s.out, "card UID %s\n", classic.FormatUID(uid))

	match := s.store.Config().Match
	if match == database.MatchUID {
		probe, err := profile.New(uid)
		if err != nil {
			return nil, err
		}
		if slot, ok := s.store.FindDuplicate(probe); ok {
			fmt.Fprintf(s.out, "card already stored in slot %d, not captured again\n", slot)
			s.log.Info("duplicate card", logger.UID(uid), logger.Int("slot", slot))
			return &CaptureResult{Slot: slot, Duplicate: true}, nil
		}
	}

	engine := recovery.NewEngine(s.transport, s.dict, recovery.Config{
		GoldenKey: s.opts.GoldenKey,
		Logger:    s.log.Named("recovery"),
		OnSector: func(res recovery.SectorResult, p *profile.CardProfile) {
			p.DumpSector(s.out, res.Sector)
		},
	})
	fmt.Fprintf(s.out, "recovering keys with %d candidates\n", s.dict.Len())
	fmt.Fprintln(s.out, "sec | blk | data                                            | ascii")
	p, report, err := engine.Recover(ctx, uid)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(s.out, "solved %d/%d sectors in %d attempts\n", p.SolvedCount(), classic.SectorCount, report.Attempts)
	if report.GoldenKey != nil {
		fmt.Fprintf(s.out, "golden key %s\n", report.GoldenKey)
	}
	if locked := report.Locked(); len(locked) > 0 {
		fmt.Fprintf(s.out, "locked sectors: %v\n", locked)
	}

	res := &CaptureResult{Profile: p, Report: report}
	if match == database.MatchContent {
		if slot, ok := s.store.FindDuplicate(p); ok {
			fmt.Fprintf(s.out, "same content already stored in slot %d, not saved\n", slot)
			s.log.Info("duplicate content", logger.UID(uid), logger.Int("slot", slot))
			res.Slot, res.Duplicate = slot, true
			return res, nil
		}
	}

	slot, err := s.store.Save(p)
	if err != nil {
		return res, err
	}
	res.Slot = slot
	fmt.Fprintf(s.out, "saved as slot %d\n", slot)
	return res, nil
}

// List prints the occupied slots and returns them
func (s *Session) List() []int {
	slots := s.store.List()
	if len(slots) == 0 {
		fmt.Fprintln(s.out, "no cards stored")
		return slots
	}
	fmt.Fprintln(s.out, "slot | uid                  | sectors")
	for _, slot := range slots {
		p, err := s.store.Load(slot)
		if err != nil {
			fmt.Fprintf(s.out, "%4d | unreadable: %v\n", slot, err)
			continue
		}
		fmt.Fprintf(s.out, "%4d | %-20s | %2d/%d\n", slot, classic.FormatUID(p.UIDBytes()), p.SolvedCount(), classic.SectorCount)
	}
	return slots
}

// Show prints the full dump of a stored profile
func (s *Session) Show(slot int) (*profile.CardProfile, error) {
	p, err := s.store.Load(slot)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(s.out, "slot %d\n", slot)
	p.Dump(s.out)
	return p, nil
}

// Clone writes a stored profile onto the card placed on the reader
func (s *Session) Clone(ctx context.Context, slot int) (*clone.Result, error) {
	p, err := s.store.Load(slot)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(s.out, "cloning slot %d (UID %s), place the target card\n", slot, classic.FormatUID(p.UIDBytes()))
	res, err := clone.NewEngine(s.transport, s.dict, s.opts.Clone).Clone(ctx, p)
	if res != nil {
		s.printCloneResult(res)
	}
	return res, err
}

func (s *Session) printCloneResult(res *clone.Result) {
	fmt.Fprintf(s.out, "target UID %s, unlock: %s", classic.FormatUID(res.TargetUID), res.Unlock)
	if res.Unlock == clone.UnlockAuth {
		fmt.Fprintf(s.out, " (key %s %s)", res.Slot, res.Key)
	}
	fmt.Fprintln(s.out)
	if res.ReadbackUID != nil {
		fmt.Fprintf(s.out, "read back UID %s\n", classic.FormatUID(res.ReadbackUID))
	}
	if res.DataBlocksWritten > 0 || res.DataErr != nil {
		fmt.Fprintf(s.out, "data blocks copied: %d\n", res.DataBlocksWritten)
	}
	fmt.Fprintf(s.out, "clone result: %s\n", res.Verdict)
}

// Emulate presents the UID of a stored profile until ctx is cancelled
func (s *Session) Emulate(ctx context.Context, slot int) error {
	if s.emulator == nil {
		return errors.New("emulation is not supported by this reader")
	}
	p, err := s.store.Load(slot)
	if err != nil {
		return err
	}
	uid := p.UIDBytes()
	if len(uid) < 3 {
		return fmt.Errorf("slot %d has no UID to emulate", slot)
	}
	fmt.Fprintf(s.out, "emulating UID %s, interrupt to stop\n", classic.FormatUID(uid))
	contacts := 0
	err = s.emulator.Emulate(ctx, uid, func(frame []byte) {
		contacts++
		fmt.Fprintf(s.out, "reader contact %d: % X\n", contacts, frame)
	})
	fmt.Fprintf(s.out, "emulation ended after %d contacts\n", contacts)
	return err
}

// Delete removes a stored profile
func (s *Session) Delete(slot int) error {
	if err := s.store.Delete(slot); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "slot %d deleted\n", slot)
	return nil
}
