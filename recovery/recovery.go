package recovery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/oo-developer/mfclone/classic"
	"github.com/oo-developer/mfclone/logger"
	"github.com/oo-developer/mfclone/profile"
)

// KeySource tells how a sector key was found
type KeySource int

const (
	SourceNone KeySource = iota
	SourceDictionary
	SourceGoldenKey
)

func (s KeySource) String() string {
	switch s {
	case SourceDictionary:
		return "dictionary"
	case SourceGoldenKey:
		return "golden key"
	default:
		return "none"
	}
}

// SectorResult is the outcome for one sector
type SectorResult struct {
	Sector   int
	Solved   bool
	Key      classic.Key
	Source   KeySource
	Attempts int
	// Err is nil for solved sectors; it wraps classic.ErrSectorLocked for
	// sectors no key opened.
	Err error
}

// Report summarises a recovery run
type Report struct {
	Sectors   [classic.SectorCount]SectorResult
	GoldenKey *classic.Key
	Attempts  int
}

// Locked returns the sectors left unsolved
func (r *Report) Locked() []int {
	var out []int
	for _, s := range r.Sectors {
		if !s.Solved {
			out = append(out, s.Sector)
		}
	}
	return out
}

// Config tunes the engine
type Config struct {
	// GoldenKey makes the sector 0 key the first candidate for sectors 1-15.
	// Without it every sector gets a plain dictionary scan.
	GoldenKey bool
	Logger    *zap.Logger
	// OnSector, if set, is called as soon as each sector is finished
	OnSector func(res SectorResult, p *profile.CardProfile)
}

// Engine recovers sector keys by dictionary attack
type Engine struct {
	transport classic.Transport
	dict      *classic.Dictionary
	cfg       Config
	log       *zap.Logger
}

// NewEngine returns an engine attacking through t with dict
func NewEngine(t classic.Transport, dict *classic.Dictionary, cfg Config) *Engine {
	return &Engine{
		transport: t,
		dict:      dict,
		cfg:       cfg,
		log:       logger.OrNop(cfg.Logger),
	}
}

// Recover scans every sector of the selected card with uid and returns the
// filled profile. Sector 0 is attacked first; its key becomes the golden key
// tried first on the remaining sectors. A sector that exhausts the
// dictionary is recorded as locked and the scan goes on.
//
// Losing the card or a cancelled context aborts the run.
func (e *Engine) Recover(ctx context.Context, uid []byte) (*profile.CardProfile, *Report, error) {
	p, err := profile.New(uid)
	if err != nil {
		return nil, nil, err
	}
	report := &Report{}
	keys := e.dict.Keys()

	var golden *classic.Key
	for s := 0; s < classic.SectorCount; s++ {
		res := SectorResult{Sector: s}

		if golden != nil {
			ok, err := e.attempt(ctx, uid, s, *golden)
			res.Attempts++
			if err != nil {
				return nil, nil, err
			}
			if ok {
				res.Solved, res.Key, res.Source = true, *golden, SourceGoldenKey
			}
		}

		if !res.Solved {
			for _, k := range keys {
				if golden != nil && k == *golden {
					continue
				}
				ok, err := e.attempt(ctx, uid, s, k)
				res.Attempts++
				if err != nil {
					return nil, nil, err
				}
				if ok {
					res.Solved, res.Key, res.Source = true, k, SourceDictionary
					break
				}
			}
		}

		if res.Solved {
			if err := e.readSector(p, s); err != nil {
				e.log.Warn("sector key found but data read failed", logger.Int("sector", s), logger.Err(err))
				res.Solved = false
				res.Err = fmt.Errorf("sector %d: %w", s, err)
			} else {
				p.MarkSolved(s, res.Key)
				e.log.Info("sector solved",
					logger.Int("sector", s),
					logger.Stringer("key", res.Key),
					logger.Stringer("source", res.Source),
					logger.Int("attempts", res.Attempts))
			}
		} else {
			res.Err = fmt.Errorf("sector %d: %w", s, classic.ErrSectorLocked)
			e.log.Warn("sector locked", logger.Int("sector", s), logger.Int("attempts", res.Attempts))
		}

		if s == 0 && e.cfg.GoldenKey {
			if res.Solved {
				k := res.Key
				golden = &k
				report.GoldenKey = &k
				e.log.Info("golden key found", logger.Stringer("key", k))
			} else {
				e.log.Info("no golden key, falling back to per-sector scan")
			}
		}

		report.Sectors[s] = res
		report.Attempts += res.Attempts
		if e.cfg.OnSector != nil {
			e.cfg.OnSector(res, p)
		}
	}
	return p, report, nil
}

// attempt reselects the card and tries key A of sector s with key.
// A false result with a nil error means the key was rejected.
func (e *Engine) attempt(ctx context.Context, uid []byte, s int, key classic.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("sector %d: %w", s, classic.ErrInterrupted)
	}
	if err := e.transport.Reselect(); err != nil {
		return false, fmt.Errorf("reselect before sector %d: %w", s, err)
	}
	err := e.transport.Authenticate(uid, classic.FirstBlock(s), classic.KeyTypeA, key)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, classic.ErrAuthFailed) {
		e.log.Debug("authenticate error", logger.Int("sector", s), logger.Stringer("key", key), logger.Err(err))
	}
	return false, nil
}

// readSector copies the blocks of an authenticated sector into p. Data
// blocks must read; the trailer is read for completeness only.
func (e *Engine) readSector(p *profile.CardProfile, s int) error {
	var blocks [classic.BlocksPerSector]classic.Block
	for i := range blocks {
		blk := classic.FirstBlock(s) + byte(i)
		data, err := e.transport.ReadBlock(blk)
		if err != nil {
			if classic.IsTrailer(blk) {
				e.log.Debug("trailer not readable", logger.Int("block", int(blk)), logger.Err(err))
				continue
			}
			return fmt.Errorf("read block %d: %w", blk, err)
		}
		blocks[i] = data
	}
	for i, data := range blocks {
		p.SetBlock(classic.FirstBlock(s)+byte(i), data)
	}
	return nil
}
