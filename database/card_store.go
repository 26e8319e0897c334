package database

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/oo-developer/mfclone/classic"
	"github.com/oo-developer/mfclone/logger"
	"github.com/oo-developer/mfclone/profile"
)

var (
	ErrStoreFull     = errors.New("card store full")
	ErrSlotNotFound  = errors.New("slot not found")
	ErrCorruptRecord = errors.New("corrupt card record")
)

// DefaultMaxSlots bounds slot numbers, and so List and the allocator
const DefaultMaxSlots = 100

// MatchMode selects how FindDuplicate compares cards
type MatchMode int

const (
	// MatchUID compares UIDs only
	MatchUID MatchMode = iota
	// MatchContent compares a fingerprint block when the candidate has a
	// non-zero one, falling back to the UID otherwise. It catches cards that
	// randomise their UID but carry the same cloned content.
	MatchContent
)

func (m MatchMode) String() string {
	switch m {
	case MatchContent:
		return "content"
	default:
		return "uid"
	}
}

// ParseMatchMode accepts "uid" or "content"
func ParseMatchMode(s string) (MatchMode, error) {
	switch s {
	case "", "uid":
		return MatchUID, nil
	case "content":
		return MatchContent, nil
	default:
		return MatchUID, fmt.Errorf("unknown duplicate match mode %q", s)
	}
}

// StoreConfig configures a CardStore
type StoreConfig struct {
	MaxSlots         int
	Match            MatchMode
	FingerprintBlock byte
	Logger           *zap.Logger
}

// CardStore persists card profiles in numbered slots
type CardStore struct {
	storage Storage
	cfg     StoreConfig
	log     *zap.Logger
}

// NewCardStore wraps storage. Zero config values get defaults.
func NewCardStore(storage Storage, cfg StoreConfig) (*CardStore, error) {
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = DefaultMaxSlots
	}
	if cfg.FingerprintBlock == 0 {
		cfg.FingerprintBlock = 4
	}
	if int(cfg.FingerprintBlock) >= classic.BlockCount || classic.IsTrailer(cfg.FingerprintBlock) {
		return nil, fmt.Errorf("fingerprint block %d must be a data block", cfg.FingerprintBlock)
	}
	return &CardStore{storage: storage, cfg: cfg, log: logger.OrNop(cfg.Logger)}, nil
}

// SlotName is the record name of a slot
func SlotName(slot int) string {
	return fmt.Sprintf("card_%d.bin", slot)
}

func (s *CardStore) checkSlot(slot int) error {
	if slot < 0 || slot >= s.cfg.MaxSlots {
		return fmt.Errorf("slot %d out of range 0..%d: %w", slot, s.cfg.MaxSlots-1, ErrSlotNotFound)
	}
	return nil
}

// List returns the occupied slots in ascending order
func (s *CardStore) List() []int {
	var slots []int
	for i := 0; i < s.cfg.MaxSlots; i++ {
		if s.storage.Exists(SlotName(i)) {
			slots = append(slots, i)
		}
	}
	return slots
}

// Load reads the profile in slot
func (s *CardStore) Load(slot int) (*profile.CardProfile, error) {
	if err := s.checkSlot(slot); err != nil {
		return nil, err
	}
	data, err := s.storage.Read(SlotName(slot))
	if errors.Is(err, ErrNoRecord) {
		return nil, fmt.Errorf("slot %d: %w", slot, ErrSlotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("slot %d: %w", slot, err)
	}
	p, err := profile.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("slot %d: %w: %v", slot, ErrCorruptRecord, err)
	}
	return p, nil
}

// Save writes p to the smallest free slot and returns it
func (s *CardStore) Save(p *profile.CardProfile) (int, error) {
	data, err := p.MarshalBinary()
	if err != nil {
		return -1, err
	}
	for slot := 0; slot < s.cfg.MaxSlots; slot++ {
		name := SlotName(slot)
		if s.storage.Exists(name) {
			continue
		}
		if err := s.storage.Write(name, data); err != nil {
			return -1, fmt.Errorf("slot %d: %w", slot, err)
		}
		s.log.Info("profile saved", logger.Int("slot", slot), logger.UID(p.UIDBytes()))
		return slot, nil
	}
	return -1, fmt.Errorf("%d slots in use: %w", s.cfg.MaxSlots, ErrStoreFull)
}

// Delete removes slot. A missing slot is logged and reported as ErrSlotNotFound.
func (s *CardStore) Delete(slot int) error {
	if err := s.checkSlot(slot); err != nil {
		return err
	}
	err := s.storage.Remove(SlotName(slot))
	if errors.Is(err, ErrNoRecord) {
		s.log.Warn("delete of empty slot", logger.Int("slot", slot))
		return fmt.Errorf("slot %d: %w", slot, ErrSlotNotFound)
	}
	if err != nil {
		return fmt.Errorf("slot %d: %w", slot, err)
	}
	s.log.Info("profile deleted", logger.Int("slot", slot))
	return nil
}

// FindDuplicate returns the first stored slot holding the same card as p.
// p may carry only a UID. Corrupt records are skipped.
func (s *CardStore) FindDuplicate(p *profile.CardProfile) (int, bool) {
	useContent := s.cfg.Match == MatchContent && !p.BlockIsZero(s.cfg.FingerprintBlock)
	for _, slot := range s.List() {
		stored, err := s.Load(slot)
		if err != nil {
			s.log.Warn("skipping unreadable slot", logger.Int("slot", slot), logger.Err(err))
			continue
		}
		if useContent {
			if stored.Block(s.cfg.FingerprintBlock) == p.Block(s.cfg.FingerprintBlock) {
				return slot, true
			}
			continue
		}
		if stored.SameUID(p.UIDBytes()) {
			return slot, true
		}
	}
	return -1, false
}

// Config returns the effective configuration
func (s *CardStore) Config() StoreConfig {
	return s.cfg
}
