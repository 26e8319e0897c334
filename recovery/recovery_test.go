package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oo-developer/mfclone/classic"
	"github.com/oo-developer/mfclone/internal/cardsim"
	"github.com/oo-developer/mfclone/profile"
)

var (
	keyA = classic.Key{0xA1, 0xA1, 0xA1, 0xA1, 0xA1, 0xA1}
	keyB = classic.Key{0xB2, 0xB2, 0xB2, 0xB2, 0xB2, 0xB2}
	keyC = classic.Key{0xC3, 0xC3, 0xC3, 0xC3, 0xC3, 0xC3}
	// a key B nobody guesses
	secretB = classic.Key{0x5E, 0xC4, 0xE7, 0x5E, 0xC4, 0xE7}
	locked  = classic.Key{0x0B, 0xAD, 0x0B, 0xAD, 0x0B, 0xAD}
	testUID = []byte{0x11, 0x22, 0x33, 0x44}
)

func newCard(key classic.Key) *cardsim.Card {
	c := cardsim.NewCard(testUID, key, secretB)
	for s := 0; s < classic.SectorCount; s++ {
		for b := 0; b < 3; b++ {
			blk := classic.FirstBlock(s) + byte(b)
			if blk == 0 {
				continue
			}
			c.Blocks[blk] = classic.Block{byte(s), byte(b), 0xEE}
		}
	}
	return c
}

func run(t *testing.T, card *cardsim.Card, dict *classic.Dictionary, golden bool) (*profile.CardProfile, *Report, *cardsim.Reader) {
	t.Helper()
	r := cardsim.NewReader(card)
	uid, err := r.SelectCard(context.Background(), 0)
	require.NoError(t, err)
	eng := NewEngine(r, dict, Config{GoldenKey: golden})
	p, rep, err := eng.Recover(context.Background(), uid)
	require.NoError(t, err)
	require.Zero(t, r.Violations, "authenticate without reselect")
	return p, rep, r
}

func TestScanStopsAtFirstMatchInDictionaryOrder(t *testing.T) {
	card := newCard(locked)
	card.SetKeys(5, keyC, secretB)
	dict := classic.NewDictionary(keyA, keyB, keyC)

	p, rep, r := run(t, card, dict, true)

	attempts := r.AttemptsOnSector(5)
	require.Len(t, attempts, 3)
	require.Equal(t, []classic.Key{keyA, keyB, keyC}, []classic.Key{attempts[0].Key, attempts[1].Key, attempts[2].Key})
	require.True(t, p.SectorSolved[5])
	require.Equal(t, keyC, p.SectorKeys[5])
	require.Equal(t, SourceDictionary, rep.Sectors[5].Source)
	require.GreaterOrEqual(t, r.ReselectCalls, r.AuthCalls)
}

func TestFirstWorkingKeyWinsNotSmallest(t *testing.T) {
	// keyA sorts before keyB but comes after it in the dictionary
	card := newCard(keyB)
	dict := classic.NewDictionary(keyC, keyB, keyA)

	p, _, _ := run(t, card, dict, false)
	for s := 0; s < classic.SectorCount; s++ {
		require.True(t, p.SectorSolved[s])
		require.Equal(t, keyB, p.SectorKeys[s])
	}
}

func TestGoldenKeyAvoidsDictionaryScan(t *testing.T) {
	card := newCard(keyC)
	dict := classic.NewDictionary(keyA, keyB, keyC)

	p, rep, r := run(t, card, dict, true)

	require.NotNil(t, rep.GoldenKey)
	require.Equal(t, keyC, *rep.GoldenKey)
	require.Len(t, r.AttemptsOnSector(0), 3)
	for s := 1; s < classic.SectorCount; s++ {
		require.Len(t, r.AttemptsOnSector(s), 1, "sector %d", s)
		require.Equal(t, SourceGoldenKey, rep.Sectors[s].Source)
		require.Equal(t, keyC, p.SectorKeys[s])
	}
	require.Equal(t, 3+15, r.AuthCalls)
	require.Equal(t, r.AuthCalls, r.ReselectCalls)
	require.Equal(t, 18, rep.Attempts)
}

func TestWithoutGoldenKeyEverySectorScansDictionary(t *testing.T) {
	card := newCard(keyC)
	dict := classic.NewDictionary(keyA, keyB, keyC)

	_, rep, r := run(t, card, dict, false)
	require.Nil(t, rep.GoldenKey)
	require.Equal(t, 3*classic.SectorCount, r.AuthCalls)
}

func TestGoldenKeyMissFallsBackWithoutRetryingGolden(t *testing.T) {
	card := newCard(keyA)
	card.SetKeys(7, keyC, secretB)
	dict := classic.NewDictionary(keyA, keyB, keyC)

	p, rep, r := run(t, card, dict, true)

	attempts := r.AttemptsOnSector(7)
	require.Len(t, attempts, 3)
	require.Equal(t, keyA, attempts[0].Key)
	require.Equal(t, keyB, attempts[1].Key)
	require.Equal(t, keyC, attempts[2].Key)
	require.Equal(t, keyC, p.SectorKeys[7])
	require.Equal(t, SourceDictionary, rep.Sectors[7].Source)
}

func TestLockedSectorsStayZeroAndScanContinues(t *testing.T) {
	card := newCard(keyA)
	card.SetKeys(0, locked, secretB)
	card.SetKeys(3, locked, secretB)
	dict := classic.NewDictionary(keyA, keyB)

	p, rep, _ := run(t, card, dict, true)

	require.Nil(t, rep.GoldenKey, "sector 0 is locked")
	require.Equal(t, []int{0, 3}, rep.Locked())
	require.ErrorIs(t, rep.Sectors[3].Err, classic.ErrSectorLocked)
	require.False(t, p.SectorSolved[3])
	for b := byte(12); b < 16; b++ {
		require.True(t, p.BlockIsZero(b), "block %d", b)
	}
	require.True(t, p.SectorSolved[4])
	require.Equal(t, classic.Block{4, 1, 0xEE}, p.Block(17))
	require.Equal(t, 14, p.SolvedCount())
}

func TestSectorDataIsCaptured(t *testing.T) {
	card := newCard(classic.DefaultKey)
	p, _, _ := run(t, card, classic.DefaultDictionary(), true)

	require.Equal(t, testUID, p.UIDBytes())
	require.Equal(t, card.Blocks[0], p.Block(0))
	require.Equal(t, classic.Block{15, 2, 0xEE}, p.Block(62))
	// key A reads back as zeros, key B and access bits are kept
	trailer := p.Block(63)
	require.Equal(t, make([]byte, 6), trailer[0:6])
	require.Equal(t, secretB[:], trailer[10:16])
}

func TestCancelledContextInterrupts(t *testing.T) {
	r := cardsim.NewReader(newCard(locked))
	uid, err := r.SelectCard(context.Background(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	eng := NewEngine(r, classic.DefaultDictionary(), Config{
		GoldenKey: true,
		OnSector: func(SectorResult, *profile.CardProfile) {
			calls++
			cancel()
		},
	})
	_, _, err = eng.Recover(ctx, uid)
	require.ErrorIs(t, err, classic.ErrInterrupted)
	require.Equal(t, 1, calls)
}

func TestCardRemovedAbortsRecovery(t *testing.T) {
	r := cardsim.NewReader(newCard(keyA))
	uid, err := r.SelectCard(context.Background(), 0)
	require.NoError(t, err)
	r.Remove()

	eng := NewEngine(r, classic.NewDictionary(keyA), Config{GoldenKey: true})
	_, _, err = eng.Recover(context.Background(), uid)
	require.ErrorIs(t, err, classic.ErrCardNotPresent)
}
