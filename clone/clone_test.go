package clone

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oo-developer/mfclone/classic"
	"github.com/oo-developer/mfclone/internal/cardsim"
	"github.com/oo-developer/mfclone/profile"
)

var (
	sourceUID = []byte{0xCA, 0xFE, 0xBA, 0xBE}
	targetUID = []byte{0x01, 0x02, 0x03, 0x04}
	sourceKey = classic.Key{0x14, 0x53, 0x14, 0x53, 0x14, 0x53}
	lockedKey = classic.Key{0x0B, 0xAD, 0x0B, 0xAD, 0x0B, 0xAD}
)

func sourceProfile(t *testing.T) *profile.CardProfile {
	t.Helper()
	p, err := profile.New(sourceUID)
	require.NoError(t, err)
	for s := 0; s < classic.SectorCount; s++ {
		p.MarkSolved(s, sourceKey)
		for b := 0; b < 3; b++ {
			blk := classic.FirstBlock(s) + byte(b)
			p.SetBlock(blk, classic.Block{0xD0, byte(s), byte(b)})
		}
	}
	p.SetBlock(0, classic.Block{0xCA, 0xFE, 0xBA, 0xBE, 0x00, 0x88, 0x44, 0x00, 0x11})
	return p
}

func newEngine(r classic.Transport, copyData bool) *Engine {
	return NewEngine(r, classic.DefaultDictionary(), Config{
		VerifyBackoff: time.Millisecond,
		CopyData:      copyData,
	})
}

func blankTarget() *cardsim.Card {
	c := cardsim.NewCard(targetUID, classic.DefaultKey, classic.DefaultKey)
	c.Blocks[0][8] = 0x62 // manufacturer data
	return c
}

func TestCloneUnlockFailedWritesNothing(t *testing.T) {
	target := cardsim.NewCard(targetUID, lockedKey, lockedKey)
	r := cardsim.NewReader(target)

	res, err := newEngine(r, true).Clone(context.Background(), sourceProfile(t))
	require.ErrorIs(t, err, classic.ErrUnlockFailed)
	require.Equal(t, VerdictUnlockFailed, res.Verdict)
	require.Equal(t, UnlockNone, res.Unlock)
	require.Zero(t, r.WriteCalls)
	require.Equal(t, 2*classic.DefaultDictionary().Len(), r.AuthCalls)
	require.Equal(t, 1, r.RawCalls)
	require.Zero(t, r.Violations)
	require.Equal(t, targetUID, target.UID())
}

func TestCloneSuccessPreservesManufacturerBytes(t *testing.T) {
	target := blankTarget()
	r := cardsim.NewReader(target)

	res, err := newEngine(r, false).Clone(context.Background(), sourceProfile(t))
	require.NoError(t, err)
	require.Equal(t, VerdictSuccess, res.Verdict)
	require.Equal(t, UnlockAuth, res.Unlock)
	require.Equal(t, classic.KeyTypeA, res.Slot)
	require.Equal(t, classic.DefaultKey, res.Key)
	require.Equal(t, sourceUID, res.ReadbackUID)
	require.Equal(t, targetUID, res.TargetUID)

	block0 := target.Blocks[0]
	require.Equal(t, sourceUID, block0[0:4])
	require.Equal(t, classic.Checksum([4]byte(sourceUID)), block0[4])
	require.Equal(t, byte(0x08), block0[5])
	require.Equal(t, byte(0x62), block0[8])
	require.Equal(t, 1, r.WriteCalls, "only block 0 without data copy")
	require.Zero(t, r.Violations)

	// read block 0 back through the transport
	require.NoError(t, r.Reselect())
	require.NoError(t, r.Authenticate(sourceUID, 0, classic.KeyTypeA, classic.DefaultKey))
	readback, err := r.ReadBlock(0)
	require.NoError(t, err)
	require.Equal(t, sourceUID, readback[0:4])
	require.Equal(t, sourceUID[0]^sourceUID[1]^sourceUID[2]^sourceUID[3], readback[4])
	require.Equal(t, res.Block0, readback)
}

func TestCloneAcceptedButUnchangedIsMismatch(t *testing.T) {
	target := blankTarget()
	target.UIDLocked = true
	r := cardsim.NewReader(target)

	res, err := newEngine(r, false).Clone(context.Background(), sourceProfile(t))
	require.ErrorIs(t, err, classic.ErrVerificationMismatch)
	require.NotErrorIs(t, err, classic.ErrWriteRejected)
	require.Equal(t, VerdictVerificationMismatch, res.Verdict)
	require.Equal(t, targetUID, res.ReadbackUID)
	require.Contains(t, r.Written, byte(0))
}

func TestCloneWriteRejected(t *testing.T) {
	target := blankTarget()
	target.RejectWrites = true
	r := cardsim.NewReader(target)

	res, err := newEngine(r, true).Clone(context.Background(), sourceProfile(t))
	require.ErrorIs(t, err, classic.ErrWriteRejected)
	require.NotErrorIs(t, err, classic.ErrVerificationMismatch)
	require.Equal(t, VerdictWriteRejected, res.Verdict)
	require.Equal(t, 1, r.WriteCalls)
}

func TestCloneFallsBackToKeyB(t *testing.T) {
	target := cardsim.NewCard(targetUID, lockedKey, classic.DefaultKey)
	r := cardsim.NewReader(target)

	res, err := newEngine(r, false).Clone(context.Background(), sourceProfile(t))
	require.NoError(t, err)
	require.Equal(t, classic.KeyTypeB, res.Slot)
	require.Equal(t, classic.DefaultKey, res.Key)
	require.Zero(t, r.Violations)
}

func TestCloneThroughBackdoor(t *testing.T) {
	target := cardsim.NewCard(targetUID, lockedKey, lockedKey)
	target.Gen1 = true
	r := cardsim.NewReader(target)
	p := sourceProfile(t)

	res, err := newEngine(r, false).Clone(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, UnlockBackdoor, res.Unlock)
	require.Equal(t, VerdictSuccess, res.Verdict)

	want := p.Block(0)
	want[4] = classic.Checksum([4]byte(sourceUID))
	require.Equal(t, want, target.Blocks[0])
}

func TestCloneCopiesSolvedSectors(t *testing.T) {
	target := blankTarget()
	r := cardsim.NewReader(target)
	p := sourceProfile(t)
	p.SectorSolved[6] = false

	res, err := newEngine(r, true).Clone(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, res.DataErr)
	require.Equal(t, 2+14*3, res.DataBlocksWritten)
	require.Equal(t, p.Block(1), target.Blocks[1])
	require.Equal(t, p.Block(62), target.Blocks[62])
	require.Equal(t, classic.Block{}, target.Blocks[24], "unsolved sector 6 untouched")
	for s := 0; s < classic.SectorCount; s++ {
		require.NotContains(t, r.Written, classic.GetSectorTrailerBlock(s))
	}
	require.Zero(t, r.Violations)
}

func TestCloneDataCopyFailuresDoNotChangeVerdict(t *testing.T) {
	target := blankTarget()
	target.SetKeys(9, lockedKey, lockedKey)
	r := cardsim.NewReader(target)

	res, err := newEngine(r, true).Clone(context.Background(), sourceProfile(t))
	require.NoError(t, err)
	require.Equal(t, VerdictSuccess, res.Verdict)
	require.ErrorIs(t, res.DataErr, classic.ErrSectorLocked)
	require.ErrorContains(t, res.DataErr, "sector 9")
}

func TestCloneRejectsLongUID(t *testing.T) {
	p, err := profile.New([]byte{1, 2, 3, 4, 5, 6, 7})
	require.NoError(t, err)
	r := cardsim.NewReader(blankTarget())
	_, err = newEngine(r, false).Clone(context.Background(), p)
	require.Error(t, err)
	require.Zero(t, r.SelectCalls)
}

func TestCloneWithoutTarget(t *testing.T) {
	r := cardsim.NewReader(nil)
	res, err := newEngine(r, false).Clone(context.Background(), sourceProfile(t))
	require.ErrorIs(t, err, classic.ErrCardNotPresent)
	require.Nil(t, res)
}

// flakyReader loses the card for the first n selections after a write
type flakyReader struct {
	*cardsim.Reader
	fail    int
	written bool
}

func (f *flakyReader) WriteBlock(block byte, data classic.Block) error {
	f.written = true
	return f.Reader.WriteBlock(block, data)
}

func (f *flakyReader) SelectCard(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if f.written && f.fail > 0 {
		f.fail--
		f.Reader.SelectCalls++
		return nil, classic.ErrCardNotPresent
	}
	return f.Reader.SelectCard(ctx, timeout)
}

func TestVerificationRetriesPresence(t *testing.T) {
	r := &flakyReader{Reader: cardsim.NewReader(blankTarget()), fail: 2}
	res, err := newEngine(r, false).Clone(context.Background(), sourceProfile(t))
	require.NoError(t, err)
	require.Equal(t, VerdictSuccess, res.Verdict)
	require.Equal(t, 1+3, r.SelectCalls)
}

func TestVerificationGivesUpAfterBoundedRetries(t *testing.T) {
	r := &flakyReader{Reader: cardsim.NewReader(blankTarget()), fail: 10}
	res, err := newEngine(r, false).Clone(context.Background(), sourceProfile(t))
	require.ErrorIs(t, err, classic.ErrCardNotPresent)
	require.Equal(t, VerdictUnverified, res.Verdict)
	require.Equal(t, 1+3, r.SelectCalls)
}

// dropAfter loses the card after n successful reselects
type dropAfter struct {
	*cardsim.Reader
	n int
}

func (d *dropAfter) Reselect() error {
	if d.n == 0 {
		d.Reader.ReselectCalls++
		return classic.ErrCardNotPresent
	}
	d.n--
	return d.Reader.Reselect()
}

func TestCardLostBeforeWriteIsNotSuccess(t *testing.T) {
	r := &dropAfter{Reader: cardsim.NewReader(blankTarget()), n: 1}
	res, err := newEngine(r, false).Clone(context.Background(), sourceProfile(t))
	require.ErrorIs(t, err, classic.ErrCardNotPresent)
	require.Equal(t, VerdictAborted, res.Verdict)
	require.Equal(t, UnlockAuth, res.Unlock)
	require.Zero(t, r.WriteCalls)
}

// cancelAfterSelect cancels the run as soon as the target is selected
type cancelAfterSelect struct {
	*cardsim.Reader
	cancel context.CancelFunc
}

func (c *cancelAfterSelect) SelectCard(ctx context.Context, timeout time.Duration) ([]byte, error) {
	uid, err := c.Reader.SelectCard(ctx, timeout)
	c.cancel()
	return uid, err
}

func TestInterruptedUnlockIsAborted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &cancelAfterSelect{Reader: cardsim.NewReader(blankTarget()), cancel: cancel}

	res, err := newEngine(r, false).Clone(ctx, sourceProfile(t))
	require.ErrorIs(t, err, classic.ErrInterrupted)
	require.NotErrorIs(t, err, classic.ErrUnlockFailed)
	require.Equal(t, VerdictAborted, res.Verdict)
	require.Equal(t, "aborted", res.Verdict.String())
	require.Zero(t, r.AuthCalls)
	require.Zero(t, r.WriteCalls)
}

func TestZeroVerdictIsNotSuccess(t *testing.T) {
	var res Result
	require.NotEqual(t, VerdictSuccess, res.Verdict)
}
