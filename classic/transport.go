package classic

import (
	"context"
	"time"
)

// Transport is the card-level capability set the engines are built on.
//
// A card accepts at most one authentication attempt per selection. Callers must
// call Reselect before every Authenticate after the first one following
// SelectCard, whether the next attempt uses another key, another sector, or
// repeats the same key.
type Transport interface {
	// SelectCard waits up to timeout for a card and returns its UID.
	// It fails with ErrCardNotPresent when no card shows up in time.
	SelectCard(ctx context.Context, timeout time.Duration) ([]byte, error)

	// Reselect re-establishes the selection state of the present card.
	Reselect() error

	// Authenticate authenticates the sector holding block with key in slot.
	// A rejected key returns an error wrapping ErrAuthFailed.
	Authenticate(uid []byte, block byte, slot KeySlot, key Key) error

	ReadBlock(block byte) (Block, error)

	// WriteBlock fails with an error wrapping ErrWriteRejected when the card
	// or reader declines the write.
	WriteBlock(block byte, data Block) error

	// RawExchange sends bytes to the card without any authentication framing.
	RawExchange(data []byte) ([]byte, error)
}
