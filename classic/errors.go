package classic

import "errors"

var (
	// ErrCardNotPresent is returned when selection times out
	ErrCardNotPresent = errors.New("card not present")

	// ErrAuthFailed is returned by a transport when a key is rejected
	ErrAuthFailed = errors.New("authentication failed")

	// ErrSectorLocked marks a sector that neither the golden key nor the dictionary opened
	ErrSectorLocked = errors.New("sector locked")

	// ErrUnlockFailed means a clone target resisted every unlock path
	ErrUnlockFailed = errors.New("unlock failed")

	// ErrWriteRejected means the transport declined a write
	ErrWriteRejected = errors.New("write rejected")

	// ErrVerificationMismatch means a write was accepted but the card did not change
	ErrVerificationMismatch = errors.New("verification mismatch: write accepted but UID unchanged")

	// ErrInterrupted is returned when the operator cancels a running command
	ErrInterrupted = errors.New("interrupted")
)
